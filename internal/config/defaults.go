package config

// applyDefaults fills in values the file may omit.
func (c *Config) applyDefaults() {
	if c.Cache.Directory == "" {
		c.Cache.Directory = ".hoist/cache"
	}
	if len(c.Exclude) == 0 {
		c.Exclude = []string{"**/node_modules/**"}
	}
	for name, def := range c.Tasks {
		if def.Handler == "" && !def.IsGroup() {
			def.Handler = "shell"
			c.Tasks[name] = def
		}
		if def.Weight <= 0 {
			def.Weight = 1
			c.Tasks[name] = def
		}
	}
}
