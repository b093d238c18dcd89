package errors

// Convenience constructors for the error taxonomy.

// Config errors (fatal at graph-construction time, never retried)

func NoWorkspaceFound(searchPath string) *HoistError {
	return New(CategoryConfig, SeverityFatal, "no workspace could be found or inferred").
		WithContext("search_path", searchPath)
}

func DuplicateReleaseGroup(name, workspaceA, workspaceB string) *HoistError {
	return New(CategoryConfig, SeverityFatal, "release group defined in more than one workspace").
		WithContext("release_group", name).
		WithContext("workspaces", []string{workspaceA, workspaceB})
}

func UnresolvedReleaseGroup(pkg, releaseGroup string) *HoistError {
	return New(CategoryConfig, SeverityFatal, "package references an unknown release group").
		WithContext("package", pkg).
		WithContext("release_group", releaseGroup)
}

func UnknownTaskHandler(command string) *HoistError {
	return New(CategoryConfig, SeverityFatal, "no handler registered for task command").
		WithContext("command", command)
}

func DependencyCycle(task string) *HoistError {
	return New(CategoryConfig, SeverityFatal, "task dependency cycle detected").
		WithContext("task", task)
}

func UnknownDependencyPackage(ref string) *HoistError {
	return New(CategoryConfig, SeverityFatal, "dependency reference names an unknown package").
		WithContext("reference", ref)
}

// Selection errors (fatal, reported before any task runs)

func NoMatchingRemote(partialURL string) *HoistError {
	return New(CategorySelection, SeverityFatal, "no git remote matches the upstream URL").
		WithContext("url", partialURL)
}

func DirectoryNotInProject(dir string) *HoistError {
	return New(CategorySelection, SeverityFatal, "directory does not map to any package").
		WithContext("directory", dir)
}

// Cache errors (degraded, not fatal)

func CacheUnavailable(reason string) *HoistError {
	return New(CategoryCache, SeverityFatal, "no cache directory is resolvable").
		WithContext("reason", reason)
}

func CacheIntegrity(key string) *HoistError {
	return New(CategoryCache, SeverityWarning, "cached content failed integrity verification").
		WithContext("cache_key", key)
}
