package logfields

import (
	"log/slog"
	"testing"
	"time"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"Task", KeyTask, "@scope/pkg#build", Task("@scope/pkg#build")},
		{"Package", KeyPackage, "@scope/pkg", Package("@scope/pkg")},
		{"Workspace", KeyWorkspace, "client", Workspace("client")},
		{"ReleaseGroup", KeyReleaseGroup, "main", ReleaseGroup("main")},
		{"Command", KeyCommand, "tsc", Command("tsc")},
		{"CacheKey", KeyCacheKey, "abcd", CacheKey("abcd")},
		{"Result", KeyResult, "success", Result("success")},
		{"Path", KeyPath, "/tmp/x", Path("/tmp/x")},
		{"BuildID", KeyBuildID, "b1", BuildID("b1")},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if c.attr.Key != c.attrKey {
				t.Errorf("expected key %q, got %q", c.attrKey, c.attr.Key)
			}
			if got := c.attr.Value.String(); got != c.attrVal {
				t.Errorf("expected value %q, got %q", c.attrVal, got)
			}
		})
	}
}

func TestDurationMillis(t *testing.T) {
	attr := Duration(1500 * time.Millisecond)
	if attr.Key != KeyDurationMS {
		t.Fatalf("unexpected key %q", attr.Key)
	}
	if got := attr.Value.Float64(); got != 1500 {
		t.Errorf("expected 1500, got %v", got)
	}
}

func TestErrorNil(t *testing.T) {
	if got := Error(nil).Value.String(); got != "" {
		t.Errorf("expected empty value for nil error, got %q", got)
	}
}
