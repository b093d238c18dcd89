package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := New(CategoryConfig, SeverityFatal, "bad config")
	want := "config (fatal): bad config"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}

	wrapped := Wrap(errors.New("boom"), CategoryTask, SeverityError, "task failed")
	want = "task (error): task failed: boom"
	if wrapped.Error() != want {
		t.Errorf("expected %q, got %q", want, wrapped.Error())
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(cause, CategoryGit, SeverityError, "git op failed")
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

func TestCategoryThroughWrapping(t *testing.T) {
	he := DependencyCycle("@scope/pkg#build")
	outer := fmt.Errorf("building graph: %w", he)

	if !IsCategory(outer, CategoryConfig) {
		t.Error("IsCategory should unwrap to find the HoistError")
	}
	if IsCategory(outer, CategoryCache) {
		t.Error("IsCategory matched the wrong category")
	}
	if got := GetCategory(outer); got != CategoryConfig {
		t.Errorf("expected config category, got %s", got)
	}
	if !IsFatal(outer) {
		t.Error("dependency cycle should be fatal")
	}
}

func TestGetCategoryDefault(t *testing.T) {
	if got := GetCategory(errors.New("plain")); got != CategoryInternal {
		t.Errorf("expected internal for plain error, got %s", got)
	}
}

func TestWithContext(t *testing.T) {
	err := DuplicateReleaseGroup("main", "client", "server")
	if err.Context["release_group"] != "main" {
		t.Errorf("context not recorded: %#v", err.Context)
	}
}
