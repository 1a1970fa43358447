package loader

import (
	"testing"

	"github.com/vm-wylbur/ntt/internal/catalog"
	"github.com/vm-wylbur/ntt/internal/config"
)

func TestCompileExclusionsMatchesGlob(t *testing.T) {
	rules, err := compileExclusions([]config.ExclusionPattern{
		{Name: "tmp-files", Glob: "**/*.tmp"},
	})
	if err != nil {
		t.Fatalf("compileExclusions: %v", err)
	}
	reason, err := classify(rules, "/mnt/image/var/cache/foo.tmp", 10, "f")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if reason != catalog.ExcludePattern {
		t.Fatalf("expected glob match to exclude, got %q", reason)
	}

	reason, err = classify(rules, "/mnt/image/home/user/keep.txt", 10, "f")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if reason != catalog.ExcludeNone {
		t.Fatalf("expected non-matching path to be kept, got %q", reason)
	}
}

func TestCompileExclusionsMatchesCELOnSize(t *testing.T) {
	rules, err := compileExclusions([]config.ExclusionPattern{
		{Name: "empty-files", CEL: "size == 0"},
	})
	if err != nil {
		t.Fatalf("compileExclusions: %v", err)
	}
	reason, err := classify(rules, "/mnt/image/empty", 0, "f")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if reason != catalog.ExcludePattern {
		t.Fatalf("expected zero-size CEL rule to exclude, got %q", reason)
	}

	reason, err = classify(rules, "/mnt/image/nonempty", 42, "f")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if reason != catalog.ExcludeNone {
		t.Fatalf("expected non-zero-size path to be kept, got %q", reason)
	}
}
