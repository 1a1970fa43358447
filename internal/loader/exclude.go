package loader

import (
	"fmt"
	"reflect"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/cel-go/cel"

	"github.com/vm-wylbur/ntt/internal/catalog"
	"github.com/vm-wylbur/ntt/internal/config"
)

// exclusionRule is a compiled form of a config.ExclusionPattern: either a
// doublestar glob, a CEL predicate over the path's attributes, or both.
// A path is excluded if either matches (spec.md §4.4 step 6).
type exclusionRule struct {
	name    string
	glob    string
	program cel.Program
}

// compileExclusions compiles the configured glob/CEL exclusion patterns
// once per load, grounded on the teacher's cel.Evaluator
// (cel/cel.go) for the predicate half and on doublestar (pulled into the
// pack via the broader corpus's indirect dependency) for the glob half.
func compileExclusions(patterns []config.ExclusionPattern) ([]exclusionRule, error) {
	env, err := cel.NewEnv(
		cel.Variable("path", cel.StringType),
		cel.Variable("size", cel.IntType),
		cel.Variable("fs_type", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("loader: create CEL environment: %w", err)
	}

	rules := make([]exclusionRule, 0, len(patterns))
	for _, p := range patterns {
		r := exclusionRule{name: p.Name, glob: p.Glob}
		if p.CEL != "" {
			ast, issues := env.Compile(p.CEL)
			if issues != nil && issues.Err() != nil {
				return nil, fmt.Errorf("loader: compile exclusion %q: %w", p.Name, issues.Err())
			}
			prg, err := env.Program(ast)
			if err != nil {
				return nil, fmt.Errorf("loader: build exclusion program %q: %w", p.Name, err)
			}
			r.program = prg
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// matches reports whether path (plus its size/fs_type for CEL rules)
// trips this rule.
func (r exclusionRule) matches(path string, size int64, fsType string) (bool, error) {
	if r.glob != "" {
		ok, err := doublestar.Match(r.glob, path)
		if err != nil {
			return false, fmt.Errorf("loader: glob %q: %w", r.glob, err)
		}
		if ok {
			return true, nil
		}
	}
	if r.program != nil {
		out, _, err := r.program.Eval(map[string]any{
			"path":    path,
			"size":    size,
			"fs_type": fsType,
		})
		if err != nil {
			return false, fmt.Errorf("loader: eval exclusion %q: %w", r.name, err)
		}
		nv, err := out.ConvertToNative(reflect.TypeOf(bool(false)))
		if err != nil {
			return false, fmt.Errorf("loader: exclusion %q did not produce a bool: %w", r.name, err)
		}
		if b, ok := nv.(bool); ok && b {
			return true, nil
		}
	}
	return false, nil
}

// classify returns the exclusion reason for a path under the compiled
// rule set, or catalog.ExcludeNone if it is not excluded.
func classify(rules []exclusionRule, path string, size int64, fsType string) (catalog.ExcludeReason, error) {
	for _, r := range rules {
		hit, err := r.matches(path, size, fsType)
		if err != nil {
			return catalog.ExcludeNone, err
		}
		if hit {
			return catalog.ExcludePattern, nil
		}
	}
	return catalog.ExcludeNone, nil
}
