package buildfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"fbs/pkg/outputs"
)

// ErrUnknownPredicate is returned for up_to_date_when entries of an unknown kind
var ErrUnknownPredicate = errors.New("unknown up-to-date predicate")

// buildPredicate turns one up_to_date_when entry into a predicate evaluated
// relative to dir. Every entry must have exactly one key.
func buildPredicate(dir string, entry map[string]any) (outputs.Predicate, error) {
	if len(entry) != 1 {
		return nil, fmt.Errorf("up_to_date_when entries need exactly one key, got %d", len(entry))
	}

	var kind string
	var value any
	for k, v := range entry {
		kind, value = k, v
	}

	switch kind {
	case "exists":
		path, ok := value.(string)
		if !ok || path == "" {
			return nil, fmt.Errorf("exists needs a path, got %v", value)
		}
		return existsPredicate(resolve(dir, path)), nil
	case "glob":
		pattern, ok := value.(string)
		if !ok || pattern == "" {
			return nil, fmt.Errorf("glob needs a pattern, got %v", value)
		}
		if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
			return nil, fmt.Errorf("invalid glob pattern %q", pattern)
		}
		return globPredicate(resolve(dir, pattern)), nil
	case "env":
		m, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("env needs name and value, got %v", value)
		}
		name, _ := m["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("env needs a name")
		}
		return envPredicate(name, fmt.Sprint(valueOr(m["value"], ""))), nil
	case "never":
		never, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("never needs a boolean, got %v", value)
		}
		return outputs.PredicateFunc(func(outputs.Task) bool { return !never }), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPredicate, kind)
	}
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func valueOr(v any, fallback any) any {
	if v == nil {
		return fallback
	}
	return v
}

func existsPredicate(path string) outputs.Predicate {
	return outputs.PredicateFunc(func(outputs.Task) bool {
		_, err := os.Stat(path)
		return err == nil
	})
}

func globPredicate(pattern string) outputs.Predicate {
	return outputs.PredicateFunc(func(outputs.Task) bool {
		matches, err := doublestar.FilepathGlob(pattern)
		return err == nil && len(matches) > 0
	})
}

func envPredicate(name, value string) outputs.Predicate {
	return outputs.PredicateFunc(func(outputs.Task) bool {
		return os.Getenv(name) == value
	})
}
