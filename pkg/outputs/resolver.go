package outputs

import (
	"fmt"
	"path/filepath"
)

// PathResolver turns a path-like value into a canonical filesystem path
type PathResolver interface {
	Resolve(path any) (string, error)
}

// FileResolver resolves relative paths against a base directory.
//
// Supported values are string, fmt.Stringer, func() string and func() (string, error).
// The functions are evaluated when the path is declared.
type FileResolver struct {
	BaseDir string
}

// NewFileResolver creates a resolver rooted at baseDir
func NewFileResolver(baseDir string) *FileResolver {
	return &FileResolver{BaseDir: baseDir}
}

func (r *FileResolver) Resolve(path any) (string, error) {
	var raw string
	switch v := path.(type) {
	case string:
		raw = v
	case func() string:
		raw = v()
	case func() (string, error):
		s, err := v()
		if err != nil {
			return "", err
		}
		raw = s
	case fmt.Stringer:
		raw = v.String()
	default:
		return "", fmt.Errorf("%w: unsupported type %T", ErrUnresolvablePath, path)
	}

	if raw == "" {
		return "", fmt.Errorf("%w: empty path", ErrUnresolvablePath)
	}
	if !filepath.IsAbs(raw) {
		raw = filepath.Join(r.BaseDir, raw)
	}
	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnresolvablePath, err)
	}
	return abs, nil
}
