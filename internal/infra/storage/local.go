package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Local writes images below a directory served at baseURL.
type Local struct {
	dir     string
	baseURL string
}

func NewLocal(dir, baseURL string) *Local {
	if dir == "" {
		dir = "uploads"
	}
	if baseURL == "" {
		baseURL = "/uploads"
	}
	return &Local{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}
}

// Dir is the directory the HTTP layer serves uploads from.
func (l *Local) Dir() string { return l.dir }

func (l *Local) Put(_ context.Context, key, _ string, body io.Reader, _ int64) (string, error) {
	clean := filepath.Clean("/" + key)
	dst := filepath.Join(l.dir, clean)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, body); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return l.baseURL + filepath.ToSlash(clean), nil
}
