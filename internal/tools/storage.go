package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/juanpasaflipz/agentic-devops/pkg/types"
)

// Storage writes objects under <Dir>/<bucket>/<object>. Without a directory
// uploads are no-ops.
type Storage struct {
	Dir string
}

func (s *Storage) Upload(_ context.Context, params types.Fields) (types.Fields, error) {
	if s.Dir == "" {
		return types.Fields{"ok": true}, nil
	}
	bucket := params.Str("bucket")
	object := params.Str("object")
	if bucket == "" || object == "" {
		return nil, fmt.Errorf("bucket and object are required")
	}
	full := filepath.Join(s.Dir, bucket, object)
	root := filepath.Clean(s.Dir) + string(filepath.Separator)
	if !strings.HasPrefix(full, root) {
		return nil, fmt.Errorf("object path escapes storage dir: %s/%s", bucket, object)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return nil, err
	}
	if err := os.WriteFile(full, []byte(params.Str("data")), 0o600); err != nil {
		return nil, err
	}
	return types.Fields{"ok": true, "url": "file://" + filepath.ToSlash(full)}, nil
}
