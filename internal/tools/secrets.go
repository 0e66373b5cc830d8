package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/juanpasaflipz/agentic-devops/pkg/types"
)

// Secrets reads values from <Dir>/<path>/<key>. Without a directory it
// returns an empty result.
type Secrets struct {
	Dir string
}

func (s *Secrets) Get(_ context.Context, params types.Fields) (types.Fields, error) {
	if s.Dir == "" {
		return types.Fields{}, nil
	}
	rel := filepath.Join(params.Str("path"), params.Str("key"))
	full := filepath.Join(s.Dir, rel)
	root := filepath.Clean(s.Dir) + string(filepath.Separator)
	if !strings.HasPrefix(full, root) {
		return nil, fmt.Errorf("secret path escapes secrets dir: %s", rel)
	}
	// #nosec G304 -- confined to the configured secrets dir above.
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return types.Fields{}, nil
	}
	if err != nil {
		return nil, err
	}
	return types.Fields{"value": strings.TrimRight(string(data), "\r\n")}, nil
}
