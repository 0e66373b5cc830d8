package policy

import (
	"errors"
	"io/fs"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/juanpasaflipz/agentic-devops/internal/crypto"
)

type LoadedPolicy struct {
	Policy Policy
	Hash   string
	Bytes  []byte
	Path   string
}

// LoadPolicy loads a YAML policy and computes its hash from raw bytes.
// A missing file yields an empty, all-permissive policy with no hash.
func LoadPolicy(path string) (LoadedPolicy, error) {
	// #nosec G304 -- path comes from operator-configured policy path.
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return LoadedPolicy{Path: path}, nil
	}
	if err != nil {
		return LoadedPolicy{}, err
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return LoadedPolicy{}, err
	}

	return LoadedPolicy{
		Policy: p,
		Hash:   crypto.DigestWithPrefix(data),
		Bytes:  data,
		Path:   path,
	}, nil
}

// Holder owns the process policy. It is built once at startup and shared by
// reference; the policy only changes through an explicit Reload.
type Holder struct {
	path string

	mu      sync.RWMutex
	current LoadedPolicy
}

// NewHolder loads the policy at path.
func NewHolder(path string) (*Holder, error) {
	loaded, err := LoadPolicy(path)
	if err != nil {
		return nil, err
	}
	if loaded.Hash == "" {
		log.Warn().Str("path", path).Msg("policy file not found, no gates configured")
	}
	return &Holder{path: path, current: loaded}, nil
}

// Static wraps an in-memory policy. Reload is a no-op.
func Static(p Policy) *Holder {
	return &Holder{current: LoadedPolicy{Policy: p}}
}

// Current returns the active policy.
func (h *Holder) Current() LoadedPolicy {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload re-reads the policy file. On error the previous policy stays active.
func (h *Holder) Reload() error {
	if h.path == "" {
		return nil
	}
	loaded, err := LoadPolicy(h.path)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.current = loaded
	h.mu.Unlock()
	log.Info().Str("path", h.path).Str("policy_hash", loaded.Hash).Msg("policy reloaded")
	return nil
}
