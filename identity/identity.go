// Package identity produces the installation-local display handle. The
// handle is generated once, persisted in a local pebble store and never
// mutated afterwards.
package identity

import (
	"fmt"
	"math/rand/v2"

	"github.com/cockroachdb/pebble/v2"
)

// handleKey is the fixed key the display handle is stored under.
var handleKey = []byte("chat/display-name")

var adjectives = []string{
	"amber", "brave", "calm", "clever", "crisp", "eager", "gentle",
	"golden", "keen", "lively", "lucky", "mellow", "quiet", "rapid",
	"silver", "spry", "sunny", "swift", "vivid", "witty",
}

var nouns = []string{
	"badger", "crane", "falcon", "fox", "heron", "ibex", "lark",
	"lynx", "marten", "otter", "owl", "panda", "pike", "raven",
	"seal", "sparrow", "stoat", "tern", "vole", "wren",
}

// A Store persists installation-local values in a pebble database.
type Store struct {
	db *pebble.DB
}

// Open opens, creating if necessary, the local store at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Handle returns the stored display handle, generating and persisting one
// on first use.
func (s *Store) Handle() (string, error) {
	val, closer, err := s.db.Get(handleKey)
	if err == nil {
		handle := string(val)
		if cerr := closer.Close(); cerr != nil {
			return "", fmt.Errorf("close value: %w", cerr)
		}
		return handle, nil
	}
	if err != pebble.ErrNotFound {
		return "", fmt.Errorf("get handle: %w", err)
	}

	handle := NewHandle()
	if err := s.db.Set(handleKey, []byte(handle), pebble.Sync); err != nil {
		return "", fmt.Errorf("store handle: %w", err)
	}
	return handle, nil
}

// NewHandle generates a fresh adjective-noun-NN display handle.
func NewHandle() string {
	return fmt.Sprintf("%s-%s-%02d",
		adjectives[rand.IntN(len(adjectives))],
		nouns[rand.IntN(len(nouns))],
		rand.IntN(100),
	)
}
