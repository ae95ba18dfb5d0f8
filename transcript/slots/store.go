// Package slots provides SlotStore backends: in memory, a directory of files,
// SQLite and Pebble.
package slots

import (
	"errors"
	"fmt"
	"strings"

	"github.com/theimaginaryfoundation/chatlog/transcript"
)

// Store is a slot store that owns resources.
type Store interface {
	transcript.SlotStore
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendDir    = "dir"
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
)

var errEmptyID = errors.New("empty slot id")

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errEmptyID
	}
	return nil
}

// Open returns the named backend rooted at path (a directory, or the SQLite file).
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendDir:
		return NewDirStore(path)
	case BackendSQLite:
		return OpenSQLite(path)
	case BackendPebble:
		return OpenPebble(path)
	default:
		return nil, fmt.Errorf("Open: unknown slot backend %q", backend)
	}
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*DirStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PebbleStore)(nil)
)
