package slots

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

var slotPrefix = []byte("slot/")

// PebbleStore keeps slots as slot/<id> keys in a Pebble database.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebble opens (creating if needed) the database directory at path.
func OpenPebble(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("OpenPebble: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

func slotKey(id string) []byte {
	return append(append([]byte(nil), slotPrefix...), id...)
}

func (p *PebbleStore) GetSlot(ctx context.Context, id string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	v, closer, err := p.db.Get(slotKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("GetSlot: %w", err)
	}
	defer closer.Close()
	return string(v), true, nil
}

func (p *PebbleStore) SetSlot(ctx context.Context, id, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateID(id); err != nil {
		return fmt.Errorf("SetSlot: %w", err)
	}
	if err := p.db.Set(slotKey(id), []byte(text), pebble.Sync); err != nil {
		return fmt.Errorf("SetSlot: %w", err)
	}
	return nil
}

// prefixUpperBound returns the smallest key greater than every key with prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (p *PebbleStore) ListSlots(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: slotPrefix,
		UpperBound: prefixUpperBound(slotPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("ListSlots: %w", err)
	}
	defer iter.Close()

	var ids []string
	for iter.First(); iter.Valid(); iter.Next() {
		ids = append(ids, string(bytes.TrimPrefix(iter.Key(), slotPrefix)))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("ListSlots: %w", err)
	}
	return ids, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }
