package slots

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/theimaginaryfoundation/chatlog/transcript/fileutils"
)

const slotExt = ".slot"

// DirStore keeps one file per slot under Root. Slot ids are sanitized into file
// names, so ListSlots reports the sanitized form.
type DirStore struct {
	Root     string
	FileMode fs.FileMode
}

func NewDirStore(root string) (*DirStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("NewDirStore: empty root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("NewDirStore: %w", err)
	}
	return &DirStore{Root: root, FileMode: 0o644}, nil
}

func (d *DirStore) path(id string) (string, error) {
	name := fileutils.SanitizeFilenameComponent(id)
	if name == "" {
		return "", fmt.Errorf("slot id %q: %w", id, errEmptyID)
	}
	return filepath.Join(d.Root, name+slotExt), nil
}

func (d *DirStore) GetSlot(ctx context.Context, id string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	p, err := d.path(id)
	if err != nil {
		return "", false, fmt.Errorf("GetSlot: %w", err)
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("GetSlot: %w", err)
	}
	return string(b), true, nil
}

func (d *DirStore) SetSlot(ctx context.Context, id, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := d.path(id)
	if err != nil {
		return fmt.Errorf("SetSlot: %w", err)
	}
	mode := d.FileMode
	if mode == 0 {
		mode = 0o644
	}
	if err := fileutils.WriteFileAtomic(p, []byte(text), mode); err != nil {
		return fmt.Errorf("SetSlot: %w", err)
	}
	return nil
}

func (d *DirStore) ListSlots(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(d.Root)
	if err != nil {
		return nil, fmt.Errorf("ListSlots: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), slotExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), slotExt))
	}
	sort.Strings(ids)
	return ids, nil
}

func (d *DirStore) Close() error { return nil }
