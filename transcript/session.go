package transcript

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// DefaultSlotID names the slot a fresh transcript is written to when the store is empty.
const DefaultSlotID = "transcript"

// SlotStore reads and writes named slots of text owned by the host.
type SlotStore interface {
	// GetSlot returns the slot text and whether the slot exists.
	GetSlot(ctx context.Context, id string) (string, bool, error)
	SetSlot(ctx context.Context, id, text string) error
	// ListSlots returns every slot id in ascending lexical order, oldest first.
	ListSlots(ctx context.Context) ([]string, error)
}

// Session binds a log to the slots it is stored in.
type Session struct {
	Store SlotStore

	// SlotIDs lists the slots to consolidate, most recent first. Empty means every slot in the store.
	SlotIDs []string

	Codec     *Codec
	Sentinels Sentinels
	Logger    *zap.Logger

	mu      sync.Mutex
	primary string
}

// Primary returns the slot Persist writes to.
func (s *Session) Primary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primary
}

func (s *Session) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Session) slotIDs(ctx context.Context) ([]string, error) {
	if len(s.SlotIDs) > 0 {
		return s.SlotIDs, nil
	}
	ids, err := s.Store.ListSlots(ctx)
	if err != nil {
		return nil, err
	}
	ids = slices.Clone(ids)
	slices.Reverse(ids)
	return ids, nil
}

// Load reads the slots, consolidates them into one log and writes back every slot
// consolidation rewrote. A store without any transcript block yields an empty log.
func (s *Session) Load(ctx context.Context) (*Log, error) {
	if s.Store == nil {
		return nil, errors.New("Load: nil slot store")
	}
	ids, err := s.slotIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("Load: list slots: %w", err)
	}

	texts := make([]string, len(ids))
	for i, id := range ids {
		text, _, err := s.Store.GetSlot(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("Load: get slot %q: %w", id, err)
		}
		texts[i] = text
	}

	res, err := Consolidate(texts, s.Codec, s.Sentinels)
	if errors.Is(err, ErrNoLogBlock) {
		primary := DefaultSlotID
		if len(ids) > 0 {
			primary = ids[0]
		}
		s.setPrimary(primary)
		s.logger().Info("transcript_empty", zap.String("primary", primary), zap.Int("slots", len(ids)))
		return NewLog(s.Codec), nil
	}
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	s.setPrimary(ids[res.Primary])

	for i, changed := range res.Changed {
		if !changed {
			continue
		}
		if err := s.Store.SetSlot(ctx, ids[i], res.Slots[i]); err != nil {
			return nil, fmt.Errorf("Load: write slot %q: %w", ids[i], err)
		}
		s.logger().Debug("slot_consolidated", zap.String("slot", ids[i]), zap.Bool("primary", i == res.Primary))
	}
	for _, cmd := range res.Unresolved {
		s.logger().Warn("recall_unresolved",
			zap.String("sender", cmd.Sender),
			zap.String("target_text", cmd.TargetText),
		)
	}
	s.logger().Info("transcript_loaded",
		zap.String("primary", ids[res.Primary]),
		zap.Int("entries", res.Log.Len()),
	)
	return res.Log, nil
}

func (s *Session) setPrimary(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primary = id
}

// Persist writes the serialized log into the primary slot's block, keeping the
// text around it. The log itself is never modified.
func (s *Session) Persist(ctx context.Context, log *Log) error {
	if s.Store == nil {
		return errors.New("Persist: nil slot store")
	}
	body, err := log.Serialize()
	if err != nil {
		return fmt.Errorf("Persist: %w", err)
	}

	primary := s.Primary()
	if primary == "" {
		ids, err := s.slotIDs(ctx)
		if err != nil {
			return fmt.Errorf("Persist: list slots: %w", err)
		}
		primary = DefaultSlotID
		if len(ids) > 0 {
			primary = ids[0]
		}
		s.setPrimary(primary)
	}

	text, _, err := s.Store.GetSlot(ctx, primary)
	if err != nil {
		return fmt.Errorf("Persist: get slot %q: %w", primary, err)
	}
	if err := s.Store.SetSlot(ctx, primary, s.Sentinels.Replace(text, body)); err != nil {
		return fmt.Errorf("Persist: write slot %q: %w", primary, err)
	}
	s.logger().Debug("transcript_persisted", zap.String("slot", primary), zap.Int("bytes", len(body)))
	return nil
}
