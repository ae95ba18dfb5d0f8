package transcript

import (
	"context"
	"time"
	"unicode/utf8"
)

// Placement is a batch item together with where it lives in the log.
type Placement struct {
	Item Item

	// Position is the item's index in the log; meaningful only when Found.
	Position int
	Found    bool

	// PostIndex is the post's sequence id when the item is a post found in the log, otherwise -1.
	PostIndex int
}

// Sequence locates every batch item in log. Items are persisted before they are
// revealed, so consumers use the positions for numbering and for resolving the
// post targets of later comments and likes. An item with no counterpart is
// reported with Found=false and should be treated as appended at the end.
func Sequence(batch Batch, log *Log) []Placement {
	log.mu.RLock()
	defer log.mu.RUnlock()

	out := make([]Placement, 0, len(batch.Items))
	for _, it := range batch.Items {
		pl := Placement{Item: it, Position: -1, PostIndex: -1}
		if i, ok := log.positionLocked(it.Entry); ok {
			pl.Position = i
			pl.Found = true
			if n, ok := log.postIndexLocked(i); ok {
				pl.PostIndex = n
			}
		}
		out = append(out, pl)
	}
	return out
}

// Pacing controls how quickly placements are revealed.
type Pacing struct {
	// PerRune scales the delay of text messages, clamped to [MinDelay, MaxDelay].
	PerRune  time.Duration
	MinDelay time.Duration
	MaxDelay time.Duration

	// FixedDelay applies to every other chat kind and to system and social entries.
	FixedDelay time.Duration

	// RetractDelay applies to retractions.
	RetractDelay time.Duration

	// Gap separates consecutive reveals.
	Gap time.Duration
}

// DefaultPacing mirrors a person typing at a comfortable reading speed.
func DefaultPacing() Pacing {
	return Pacing{
		PerRune:      60 * time.Millisecond,
		MinDelay:     500 * time.Millisecond,
		MaxDelay:     3 * time.Second,
		FixedDelay:   800 * time.Millisecond,
		RetractDelay: 600 * time.Millisecond,
		Gap:          300 * time.Millisecond,
	}
}

// Delay returns how long to wait before revealing pl.
func (p Pacing) Delay(pl Placement) time.Duration {
	if pl.Item.IsRetraction() {
		return p.RetractDelay
	}
	m, ok := pl.Item.Entry.(*ChatMessage)
	if !ok {
		return p.FixedDelay
	}
	t, ok := m.content().(TextPayload)
	if !ok {
		return p.FixedDelay
	}
	d := time.Duration(utf8.RuneCountInString(t.Text)) * p.PerRune
	return min(max(d, p.MinDelay), p.MaxDelay)
}

// Player reveals placements one at a time.
type Player struct {
	Pacing Pacing

	// Sleep waits between reveals (defaults to a context-aware timer).
	Sleep func(ctx context.Context, d time.Duration) error
}

// Play calls reveal for each placement in order, waiting the paced delay before
// each one and the gap between them. It stops at the first reveal error or when
// ctx is done.
func (p Player) Play(ctx context.Context, placements []Placement, reveal func(Placement) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	for i, pl := range placements {
		if i > 0 {
			if err := sleep(ctx, p.Pacing.Gap); err != nil {
				return err
			}
		}
		if err := sleep(ctx, p.Pacing.Delay(pl)); err != nil {
			return err
		}
		if err := reveal(pl); err != nil {
			return err
		}
	}
	return nil
}
