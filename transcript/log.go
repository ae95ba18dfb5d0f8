package transcript

import (
	"fmt"
	"strings"
	"sync"
)

// Log is the ordered, in-memory transcript. It is safe for concurrent use; entries
// returned by Entries are shared and must only be mutated through the Log.
type Log struct {
	mu      sync.RWMutex
	codec   *Codec
	entries []Entry
}

// NewLog returns an empty log that serializes through codec.
func NewLog(codec *Codec) *Log {
	if codec == nil {
		codec = NewCodec(CodecOptions{})
	}
	return &Log{codec: codec}
}

// newLogFrom wraps already-ordered entries without duplicate suppression,
// which is how history read back from slots is loaded.
func newLogFrom(codec *Codec, entries []Entry) *Log {
	l := NewLog(codec)
	l.entries = entries
	return l
}

// Codec returns the codec the log serializes with.
func (l *Log) Codec() *Codec { return l.codec }

// Append adds e unless an equal entry is already present. It reports whether the log grew.
func (l *Log) Append(e Entry) bool {
	if e == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, existing := range l.entries {
		if isDuplicate(existing, e) {
			return false
		}
	}
	l.entries = append(l.entries, e)
	return true
}

// Entries returns a snapshot of the entry order.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Serialize renders the log as protocol text, one line per entry plus one RECALL
// line after every retracted message.
func (l *Log) Serialize() (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var b strings.Builder
	for i, e := range l.entries {
		lines, err := l.codec.EncodeEntry(e)
		if err != nil {
			return "", fmt.Errorf("Serialize: entry %d: %w", i, err)
		}
		for _, line := range lines {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(line)
		}
	}
	return b.String(), nil
}

// Remove deletes the entry at index i. Removing a post also removes every comment
// and like that targets it, and re-points interactions with later posts so their
// targets stay aligned with the shortened post sequence.
func (l *Log) Remove(i int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i < 0 || i >= len(l.entries) {
		return fmt.Errorf("Remove: index %d out of range [0,%d)", i, len(l.entries))
	}
	post, ok := l.postIndexLocked(i)
	if !ok {
		l.entries = append(l.entries[:i], l.entries[i+1:]...)
		return nil
	}

	kept := l.entries[:0]
	for j, e := range l.entries {
		if j == i {
			continue
		}
		if s, ok := e.(*SocialEntry); ok {
			if target, ok := s.target(); ok {
				switch {
				case target == post:
					continue
				case target > post:
					s.Data = s.withTarget(target - 1)
				}
			}
		}
		kept = append(kept, e)
	}
	clear(l.entries[len(kept):])
	l.entries = kept
	return nil
}

// ApplyRecall resolves cmd against the whole log and retracts the match.
// It returns the retracted message and its position, or nil and -1.
func (l *Log) ApplyRecall(cmd RecallCommand) (*ChatMessage, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, i := Resolve(l.entries, cmd)
	if m != nil {
		markRecalled(m, cmd.Timestamp)
	}
	return m, i
}

// Position finds e's counterpart in the log: identity first, then content.
func (l *Log) Position(e Entry) (int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.positionLocked(e)
}

func (l *Log) positionLocked(e Entry) (int, bool) {
	for i, stored := range l.entries {
		if sameIdentity(stored, e) {
			return i, true
		}
	}
	for i, stored := range l.entries {
		if sameContent(stored, e) {
			return i, true
		}
	}
	return -1, false
}

// PostIndex returns the ordinal among posts of the entry at index i, which is the
// value comments and likes use as target_post_sequence_id.
func (l *Log) PostIndex(i int) (int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.postIndexLocked(i)
}

func (l *Log) postIndexLocked(i int) (int, bool) {
	if i < 0 || i >= len(l.entries) {
		return 0, false
	}
	s, ok := l.entries[i].(*SocialEntry)
	if !ok || !s.Key.IsPost() {
		return 0, false
	}
	n := 0
	for _, e := range l.entries[:i] {
		if s, ok := e.(*SocialEntry); ok && s.Key.IsPost() {
			n++
		}
	}
	return n, true
}

// Posts returns the number of post entries, i.e. the next post's sequence id.
func (l *Log) Posts() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, e := range l.entries {
		if s, ok := e.(*SocialEntry); ok && s.Key.IsPost() {
			n++
		}
	}
	return n
}
