// Package events publishes revealed transcript entries to an AMQP topic exchange.
package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/theimaginaryfoundation/chatlog/transcript"
)

// Event types, also used as routing keys.
const (
	TypeEntryRevealed  = "transcript.entry.revealed.v1"
	TypeEntryRetracted = "transcript.entry.retracted.v1"
)

type Meta struct {
	// Trace / request correlation ID, shared by every event of one ingestion.
	CorrelationID *string   `json:"correlation_id,omitempty"`
	ID            string    `json:"id"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

type Envelope struct {
	Meta Meta  `json:"meta"`
	Data Entry `json:"data"`
}

// Entry is the wire form of a placement: the protocol lines of the entry plus
// where it sits in the log.
type Entry struct {
	Kind      string   `json:"kind"`
	Lines     []string `json:"lines"`
	Position  *int     `json:"position,omitempty"`
	PostIndex *int     `json:"post_index,omitempty"`
	Appended  bool     `json:"appended"`
}

// NewEnvelope wraps a placement for publishing.
func NewEnvelope(codec *transcript.Codec, pl transcript.Placement, correlationID string) (Envelope, error) {
	lines, err := codec.EncodeEntry(pl.Item.Entry)
	if err != nil {
		return Envelope{}, fmt.Errorf("NewEnvelope: %w", err)
	}

	env := Envelope{
		Meta: Meta{
			ID:   uuid.NewString(),
			Time: codec.Now().UTC(),
			Type: TypeEntryRevealed,
		},
		Data: Entry{
			Kind:     kindOf(pl.Item.Entry),
			Lines:    lines,
			Appended: pl.Item.Appended,
		},
	}
	if pl.Item.IsRetraction() {
		env.Meta.Type = TypeEntryRetracted
	}
	if correlationID != "" {
		env.Meta.CorrelationID = &correlationID
	}
	if pl.Found {
		pos := pl.Position
		env.Data.Position = &pos
	}
	if pl.PostIndex >= 0 {
		idx := pl.PostIndex
		env.Data.PostIndex = &idx
	}
	return env, nil
}

func kindOf(e transcript.Entry) string {
	switch e := e.(type) {
	case *transcript.ChatMessage:
		return string(e.Kind())
	case *transcript.SystemEntry:
		return string(e.Kind)
	case *transcript.SocialEntry:
		return string(e.Key)
	}
	return "unknown"
}
