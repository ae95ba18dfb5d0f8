package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/theimaginaryfoundation/chatlog/transcript"
)

func testCodec() *transcript.Codec {
	return transcript.NewCodec(transcript.CodecOptions{
		Now: func() time.Time { return time.Date(2024, 5, 6, 21, 30, 0, 0, time.UTC) },
	})
}

func TestNewEnvelope_Post(t *testing.T) {
	t.Parallel()

	pl := transcript.Placement{
		Item:      transcript.Item{Entry: &transcript.SocialEntry{Key: transcript.AgentPost, Data: transcript.PostData{Text: "hi"}}, Appended: true},
		Position:  4,
		Found:     true,
		PostIndex: 1,
	}
	env, err := NewEnvelope(testCodec(), pl, "turn-1")
	require.NoError(t, err)
	require.Equal(t, TypeEntryRevealed, env.Meta.Type)
	require.NotEmpty(t, env.Meta.ID)
	require.Equal(t, "turn-1", *env.Meta.CorrelationID)
	require.Equal(t, "agent_post", env.Data.Kind)
	require.Equal(t, []string{`CHAR_MOMENT: {"text":"hi"}`}, env.Data.Lines)
	require.Equal(t, 4, *env.Data.Position)
	require.Equal(t, 1, *env.Data.PostIndex)
}

func TestNewEnvelope_RetractionNotFound(t *testing.T) {
	t.Parallel()

	m := &transcript.ChatMessage{ID: "m", Sender: transcript.SenderThem, Recalled: &transcript.Recall{OriginalPayload: transcript.TextPayload{Text: "x"}, Timestamp: 3}}
	pl := transcript.Placement{
		Item:      transcript.Item{Entry: m, Retraction: &transcript.RecallCommand{Sender: "CHAR", TargetText: "x"}},
		Position:  -1,
		PostIndex: -1,
	}
	env, err := NewEnvelope(testCodec(), pl, "")
	require.NoError(t, err)
	require.Equal(t, TypeEntryRetracted, env.Meta.Type)
	require.Nil(t, env.Meta.CorrelationID)
	require.Nil(t, env.Data.Position)
	require.Nil(t, env.Data.PostIndex)
	require.Len(t, env.Data.Lines, 2)
}

func TestPublishing(t *testing.T) {
	t.Parallel()

	cid := "c-1"
	env := Envelope{Meta: Meta{ID: "e-1", Type: TypeEntryRevealed, CorrelationID: &cid}, Data: Entry{Kind: "text", Lines: []string{"CHAR: hi"}}}
	pub, err := publishing(env)
	require.NoError(t, err)
	require.Equal(t, amqp091.Persistent, pub.DeliveryMode)
	require.Equal(t, "e-1", pub.MessageId)
	require.Equal(t, "c-1", pub.CorrelationId)
	require.False(t, pub.Timestamp.IsZero())

	var back Envelope
	require.NoError(t, json.Unmarshal(pub.Body, &back))
	require.Equal(t, env.Data, back.Data)
}
