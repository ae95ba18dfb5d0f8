package transcript

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSequence_Positions(t *testing.T) {
	t.Parallel()

	c := testCodec()
	log := newLogFrom(c, []Entry{
		&SocialEntry{Key: AgentPost, Data: PostData{Text: "old post"}},
		&ChatMessage{ID: "m0", Sender: SenderMe, Payload: TextPayload{Text: "hey"}},
	})
	src := &scriptedSource{responses: [][]string{{
		"CHAR: hey back\n",
		`CHAR_MOMENT: {"text":"new post"}` + "\n",
		`CHAR_LIKE: {"target_post_sequence_id":0}` + "\n",
		"USER: hey\n",
	}}}
	batch, err := NewPipeline(src, log, PipelineOptions{}).Ingest(context.Background(), "p")
	require.NoError(t, err)

	got := Sequence(batch, log)
	require.Len(t, got, 4)

	type want struct {
		pos, post int
	}
	for i, w := range []want{{2, -1}, {3, 1}, {4, -1}, {1, -1}} {
		pl := got[i]
		if !pl.Found || pl.Position != w.pos || pl.PostIndex != w.post {
			t.Fatalf("placement %d = {Found:%v Position:%d PostIndex:%d}, want {true %d %d}",
				i, pl.Found, pl.Position, pl.PostIndex, w.pos, w.post)
		}
	}
}

func TestSequence_Missing(t *testing.T) {
	t.Parallel()

	batch := Batch{Items: []Item{{Entry: &SystemEntry{Kind: SystemEvent, Date: "d", Time: "t", Description: "x"}}}}
	got := Sequence(batch, NewLog(testCodec()))
	require.Len(t, got, 1)
	require.False(t, got[0].Found)
	require.Equal(t, -1, got[0].Position)
}

func TestPacing_Delay(t *testing.T) {
	t.Parallel()

	p := DefaultPacing()
	text := func(s string) Placement {
		return Placement{Item: Item{Entry: &ChatMessage{Sender: SenderThem, Payload: TextPayload{Text: s}}}}
	}

	require.Equal(t, p.MinDelay, p.Delay(text("hi")))
	require.Equal(t, 20*p.PerRune, p.Delay(text("一二三四五六七八九十一二三四五六七八九十")))
	require.Equal(t, p.MaxDelay, p.Delay(text(string(make([]rune, 500)))))
	require.Equal(t, p.FixedDelay, p.Delay(Placement{Item: Item{Entry: &ChatMessage{Payload: StickerPayload{Name: "s"}}}}))
	require.Equal(t, p.FixedDelay, p.Delay(Placement{Item: Item{Entry: &SystemEntry{Kind: SystemTime}}}))
	require.Equal(t, p.RetractDelay, p.Delay(Placement{Item: Item{
		Entry:      &ChatMessage{Recalled: &Recall{OriginalPayload: TextPayload{Text: "long enough text here"}}},
		Retraction: &RecallCommand{},
	}}))
}

func TestPlayer_PlayPacesAndStops(t *testing.T) {
	t.Parallel()

	pacing := Pacing{PerRune: time.Millisecond, MinDelay: 5 * time.Millisecond, MaxDelay: 50 * time.Millisecond, FixedDelay: 7 * time.Millisecond, RetractDelay: 3 * time.Millisecond, Gap: time.Millisecond}
	var slept []time.Duration
	player := Player{Pacing: pacing, Sleep: func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}}

	placements := []Placement{
		{Item: Item{Entry: &ChatMessage{Payload: TextPayload{Text: "hello"}}}},
		{Item: Item{Entry: &ChatMessage{Payload: StickerPayload{Name: "x"}}}},
		{Item: Item{Entry: &ChatMessage{}, Retraction: &RecallCommand{}}},
	}
	var revealed int
	require.NoError(t, player.Play(context.Background(), placements, func(Placement) error {
		revealed++
		return nil
	}))
	require.Equal(t, 3, revealed)
	require.Equal(t, []time.Duration{
		5 * time.Millisecond,
		time.Millisecond, 7 * time.Millisecond,
		time.Millisecond, 3 * time.Millisecond,
	}, slept)

	stop := errors.New("stop")
	revealed = 0
	err := player.Play(context.Background(), placements, func(Placement) error {
		revealed++
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, revealed)
}

func TestPlayer_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Player{Pacing: DefaultPacing()}.Play(ctx, []Placement{{Item: Item{Entry: &SystemEntry{}}}}, func(Placement) error {
		t.Fatal("reveal called after cancellation")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}
