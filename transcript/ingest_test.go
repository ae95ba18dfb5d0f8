package transcript

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// scriptedSource replays one response per call; the last response repeats.
type scriptedSource struct {
	responses [][]string
	errs      []error
	calls     atomic.Int32
}

func (s *scriptedSource) Stream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	n := int(s.calls.Add(1)) - 1
	return func(yield func(string, error) bool) {
		if n < len(s.errs) && s.errs[n] != nil {
			yield("", s.errs[n])
			return
		}
		chunks := s.responses[min(n, len(s.responses)-1)]
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

type countingRecorder struct {
	attempts map[string]int
	appended int
	dupes    int
	recalls  map[bool]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{attempts: map[string]int{}, recalls: map[bool]int{}}
}

func (c *countingRecorder) ObserveAttempt(outcome string, d time.Duration) { c.attempts[outcome]++ }
func (c *countingRecorder) ObserveEntry(kind string, appended bool) {
	if appended {
		c.appended++
	} else {
		c.dupes++
	}
}
func (c *countingRecorder) ObserveRecall(resolved bool) { c.recalls[resolved]++ }

func TestIngest_AppliesStreamedLines(t *testing.T) {
	t.Parallel()

	log := NewLog(testCodec())
	require.True(t, log.Append(&ChatMessage{ID: "u", Sender: SenderMe, Payload: TextPayload{Text: "are you there"}}))
	require.True(t, log.Append(&ChatMessage{ID: "c", Sender: SenderThem, Payload: TextPayload{Text: "wrong thing"}}))

	src := &scriptedSource{responses: [][]string{{
		"CHAR: I am", " here\nCHAR: [sticker: wave]\n",
		`RECALL: {"sender":"CHAR","target_text":"wrong thing"}` + "\n",
		"garbage line\n",
		`TIME: {"date":"2024-05-06","time":"22:00"}`,
	}}}
	rec := newCountingRecorder()
	p := NewPipeline(src, log, PipelineOptions{Recorder: rec})

	batch, err := p.Ingest(context.Background(), "prompt")
	require.NoError(t, err)
	require.Equal(t, 1, batch.Attempts)
	require.Len(t, batch.Items, 4)
	require.Equal(t, StateIdle, p.State())

	require.True(t, batch.Items[2].IsRetraction())
	recalled := batch.Items[2].Entry.(*ChatMessage)
	require.Equal(t, "c", recalled.ID)
	require.NotNil(t, recalled.Recalled)

	require.Equal(t, 5, log.Len())
	require.Equal(t, 3, rec.appended)
	require.Equal(t, 1, rec.recalls[true])
	require.Equal(t, 1, rec.attempts["success"])
}

func TestIngest_DuplicateEntriesStillReported(t *testing.T) {
	t.Parallel()

	log := NewLog(testCodec())
	require.True(t, log.Append(&ChatMessage{ID: "x", Sender: SenderThem, Payload: TextPayload{Text: "hello"}}))

	src := &scriptedSource{responses: [][]string{{"CHAR: hello"}}}
	batch, err := NewPipeline(src, log, PipelineOptions{}).Ingest(context.Background(), "p")
	require.NoError(t, err)
	require.Len(t, batch.Items, 1)
	require.False(t, batch.Items[0].Appended)
	require.Equal(t, 1, log.Len())
}

func TestIngest_EchoCollapsed(t *testing.T) {
	t.Parallel()

	log := NewLog(testCodec())
	src := &scriptedSource{responses: [][]string{{"CHAR: [sticker: a]\nCHAR: [sticker: b]\n", "CHAR: [sticker: a]\nCHAR: [sticker: b]\n"}}}
	batch, err := NewPipeline(src, log, PipelineOptions{}).Ingest(context.Background(), "p")
	require.NoError(t, err)
	require.Len(t, batch.Items, 2)
	require.Equal(t, 2, log.Len())
}

func TestIngest_RetryExhaustionLeavesLogUnchanged(t *testing.T) {
	t.Parallel()

	log := NewLog(testCodec())
	require.True(t, log.Append(&ChatMessage{ID: "u", Sender: SenderMe, Payload: TextPayload{Text: "hi"}}))
	before, err := log.Serialize()
	require.NoError(t, err)

	src := &scriptedSource{responses: [][]string{{"  \n", "\t\n"}}}
	sleeps := &sleepRecorder{}
	rec := newCountingRecorder()
	p := NewPipeline(src, log, PipelineOptions{
		MaxRetries: 3,
		BaseDelay:  10 * time.Millisecond,
		Sleep:      sleeps.sleep,
		Recorder:   rec,
	})

	_, err = p.Ingest(context.Background(), "p")
	require.ErrorIs(t, err, ErrGenerationFailed)
	require.ErrorIs(t, err, errEmptyGeneration)
	require.Equal(t, int32(4), src.calls.Load())
	require.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}, sleeps.delays)
	require.Equal(t, 4, rec.attempts["failure"])

	after, err := log.Serialize()
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Equal(t, StateIdle, p.State())
}

func TestIngest_RecoversAfterStreamError(t *testing.T) {
	t.Parallel()

	log := NewLog(testCodec())
	src := &scriptedSource{
		responses: [][]string{{"CHAR: partial"}, {"CHAR: fine"}},
		errs:      []error{errors.New("429 too many requests")},
	}
	sleeps := &sleepRecorder{}
	batch, err := NewPipeline(src, log, PipelineOptions{MaxRetries: 1, Sleep: sleeps.sleep}).Ingest(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, 2, batch.Attempts)
	require.Equal(t, 1, log.Len())
	require.Equal(t, "fine", log.Entries()[0].(*ChatMessage).Payload.(TextPayload).Text)
}

func TestIngest_NoRetriesByDefault(t *testing.T) {
	t.Parallel()

	for _, maxRetries := range []int{0, -1} {
		src := &scriptedSource{responses: [][]string{{"not a protocol line"}}}
		sleeps := &sleepRecorder{}
		_, err := NewPipeline(src, NewLog(testCodec()), PipelineOptions{MaxRetries: maxRetries, Sleep: sleeps.sleep}).Ingest(context.Background(), "p")
		require.ErrorIs(t, err, ErrGenerationFailed)
		require.ErrorIs(t, err, errNoEntries)
		if got := src.calls.Load(); got != 1 {
			t.Fatalf("MaxRetries=%d: calls=%d, want 1", maxRetries, got)
		}
		require.Empty(t, sleeps.delays)
	}
}

func TestIngest_BusyWhileRunning(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	src := StreamFunc(func(ctx context.Context, prompt string) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			close(started)
			<-release
			yield("CHAR: done", nil)
		}
	})
	p := NewPipeline(src, NewLog(testCodec()), PipelineOptions{})

	done := make(chan error, 1)
	go func() {
		_, err := p.Ingest(context.Background(), "first")
		done <- err
	}()

	<-started
	require.Equal(t, StateGenerating, p.State())
	_, err := p.Ingest(context.Background(), "second")
	require.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)
	require.Equal(t, StateIdle, p.State())
}

func TestIngest_CancelledDuringRetryDelay(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	src := &scriptedSource{responses: [][]string{{""}}}
	p := NewPipeline(src, NewLog(testCodec()), PipelineOptions{
		MaxRetries: 2,
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	})
	_, err := p.Ingest(ctx, "p")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, int32(1), src.calls.Load())
}
