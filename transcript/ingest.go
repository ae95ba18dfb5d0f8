package transcript

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrBusy is returned when Ingest is called while another ingestion is running.
	ErrBusy = errors.New("ingestion already in progress")

	// ErrGenerationFailed is returned once every attempt has failed. It wraps the last cause.
	ErrGenerationFailed = errors.New("generation failed")

	errEmptyGeneration = errors.New("empty generation")
	errNoEntries       = errors.New("no decodable entries")
)

// StreamSource yields the text fragments of one generated response.
type StreamSource interface {
	Stream(ctx context.Context, prompt string) iter.Seq2[string, error]
}

// StreamFunc adapts a function to StreamSource.
type StreamFunc func(ctx context.Context, prompt string) iter.Seq2[string, error]

func (f StreamFunc) Stream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return f(ctx, prompt)
}

// Recorder receives ingestion measurements. observability.Metrics implements it.
type Recorder interface {
	ObserveAttempt(outcome string, d time.Duration)
	ObserveEntry(kind string, appended bool)
	ObserveRecall(resolved bool)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAttempt(string, time.Duration) {}
func (nopRecorder) ObserveEntry(string, bool)            {}
func (nopRecorder) ObserveRecall(bool)                   {}

// State is the pipeline's position in its Idle → Generating → Applying|Retrying cycle.
type State int32

const (
	StateIdle State = iota
	StateGenerating
	StateApplying
	StateRetrying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGenerating:
		return "generating"
	case StateApplying:
		return "applying"
	case StateRetrying:
		return "retrying"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Item is one result of an ingestion: a decoded entry, or a retraction of an
// existing message.
type Item struct {
	Entry Entry

	// Appended is false when the entry duplicated one already in the log.
	Appended bool

	// Retraction is set when the item recalled Entry (always a *ChatMessage) in place.
	Retraction *RecallCommand
}

// IsRetraction reports whether the item mutates an existing message rather than adding one.
func (it Item) IsRetraction() bool { return it.Retraction != nil }

// Batch is the output of one successful ingestion.
type Batch struct {
	Items    []Item
	Attempts int
}

// PipelineOptions controls retries and instrumentation.
type PipelineOptions struct {
	// MaxRetries is the number of extra attempts after a failed one. Zero or negative means none.
	MaxRetries int

	// BaseDelay is multiplied by the retry number before each retry (defaults to 1s).
	BaseDelay time.Duration

	Logger   *zap.Logger
	Recorder Recorder

	// Sleep waits between attempts (defaults to a context-aware timer).
	Sleep func(ctx context.Context, d time.Duration) error
}

// Pipeline turns streamed generations into log entries, one ingestion at a time.
type Pipeline struct {
	source StreamSource
	log    *Log

	maxRetries int
	baseDelay  time.Duration
	logger     *zap.Logger
	recorder   Recorder
	sleep      func(ctx context.Context, d time.Duration) error

	sem   *semaphore.Weighted
	state atomic.Int32
}

// NewPipeline returns a pipeline appending into log.
func NewPipeline(source StreamSource, log *Log, opts PipelineOptions) *Pipeline {
	p := &Pipeline{
		source:     source,
		log:        log,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		logger:     opts.Logger,
		recorder:   opts.Recorder,
		sleep:      opts.Sleep,
		sem:        semaphore.NewWeighted(1),
	}
	if p.maxRetries < 0 {
		p.maxRetries = 0
	}
	if p.baseDelay <= 0 {
		p.baseDelay = time.Second
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.recorder == nil {
		p.recorder = nopRecorder{}
	}
	if p.sleep == nil {
		p.sleep = sleepContext
	}
	return p
}

// State returns the current pipeline state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

func (p *Pipeline) setState(s State) { p.state.Store(int32(s)) }

// Ingest streams one response for prompt and applies it to the log. A call made
// while another is running fails with ErrBusy without waiting. Failed attempts
// leave the log untouched; after the last retry ErrGenerationFailed is returned.
func (p *Pipeline) Ingest(ctx context.Context, prompt string) (Batch, error) {
	if !p.sem.TryAcquire(1) {
		return Batch{}, ErrBusy
	}
	defer p.sem.Release(1)
	defer p.setState(StateIdle)

	attempts := p.maxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			p.setState(StateRetrying)
			delay := time.Duration(attempt) * p.baseDelay
			p.logger.Info("ingest_retry_scheduled", zap.Int("attempt", attempt+1), zap.Duration("delay", delay))
			if err := p.sleep(ctx, delay); err != nil {
				return Batch{}, fmt.Errorf("Ingest: %w", err)
			}
		}

		start := time.Now()
		batch, err := p.attempt(ctx, prompt)
		if err == nil {
			batch.Attempts = attempt + 1
			p.recorder.ObserveAttempt("success", time.Since(start))
			p.logger.Info("ingest_succeeded", zap.Int("attempt", attempt+1), zap.Int("items", len(batch.Items)))
			return batch, nil
		}

		lastErr = err
		p.recorder.ObserveAttempt("failure", time.Since(start))
		p.logger.Warn("ingest_attempt_failed", zap.Int("attempt", attempt+1), zap.Error(err))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Batch{}, fmt.Errorf("Ingest: %w", ctxErr)
		}
	}
	return Batch{}, fmt.Errorf("Ingest: %w after %d attempts: %w", ErrGenerationFailed, attempts, lastErr)
}

func (p *Pipeline) attempt(ctx context.Context, prompt string) (Batch, error) {
	p.setState(StateGenerating)
	text, err := p.drain(ctx, prompt)
	if err != nil {
		return Batch{}, fmt.Errorf("stream: %w", err)
	}
	text = collapseEcho(text)
	if len(nonBlankLines(text)) == 0 {
		return Batch{}, errEmptyGeneration
	}

	p.setState(StateApplying)
	batch := p.apply(text)
	if len(batch.Items) == 0 {
		return Batch{}, errNoEntries
	}
	return batch, nil
}

func (p *Pipeline) drain(ctx context.Context, prompt string) (string, error) {
	var b strings.Builder
	for chunk, err := range p.source.Stream(ctx, prompt) {
		if err != nil {
			return "", err
		}
		b.WriteString(chunk)
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

func (p *Pipeline) apply(text string) Batch {
	codec := p.log.Codec()
	var batch Batch
	for _, line := range strings.Split(text, "\n") {
		d, ok := codec.DecodeLine(line)
		if !ok {
			if strings.TrimSpace(line) != "" {
				p.logger.Debug("line_skipped", zap.String("line", line))
			}
			continue
		}

		if d.Recall != nil {
			m, _ := p.log.ApplyRecall(*d.Recall)
			p.recorder.ObserveRecall(m != nil)
			if m == nil {
				p.logger.Warn("recall_unresolved",
					zap.String("sender", d.Recall.Sender),
					zap.String("target_text", d.Recall.TargetText),
				)
				continue
			}
			cmd := *d.Recall
			batch.Items = append(batch.Items, Item{Entry: m, Retraction: &cmd})
			continue
		}

		appended := p.log.Append(d.Entry)
		p.recorder.ObserveEntry(entryKind(d.Entry), appended)
		batch.Items = append(batch.Items, Item{Entry: d.Entry, Appended: appended})
	}
	return batch
}

// entryKind is a short label for logs and metrics.
func entryKind(e Entry) string {
	switch e := e.(type) {
	case *ChatMessage:
		return string(e.Kind())
	case *SystemEntry:
		return string(e.Kind)
	case *SocialEntry:
		return string(e.Key)
	}
	return "unknown"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
