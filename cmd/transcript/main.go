package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/chatlog/transcript"
	"github.com/theimaginaryfoundation/chatlog/transcript/events"
	"github.com/theimaginaryfoundation/chatlog/transcript/fileutils"
	"github.com/theimaginaryfoundation/chatlog/transcript/observability"
	"github.com/theimaginaryfoundation/chatlog/transcript/provider"
	"github.com/theimaginaryfoundation/chatlog/transcript/slots"
)

func main() {
	_ = godotenv.Load(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout, os.Stderr).rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	flags      Config
	cfg        Config
	logger     *zap.Logger

	getenv    func(string) string
	newSource func(ctx context.Context, cfg Config) (transcript.StreamSource, error)
	sleep     func(ctx context.Context, d time.Duration) error
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:    stdout,
		stderr:    stderr,
		flags:     defaultConfig(),
		logger:    zap.NewNop(),
		getenv:    os.Getenv,
		newSource: newSource,
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "transcript",
		Short:         "Maintain a roleplay transcript stored inside host slots",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(a.configPath, a.flags, cmd.Flags().Changed, a.getenv)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogJSON)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "transcript.yaml", "YAML config file (ignored when missing)")
	pf.StringVar(&a.flags.Store, "store", a.flags.Store, "Slot backend: memory, dir, sqlite or pebble")
	pf.StringVar(&a.flags.Path, "path", a.flags.Path, "Slot directory, SQLite file or Pebble directory")
	pf.StringSliceVar(&a.flags.Slots, "slot", nil, "Slot ids to consolidate, most recent first (default: every slot)")
	pf.StringVar(&a.flags.LogLevel, "log-level", a.flags.LogLevel, "Log level: debug, info, warn or error")
	pf.BoolVar(&a.flags.LogJSON, "log-json", false, "Emit JSON logs")

	root.AddCommand(a.consolidateCmd(), a.showCmd(), a.ingestCmd(), a.recallCmd())
	return root
}

func (a *app) openSession() (*transcript.Session, slots.Store, error) {
	store, err := slots.Open(a.cfg.Store, a.cfg.Path)
	if err != nil {
		return nil, nil, err
	}
	return &transcript.Session{
		Store:   store,
		SlotIDs: a.cfg.Slots,
		Codec:   transcript.NewCodec(transcript.CodecOptions{}),
		Logger:  a.logger,
	}, store, nil
}

func (a *app) consolidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consolidate",
		Short: "Merge transcript blocks scattered across slots into the most recent one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, store, err := a.openSession()
			if err != nil {
				return err
			}
			defer store.Close()

			log, err := sess.Load(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "entries=%d primary=%s\n", log.Len(), sess.Primary())
			return nil
		},
	}
}

// showWidth caps the runes printed per entry by show.
const showWidth = 160

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the consolidated transcript without rewriting any slot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := slots.Open(a.cfg.Store, a.cfg.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			ids := a.cfg.Slots
			if len(ids) == 0 {
				if ids, err = store.ListSlots(ctx); err != nil {
					return err
				}
				ids = reversed(ids)
			}
			texts := make([]string, len(ids))
			for i, id := range ids {
				if texts[i], _, err = store.GetSlot(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "slot %s %s\n", id, humanize.Bytes(uint64(len(texts[i]))))
			}

			res, err := transcript.Consolidate(texts, transcript.NewCodec(transcript.CodecOptions{}), transcript.DefaultSentinels)
			if errors.Is(err, transcript.ErrNoLogBlock) {
				fmt.Fprintln(a.stdout, "no transcript")
				return nil
			}
			if err != nil {
				return err
			}
			log := res.Log
			for i, e := range log.Entries() {
				lines, err := log.Codec().EncodeEntry(e)
				if err != nil {
					return err
				}
				tag := ""
				if n, ok := log.PostIndex(i); ok {
					tag = fmt.Sprintf(" post#%d", n)
				}
				fmt.Fprintf(a.stdout, "%4d%s  %s\n", i, tag, fileutils.Truncate(strings.Join(lines, " | "), showWidth))
			}
			return nil
		},
	}
}

func (a *app) ingestCmd() *cobra.Command {
	var turn string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Send a user turn, ingest the streamed reply and persist it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(turn) == "" {
				return errors.New("missing --prompt")
			}
			return a.ingest(cmd.Context(), turn)
		},
	}
	f := cmd.Flags()
	f.StringVar(&turn, "prompt", "", "The user's message")
	f.StringVar(&a.flags.Provider, "provider", a.flags.Provider, "Stream source: openai or genai")
	f.StringVar(&a.flags.Model, "model", a.flags.Model, "Model name")
	f.StringVar(&a.flags.Persona, "persona", "", "Character description prepended to the protocol instructions")
	f.IntVar(&a.flags.Window, "window", a.flags.Window, "Number of recent entries sent as context (0 = all)")
	f.IntVar(&a.flags.MaxRetries, "max-retries", a.flags.MaxRetries, "Extra attempts after an empty or failed generation")
	f.DurationVar(&a.flags.BaseDelay, "base-delay", a.flags.BaseDelay, "Retry delay unit; retry n waits n times this")
	f.Float64Var(&a.flags.RatePerMinute, "rate-per-minute", 0, "Limit generations per minute (0 = unlimited)")
	f.BoolVar(&a.flags.Play, "play", false, "Reveal the reply with typing-speed pacing")
	f.StringVar(&a.flags.AMQPURL, "amqp-url", "", "Publish revealed entries to this AMQP broker")
	f.StringVar(&a.flags.Exchange, "exchange", a.flags.Exchange, "AMQP topic exchange")
	f.BoolVar(&a.flags.Metrics, "metrics", false, "Print ingestion metrics to stderr when done")
	f.StringVar(&a.flags.OpenAIKey, "api-key", "", "Provider API key (overrides OPENAI_API_KEY / GEMINI_API_KEY)")
	return cmd
}

func (a *app) ingest(ctx context.Context, turn string) error {
	sess, store, err := a.openSession()
	if err != nil {
		return err
	}
	defer store.Close()

	log, err := sess.Load(ctx)
	if err != nil {
		return err
	}
	prompt, err := provider.BuildPrompt(log, turn, a.cfg.Window)
	if err != nil {
		return err
	}
	log.Append(&transcript.ChatMessage{
		ID:      log.Codec().NewID(),
		Sender:  transcript.SenderMe,
		Payload: transcript.TextPayload{Text: turn},
	})
	if err := sess.Persist(ctx, log); err != nil {
		return err
	}

	src, err := a.newSource(ctx, a.cfg)
	if err != nil {
		return err
	}
	if a.cfg.RatePerMinute > 0 {
		src = provider.NewRateLimited(src, a.cfg.RatePerMinute, 1)
	}

	var metrics *observability.Metrics
	if a.cfg.Metrics {
		metrics = observability.NewMetrics()
		defer func() { _ = metrics.WriteText(a.stderr) }()
	}
	pipeline := transcript.NewPipeline(src, log, transcript.PipelineOptions{
		MaxRetries: a.cfg.MaxRetries,
		BaseDelay:  a.cfg.BaseDelay,
		Logger:     a.logger,
		Recorder:   metrics,
		Sleep:      a.sleep,
	})

	batch, err := pipeline.Ingest(ctx, prompt)
	if err != nil {
		return err
	}
	if err := sess.Persist(ctx, log); err != nil {
		return err
	}

	var publisher events.Publisher
	if a.cfg.AMQPURL != "" {
		publisher, err = events.Dial(a.cfg.AMQPURL, a.cfg.Exchange, a.logger)
		if err != nil {
			return err
		}
		defer publisher.Close()
	}

	pacing := transcript.DefaultPacing()
	if !a.cfg.Play {
		pacing = transcript.Pacing{}
	}
	correlationID := uuid.NewString()
	player := transcript.Player{Pacing: pacing, Sleep: a.sleep}
	return player.Play(ctx, transcript.Sequence(batch, log), func(pl transcript.Placement) error {
		if err := a.reveal(log.Codec(), pl); err != nil {
			return err
		}
		if publisher == nil {
			return nil
		}
		env, err := events.NewEnvelope(log.Codec(), pl, correlationID)
		if err != nil {
			return err
		}
		return publisher.Publish(ctx, env)
	})
}

func (a *app) reveal(codec *transcript.Codec, pl transcript.Placement) error {
	lines, err := codec.EncodeEntry(pl.Item.Entry)
	if err != nil {
		return err
	}
	pos := "new"
	if pl.Found {
		pos = fmt.Sprintf("%d", pl.Position)
	}
	if pl.Item.IsRetraction() {
		fmt.Fprintf(a.stdout, "[%s] retracted: %s\n", pos, lines[0])
		return nil
	}
	fmt.Fprintf(a.stdout, "[%s] %s\n", pos, lines[0])
	return nil
}

func (a *app) recallCmd() *cobra.Command {
	var sender, text string
	cmd := &cobra.Command{
		Use:   "recall",
		Short: "Retract a logged message by quoting it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(text) == "" {
				return errors.New("missing --text")
			}
			ctx := cmd.Context()
			sess, store, err := a.openSession()
			if err != nil {
				return err
			}
			defer store.Close()

			log, err := sess.Load(ctx)
			if err != nil {
				return err
			}
			m, i := log.ApplyRecall(transcript.RecallCommand{
				Sender:     strings.ToUpper(strings.TrimSpace(sender)),
				TargetText: text,
				Timestamp:  log.Codec().Now().UnixMilli(),
			})
			if m == nil {
				return fmt.Errorf("recall: no %s message matches %q", sender, fileutils.Truncate(text, 60))
			}
			if err := sess.Persist(ctx, log); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "recalled entry %d\n", i)
			return nil
		},
	}
	cmd.Flags().StringVar(&sender, "sender", "USER", "Whose message to retract: USER or CHAR")
	cmd.Flags().StringVar(&text, "text", "", "Text of the message to retract (fuzzy matched)")
	return cmd
}

func newSource(ctx context.Context, cfg Config) (transcript.StreamSource, error) {
	instructions := provider.ProtocolInstructions(cfg.Persona)
	switch cfg.Provider {
	case providerGenAI:
		if cfg.GeminiKey == "" {
			return nil, errors.New("missing GEMINI_API_KEY (or pass --api-key)")
		}
		client, err := provider.NewGenAIClient(ctx, cfg.GeminiKey)
		if err != nil {
			return nil, err
		}
		return provider.GenAISource{Client: client, Model: cfg.Model, Instructions: instructions}, nil
	default:
		if cfg.OpenAIKey == "" {
			return nil, errors.New("missing OPENAI_API_KEY (or pass --api-key)")
		}
		client := openai.NewClient(option.WithAPIKey(cfg.OpenAIKey))
		return provider.OpenAISource{Client: &client, Model: cfg.Model, Instructions: instructions}, nil
	}
}

func reversed(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[len(ids)-1-i] = id
	}
	return out
}
