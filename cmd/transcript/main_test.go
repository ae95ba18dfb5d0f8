package main

import (
	"bytes"
	"context"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/theimaginaryfoundation/chatlog/transcript"
	"github.com/theimaginaryfoundation/chatlog/transcript/slots"
)

func noEnv(string) string { return "" }

func TestResolveConfig_Layers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "transcript.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store: sqlite
path: data/slots.db
model: from-file
base_delay: 5s
max_retries: 4
`), 0o644))

	flags := defaultConfig()
	flags.Model = "from-flag"
	changed := func(name string) bool { return name == "model" }
	env := func(k string) string {
		if k == "OPENAI_API_KEY" {
			return "sk-test"
		}
		return ""
	}

	cfg, err := resolveConfig(path, flags, changed, env)
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Store)
	require.Equal(t, filepath.FromSlash("data/slots.db"), cfg.Path)
	require.Equal(t, "from-flag", cfg.Model)
	require.Equal(t, 5*time.Second, cfg.BaseDelay)
	require.Equal(t, 4, cfg.MaxRetries)
	require.Equal(t, "sk-test", cfg.OpenAIKey)
	require.NoError(t, cfg.Validate())
}

func TestResolveConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := resolveConfig(filepath.Join(t.TempDir(), "nope.yaml"), defaultConfig(), func(string) bool { return false }, noEnv)
	require.NoError(t, err)
	require.Equal(t, defaultConfig().Model, cfg.Model)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*Config){
		"store":    func(c *Config) { c.Store = "redis" },
		"path":     func(c *Config) { c.Path = "" },
		"provider": func(c *Config) { c.Provider = "llama" },
		"model":    func(c *Config) { c.Model = "" },
		"delay":    func(c *Config) { c.BaseDelay = 0 },
		"exchange": func(c *Config) { c.AMQPURL = "amqp://x"; c.Exchange = "" },
	}
	for name, mutate := range cases {
		cfg := defaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: Validate() = nil, want error", name)
		}
	}
}

func seedDir(t *testing.T, dir string, slotsByID map[string]string) {
	t.Helper()
	store, err := slots.NewDirStore(dir)
	require.NoError(t, err)
	for id, text := range slotsByID {
		require.NoError(t, store.SetSlot(context.Background(), id, text))
	}
}

func block(inner string) string {
	return transcript.DefaultSentinels.Begin + "\n" + inner + "\n" + transcript.DefaultSentinels.End
}

func run(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a.stdout = &out
	cmd := a.rootCmd()
	cmd.SetArgs(append([]string{"--config", ""}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func testApp() *app {
	a := newApp(&bytes.Buffer{}, &bytes.Buffer{})
	a.getenv = noEnv
	a.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return a
}

func TestCLI_ConsolidateAndShow(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	seedDir(t, dir, map[string]string{
		"001": "hello " + block("USER: hi"),
		"002": block("CHAR: [sticker: wave]\nCHAR_MOMENT: {\"text\":\"sunset\"}"),
	})

	out, err := run(t, testApp(), "show", "--store", "dir", "--path", dir)
	require.NoError(t, err)
	require.Contains(t, out, "   0  USER: hi\n")
	require.Contains(t, out, "   2 post#0  CHAR_MOMENT: {\"text\":\"sunset\"}\n")

	out, err = run(t, testApp(), "consolidate", "--store", "dir", "--path", dir)
	require.NoError(t, err)
	require.Equal(t, "entries=3 primary=002\n", out)

	b, err := os.ReadFile(filepath.Join(dir, "001.slot"))
	require.NoError(t, err)
	require.Equal(t, "hello ", string(b))
}

func TestCLI_Recall(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	seedDir(t, dir, map[string]string{"001": block("USER: Hello, world\nCHAR: hi")})

	out, err := run(t, testApp(), "recall", "--store", "dir", "--path", dir, "--text", "hello world!")
	require.NoError(t, err)
	require.Equal(t, "recalled entry 0\n", out)

	b, err := os.ReadFile(filepath.Join(dir, "001.slot"))
	require.NoError(t, err)
	require.Contains(t, string(b), `RECALL: {"sender":"USER","target_text":"Hello, world"`)

	_, err = run(t, testApp(), "recall", "--store", "dir", "--path", dir, "--text", "never said")
	require.Error(t, err)
}

func TestCLI_Ingest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	seedDir(t, dir, map[string]string{"001": block("USER: hi\nCHAR: hey")})

	a := testApp()
	var prompts []string
	a.newSource = func(ctx context.Context, cfg Config) (transcript.StreamSource, error) {
		return transcript.StreamFunc(func(ctx context.Context, prompt string) iter.Seq2[string, error] {
			prompts = append(prompts, prompt)
			return func(yield func(string, error) bool) {
				yield("CHAR: good to see you\nCHAR: [sticker: wave]", nil)
			}
		}), nil
	}

	out, err := run(t, a, "ingest", "--store", "dir", "--path", dir, "--prompt", "how are you?")
	require.NoError(t, err)
	require.Equal(t, "[3] CHAR: good to see you\n[4] CHAR: [sticker: wave]\n", out)
	require.Len(t, prompts, 1)
	require.True(t, strings.HasSuffix(prompts[0], "USER: how are you?\n"))

	b, err := os.ReadFile(filepath.Join(dir, "001.slot"))
	require.NoError(t, err)
	require.Equal(t, block("USER: hi\nCHAR: hey\nUSER: how are you?\nCHAR: good to see you\nCHAR: [sticker: wave]"), string(b))
}

func TestCLI_IngestFailureKeepsUserTurn(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := testApp()
	var calls int
	a.newSource = func(ctx context.Context, cfg Config) (transcript.StreamSource, error) {
		return transcript.StreamFunc(func(ctx context.Context, prompt string) iter.Seq2[string, error] {
			calls++
			return func(yield func(string, error) bool) { yield("   ", nil) }
		}), nil
	}

	_, err := run(t, a, "ingest", "--store", "dir", "--path", dir, "--prompt", "anyone?", "--max-retries", "0")
	require.ErrorIs(t, err, transcript.ErrGenerationFailed)
	require.Equal(t, 1, calls)

	b, err := os.ReadFile(filepath.Join(dir, transcript.DefaultSlotID+".slot"))
	require.NoError(t, err)
	require.Equal(t, block("USER: anyone?"), string(b))
}
