package observability

import (
	"bytes"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/theimaginaryfoundation/chatlog/transcript"
)

var _ transcript.Recorder = (*Metrics)(nil)

func TestMetrics_Counts(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.ObserveAttempt("failure", time.Second)
	m.ObserveAttempt("success", 2*time.Second)
	m.ObserveAttempt("success", time.Second)
	m.ObserveEntry("text", true)
	m.ObserveEntry("text", false)
	m.ObserveRecall(false)

	require.Equal(t, 2.0, testutil.ToFloat64(m.attempts.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.entries.WithLabelValues("text", "false")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.recalls.WithLabelValues("false")))

	var buf bytes.Buffer
	require.NoError(t, m.WriteText(&buf))
	require.Contains(t, buf.String(), `transcript_ingest_attempts_total{outcome="success"} 2`)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObserveAttempt("success", time.Second)
	m.ObserveEntry("text", true)
	m.ObserveRecall(true)
	require.NoError(t, m.WriteText(&bytes.Buffer{}))
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	l, err := NewLogger("debug", true)
	require.NoError(t, err)
	require.True(t, l.Core().Enabled(-1))

	_, err = NewLogger("loud", false)
	require.Error(t, err)
}
