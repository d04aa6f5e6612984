package logging

import (
	"fmt"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestPublishKeepsBoundedHistory(t *testing.T) {
	s := NewLogStream()
	for i := 0; i < streamHistoryCap+25; i++ {
		s.Publish("info", fmt.Sprintf("line %d", i), nil)
	}

	hist := s.History()
	require.Len(t, hist, streamHistoryCap)
	require.Equal(t, "line 25", hist[0].Message)
	require.Equal(t, uint64(26), hist[0].ID)
}

func TestStreamHookForwardsFields(t *testing.T) {
	s := NewLogStream()
	hook := &StreamHook{stream: s}

	entry := &log.Entry{
		Logger:  log.StandardLogger(),
		Data:    log.Fields{"credential_id": int64(7), "model": "gemini-2.5-pro"},
		Level:   log.WarnLevel,
		Message: "cooldown applied",
	}
	require.NoError(t, hook.Fire(entry))

	hist := s.History()
	require.Len(t, hist, 1)
	require.Equal(t, "warning", hist[0].Level)
	require.Equal(t, "gemini-2.5-pro", hist[0].Fields["model"])
}

func TestVerdictLabel(t *testing.T) {
	require.Equal(t, "network_error", VerdictLabel(0, true))
	require.Equal(t, "upstream_429", VerdictLabel(429, false))
	require.Equal(t, "upstream_401", VerdictLabel(401, false))
	require.Equal(t, "upstream_5xx", VerdictLabel(503, false))
	require.Equal(t, "upstream_4xx", VerdictLabel(404, false))
	require.Equal(t, "ok", VerdictLabel(200, false))
}
