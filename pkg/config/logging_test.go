package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{" warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tc := range cases {
		got, err := ParseLogLevel(tc.in)
		require.NoError(t, err, "level %q", tc.in)
		assert.Equal(t, tc.want, got, "level %q", tc.in)
	}
}

func TestParseLogLevel_Unknown(t *testing.T) {
	_, err := ParseLogLevel("verbose")
	assert.Error(t, err)
}
