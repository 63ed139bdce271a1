package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(999), "UNKNOWN"},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, test.level.String())
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LevelDebug.SlogLevel())
	assert.Equal(t, slog.LevelInfo, LevelInfo.SlogLevel())
	assert.Equal(t, slog.LevelWarn, LevelWarn.SlogLevel())
	assert.Equal(t, slog.LevelError, LevelError.SlogLevel())
	assert.Equal(t, slog.LevelInfo, LogLevel(999).SlogLevel())
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]LogLevel{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"":        LevelInfo,
		"warning": LevelWarn,
		" error ": LevelError,
	} {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestInitForCLI_FiltersAndTags(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	Debug("Session", "hidden %d", 1)
	Info("Session", "Signed in to %s", "https://example.okta.com")
	Error("TokenStore", errors.New("disk full"), "Failed to save")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "Signed in to https://example.okta.com")
	assert.Contains(t, out, "subsystem=Session")
	assert.Contains(t, out, "subsystem=TokenStore")
	assert.Contains(t, out, `error="disk full"`)
}

func TestAudit(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	Audit("TokenStore", "credential_stored", slog.String("backend", "memory"))

	line := strings.TrimSpace(buf.String())
	assert.Contains(t, line, "SECURITY_AUDIT: credential_stored")
	assert.Contains(t, line, "event=credential_stored")
	assert.Contains(t, line, "backend=memory")
}

func TestLogger_CarriesSubsystem(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelDebug, &buf)

	Logger("OAuthClient").Debug("Cached OAuth metadata", "issuer", "https://example.okta.com")

	assert.Contains(t, buf.String(), "subsystem=OAuthClient")
	assert.Contains(t, buf.String(), "issuer=https://example.okta.com")
}
