package toolapi

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeOutput_StripsAnsiAndControlChars(t *testing.T) {
	in := "\x1b[31mred text\x1b[0m\x07\x01done"
	out := SanitizeOutput(in)
	require.Equal(t, "red textdone", out)
}

func TestSanitizeOutput_RedactsSecrets(t *testing.T) {
	secret := "sk-ant-" + strings.Repeat("a", 24)
	in := "key=" + secret
	out := SanitizeOutput(in)
	require.Contains(t, out, redactedPlaceholder)
	require.NotContains(t, out, secret)
}

func TestSanitizeOutput_Idempotent(t *testing.T) {
	in := "\x1b[31mred\x1b[0m sk-ant-REDACTED"
	once := SanitizeOutput(in)
	twice := SanitizeOutput(once)
	require.Equal(t, once, twice)
}

func TestTruncateWithMarker(t *testing.T) {
	long := "0123456789"
	out := TruncateWithMarker(long, 4)
	require.Contains(t, out, "[output truncated]")
	require.True(t, len(out) < len(long)+30)
}

func TestTruncateWithMarker_ZeroCapacity(t *testing.T) {
	out := TruncateWithMarker("anything", 0)
	require.Equal(t, "[output truncated: capacity exhausted]", out)
}
