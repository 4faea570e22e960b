package utils

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{-time.Second, "0s"},
		{42 * time.Second, "42s"},
		{5*time.Minute + 3*time.Second, "5m 3s"},
		{2*time.Hour + 7*time.Minute + 9*time.Second, "2h 7m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in), tt.in.String())
	}
}

func TestUptime(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "-", Uptime(time.Time{}, now))
	assert.Equal(t, "1m 30s", Uptime(now.Add(-90*time.Second), now))
}

func TestKeyValuesFlag(t *testing.T) {
	vars := KeyValues{}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Var(vars, "var", "")

	require.NoError(t, fs.Parse([]string{"-var", "user=ada", "-var", "query=a=b", "-var", "empty="}))
	assert.Equal(t, KeyValues{"user": "ada", "query": "a=b", "empty": ""}, vars)
	assert.Equal(t, "empty=,query=a=b,user=ada", vars.String())

	assert.Error(t, vars.Set("novalue"))
	assert.Error(t, vars.Set("=x"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcd…", Truncate("abcdefgh", 5))
	assert.Equal(t, "…", Truncate("abc", 1))
	assert.Equal(t, "abc", Truncate("abc", 0))
}
