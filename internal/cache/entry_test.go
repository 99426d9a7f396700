package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeRoundTrip(t *testing.T) {
	entry := &Entry{
		Stdout:     []byte("line one\nline two\n"),
		Stderr:     []byte("\x00binary\xfe\xff"),
		ExitCode:   -1,
		CapturedAt: time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
	}

	decoded, err := Deserialize(Serialize(entry))
	require.NoError(t, err)

	assert.Equal(t, entry.Stdout, decoded.Stdout)
	assert.Equal(t, entry.Stderr, decoded.Stderr)
	assert.Equal(t, entry.ExitCode, decoded.ExitCode)
	assert.True(t, entry.CapturedAt.Equal(decoded.CapturedAt))

	t.Run("EmptyStreams", func(t *testing.T) {
		decoded, err := Deserialize(Serialize(&Entry{CapturedAt: entry.CapturedAt}))
		require.NoError(t, err)
		assert.Empty(t, decoded.Stdout)
		assert.Empty(t, decoded.Stderr)
		assert.Equal(t, 0, decoded.ExitCode)
	})
}

func TestDeserializeRejectsMalformed(t *testing.T) {
	valid := Serialize(&Entry{
		Stdout:     []byte("out"),
		Stderr:     []byte("err"),
		ExitCode:   1,
		CapturedAt: time.Now(),
	})

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "wrong prefix", data: append([]byte("---HTTP-RESPONSE---\n"), valid[len(PREFIX):]...)},
		{name: "prefix only", data: []byte(PREFIX)},
		{name: "unknown version", data: append([]byte(PREFIX), 99)},
		{name: "trailing bytes", data: append(append([]byte(nil), valid...), 'x')},
	}
	for cut := len(PREFIX) + 1; cut < len(valid); cut++ {
		tests = append(tests, struct {
			name string
			data []byte
		}{name: "truncated", data: valid[:cut]})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Deserialize(tt.data)
			assert.ErrorIs(t, err, ErrMalformedEntry)
		})
	}
}

func TestEntryAge(t *testing.T) {
	now := time.Now()
	entry := &Entry{CapturedAt: now.Add(-90 * time.Second)}
	assert.Equal(t, 90*time.Second, entry.Age(now))
}
