package secretstore

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RoundTrip(t *testing.T) {
	s, err := Open(OpenOptions{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.GetString("env/BINANCE_API_KEY")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetString("env/BINANCE_API_KEY", "abc"))
	require.NoError(t, s.SetString("env/EMPTY", ""))
	require.NoError(t, s.SetString("other/X", "1"))

	v, ok, err := s.GetString(" env/BINANCE_API_KEY ")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	v, ok, err = s.GetString("env/EMPTY")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, v)

	keys, err := s.Keys("env/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"env/BINANCE_API_KEY", "env/EMPTY"}, keys)
}

func TestStore_Encrypted(t *testing.T) {
	key, err := ParseKey(strings.Repeat("ab", 32))
	require.NoError(t, err)

	dir := t.TempDir()
	s, err := Open(OpenOptions{Path: dir, EncryptionKey: key})
	require.NoError(t, err)
	require.NoError(t, s.SetString("env/TELEGRAM_BOT_TOKEN", "123:abc"))
	require.NoError(t, s.Close())

	s, err = Open(OpenOptions{Path: dir, EncryptionKey: key})
	require.NoError(t, err)
	defer s.Close()
	v, ok, err := s.GetString("env/TELEGRAM_BOT_TOKEN")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "123:abc", v)
}

func TestStore_Errors(t *testing.T) {
	_, err := Open(OpenOptions{})
	assert.Error(t, err)

	var s *Store
	_, _, err = s.GetString("x")
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.NoError(t, s.Close())

	s, err = Open(OpenOptions{InMemory: true})
	require.NoError(t, err)
	defer s.Close()
	assert.Error(t, s.SetString("  ", "v"))
}

func TestParseKey(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}

	k, err := ParseKey(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, k)

	k, err = ParseKey("0x" + strings.Repeat("0f", 32))
	require.NoError(t, err)
	assert.Len(t, k, 32)

	k, err = ParseKey("")
	require.NoError(t, err)
	assert.Nil(t, k)

	_, err = ParseKey("abcd")
	assert.Error(t, err)
	_, err = ParseKey("not-a-key!")
	assert.Error(t, err)
}
