package cache

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forgechat/internal/domain"
	"forgechat/internal/usecase/stream"
)

func openTestStore(t *testing.T, max int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"), max)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func session(text string) stream.CachedSession {
	return stream.CachedSession{
		Messages: []domain.Message{{
			ID:   "m1",
			Role: domain.RoleUser,
			Parts: []domain.Part{{
				ID: "p1", Type: domain.PartText, Text: text,
			}},
		}},
		Counter: 7,
		Model:   "opus",
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	s := openTestStore(t, 10)

	require.NoError(t, s.Save("ses_1", session("hello")))
	got, found, err := s.Load("ses_1")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].TextContent())
	assert.EqualValues(t, 7, got.Counter)
	assert.Equal(t, "opus", got.Model)
}

func TestLoadMissing(t *testing.T) {
	s := openTestStore(t, 10)
	_, found, err := s.Load("nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSaveOverwrites(t *testing.T) {
	s := openTestStore(t, 10)
	require.NoError(t, s.Save("ses_1", session("v1")))
	require.NoError(t, s.Save("ses_1", session("v2")))
	got, found, err := s.Load("ses_1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v2", got.Messages[0].TextContent())
}

func TestEvictionKeepsMostRecentlyWritten(t *testing.T) {
	s := openTestStore(t, 3)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Save(fmt.Sprintf("ses_%d", i), session("x")))
		// written_at has nanosecond precision; keep writes ordered.
		time.Sleep(2 * time.Millisecond)
	}
	for i := 0; i < 2; i++ {
		_, found, err := s.Load(fmt.Sprintf("ses_%d", i))
		require.NoError(t, err)
		assert.False(t, found, "ses_%d should have been evicted", i)
	}
	for i := 2; i < 5; i++ {
		_, found, err := s.Load(fmt.Sprintf("ses_%d", i))
		require.NoError(t, err)
		assert.True(t, found, "ses_%d should have survived", i)
	}
}

func TestMigrateRenames(t *testing.T) {
	s := openTestStore(t, 10)
	require.NoError(t, s.Save("ses_prov", session("draft")))
	require.NoError(t, s.Migrate("ses_prov", "ses_real"))

	_, found, err := s.Load("ses_prov")
	require.NoError(t, err)
	assert.False(t, found)

	got, found, err := s.Load("ses_real")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "draft", got.Messages[0].TextContent())
}

func TestMigratePrefersExistingDestination(t *testing.T) {
	s := openTestStore(t, 10)
	require.NoError(t, s.Save("ses_prov", session("provisional")))
	require.NoError(t, s.Save("ses_real", session("canonical")))
	require.NoError(t, s.Migrate("ses_prov", "ses_real"))

	got, found, err := s.Load("ses_real")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "canonical", got.Messages[0].TextContent())

	_, found, err = s.Load("ses_prov")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestKeySanitizesHostileIDs(t *testing.T) {
	s := openTestStore(t, 10)
	id := `ses/"1"; DROP TABLE sessions;`
	require.NoError(t, s.Save(id, session("safe")))
	_, found, err := s.Load(id)
	require.NoError(t, err)
	assert.True(t, found)
	assert.NotContains(t, Key(id), ";")
}
