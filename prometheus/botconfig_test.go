package prometheus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBotConfigStoreStartsEmpty(t *testing.T) {
	t.Parallel()
	store, err := newBotConfigStore(
		filepath.Join(t.TempDir(), botConfigFile), newTestLogger(t),
	)
	require.NoError(t, err)
	settings := store.Get()
	assert.Empty(t, settings.Channels.Welcome)
	assert.Nil(t, settings.RateLimit)
}

func TestBotConfigStoreUpdatePersists(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), botConfigFile)
	store, err := newBotConfigStore(path, newTestLogger(t))
	require.NoError(t, err)

	require.NoError(
		t, store.Update(
			func(s *BotSettings) {
				s.Channels.Welcome = "chan-1"
				s.Webhooks.Welcome.ID = "hook-1"
				s.Webhooks.Welcome.Token = "hook-token"
				s.Access.RoleID = "role-1"
			},
		),
	)

	reloaded, err := newBotConfigStore(path, newTestLogger(t))
	require.NoError(t, err)
	settings := reloaded.Get()
	assert.Equal(t, "chan-1", settings.Channels.Welcome)
	assert.Equal(t, "hook-1", settings.Webhooks.Welcome.ID)
	assert.Equal(t, "hook-token", settings.Webhooks.Welcome.Token)
	assert.Equal(t, "role-1", settings.Access.RoleID)
}

func TestBotConfigStoreReadsExistingFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), botConfigFile)
	require.NoError(
		t, os.WriteFile(
			path, []byte(`{
  "bot": {"name": "Prometheus"},
  "rateLimit": {"window": 30000, "max": 4},
  "channels": {"commsStatus": "status-chan"}
}`), 0o644,
		),
	)

	store, err := newBotConfigStore(path, newTestLogger(t))
	require.NoError(t, err)
	settings := store.Get()
	assert.Equal(t, "Prometheus", settings.Bot.Name)
	require.NotNil(t, settings.RateLimit)
	assert.Equal(t, int64(30000), settings.RateLimit.WindowMillis)
	assert.Equal(t, 4, settings.RateLimit.Max)
	assert.Equal(t, "status-chan", settings.Channels.CommsStatus)
}

func TestBotConfigStoreRejectsMalformedFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), botConfigFile)
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))
	_, err := newBotConfigStore(path, newTestLogger(t))
	require.Error(t, err)
}
