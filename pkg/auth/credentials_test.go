package auth

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerStoreRetrieveDelete(t *testing.T) {
	manager, mockStore := NewMockManager()

	err := manager.Store(&Secret{Service: ServiceApify, Token: "  apify_api_1234567890  "})
	require.NoError(t, err)

	secret, err := manager.Retrieve(ServiceApify)
	require.NoError(t, err)
	assert.Equal(t, "apify_api_1234567890", secret.Token)
	assert.False(t, secret.LastModified.IsZero())
	assert.Equal(t, "apify_api_1234567890", manager.Token(ServiceApify))
	assert.Empty(t, manager.Token(ServiceDiscord))

	secrets, err := manager.List()
	require.NoError(t, err)
	require.Len(t, secrets, 1)

	require.NoError(t, manager.Delete(ServiceApify))
	assert.Equal(t, 0, mockStore.Count())

	_, err = manager.Retrieve(ServiceApify)
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	assert.ErrorIs(t, manager.Delete(ServiceApify), ErrCredentialsNotFound)
}

func TestManagerRejectsInvalidSecrets(t *testing.T) {
	manager, mockStore := NewMockManager()

	assert.ErrorIs(t, manager.Store(&Secret{Service: "mastodon", Token: "x"}), ErrInvalidCredentials)
	assert.Error(t, manager.Store(&Secret{Service: ServiceTelegram, Token: "   "}))
	assert.ErrorIs(t, manager.Store(nil), ErrInvalidCredentials)
	assert.Equal(t, 0, mockStore.Count())
}

func TestManagerFallsBackToNextStore(t *testing.T) {
	failing := NewMockStore()
	failing.StoreError = errors.New("keychain locked")
	backup := NewMockStore()

	manager := NewManagerWithStores(failing, backup)
	require.NoError(t, manager.Store(&Secret{Service: ServiceDiscord, Token: "discord-bot-token"}))

	assert.Equal(t, 0, failing.Count())
	assert.True(t, backup.Exists(ServiceDiscord))

	backup.StoreError = errors.New("disk full")
	err := manager.Store(&Secret{Service: ServiceDiscord, Token: "other"})
	assert.ErrorContains(t, err, "disk full")
}

func TestManagerListPrefersStoredOverEnvironment(t *testing.T) {
	t.Setenv(EnvVar(ServiceApify), "env-token-value")
	t.Setenv(EnvVar(ServiceTelegram), "env-telegram-token")

	mockStore := NewMockStore()
	manager := NewManagerWithStores(mockStore, NewEnvironmentStore())
	require.NoError(t, manager.Store(&Secret{Service: ServiceApify, Token: "stored-token-value"}))

	secrets, err := manager.List()
	require.NoError(t, err)
	require.Len(t, secrets, 2)
	assert.Equal(t, ServiceApify, secrets[0].Service)
	assert.Equal(t, "stored-token-value", secrets[0].Token)
	assert.Equal(t, ServiceTelegram, secrets[1].Service)

	assert.Equal(t, "stored-token-value", manager.Token(ServiceApify))
}

func TestSanitizeSecret(t *testing.T) {
	s := SanitizeSecret(&Secret{Service: ServiceApify, Token: "apify_api_abcdefghijkl"})
	assert.Equal(t, "apif...ijkl", s.Token)
	assert.Equal(t, ServiceApify, s.Service)

	assert.Equal(t, "********", MaskToken("short"))
	assert.Nil(t, SanitizeSecret(nil))
}

func TestEncryptedFileStore(t *testing.T) {
	t.Setenv(PassphraseEnv, "test_passphrase_123")
	path := filepath.Join(t.TempDir(), "credentials.enc")

	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Store(&Secret{Service: ServiceApify, Token: "apify_plaintext_token"}))
	require.NoError(t, store.Store(&Secret{Service: ServiceTelegram, Token: "telegram_plaintext_token"}))

	got, err := store.Retrieve(ServiceApify)
	require.NoError(t, err)
	assert.Equal(t, "apify_plaintext_token", got.Token)
	assert.True(t, store.Exists(ServiceTelegram))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(content, []byte("apify_plaintext_token")))
	assert.False(t, bytes.Contains(content, []byte("telegram_plaintext_token")))

	// a second store with the same passphrase decrypts the file
	reopened, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	secrets, err := reopened.List()
	require.NoError(t, err)
	assert.Len(t, secrets, 2)

	require.NoError(t, store.Delete(ServiceApify))
	require.NoError(t, store.Delete(ServiceTelegram))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "file is removed with its last secret")
	assert.ErrorIs(t, store.Delete(ServiceApify), ErrCredentialsNotFound)
}

func TestEncryptedFileStoreWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")

	t.Setenv(PassphraseEnv, "first")
	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Store(&Secret{Service: ServiceDiscord, Token: "token"}))

	t.Setenv(PassphraseEnv, "second")
	other, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	_, err = other.Retrieve(ServiceDiscord)
	assert.ErrorContains(t, err, "failed to decrypt")
}

func TestEncryptedFileStoreGeneratesPassphrase(t *testing.T) {
	t.Setenv(PassphraseEnv, "")
	dir := t.TempDir()

	store, err := NewEncryptedFileStore(filepath.Join(dir, "credentials.enc"))
	require.NoError(t, err)
	require.NoError(t, store.Store(&Secret{Service: ServiceApify, Token: "abc"}))

	info, err := os.Stat(filepath.Join(dir, ".passphrase"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reopened, err := NewEncryptedFileStore(filepath.Join(dir, "credentials.enc"))
	require.NoError(t, err)
	got, err := reopened.Retrieve(ServiceApify)
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Token)
}

func TestEnvironmentStore(t *testing.T) {
	t.Setenv(EnvVar(ServiceDiscord), "env_discord")
	store := NewEnvironmentStore()

	secret, err := store.Retrieve(ServiceDiscord)
	require.NoError(t, err)
	assert.Equal(t, "env_discord", secret.Token)
	assert.Equal(t, "XDIGEST_DISCORD_TOKEN", EnvVar(ServiceDiscord))

	_, err = store.Retrieve(ServiceTelegram)
	assert.ErrorIs(t, err, ErrCredentialsNotFound)

	assert.ErrorIs(t, store.Store(&Secret{}), ErrStoreUnavailable)
	assert.ErrorIs(t, store.Delete(ServiceDiscord), ErrStoreUnavailable)
	assert.True(t, store.Exists(ServiceDiscord))
}

func TestMockStoreErrorInjection(t *testing.T) {
	store := NewMockStore()
	store.ListError = errors.New("injected error")

	_, err := store.List()
	assert.EqualError(t, err, "injected error")
}

func TestTokenGuide(t *testing.T) {
	for _, s := range KnownServices {
		assert.NotContains(t, TokenGuide(s), "unknown service")
	}
	assert.Contains(t, TokenGuide("myspace"), "unknown service")
}
