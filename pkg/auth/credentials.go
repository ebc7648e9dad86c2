package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

// Services that hold a token
const (
	ServiceApify    = "apify"
	ServiceDiscord  = "discord"
	ServiceTelegram = "telegram"
)

// KnownServices lists every service a token can be stored for
var KnownServices = []string{ServiceApify, ServiceDiscord, ServiceTelegram}

// Secret is an API token for one external service
type Secret struct {
	Service      string    `json:"service"`
	Token        string    `json:"token"`
	LastModified time.Time `json:"last_modified"`
}

// CredentialStore is the interface for storing and retrieving secrets
type CredentialStore interface {
	// Store saves the secret for its service
	Store(secret *Secret) error

	// Retrieve gets the secret for a service
	Retrieve(service string) (*Secret, error)

	// List returns all stored secrets
	List() ([]*Secret, error)

	// Delete removes the secret for a service
	Delete(service string) error

	// Exists checks if a secret exists for a service
	Exists(service string) bool
}

// Manager handles secret storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a manager over keyring, encrypted file and environment
// stores, in that order. An empty configDir uses the platform default.
func NewManager(configDir string) (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	if configDir == "" {
		dir, err := getConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config directory: %w", err)
		}
		configDir = dir
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a Manager over the given stores
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// ValidService reports whether service is one of KnownServices
func ValidService(service string) bool {
	for _, s := range KnownServices {
		if s == service {
			return true
		}
	}
	return false
}

// Store saves the secret in the first store that accepts it
func (m *Manager) Store(secret *Secret) error {
	if secret == nil || !ValidService(secret.Service) {
		return fmt.Errorf("%w: unknown service", ErrInvalidCredentials)
	}
	secret.Token = strings.TrimSpace(secret.Token)
	if secret.Token == "" {
		return errors.New("token is required")
	}

	secret.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(secret)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return errors.New("no available credential stores")
}

// Retrieve gets the secret from the first store that has it
func (m *Manager) Retrieve(service string) (*Secret, error) {
	for _, store := range m.stores {
		if secret, err := store.Retrieve(service); err == nil && secret != nil {
			return secret, nil
		}
	}
	return nil, fmt.Errorf("%w for service: %s", ErrCredentialsNotFound, service)
}

// Token returns the stored token for service, or "" when none is stored
func (m *Manager) Token(service string) string {
	secret, err := m.Retrieve(service)
	if err != nil {
		return ""
	}
	return secret.Token
}

// List returns the newest secret per service across all stores, sorted by service
func (m *Manager) List() ([]*Secret, error) {
	byService := make(map[string]*Secret)

	for _, store := range m.stores {
		secrets, err := store.List()
		if err != nil {
			continue
		}
		for _, secret := range secrets {
			if existing, ok := byService[secret.Service]; !ok || secret.LastModified.After(existing.LastModified) {
				byService[secret.Service] = secret
			}
		}
	}

	result := make([]*Secret, 0, len(byService))
	for _, secret := range byService {
		result = append(result, secret)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Service < result[j].Service })

	return result, nil
}

// Delete removes the secret from every store that has it
func (m *Manager) Delete(service string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(service); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil && !errors.Is(lastErr, ErrCredentialsNotFound) && !errors.Is(lastErr, ErrStoreUnavailable) {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w for service: %s", ErrCredentialsNotFound, service)
	}

	return nil
}

// getConfigDir returns the configuration directory path
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "xdigest")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "xdigest")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "xdigest")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "xdigest")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// SanitizeSecret returns a copy of secret with the token masked
func SanitizeSecret(secret *Secret) *Secret {
	if secret == nil {
		return nil
	}

	return &Secret{
		Service:      secret.Service,
		Token:        MaskToken(secret.Token),
		LastModified: secret.LastModified,
	}
}

// MaskToken masks all but the first 4 and last 4 characters of a token
func MaskToken(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
