package auth

import "sync"

// MockStore implements CredentialStore in memory for tests
type MockStore struct {
	secrets map[string]*Secret
	mu      sync.RWMutex

	StoreError    error
	RetrieveError error
	ListError     error
	DeleteError   error
}

func NewMockStore() *MockStore {
	return &MockStore{secrets: make(map[string]*Secret)}
}

func (m *MockStore) Store(secret *Secret) error {
	if m.StoreError != nil {
		return m.StoreError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if secret == nil || secret.Service == "" {
		return ErrInvalidCredentials
	}

	c := *secret
	m.secrets[secret.Service] = &c
	return nil
}

func (m *MockStore) Retrieve(service string) (*Secret, error) {
	if m.RetrieveError != nil {
		return nil, m.RetrieveError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if service == "" {
		return nil, ErrInvalidCredentials
	}
	secret, ok := m.secrets[service]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	c := *secret
	return &c, nil
}

func (m *MockStore) List() ([]*Secret, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	secrets := make([]*Secret, 0, len(m.secrets))
	for _, secret := range m.secrets {
		c := *secret
		secrets = append(secrets, &c)
	}
	return secrets, nil
}

func (m *MockStore) Delete(service string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if service == "" {
		return ErrInvalidCredentials
	}
	if _, ok := m.secrets[service]; !ok {
		return ErrCredentialsNotFound
	}
	delete(m.secrets, service)
	return nil
}

func (m *MockStore) Exists(service string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.secrets[service]
	return ok
}

// Count returns the number of stored secrets
func (m *MockStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.secrets)
}

// NewMockManager creates a Manager backed by a single MockStore
func NewMockManager() (*Manager, *MockStore) {
	mockStore := NewMockStore()
	return NewManagerWithStores(mockStore), mockStore
}
