package auth

import (
	"os"
	"strings"
	"time"
)

// EnvironmentStore implements CredentialStore using XDIGEST_<SERVICE>_TOKEN variables.
// It is read-only.
type EnvironmentStore struct{}

func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// EnvVar returns the variable holding the token for service
func EnvVar(service string) string {
	return "XDIGEST_" + strings.ToUpper(service) + "_TOKEN"
}

func (e *EnvironmentStore) Store(secret *Secret) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Retrieve(service string) (*Secret, error) {
	if service == "" {
		return nil, ErrInvalidCredentials
	}

	token := os.Getenv(EnvVar(service))
	if token == "" {
		return nil, ErrCredentialsNotFound
	}

	return &Secret{
		Service:      service,
		Token:        token,
		LastModified: time.Time{},
	}, nil
}

func (e *EnvironmentStore) List() ([]*Secret, error) {
	var secrets []*Secret
	for _, service := range KnownServices {
		if secret, err := e.Retrieve(service); err == nil {
			secrets = append(secrets, secret)
		}
	}
	return secrets, nil
}

func (e *EnvironmentStore) Delete(service string) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Exists(service string) bool {
	return service != "" && os.Getenv(EnvVar(service)) != ""
}
