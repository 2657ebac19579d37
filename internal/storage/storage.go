package storage

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by Retrieve when the object does not exist
var ErrNotFound = errors.New("object not found")

// StorageInterface defines the contract for storage operations
type StorageInterface interface {
	Store(ctx context.Context, name string, data []byte) error
	Retrieve(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// New picks Azure Blob Storage when an account is configured and falls back
// to the local directory otherwise.
func New(account, container, localDir string) (StorageInterface, error) {
	if account != "" {
		return NewAzureStorage(account, container)
	}

	logrus.Infof("AZURE_STORAGE_ACCOUNT not set, using local storage at %s", localDir)
	return NewFileStorage(localDir)
}
