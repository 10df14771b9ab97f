package chatsync

import (
	"fmt"

	"github.com/chatmesh/chatsync.go/pkg/models"
)

// ConflictError is returned when an update keeps losing the version-tag race
// after the automatic refetch-and-retry.
type ConflictError struct {
	Scope models.ScopeKey
	Ref   models.RecordRef
	// Attempts counts the uploads tried before giving up.
	Attempts int
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("update conflict in scope %s after %d attempts: %v", e.Scope, e.Attempts, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}
