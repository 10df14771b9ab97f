// Package transport defines the interface to the encrypting HTTP layer that
// stores and fetches messages, and an HTTP implementation of it. The cache
// treats the transport as an opaque collaborator; everything about wire
// encryption and federated storage lives behind this boundary.
package transport

import (
	"context"

	"github.com/gofrs/uuid"

	"github.com/chatmesh/chatsync.go/pkg/models"
)

// PageResult is one page of records, sorted descending by CreatedAt.
// NextCursor is nil when pagination is exhausted; that is the normal terminal
// signal, not an error.
type PageResult struct {
	Records    []*models.MessageRecord
	NextCursor []byte
}

// UploadResult is the server's answer to an upload.
//
// Federated delivery can partially fail per recipient. That is surfaced here
// as data, not as a transport error: the record exists on the server but must
// be shown as Failed so the user can retry.
type UploadResult struct {
	ServerID         uuid.UUID
	GlobalTransitID  uuid.UUID
	VersionTag       uuid.UUID
	FailedRecipients []string
}

// PartiallyFailed reports whether any recipient did not receive the message.
func (r *UploadResult) PartiallyFailed() bool {
	return len(r.FailedRecipients) > 0
}

// MessageTransport is the collaborator that moves message payloads to and
// from the federated store.
type MessageTransport interface {
	// FetchPage fetches one page for the scope. A nil cursor fetches the
	// newest page.
	FetchPage(ctx context.Context, scope models.ScopeKey, cursor []byte) (*PageResult, error)

	// FetchByUniqueID fetches a single record, or nil when it does not exist.
	FetchByUniqueID(ctx context.Context, scope models.ScopeKey, ref models.RecordRef) (*models.MessageRecord, error)

	// Upload persists an optimistic record and its payloads.
	Upload(ctx context.Context, scope models.ScopeKey, record *models.MessageRecord) (*UploadResult, error)

	// Delete removes a record from the server.
	Delete(ctx context.Context, scope models.ScopeKey, ref models.RecordRef) error

	// QueryCreatedSince returns records created at or after since
	// (unix milliseconds). Used only by backlog reconciliation.
	QueryCreatedSince(ctx context.Context, scope models.ScopeKey, since int64) ([]*models.MessageRecord, error)

	// QueryModifiedSince returns records updated at or after since
	// (unix milliseconds). Used only by backlog reconciliation.
	QueryModifiedSince(ctx context.Context, scope models.ScopeKey, since int64) ([]*models.MessageRecord, error)
}
