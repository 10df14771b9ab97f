// Package mock provides in-memory stand-ins for the cache's collaborators.
package mock

import (
	"context"
	"sync"

	"github.com/gofrs/uuid"

	"github.com/chatmesh/chatsync.go/pkg/models"
	"github.com/chatmesh/chatsync.go/pkg/transport"
)

// Transport is a scriptable MessageTransport. Each method defers to its Func
// field when set and otherwise returns an empty success, while recording the
// call so tests can assert on what the cache asked for.
type Transport struct {
	mu sync.Mutex

	FetchPageFunc          func(ctx context.Context, scope models.ScopeKey, cursor []byte) (*transport.PageResult, error)
	FetchByUniqueIDFunc    func(ctx context.Context, scope models.ScopeKey, ref models.RecordRef) (*models.MessageRecord, error)
	UploadFunc             func(ctx context.Context, scope models.ScopeKey, record *models.MessageRecord) (*transport.UploadResult, error)
	DeleteFunc             func(ctx context.Context, scope models.ScopeKey, ref models.RecordRef) error
	QueryCreatedSinceFunc  func(ctx context.Context, scope models.ScopeKey, since int64) ([]*models.MessageRecord, error)
	QueryModifiedSinceFunc func(ctx context.Context, scope models.ScopeKey, since int64) ([]*models.MessageRecord, error)

	uploads     []*models.MessageRecord
	deletes     []models.RecordRef
	pageFetches [][]byte
	sinceCalls  []int64
}

var _ transport.MessageTransport = (*Transport)(nil)

func (t *Transport) FetchPage(ctx context.Context, scope models.ScopeKey, cursor []byte) (*transport.PageResult, error) {
	t.mu.Lock()
	t.pageFetches = append(t.pageFetches, append([]byte(nil), cursor...))
	t.mu.Unlock()

	if t.FetchPageFunc != nil {
		return t.FetchPageFunc(ctx, scope, cursor)
	}
	return &transport.PageResult{}, nil
}

func (t *Transport) FetchByUniqueID(ctx context.Context, scope models.ScopeKey, ref models.RecordRef) (*models.MessageRecord, error) {
	if t.FetchByUniqueIDFunc != nil {
		return t.FetchByUniqueIDFunc(ctx, scope, ref)
	}
	return nil, nil
}

func (t *Transport) Upload(ctx context.Context, scope models.ScopeKey, record *models.MessageRecord) (*transport.UploadResult, error) {
	t.mu.Lock()
	t.uploads = append(t.uploads, record.Clone())
	t.mu.Unlock()

	if t.UploadFunc != nil {
		return t.UploadFunc(ctx, scope, record)
	}
	return &transport.UploadResult{
		ServerID:        uuid.Must(uuid.NewV4()),
		GlobalTransitID: uuid.Must(uuid.NewV4()),
		VersionTag:      uuid.Must(uuid.NewV4()),
	}, nil
}

func (t *Transport) Delete(ctx context.Context, scope models.ScopeKey, ref models.RecordRef) error {
	t.mu.Lock()
	t.deletes = append(t.deletes, ref)
	t.mu.Unlock()

	if t.DeleteFunc != nil {
		return t.DeleteFunc(ctx, scope, ref)
	}
	return nil
}

func (t *Transport) QueryCreatedSince(ctx context.Context, scope models.ScopeKey, since int64) ([]*models.MessageRecord, error) {
	t.mu.Lock()
	t.sinceCalls = append(t.sinceCalls, since)
	t.mu.Unlock()

	if t.QueryCreatedSinceFunc != nil {
		return t.QueryCreatedSinceFunc(ctx, scope, since)
	}
	return nil, nil
}

func (t *Transport) QueryModifiedSince(ctx context.Context, scope models.ScopeKey, since int64) ([]*models.MessageRecord, error) {
	if t.QueryModifiedSinceFunc != nil {
		return t.QueryModifiedSinceFunc(ctx, scope, since)
	}
	return nil, nil
}

// Uploads returns the records passed to Upload so far.
func (t *Transport) Uploads() []*models.MessageRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*models.MessageRecord, len(t.uploads))
	copy(out, t.uploads)
	return out
}

// Deletes returns the refs passed to Delete so far.
func (t *Transport) Deletes() []models.RecordRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.RecordRef, len(t.deletes))
	copy(out, t.deletes)
	return out
}

// PageFetches returns the cursors passed to FetchPage so far.
func (t *Transport) PageFetches() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.pageFetches))
	copy(out, t.pageFetches)
	return out
}

// SinceCalls returns the since arguments passed to QueryCreatedSince.
func (t *Transport) SinceCalls() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int64, len(t.sinceCalls))
	copy(out, t.sinceCalls)
	return out
}
