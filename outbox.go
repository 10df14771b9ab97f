package chatsync

import (
	"sync"

	"github.com/gofrs/uuid"

	"github.com/chatmesh/chatsync.go/pkg/constants"
	"github.com/chatmesh/chatsync.go/pkg/models"
	"github.com/chatmesh/chatsync.go/pkg/transport"
)

// outbox tracks optimistic sends from creation until the host confirms them.
//
// The tracked copy is what reconnection re-confirms against the host: a send
// whose response was lost to a dropped connection is resolved by fetching the
// record back by its LocalID. The LocalID is minted once per message and
// survives retries, so the UI never sees a retried message jump.
type outbox struct {
	mu      sync.Mutex
	pending map[uuid.UUID]*pendingSend
	clock   func() int64
}

type pendingSend struct {
	scope    models.ScopeKey
	record   *models.MessageRecord
	attempts int
}

func newOutbox(clock func() int64) *outbox {
	return &outbox{
		pending: make(map[uuid.UUID]*pendingSend),
		clock:   clock,
	}
}

// begin mints the optimistic record for a new send. Attachment refs start
// Pending with their locally-generated preview thumbnails; the upload fills
// in the server-side state later.
func (o *outbox) begin(scope models.ScopeKey, content models.Content, payloads []models.PayloadRef) *models.MessageRecord {
	now := o.clock()

	refs := make([]models.PayloadRef, len(payloads))
	copy(refs, payloads)
	for i := range refs {
		refs[i].Pending = true
	}

	record := &models.MessageRecord{
		LocalID:        uuid.Must(uuid.NewV4()),
		GroupID:        scope.StreamID,
		CreatedAt:      now,
		UpdatedAt:      now,
		Content:        content,
		State:          models.StatePending,
		DeliveryStatus: models.StatusSending,
		PayloadRefs:    refs,
	}

	o.mu.Lock()
	o.pending[record.LocalID] = &pendingSend{scope: scope, record: record, attempts: 1}
	o.mu.Unlock()

	return record.Clone()
}

// retry returns a fresh Sending copy of a failed send, under the original
// LocalID.
func (o *outbox) retry(localID uuid.UUID) (*models.MessageRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.pending[localID]
	if !ok {
		return nil, constants.ErrUnknownLocalID
	}

	p.attempts++
	p.record.DeliveryStatus = models.StatusSending
	p.record.State = models.StatePending
	p.record.UpdatedAt = o.clock()

	return p.record.Clone(), nil
}

// confirm folds the host's upload result into the tracked record and returns
// the confirmed copy to merge into the page store.
//
// A partial federated failure still confirms the upload (the record exists on
// the host) but leaves the message Failed so the user can retry delivery to
// the recipients that missed it.
func (o *outbox) confirm(localID uuid.UUID, result *transport.UploadResult) (*models.MessageRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.pending[localID]
	if !ok {
		return nil, constants.ErrUnknownLocalID
	}

	confirmed := p.record.Clone()
	confirmed.ServerID = result.ServerID
	confirmed.GlobalTransitID = result.GlobalTransitID
	confirmed.VersionTag = result.VersionTag
	confirmed.UpdatedAt = o.clock()

	if result.PartiallyFailed() {
		confirmed.State = models.StateFailed
		confirmed.DeliveryStatus = models.StatusFailed
		p.record = confirmed.Clone()
		return confirmed, nil
	}

	confirmed.State = models.StateConfirmed
	confirmed.DeliveryStatus = models.StatusSent
	delete(o.pending, localID)

	return confirmed, nil
}

// fail marks the send Failed and keeps it tracked for retry. The failed copy
// is returned to merge into the page store so the message stays visible.
func (o *outbox) fail(localID uuid.UUID) (*models.MessageRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.pending[localID]
	if !ok {
		return nil, constants.ErrUnknownLocalID
	}

	p.record.State = models.StateFailed
	p.record.DeliveryStatus = models.StatusFailed
	p.record.UpdatedAt = o.clock()

	return p.record.Clone(), nil
}

// forget drops a tracked send, e.g. when the message is deleted before the
// upload settles.
func (o *outbox) forget(localID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pending, localID)
}

// inFlight returns the sends still awaiting confirmation, for reconnection
// repair.
func (o *outbox) inFlight() []pendingSend {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]pendingSend, 0, len(o.pending))
	for _, p := range o.pending {
		out = append(out, pendingSend{scope: p.scope, record: p.record.Clone(), attempts: p.attempts})
	}
	return out
}
