package chatsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"github.com/chatmesh/chatsync.go/internal/codec"
	"github.com/chatmesh/chatsync.go/pkg/kv"
	"github.com/chatmesh/chatsync.go/pkg/logger"
	"github.com/chatmesh/chatsync.go/pkg/models"
	"github.com/chatmesh/chatsync.go/pkg/pages"
	"github.com/chatmesh/chatsync.go/pkg/transport"
)

// checkpointKey is where the reconciliation checkpoint lives in the kv store.
const checkpointKey = "chatsync/reconcile/checkpoint"

// checkpoint marks how far reconciliation has caught up, in unix
// milliseconds of host time as observed at the start of the last run.
type checkpoint struct {
	LastRun int64 `cbor:"lastRun"`
}

// Reconciler repairs the cache after a gap in live updates.
//
// It runs two bounded queries per subscribed scope, for records created and
// records modified since the last checkpoint minus a safety margin, and
// merges the results. The margin absorbs clock skew between client and host;
// re-merging a record the cache already holds is a no-op by design of the
// merge engine, so overlap is cheap and missing a record is not.
type Reconciler struct {
	cache     *Cache
	transport transport.MessageTransport
	store     kv.Store

	marshaler   codec.Marshaler
	unmarshaler codec.Unmarshaler

	safetyMargin time.Duration
	clock        func() int64
	logger       logger.Logger

	// mu guards running and rerun. A trigger while a run is in flight does
	// not start a second run; it flags the current one to go again, so any
	// number of concurrent triggers coalesce into at most one follow-up.
	mu      sync.Mutex
	running bool
	rerun   bool
}

func newReconciler(cache *Cache, tr transport.MessageTransport, store kv.Store, margin time.Duration, clock func() int64, log logger.Logger) *Reconciler {
	return &Reconciler{
		cache:        cache,
		transport:    tr,
		store:        store,
		marshaler:    codec.CBOR{},
		unmarshaler:  codec.CBOR{},
		safetyMargin: margin,
		clock:        clock,
		logger:       log,
	}
}

// Run executes one reconciliation pass. Concurrent calls coalesce: the extra
// callers return immediately and the in-flight run repeats once more.
func (r *Reconciler) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.rerun = true
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	for {
		err := r.runOnce(ctx)

		r.mu.Lock()
		if err == nil && r.rerun {
			r.rerun = false
			r.mu.Unlock()
			continue
		}
		r.running = false
		r.rerun = false
		r.mu.Unlock()
		return err
	}
}

func (r *Reconciler) runOnce(ctx context.Context) error {
	start := r.clock()
	scopes := r.cache.knownScopes()

	cp, ok := r.loadCheckpoint()
	if !ok {
		// Without a checkpoint the gap is unbounded and querying "everything
		// since forever" is worse than refetching the visible pages. Every
		// known scope is dropped, not just the subscribed ones: an
		// unsubscribed snapshot left in place would be served stale on the
		// next Subscribe.
		r.logger.Info("no reconciliation checkpoint, invalidating all scopes",
			"scopes", len(scopes))
		for _, scope := range scopes {
			r.cache.Invalidate(scope)
		}
		r.repairInFlight(ctx)
		return r.saveCheckpoint(start)
	}

	since := cp.LastRun - r.safetyMargin.Milliseconds()
	if since < 0 {
		since = 0
	}

	for _, scope := range scopes {
		if err := r.reconcileScope(ctx, scope, since); err != nil {
			return fmt.Errorf("reconcile scope %s: %w", scope, err)
		}
	}

	r.repairInFlight(ctx)

	return r.saveCheckpoint(start)
}

// repairInFlight resolves sends whose upload response was lost, typically to
// a dropped connection. A send that reached the host is fetchable by its
// LocalID; one that did not stays tracked for retry.
func (r *Reconciler) repairInFlight(ctx context.Context) {
	for _, p := range r.cache.outbox.inFlight() {
		record, err := r.transport.FetchByUniqueID(ctx, p.scope, models.RecordRef{LocalID: p.record.LocalID})
		if err != nil {
			r.logger.Warn("in-flight send repair failed", "local_id", p.record.LocalID, "error", err)
			continue
		}
		if record == nil {
			continue
		}

		r.logger.Info("recovered in-flight send", "local_id", p.record.LocalID)
		r.cache.outbox.forget(p.record.LocalID)
		_ = r.cache.enqueueUpsert(p.scope, record)
	}
}

func (r *Reconciler) reconcileScope(ctx context.Context, scope models.ScopeKey, since int64) error {
	created, err := r.transport.QueryCreatedSince(ctx, scope, since)
	if err != nil {
		return err
	}
	modified, err := r.transport.QueryModifiedSince(ctx, scope, since)
	if err != nil {
		return err
	}

	upserts := dedupeRecords(created, modified)
	if len(upserts) == 0 {
		return nil
	}

	r.logger.Debug("reconciling scope", "scope", scope.String(), "records", len(upserts))

	batch := pages.Batch{Upserts: upserts}
	pageSize := r.cache.pageSize

	return r.cache.enqueue(scope, func(s pages.PageStore) pages.PageStore {
		out, invalidate := pages.ApplyBatch(s, batch, pageSize)
		if !invalidate {
			return out
		}
		// Too much changed to merge incrementally; start the scope over.
		if r.cache.subscriberCount(scope) > 0 {
			go r.cache.fetchInitial(scope)
		}
		return pages.PageStore{}
	})
}

// dedupeRecords merges the created and modified result sets. A record caught
// by both queries keeps the modified copy, which is at least as fresh.
func dedupeRecords(created, modified []*models.MessageRecord) []*models.MessageRecord {
	seen := make(map[uuid.UUID]int)
	out := make([]*models.MessageRecord, 0, len(created)+len(modified))

	add := func(rec *models.MessageRecord) {
		key := rec.ServerID
		if key == uuid.Nil {
			key = rec.LocalID
		}
		if idx, ok := seen[key]; ok {
			if rec.UpdatedAt >= out[idx].UpdatedAt {
				out[idx] = rec
			}
			return
		}
		seen[key] = len(out)
		out = append(out, rec)
	}

	for _, rec := range created {
		add(rec)
	}
	for _, rec := range modified {
		add(rec)
	}
	return out
}

func (r *Reconciler) loadCheckpoint() (checkpoint, bool) {
	v, ok := r.store.Get(checkpointKey)
	if !ok {
		return checkpoint{}, false
	}
	data, ok := v.([]byte)
	if !ok {
		return checkpoint{}, false
	}

	var cp checkpoint
	if err := r.unmarshaler.Unmarshal(data, &cp); err != nil {
		r.logger.Warn("discarding corrupt reconciliation checkpoint", "error", err)
		return checkpoint{}, false
	}
	return cp, true
}

func (r *Reconciler) saveCheckpoint(lastRun int64) error {
	data, err := r.marshaler.Marshal(checkpoint{LastRun: lastRun})
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	r.store.Set(checkpointKey, data)
	return nil
}
