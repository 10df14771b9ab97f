package chatsync

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"github.com/chatmesh/chatsync.go/pkg/constants"
	"github.com/chatmesh/chatsync.go/pkg/feed"
	"github.com/chatmesh/chatsync.go/pkg/kv"
	"github.com/chatmesh/chatsync.go/pkg/logger"
	"github.com/chatmesh/chatsync.go/pkg/models"
	"github.com/chatmesh/chatsync.go/pkg/pages"
	"github.com/chatmesh/chatsync.go/pkg/transport"
)

const (
	// defaultPageSize is the page size requested from the host and the merge
	// batch threshold beyond which reconciliation invalidates instead.
	defaultPageSize = 50

	// defaultSafetyMargin is subtracted from the reconciliation checkpoint to
	// absorb clock skew between client and host.
	defaultSafetyMargin = 5 * time.Minute

	// opQueueSize bounds each scope's pending merge operations. Producers
	// block rather than drop: ordering is the whole point of the queue.
	opQueueSize = 128

	// snapshotBuffer is the per-subscriber channel depth for page snapshots.
	snapshotBuffer = 16
)

// Config configures a Cache. Transport is required; everything else has a
// usable default.
type Config struct {
	// Transport moves message payloads to and from the host.
	Transport transport.MessageTransport

	// Feed is the live update stream. Optional: a cache without a feed works
	// purely by fetch and reconciliation.
	Feed feed.Feed

	// Drives maps each subscribed target drive to its community, for routing
	// live events. Required when Feed is set.
	Drives map[uuid.UUID]uuid.UUID

	// Store holds published page snapshots and the reconciliation
	// checkpoint. Defaults to an in-memory store.
	Store kv.Store

	// Logger defaults to slog on stderr.
	Logger logger.Logger

	// PageSize overrides defaultPageSize.
	PageSize int

	// SafetyMargin overrides defaultSafetyMargin.
	SafetyMargin time.Duration

	// Clock returns the current time in unix milliseconds. Tests override it.
	Clock func() int64
}

// Cache is the synchronization cache for federated chat messages.
//
// All merge operations for a scope run on that scope's single worker
// goroutine, in arrival order, each to completion. Merges are pure functions
// over the scope's PageStore, so every published snapshot is complete; there
// is no torn intermediate state to observe.
type Cache struct {
	transport  transport.MessageTransport
	feed       feed.Feed
	store      kv.Store
	logger     logger.Logger
	router     *Router
	reconciler *Reconciler
	outbox     *outbox

	pageSize int
	clock    func() int64

	mu      sync.Mutex
	workers map[models.ScopeKey]*scopeWorker
	closed  bool

	// enqWG tracks in-flight enqueue calls so Close only closes the op
	// channels once no producer can still be sending on them.
	enqWG sync.WaitGroup

	wg sync.WaitGroup
}

type scopeWorker struct {
	scope models.ScopeKey
	ops   chan scopeOp
	// store is owned by the worker goroutine; nothing else reads or writes it.
	store       pages.PageStore
	subscribers int
}

// scopeOp is one run-to-completion merge step.
type scopeOp func(pages.PageStore) pages.PageStore

func New(c Config) (*Cache, error) {
	if c.Transport == nil {
		return nil, constants.ErrNoTransport
	}
	if c.Store == nil {
		c.Store = kv.NewMemoryStore()
	}
	if c.Logger == nil {
		c.Logger = logger.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = defaultSafetyMargin
	}
	if c.Clock == nil {
		c.Clock = func() int64 { return time.Now().UnixMilli() }
	}

	cache := &Cache{
		transport: c.Transport,
		feed:      c.Feed,
		store:     c.Store,
		logger:    c.Logger,
		router:    NewRouter(c.Drives, c.Logger),
		outbox:    newOutbox(c.Clock),
		pageSize:  c.PageSize,
		clock:     c.Clock,
		workers:   make(map[models.ScopeKey]*scopeWorker),
	}
	cache.reconciler = newReconciler(cache, c.Transport, c.Store, c.SafetyMargin, c.Clock, c.Logger)

	if c.Feed != nil {
		if rf, ok := c.Feed.(*feed.ReconnectingFeed); ok && rf.OnReconnect == nil {
			rf.OnReconnect = func(ctx context.Context) {
				if err := cache.Reconcile(ctx); err != nil {
					cache.logger.Error("post-reconnect reconciliation failed", "error", err)
				}
			}
		}

		cache.wg.Add(1)
		go cache.feedLoop()
	}

	return cache, nil
}

// ScopeKeyFor returns the kv key under which a scope's page snapshots are
// published.
func ScopeKeyFor(scope models.ScopeKey) string {
	return "chatsync/scope/" + scope.String()
}

// Subscribe returns a channel of page snapshots for the scope and a cancel
// function. Subscribing to an unseen scope triggers the initial fetch.
func (c *Cache) Subscribe(scope models.ScopeKey) (<-chan []pages.Page, func(), error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, constants.ErrClosed
	}
	w := c.ensureWorkerLocked(scope)
	w.subscribers++
	c.mu.Unlock()

	raw, cancelKV := c.store.Subscribe(ScopeKeyFor(scope))

	out := make(chan []pages.Page, snapshotBuffer)
	go func() {
		defer close(out)
		for v := range raw {
			snapshot, ok := v.([]pages.Page)
			if !ok {
				continue
			}
			out <- snapshot
		}
	}()

	if c.needsInitialFetch(scope) {
		go c.fetchInitial(scope)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			cancelKV()
			c.mu.Lock()
			w.subscribers--
			c.mu.Unlock()
		})
	}

	return out, cancel, nil
}

// LoadOlder fetches the next older page for the scope and appends it.
//
// The fetch runs on the caller's goroutine; only the merge is queued. A fetch
// that completes after the scope was invalidated or unsubscribed is discarded
// by comparing its cursor against the store's current oldest cursor.
func (c *Cache) LoadOlder(ctx context.Context, scope models.ScopeKey) error {
	snapshot, ok := c.snapshot(scope)
	if !ok {
		return constants.ErrScopeNotFound
	}

	cursor, ok := pages.PageStore{Pages: snapshot}.OldestCursor()
	if !ok {
		return constants.ErrNoCursor
	}

	result, err := c.transport.FetchPage(ctx, scope, cursor)
	if err != nil {
		return err
	}

	queryTimestamp := c.clock()
	return c.enqueue(scope, func(s pages.PageStore) pages.PageStore {
		if c.subscriberCount(scope) == 0 {
			return s
		}
		current, stillValid := s.OldestCursor()
		if !stillValid || !bytes.Equal(current, cursor) {
			// The store moved under the fetch, e.g. an invalidation reset
			// pagination. Appending now would duplicate or misplace rows.
			return s
		}
		return pages.AppendPage(s, result.Records, result.NextCursor, queryTimestamp)
	})
}

// SendMessage performs an optimistic send. The message appears in the scope
// immediately with DeliveryStatus Sending; the upload settles in the
// background and the returned ref's LocalID stays valid across retries.
func (c *Cache) SendMessage(ctx context.Context, scope models.ScopeKey, content models.Content, payloads []models.PayloadRef) (models.RecordRef, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return models.RecordRef{}, constants.ErrClosed
	}
	c.ensureWorkerLocked(scope)
	c.mu.Unlock()

	record := c.outbox.begin(scope, content, payloads)

	if err := c.enqueueUpsert(scope, record); err != nil {
		return models.RecordRef{}, err
	}

	c.wg.Add(1)
	go c.performUpload(ctx, scope, record)

	return record.Ref(), nil
}

// RetrySend retries a failed send under its original LocalID.
func (c *Cache) RetrySend(ctx context.Context, scope models.ScopeKey, localID uuid.UUID) error {
	record, err := c.outbox.retry(localID)
	if err != nil {
		return err
	}

	if err := c.enqueueUpsert(scope, record); err != nil {
		return err
	}

	c.wg.Add(1)
	go c.performUpload(ctx, scope, record)

	return nil
}

func (c *Cache) performUpload(ctx context.Context, scope models.ScopeKey, record *models.MessageRecord) {
	defer c.wg.Done()

	result, err := c.transport.Upload(ctx, scope, record)
	if err != nil {
		c.logger.Warn("upload failed, keeping message visible for retry",
			"scope", scope.String(), "local_id", record.LocalID, "error", err)
		failed, trackErr := c.outbox.fail(record.LocalID)
		if trackErr != nil {
			return
		}
		_ = c.enqueueUpsert(scope, failed)
		return
	}

	confirmed, trackErr := c.outbox.confirm(record.LocalID, result)
	if trackErr != nil {
		return
	}
	if result.PartiallyFailed() {
		c.logger.Warn("federated delivery partially failed",
			"scope", scope.String(), "local_id", record.LocalID,
			"failed_recipients", result.FailedRecipients)
	}
	_ = c.enqueueUpsert(scope, confirmed)
}

// DeleteMessage removes the message locally and on the host. A host-side
// failure invalidates the scope so the canonical state wins back.
func (c *Cache) DeleteMessage(ctx context.Context, scope models.ScopeKey, ref models.RecordRef) error {
	if ref.LocalID != uuid.Nil {
		c.outbox.forget(ref.LocalID)
	}

	if err := c.enqueue(scope, func(s pages.PageStore) pages.PageStore {
		return pages.ApplyTombstone(s, ref)
	}); err != nil {
		return err
	}

	if err := c.transport.Delete(ctx, scope, ref); err != nil {
		c.Invalidate(scope)
		return err
	}
	return nil
}

// UpdateMessage uploads an edited record guarded by its VersionTag.
//
// On a version conflict the canonical record is refetched and the update is
// retried once against the fresh tag. A second conflict is returned as a
// ConflictError for the caller to resolve.
func (c *Cache) UpdateMessage(ctx context.Context, scope models.ScopeKey, record *models.MessageRecord) error {
	update := record.Clone()
	update.UpdatedAt = c.clock()

	for attempt := 1; ; attempt++ {
		result, err := c.transport.Upload(ctx, scope, update)
		if err == nil {
			update.VersionTag = result.VersionTag
			update.State = models.StateConfirmed
			update.DeliveryStatus = models.StatusSent
			return c.enqueueUpsert(scope, update)
		}

		if !errors.Is(err, constants.ErrConflict) {
			return err
		}
		if attempt >= 2 {
			return &ConflictError{Scope: scope, Ref: record.Ref(), Attempts: attempt, Err: err}
		}

		canonical, fetchErr := c.transport.FetchByUniqueID(ctx, scope, record.Ref())
		if fetchErr != nil {
			return fetchErr
		}
		if canonical == nil {
			// Edited message was deleted out from under us.
			return c.enqueue(scope, func(s pages.PageStore) pages.PageStore {
				return pages.ApplyTombstone(s, record.Ref())
			})
		}
		update.VersionTag = canonical.VersionTag
	}
}

// Invalidate drops the scope's pages and refetches from the top, as long as
// anyone is still subscribed.
func (c *Cache) Invalidate(scope models.ScopeKey) {
	err := c.enqueue(scope, func(s pages.PageStore) pages.PageStore {
		return pages.PageStore{}
	})
	if err != nil {
		return
	}

	if c.subscriberCount(scope) > 0 {
		go c.fetchInitial(scope)
	}
}

// Reconcile repairs whatever live updates were missed, e.g. after a
// reconnect. Concurrent calls coalesce into the in-flight run.
func (c *Cache) Reconcile(ctx context.Context) error {
	return c.reconciler.Run(ctx)
}

// Close shuts down the feed loop and all scope workers. Queued operations
// run to completion first.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return constants.ErrClosed
	}
	c.closed = true
	workers := make([]*scopeWorker, 0, len(c.workers))
	for _, w := range c.workers {
		workers = append(workers, w)
	}
	c.mu.Unlock()

	if c.feed != nil && !c.feed.IsClosed() {
		if err := c.feed.Close(ctx); err != nil {
			c.logger.Error("failed to close live feed", "error", err)
		}
	}

	// No new enqueue can start past the closed flag; wait out the in-flight
	// ones before closing the op channels they may be sending on.
	c.enqWG.Wait()
	for _, w := range workers {
		close(w.ops)
	}

	c.wg.Wait()
	return nil
}

func (c *Cache) feedLoop() {
	defer c.wg.Done()

	for event := range c.feed.Events() {
		c.applyAction(c.router.Route(event))
	}
}

func (c *Cache) applyAction(action Action) {
	switch action.Kind {
	case ActionUpsert:
		for _, scope := range c.liveScopes(action.Scope) {
			_ = c.enqueueUpsert(scope, action.Record)
		}

	case ActionTombstone:
		for _, scope := range c.liveScopes(action.Scope) {
			_ = c.enqueue(scope, func(s pages.PageStore) pages.PageStore {
				return pages.ApplyTombstone(s, action.Ref)
			})
		}

	case ActionInvalidate:
		for _, scope := range c.liveScopes(action.Scope) {
			c.Invalidate(scope)
		}

	case ActionRefreshReactions:
		for _, scope := range c.liveScopes(action.Scope) {
			c.wg.Add(1)
			go c.refreshRecord(scope, action.Ref)
		}

	case ActionMetadataChanged:
		// Metadata is not paged; publish the change notice for embedders.
		c.store.Set("chatsync/meta/"+action.Scope.CommunityID.String(), action.FileType)
	}
}

// liveScopes returns the scopes a routed message event lands in: the stream
// scope itself, plus the community's catchup scope when someone tracks it.
// The catchup feed mirrors every stream in the community, so both stores must
// see the same upserts and tombstones.
func (c *Cache) liveScopes(scope models.ScopeKey) []models.ScopeKey {
	out := make([]models.ScopeKey, 0, 2)
	if c.hasWorker(scope) {
		out = append(out, scope)
	}
	if catchup := models.CatchupScope(scope.CommunityID); catchup != scope && c.hasWorker(catchup) {
		out = append(out, catchup)
	}
	return out
}

// refreshRecord refetches one record to pick up server-side state the live
// event did not carry, like an updated reaction summary.
func (c *Cache) refreshRecord(scope models.ScopeKey, ref models.RecordRef) {
	defer c.wg.Done()

	record, err := c.transport.FetchByUniqueID(context.Background(), scope, ref)
	if err != nil {
		c.logger.Warn("record refresh failed", "scope", scope.String(), "error", err)
		return
	}

	if record == nil {
		_ = c.enqueue(scope, func(s pages.PageStore) pages.PageStore {
			return pages.ApplyTombstone(s, ref)
		})
		return
	}
	_ = c.enqueueUpsert(scope, record)
}

func (c *Cache) fetchInitial(scope models.ScopeKey) {
	result, err := c.transport.FetchPage(context.Background(), scope, nil)
	if err != nil {
		c.logger.Error("initial page fetch failed", "scope", scope.String(), "error", err)
		return
	}

	queryTimestamp := c.clock()
	_ = c.enqueue(scope, func(s pages.PageStore) pages.PageStore {
		if c.subscriberCount(scope) == 0 {
			return s
		}
		if !s.IsEmpty() {
			// Someone raced us here, e.g. an optimistic send created page 0.
			// Merge record by record instead of stacking a duplicate page.
			out := s
			for _, rec := range result.Records {
				out = pages.ApplyUpsert(out, rec)
			}
			if !out.HasFetchedPage() {
				// The raced pages were purely local and carry no cursor; take
				// this fetch's resume token or LoadOlder can never page back.
				out = pages.WithOldestCursor(out, result.NextCursor, queryTimestamp)
			}
			return out
		}
		return pages.AppendPage(s, result.Records, result.NextCursor, queryTimestamp)
	})
}

func (c *Cache) enqueueUpsert(scope models.ScopeKey, record *models.MessageRecord) error {
	return c.enqueue(scope, func(s pages.PageStore) pages.PageStore {
		return pages.ApplyUpsert(s, record)
	})
}

func (c *Cache) enqueue(scope models.ScopeKey, op scopeOp) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return constants.ErrClosed
	}
	w := c.ensureWorkerLocked(scope)
	c.enqWG.Add(1)
	c.mu.Unlock()
	defer c.enqWG.Done()

	w.ops <- op
	return nil
}

// ensureWorkerLocked returns the scope's worker, starting one if needed.
// Callers hold c.mu.
func (c *Cache) ensureWorkerLocked(scope models.ScopeKey) *scopeWorker {
	if w, ok := c.workers[scope]; ok {
		return w
	}

	w := &scopeWorker{
		scope: scope,
		ops:   make(chan scopeOp, opQueueSize),
	}
	c.workers[scope] = w

	c.wg.Add(1)
	go c.runWorker(w)

	return w
}

func (c *Cache) runWorker(w *scopeWorker) {
	defer c.wg.Done()

	for op := range w.ops {
		w.store = op(w.store)
		c.store.Set(ScopeKeyFor(w.scope), w.store.Pages)
	}
}

func (c *Cache) hasWorker(scope models.ScopeKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.workers[scope]
	return ok
}

func (c *Cache) subscriberCount(scope models.ScopeKey) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.workers[scope]; ok {
		return w.subscribers
	}
	return 0
}

// knownScopes lists every scope the cache holds pages for, whether or not
// anyone is subscribed right now. Reconciliation covers them all: a scope
// whose last subscriber just left still has a snapshot a future subscriber
// would otherwise be served stale.
func (c *Cache) knownScopes() []models.ScopeKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.ScopeKey, 0, len(c.workers))
	for scope := range c.workers {
		out = append(out, scope)
	}
	return out
}

// needsInitialFetch reports whether the scope has never completed a history
// fetch. A snapshot built only from optimistic sends or a just-invalidated
// one does not count as fetched.
func (c *Cache) needsInitialFetch(scope models.ScopeKey) bool {
	snapshot, ok := c.snapshot(scope)
	if !ok {
		return true
	}
	return !pages.PageStore{Pages: snapshot}.HasFetchedPage()
}

// snapshot returns the last published pages for the scope.
func (c *Cache) snapshot(scope models.ScopeKey) ([]pages.Page, bool) {
	v, ok := c.store.Get(ScopeKeyFor(scope))
	if !ok {
		return nil, false
	}
	snapshot, ok := v.([]pages.Page)
	return snapshot, ok
}
