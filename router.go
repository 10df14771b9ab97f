package chatsync

import (
	"github.com/gofrs/uuid"

	"github.com/chatmesh/chatsync.go/pkg/feed"
	"github.com/chatmesh/chatsync.go/pkg/logger"
	"github.com/chatmesh/chatsync.go/pkg/models"
)

// ActionKind discriminates what a routed live event asks the cache to do.
type ActionKind uint8

const (
	// ActionNone means the event is not for us: wrong drive, unknown type,
	// or a record kind this cache does not track.
	ActionNone ActionKind = iota
	// ActionUpsert merges Record into Scope.
	ActionUpsert
	// ActionTombstone removes Ref from Scope.
	ActionTombstone
	// ActionInvalidate drops Scope's pages and refetches from the top.
	ActionInvalidate
	// ActionRefreshReactions refetches Ref to pick up a changed reaction
	// summary.
	ActionRefreshReactions
	// ActionMetadataChanged reports a channel or community metadata change
	// for the embedder to act on; message pages are unaffected.
	ActionMetadataChanged
)

// Action is the routing decision for one live event. It is plain data so
// dispatch can be tested without a socket, and so the cache applies it on the
// scope's merge queue rather than on the feed goroutine.
type Action struct {
	Kind     ActionKind
	Scope    models.ScopeKey
	Record   *models.MessageRecord
	Ref      models.RecordRef
	FileType feed.FileType
}

// Router turns live feed events into cache actions.
//
// Each subscribed drive belongs to one community; the router owns that
// mapping and silently drops events for drives nobody asked about, which the
// host may still deliver around subscription changes.
type Router struct {
	// driveToCommunity maps a target drive to its community.
	driveToCommunity map[uuid.UUID]uuid.UUID

	logger logger.Logger
}

func NewRouter(driveToCommunity map[uuid.UUID]uuid.UUID, log logger.Logger) *Router {
	drives := make(map[uuid.UUID]uuid.UUID, len(driveToCommunity))
	for drive, community := range driveToCommunity {
		drives[drive] = community
	}
	return &Router{driveToCommunity: drives, logger: log}
}

// AddDrive registers a drive after construction, e.g. when the user joins a
// community while the feed is already connected.
func (r *Router) AddDrive(drive, communityID uuid.UUID) {
	r.driveToCommunity[drive] = communityID
}

// Route maps one event to the action the cache should take.
//
// An added or modified message whose content did not decode is routed as an
// invalidation of the whole scope: payload replication on the host is
// eventually consistent, so a fresh fetch a moment later usually succeeds,
// and a retry loop here would just hammer a host that is not ready yet.
func (r *Router) Route(event feed.Event) Action {
	community, ok := r.driveToCommunity[event.TargetDrive]
	if !ok {
		r.logger.Debug("ignoring event for unsubscribed drive", "drive", event.TargetDrive)
		return Action{Kind: ActionNone}
	}

	if event.Header.FileType != feed.FileTypeMessage {
		if event.Header.FileType == feed.FileTypeUnknown {
			return Action{Kind: ActionNone}
		}
		return Action{
			Kind:     ActionMetadataChanged,
			Scope:    models.CatchupScope(community),
			FileType: event.Header.FileType,
		}
	}

	scope := models.ScopeKey{CommunityID: community, StreamID: event.Header.GroupID}

	switch event.Type {
	case feed.EventFileAdded, feed.EventFileModified:
		record := event.Header.Record
		if record == nil || record.Content.IsEmpty() {
			r.logger.Warn("live update carried undecodable content, invalidating scope",
				"scope", scope.String())
			return Action{Kind: ActionInvalidate, Scope: scope}
		}
		return Action{Kind: ActionUpsert, Scope: scope, Record: record}

	case feed.EventFileDeleted:
		return Action{Kind: ActionTombstone, Scope: scope, Ref: event.Header.Ref}

	case feed.EventStatisticsChanged:
		return Action{Kind: ActionRefreshReactions, Scope: scope, Ref: event.Header.Ref}

	default:
		return Action{Kind: ActionNone}
	}
}
