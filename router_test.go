package chatsync

import (
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/chatmesh/chatsync.go/pkg/feed"
	"github.com/chatmesh/chatsync.go/pkg/models"
)

func newTestRouter(drive, community uuid.UUID) *Router {
	return NewRouter(map[uuid.UUID]uuid.UUID{drive: community}, testLog())
}

func TestRouteDropsUnsubscribedDrive(t *testing.T) {
	r := newTestRouter(uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4()))

	action := r.Route(feed.Event{
		Type:        feed.EventFileAdded,
		TargetDrive: uuid.Must(uuid.NewV4()),
	})

	assert.Equal(t, ActionNone, action.Kind)
}

func TestRouteUpsert(t *testing.T) {
	drive := uuid.Must(uuid.NewV4())
	community := uuid.Must(uuid.NewV4())
	channel := uuid.Must(uuid.NewV4())
	r := newTestRouter(drive, community)

	record := &models.MessageRecord{
		LocalID: uuid.Must(uuid.NewV4()),
		Content: models.PlainText("hi"),
	}

	action := r.Route(feed.Event{
		Type:        feed.EventFileAdded,
		TargetDrive: drive,
		Header: feed.Header{
			FileType: feed.FileTypeMessage,
			GroupID:  channel,
			Record:   record,
		},
	})

	assert.Equal(t, ActionUpsert, action.Kind)
	assert.Equal(t, models.ChannelScope(community, channel), action.Scope)
	assert.Equal(t, record, action.Record)
}

func TestRouteUndecodableContentInvalidates(t *testing.T) {
	drive := uuid.Must(uuid.NewV4())
	community := uuid.Must(uuid.NewV4())
	r := newTestRouter(drive, community)

	// No record at all.
	action := r.Route(feed.Event{
		Type:        feed.EventFileModified,
		TargetDrive: drive,
		Header:      feed.Header{FileType: feed.FileTypeMessage, GroupID: uuid.Must(uuid.NewV4())},
	})
	assert.Equal(t, ActionInvalidate, action.Kind)

	// A record whose content failed to decode.
	action = r.Route(feed.Event{
		Type:        feed.EventFileAdded,
		TargetDrive: drive,
		Header: feed.Header{
			FileType: feed.FileTypeMessage,
			GroupID:  uuid.Must(uuid.NewV4()),
			Record:   &models.MessageRecord{LocalID: uuid.Must(uuid.NewV4())},
		},
	})
	assert.Equal(t, ActionInvalidate, action.Kind)
}

func TestRouteTombstone(t *testing.T) {
	drive := uuid.Must(uuid.NewV4())
	community := uuid.Must(uuid.NewV4())
	r := newTestRouter(drive, community)

	ref := models.RecordRef{GlobalTransitID: uuid.Must(uuid.NewV4())}

	action := r.Route(feed.Event{
		Type:        feed.EventFileDeleted,
		TargetDrive: drive,
		Header:      feed.Header{FileType: feed.FileTypeMessage, GroupID: uuid.Must(uuid.NewV4()), Ref: ref},
	})

	assert.Equal(t, ActionTombstone, action.Kind)
	assert.Equal(t, ref, action.Ref)
}

func TestRouteStatisticsChanged(t *testing.T) {
	drive := uuid.Must(uuid.NewV4())
	r := newTestRouter(drive, uuid.Must(uuid.NewV4()))

	action := r.Route(feed.Event{
		Type:        feed.EventStatisticsChanged,
		TargetDrive: drive,
		Header: feed.Header{
			FileType: feed.FileTypeMessage,
			GroupID:  uuid.Must(uuid.NewV4()),
			Ref:      models.RecordRef{ServerID: uuid.Must(uuid.NewV4())},
		},
	})

	assert.Equal(t, ActionRefreshReactions, action.Kind)
}

func TestRouteMetadataFileTypes(t *testing.T) {
	drive := uuid.Must(uuid.NewV4())
	community := uuid.Must(uuid.NewV4())
	r := newTestRouter(drive, community)

	action := r.Route(feed.Event{
		Type:        feed.EventFileModified,
		TargetDrive: drive,
		Header:      feed.Header{FileType: feed.FileTypeChannel},
	})

	assert.Equal(t, ActionMetadataChanged, action.Kind)
	assert.Equal(t, feed.FileTypeChannel, action.FileType)
	assert.Equal(t, community, action.Scope.CommunityID)
}

func TestRouteUnknownEventType(t *testing.T) {
	drive := uuid.Must(uuid.NewV4())
	r := newTestRouter(drive, uuid.Must(uuid.NewV4()))

	action := r.Route(feed.Event{
		Type:        feed.EventUnknown,
		TargetDrive: drive,
		Header:      feed.Header{FileType: feed.FileTypeMessage},
	})

	assert.Equal(t, ActionNone, action.Kind)
}
