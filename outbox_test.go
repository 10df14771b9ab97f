package chatsync

import (
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmesh/chatsync.go/pkg/constants"
	"github.com/chatmesh/chatsync.go/pkg/models"
	"github.com/chatmesh/chatsync.go/pkg/transport"
)

func fixedClock() func() int64 {
	var now int64 = 1_700_000_000_000
	return func() int64 {
		now++
		return now
	}
}

func TestOutboxBegin(t *testing.T) {
	o := newOutbox(fixedClock())
	scope := models.ChannelScope(uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4()))

	record := o.begin(scope, models.PlainText("hi"), []models.PayloadRef{
		{Key: "img-1", ContentType: "image/jpeg", PreviewThumbnail: []byte{1, 2}},
	})

	assert.NotEqual(t, uuid.Nil, record.LocalID)
	assert.Equal(t, scope.StreamID, record.GroupID)
	assert.Equal(t, models.StatusSending, record.DeliveryStatus)
	assert.Equal(t, models.StatePending, record.State)
	require.Len(t, record.PayloadRefs, 1)
	assert.True(t, record.PayloadRefs[0].Pending)

	assert.Len(t, o.inFlight(), 1)
}

func TestOutboxRetryKeepsLocalID(t *testing.T) {
	o := newOutbox(fixedClock())
	scope := models.ChannelScope(uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4()))

	record := o.begin(scope, models.PlainText("hi"), nil)

	failed, err := o.fail(record.LocalID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, failed.DeliveryStatus)
	assert.Equal(t, record.LocalID, failed.LocalID)

	retried, err := o.retry(record.LocalID)
	require.NoError(t, err)
	assert.Equal(t, record.LocalID, retried.LocalID)
	assert.Equal(t, models.StatusSending, retried.DeliveryStatus)
}

func TestOutboxRetryUnknown(t *testing.T) {
	o := newOutbox(fixedClock())
	_, err := o.retry(uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, constants.ErrUnknownLocalID)
}

func TestOutboxConfirm(t *testing.T) {
	o := newOutbox(fixedClock())
	scope := models.ChannelScope(uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4()))
	record := o.begin(scope, models.PlainText("hi"), nil)

	result := &transport.UploadResult{
		ServerID:        uuid.Must(uuid.NewV4()),
		GlobalTransitID: uuid.Must(uuid.NewV4()),
		VersionTag:      uuid.Must(uuid.NewV4()),
	}

	confirmed, err := o.confirm(record.LocalID, result)
	require.NoError(t, err)

	assert.Equal(t, record.LocalID, confirmed.LocalID)
	assert.Equal(t, result.ServerID, confirmed.ServerID)
	assert.Equal(t, result.GlobalTransitID, confirmed.GlobalTransitID)
	assert.Equal(t, models.StatusSent, confirmed.DeliveryStatus)
	assert.Equal(t, models.StateConfirmed, confirmed.State)

	assert.Empty(t, o.inFlight())
}

func TestOutboxConfirmPartialFailureStaysTracked(t *testing.T) {
	o := newOutbox(fixedClock())
	scope := models.ChannelScope(uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4()))
	record := o.begin(scope, models.PlainText("hi"), nil)

	result := &transport.UploadResult{
		ServerID:         uuid.Must(uuid.NewV4()),
		FailedRecipients: []string{"bob.example.com"},
	}

	confirmed, err := o.confirm(record.LocalID, result)
	require.NoError(t, err)

	assert.Equal(t, models.StatusFailed, confirmed.DeliveryStatus)
	assert.Equal(t, result.ServerID, confirmed.ServerID)

	// Still retryable.
	require.Len(t, o.inFlight(), 1)
	retried, err := o.retry(record.LocalID)
	require.NoError(t, err)
	assert.Equal(t, record.LocalID, retried.LocalID)
}

func TestOutboxForget(t *testing.T) {
	o := newOutbox(fixedClock())
	scope := models.ChannelScope(uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4()))
	record := o.begin(scope, models.PlainText("hi"), nil)

	o.forget(record.LocalID)
	assert.Empty(t, o.inFlight())
}
