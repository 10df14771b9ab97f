package feed

import (
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmesh/chatsync.go/internal/codec"
	"github.com/chatmesh/chatsync.go/pkg/models"
)

func TestParseEventType(t *testing.T) {
	assert.Equal(t, EventFileAdded, ParseEventType("fileAdded"))
	assert.Equal(t, EventFileModified, ParseEventType("fileModified"))
	assert.Equal(t, EventFileDeleted, ParseEventType("fileDeleted"))
	assert.Equal(t, EventStatisticsChanged, ParseEventType("statisticsChanged"))
	assert.Equal(t, EventUnknown, ParseEventType("someFutureType"))
}

func TestDecodeJSONEvent(t *testing.T) {
	drive := uuid.Must(uuid.NewV4())
	localID := uuid.Must(uuid.NewV4())

	frame := []byte(`{
		"notificationType": "fileAdded",
		"targetDrive": "` + drive.String() + `",
		"header": {
			"fileType": 100,
			"groupId": "` + drive.String() + `",
			"ref": {"localId": "` + localID.String() + `"},
			"record": {
				"localId": "` + localID.String() + `",
				"createdAt": 1700000000000,
				"updatedAt": 1700000000000,
				"content": "hello"
			}
		}
	}`)

	event, err := DecodeJSONEvent(frame)
	require.NoError(t, err)

	assert.Equal(t, EventFileAdded, event.Type)
	assert.Equal(t, drive, event.TargetDrive)
	assert.Equal(t, FileTypeMessage, event.Header.FileType)
	require.NotNil(t, event.Header.Record)
	assert.Equal(t, localID, event.Header.Record.LocalID)
	assert.Equal(t, "hello", event.Header.Record.Content.PlainString())
	assert.Equal(t, models.StateConfirmed, event.Header.Record.State)
}

func TestDecodeJSONEventWithoutHeader(t *testing.T) {
	drive := uuid.Must(uuid.NewV4())
	frame := []byte(`{"notificationType": "statisticsChanged", "targetDrive": "` + drive.String() + `"}`)

	event, err := DecodeJSONEvent(frame)
	require.NoError(t, err)

	assert.Equal(t, EventStatisticsChanged, event.Type)
	assert.Equal(t, drive, event.TargetDrive)
	assert.Nil(t, event.Header.Record)
}

func TestDecodeJSONEventRejectsBadEnvelope(t *testing.T) {
	_, err := DecodeJSONEvent([]byte(`{"targetDrive": "not-even-a-uuid"}`))
	require.Error(t, err)

	_, err = DecodeJSONEvent([]byte(`{"notificationType": "fileAdded", "targetDrive": "nope"}`))
	require.Error(t, err)
}

func TestDecodeCBOREvent(t *testing.T) {
	drive := uuid.Must(uuid.NewV4())
	localID := uuid.Must(uuid.NewV4())

	marshaler := codec.CBOR{}
	data, err := marshaler.Marshal(cborEvent{
		NotificationType: "fileDeleted",
		TargetDrive:      drive,
		Header: Header{
			FileType: FileTypeMessage,
			Ref:      models.RecordRef{LocalID: localID},
		},
	})
	require.NoError(t, err)

	event, err := DecodeCBOREvent(data, marshaler)
	require.NoError(t, err)

	assert.Equal(t, EventFileDeleted, event.Type)
	assert.Equal(t, drive, event.TargetDrive)
	assert.Equal(t, localID, event.Header.Ref.LocalID)
}

func TestDecodeCBOREventMalformed(t *testing.T) {
	_, err := DecodeCBOREvent([]byte{0xff, 0x00}, codec.CBOR{})
	require.Error(t, err)
}
