// Package feed consumes the host's live notification stream over WebSocket
// and turns raw frames into typed events. Events are plain data: routing
// decisions belong to the consumer, which makes dispatch testable without a
// live socket.
package feed

import (
	"fmt"

	"github.com/buger/jsonparser"
	json "github.com/goccy/go-json"
	"github.com/gofrs/uuid"

	"github.com/chatmesh/chatsync.go/internal/codec"
	"github.com/chatmesh/chatsync.go/pkg/models"
	"github.com/chatmesh/chatsync.go/pkg/transport"
)

// EventType is the notification discriminator on the live feed.
type EventType uint8

const (
	EventUnknown EventType = iota
	EventFileAdded
	EventFileModified
	EventFileDeleted
	EventStatisticsChanged
)

func (t EventType) String() string {
	switch t {
	case EventFileAdded:
		return "fileAdded"
	case EventFileModified:
		return "fileModified"
	case EventFileDeleted:
		return "fileDeleted"
	case EventStatisticsChanged:
		return "statisticsChanged"
	default:
		return "unknown"
	}
}

// ParseEventType maps the wire name to an EventType. Unrecognized names map
// to EventUnknown; new server-side notification types must not break old
// clients.
func ParseEventType(s string) EventType {
	switch s {
	case "fileAdded":
		return EventFileAdded
	case "fileModified":
		return EventFileModified
	case "fileDeleted":
		return EventFileDeleted
	case "statisticsChanged":
		return EventStatisticsChanged
	default:
		return EventUnknown
	}
}

// FileType discriminates what kind of record a file header describes.
type FileType uint16

const (
	FileTypeUnknown       FileType = 0
	FileTypeMessage       FileType = 100
	FileTypeChannel       FileType = 200
	FileTypeCommunityMeta FileType = 300
)

// Header is the file header carried by a notification.
//
// Record is the decoded message when the payload had replicated far enough to
// decode; its content may still be empty, which consumers treat as a
// transient decode failure. Deletions carry only Ref.
type Header struct {
	FileType FileType              `json:"fileType" cbor:"fileType"`
	GroupID  uuid.UUID             `json:"groupId" cbor:"groupId"`
	Ref      models.RecordRef      `json:"ref" cbor:"ref"`
	Record   *models.MessageRecord `json:"record,omitempty" cbor:"record,omitempty"`
}

// Event is one live notification.
type Event struct {
	Type        EventType
	TargetDrive uuid.UUID
	Header      Header
}

// wireHeader mirrors Header for JSON frames, where record content arrives in
// its raw wire form and must be decoded through the transport rules.
type wireHeader struct {
	FileType FileType         `json:"fileType"`
	GroupID  uuid.UUID        `json:"groupId"`
	Ref      models.RecordRef `json:"ref"`
	Record   *struct {
		LocalID         uuid.UUID                  `json:"localId"`
		ServerID        uuid.UUID                  `json:"serverId,omitempty"`
		GlobalTransitID uuid.UUID                  `json:"globalTransitId,omitempty"`
		GroupID         uuid.UUID                  `json:"groupId"`
		CreatedAt       int64                      `json:"createdAt"`
		UpdatedAt       int64                      `json:"updatedAt"`
		Content         json.RawMessage            `json:"content"`
		Reactions       map[string]models.Reaction `json:"reactions,omitempty"`
		Payloads        []models.PayloadRef        `json:"payloads,omitempty"`
		VersionTag      uuid.UUID                  `json:"versionTag,omitempty"`
		Pinned          bool                       `json:"pinned,omitempty"`
	} `json:"record,omitempty"`
}

// DecodeJSONEvent decodes a text frame.
//
// The envelope fields are peeked with jsonparser first so frames for
// unsubscribed drives can be discarded without paying for a full decode.
func DecodeJSONEvent(data []byte) (Event, error) {
	name, err := jsonparser.GetString(data, "notificationType")
	if err != nil {
		return Event{}, fmt.Errorf("frame has no notificationType: %w", err)
	}

	driveStr, err := jsonparser.GetString(data, "targetDrive")
	if err != nil {
		return Event{}, fmt.Errorf("frame has no targetDrive: %w", err)
	}
	drive, err := uuid.FromString(driveStr)
	if err != nil {
		return Event{}, fmt.Errorf("malformed targetDrive: %w", err)
	}

	event := Event{Type: ParseEventType(name), TargetDrive: drive}

	headerRaw, _, _, err := jsonparser.Get(data, "header")
	if err != nil {
		// A typed envelope without a header is still routable; deletions
		// and statistics refreshes may omit it on some host versions.
		return event, nil
	}

	var wh wireHeader
	if err := json.Unmarshal(headerRaw, &wh); err != nil {
		return Event{}, fmt.Errorf("malformed header: %w", err)
	}

	event.Header = Header{FileType: wh.FileType, GroupID: wh.GroupID, Ref: wh.Ref}
	if wh.Record != nil {
		event.Header.Record = &models.MessageRecord{
			LocalID:         wh.Record.LocalID,
			ServerID:        wh.Record.ServerID,
			GlobalTransitID: wh.Record.GlobalTransitID,
			GroupID:         wh.Record.GroupID,
			CreatedAt:       wh.Record.CreatedAt,
			UpdatedAt:       wh.Record.UpdatedAt,
			Content:         transport.DecodeContent(wh.Record.Content),
			State:           models.StateConfirmed,
			DeliveryStatus:  models.StatusSent,
			ReactionSummary: wh.Record.Reactions,
			PayloadRefs:     wh.Record.Payloads,
			VersionTag:      wh.Record.VersionTag,
			Pinned:          wh.Record.Pinned,
		}
	}

	return event, nil
}

// cborEvent is the envelope of a binary frame. Binary frames carry content
// already in tagged form, so no boundary decode is needed.
type cborEvent struct {
	NotificationType string    `cbor:"notificationType"`
	TargetDrive      uuid.UUID `cbor:"targetDrive"`
	Header           Header    `cbor:"header"`
}

// DecodeCBOREvent decodes a binary frame.
func DecodeCBOREvent(data []byte, unmarshaler codec.Unmarshaler) (Event, error) {
	var envelope cborEvent
	if err := unmarshaler.Unmarshal(data, &envelope); err != nil {
		return Event{}, fmt.Errorf("malformed binary frame: %w", err)
	}

	return Event{
		Type:        ParseEventType(envelope.NotificationType),
		TargetDrive: envelope.TargetDrive,
		Header:      envelope.Header,
	}, nil
}
