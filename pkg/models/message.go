package models

import (
	"github.com/gofrs/uuid"
)

// DeliveryStatus tracks how far a message has progressed towards delivery.
// Sending and Sent are ordered; Failed is terminal-exceptional.
type DeliveryStatus uint8

const (
	StatusUnknown DeliveryStatus = iota
	StatusSending
	StatusSent
	StatusFailed
)

func (s DeliveryStatus) String() string {
	switch s {
	case StatusSending:
		return "Sending"
	case StatusSent:
		return "Sent"
	case StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Regresses reports whether replacing the current status with incoming would
// move the record backwards, e.g. a stale duplicate reverting Sent to Sending.
func (s DeliveryStatus) Regresses(incoming DeliveryStatus) bool {
	if s == StatusFailed {
		return incoming != StatusFailed && incoming != StatusSent
	}
	return incoming < s
}

// RecordState is the explicit lifecycle tag of a record. It is set by the
// sender and the merge engine, never inferred from which fields happen to be
// populated.
type RecordState uint8

const (
	StatePending RecordState = iota
	StateConfirmed
	StateFailed
)

func (s RecordState) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateConfirmed:
		return "Confirmed"
	case StateFailed:
		return "Failed"
	default:
		return "InvalidState"
	}
}

// Reaction is one entry of a message's eventually-consistent reaction summary.
type Reaction struct {
	Content string `json:"content" cbor:"content"`
	Count   int    `json:"count" cbor:"count"`
}

// PayloadRef describes one attachment of a message. While an optimistic send
// is in flight the ref points at a local blob and carries Pending=true plus a
// locally-generated preview thumbnail.
type PayloadRef struct {
	Key              string `json:"key" cbor:"key"`
	ContentType      string `json:"contentType" cbor:"contentType"`
	ByteSize         int64  `json:"byteSize" cbor:"byteSize"`
	Pending          bool   `json:"pending" cbor:"pending"`
	LocalPath        string `json:"localPath,omitempty" cbor:"localPath,omitempty"`
	PreviewThumbnail []byte `json:"previewThumbnail,omitempty" cbor:"previewThumbnail,omitempty"`
}

// MessageRecord is the canonical in-memory representation of one message.
//
// LocalID is client-generated and stable across retries. ServerID is assigned
// once persisted. GlobalTransitID is assigned once the message crosses an
// identity boundary and is required to address reactions and threads. Absent
// identifiers are uuid.Nil.
type MessageRecord struct {
	LocalID         uuid.UUID `json:"localId" cbor:"localId"`
	ServerID        uuid.UUID `json:"serverId,omitempty" cbor:"serverId,omitempty"`
	GlobalTransitID uuid.UUID `json:"globalTransitId,omitempty" cbor:"globalTransitId,omitempty"`

	// GroupID is the stream the message was created in. Immutable once set.
	GroupID uuid.UUID `json:"groupId" cbor:"groupId"`

	CreatedAt int64 `json:"createdAt" cbor:"createdAt"`
	UpdatedAt int64 `json:"updatedAt" cbor:"updatedAt"`

	Content Content `json:"content" cbor:"content"`

	State          RecordState    `json:"state" cbor:"state"`
	DeliveryStatus DeliveryStatus `json:"deliveryStatus" cbor:"deliveryStatus"`

	ReactionSummary map[string]Reaction `json:"reactionSummary,omitempty" cbor:"reactionSummary,omitempty"`

	PayloadRefs []PayloadRef `json:"payloadRefs,omitempty" cbor:"payloadRefs,omitempty"`

	VersionTag uuid.UUID `json:"versionTag,omitempty" cbor:"versionTag,omitempty"`

	Pinned bool `json:"pinned,omitempty" cbor:"pinned,omitempty"`
}

// RecordRef identifies a record by any of its three identifiers. A match on
// any single non-nil identifier is sufficient; a federated delete may arrive
// keyed only by GlobalTransitID.
type RecordRef struct {
	ServerID        uuid.UUID `json:"serverId,omitempty" cbor:"serverId,omitempty"`
	LocalID         uuid.UUID `json:"localId,omitempty" cbor:"localId,omitempty"`
	GlobalTransitID uuid.UUID `json:"globalTransitId,omitempty" cbor:"globalTransitId,omitempty"`
}

// Ref returns the full reference for the record.
func (m *MessageRecord) Ref() RecordRef {
	return RecordRef{
		ServerID:        m.ServerID,
		LocalID:         m.LocalID,
		GlobalTransitID: m.GlobalTransitID,
	}
}

// Matches reports whether the ref identifies the record.
func (r RecordRef) Matches(m *MessageRecord) bool {
	if r.ServerID != uuid.Nil && r.ServerID == m.ServerID {
		return true
	}
	if r.LocalID != uuid.Nil && r.LocalID == m.LocalID {
		return true
	}
	if r.GlobalTransitID != uuid.Nil && r.GlobalTransitID == m.GlobalTransitID {
		return true
	}
	return false
}

// SameIdentity reports whether two records are the same logical message,
// by identity precedence: ServerID when both carry one, else LocalID.
func (m *MessageRecord) SameIdentity(other *MessageRecord) bool {
	if m.ServerID != uuid.Nil && other.ServerID != uuid.Nil {
		return m.ServerID == other.ServerID
	}
	if m.LocalID != uuid.Nil && other.LocalID != uuid.Nil {
		return m.LocalID == other.LocalID
	}
	return false
}

// Clone returns a deep copy of the record. The merge engine never mutates
// cached records in place, so copies are taken before any field is rewritten.
func (m *MessageRecord) Clone() *MessageRecord {
	out := *m

	if m.ReactionSummary != nil {
		out.ReactionSummary = make(map[string]Reaction, len(m.ReactionSummary))
		for k, v := range m.ReactionSummary {
			out.ReactionSummary[k] = v
		}
	}

	if m.PayloadRefs != nil {
		out.PayloadRefs = make([]PayloadRef, len(m.PayloadRefs))
		copy(out.PayloadRefs, m.PayloadRefs)
	}

	out.Content = m.Content.Clone()

	return &out
}
