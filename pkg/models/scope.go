package models

import (
	"fmt"

	"github.com/gofrs/uuid"

	"github.com/chatmesh/chatsync.go/pkg/constants"
)

// ScopeKey identifies a logical message stream within a community.
// StreamID is a channel ID, a thread ID (the origin message's global transit
// ID), or the community ID itself for the whole-community catchup feed.
type ScopeKey struct {
	CommunityID uuid.UUID
	StreamID    uuid.UUID
}

// ChannelScope returns the scope for a channel within a community.
func ChannelScope(communityID, channelID uuid.UUID) ScopeKey {
	return ScopeKey{CommunityID: communityID, StreamID: channelID}
}

// ThreadScope returns the scope for a thread rooted at the message with the
// given global transit ID.
//
// A thread ID equal to the community ID would be indistinguishable from the
// catchup scope, so that is rejected as a precondition violation rather than
// handled at runtime.
func ThreadScope(communityID, threadID uuid.UUID) (ScopeKey, error) {
	if communityID == threadID {
		return ScopeKey{}, fmt.Errorf("%w: %s", constants.ErrInvalidScope, threadID)
	}
	return ScopeKey{CommunityID: communityID, StreamID: threadID}, nil
}

// MustThreadScope is like ThreadScope but panics on an invalid scope.
// Use it only where the IDs are known constants.
func MustThreadScope(communityID, threadID uuid.UUID) ScopeKey {
	scope, err := ThreadScope(communityID, threadID)
	if err != nil {
		panic(fmt.Sprintf("BUG: %v", err))
	}
	return scope
}

// CatchupScope returns the whole-community feed scope.
func CatchupScope(communityID uuid.UUID) ScopeKey {
	return ScopeKey{CommunityID: communityID, StreamID: communityID}
}

// IsCatchup reports whether the scope is the whole-community feed.
func (s ScopeKey) IsCatchup() bool {
	return s.CommunityID == s.StreamID
}

func (s ScopeKey) String() string {
	return s.CommunityID.String() + "/" + s.StreamID.String()
}
