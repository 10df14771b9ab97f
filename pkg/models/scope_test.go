package models

import (
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmesh/chatsync.go/pkg/constants"
)

func TestThreadScopeRejectsCommunityID(t *testing.T) {
	community := uuid.Must(uuid.NewV4())

	_, err := ThreadScope(community, community)
	require.Error(t, err)
	assert.ErrorIs(t, err, constants.ErrInvalidScope)
}

func TestThreadScope(t *testing.T) {
	community := uuid.Must(uuid.NewV4())
	thread := uuid.Must(uuid.NewV4())

	scope, err := ThreadScope(community, thread)
	require.NoError(t, err)
	assert.Equal(t, community, scope.CommunityID)
	assert.Equal(t, thread, scope.StreamID)
	assert.False(t, scope.IsCatchup())
}

func TestMustThreadScopePanics(t *testing.T) {
	community := uuid.Must(uuid.NewV4())

	assert.Panics(t, func() {
		MustThreadScope(community, community)
	})
}

func TestCatchupScope(t *testing.T) {
	community := uuid.Must(uuid.NewV4())

	scope := CatchupScope(community)
	assert.True(t, scope.IsCatchup())

	channel := ChannelScope(community, uuid.Must(uuid.NewV4()))
	assert.False(t, channel.IsCatchup())
}
