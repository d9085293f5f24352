package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/charlesng35/tabletop/pkg/errors"
)

func TestConnectionRegistryCapacity(t *testing.T) {
	clock := newFakeClock()
	registry := NewConnectionRegistry(2, clock.Now)

	_, rejoined, err := registry.Connect(Participant{UserID: "alice", ConnectionID: "c-1"})
	require.NoError(t, err)
	require.False(t, rejoined)
	_, _, err = registry.Connect(Participant{UserID: "bob", ConnectionID: "c-2"})
	require.NoError(t, err)

	_, _, err = registry.Connect(Participant{UserID: "carol", ConnectionID: "c-3"})
	require.ErrorIs(t, err, apperrors.ErrCapacityExceeded)
	require.Equal(t, 2, registry.Count())

	clock.Advance(time.Minute)
	p, rejoined, err := registry.Connect(Participant{UserID: "alice", ConnectionID: "c-4", CharacterIDs: []string{"c1"}})
	require.NoError(t, err)
	require.True(t, rejoined)
	require.Equal(t, "c-4", p.ConnectionID)
	require.Equal(t, RoleParticipant, p.Role)
	require.True(t, p.LastHeartbeat.After(p.ConnectedAt))
	require.True(t, registry.Controls("alice", "c1"))
	require.Equal(t, 2, registry.Count())
}

func TestConnectionRegistryDisconnectAndTouch(t *testing.T) {
	clock := newFakeClock()
	registry := NewConnectionRegistry(4, clock.Now)

	_, _, err := registry.Connect(Participant{UserID: "alice"})
	require.NoError(t, err)

	clock.Advance(time.Second)
	require.True(t, registry.Touch("alice"))
	require.False(t, registry.Touch("ghost"))
	p, ok := registry.Get("alice")
	require.True(t, ok)
	require.Equal(t, clock.Now(), p.LastHeartbeat)

	removed, ok := registry.Disconnect("alice")
	require.True(t, ok)
	require.Equal(t, "alice", removed.UserID)
	_, ok = registry.Disconnect("alice")
	require.False(t, ok)
	require.Zero(t, registry.Count())
}

func TestConnectionRegistryRequiresUserID(t *testing.T) {
	registry := NewConnectionRegistry(4, nil)
	_, _, err := registry.Connect(Participant{})
	require.True(t, errors.Is(err, apperrors.ErrInvalidParameters))
}

func TestConnectionRegistryConcurrentConnectsHonourCapacity(t *testing.T) {
	registry := NewConnectionRegistry(8, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, _, err := registry.Connect(Participant{UserID: fmt.Sprintf("user-%d", i)}); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 8, admitted)
	require.Equal(t, 8, registry.Count())
	require.Len(t, registry.List(), 8)
}

func TestConnectionRegistryListOrdersByConnectionTime(t *testing.T) {
	clock := newFakeClock()
	registry := NewConnectionRegistry(0, clock.Now)

	for _, id := range []string{"carol", "alice", "bob"} {
		_, _, err := registry.Connect(Participant{UserID: id})
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	list := registry.List()
	require.Equal(t, []string{"carol", "alice", "bob"}, []string{list[0].UserID, list[1].UserID, list[2].UserID})
	require.Equal(t, 3, registry.Clear())
	require.Zero(t, registry.Count())
}
