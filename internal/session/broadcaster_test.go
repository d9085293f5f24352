package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func broadcastState() SessionState {
	return SessionState{
		SessionID:    testSessionID,
		StateVersion: "7",
		Map: &MapState{MapID: "map-1", Tokens: []Token{
			{ID: "t1", CharacterID: "c1"},
			{ID: "t2", CharacterID: "orc", Hidden: true},
		}},
		PendingActions: []QueuedAction{
			{ID: "q-1", ParticipantID: "alice"},
			{ID: "q-2", ParticipantID: "bob"},
		},
	}
}

func TestFilterStateHidesLeaderOnlyData(t *testing.T) {
	state := broadcastState()

	player := FilterState(state, "alice", false)
	require.Len(t, player.PendingActions, 1)
	require.Equal(t, "q-1", player.PendingActions[0].ID)
	require.Len(t, player.Map.Tokens, 1)
	require.Equal(t, "t1", player.Map.Tokens[0].ID)

	bystander := FilterState(state, "carol", false)
	require.Empty(t, bystander.PendingActions)

	leader := FilterState(state, testLeaderID, true)
	require.Len(t, leader.PendingActions, 2)
	require.Len(t, leader.Map.Tokens, 2)

	require.Len(t, state.Map.Tokens, 2, "filtering must not mutate the source")
	require.Len(t, state.PendingActions, 2)
}

func TestBroadcasterActionResultRecipients(t *testing.T) {
	transport := &fakeTransport{}
	b := NewBroadcaster(testSessionID, transport, true, nil)
	submitter := &Participant{UserID: "alice", ConnectionID: "conn-alice"}
	leader := &Participant{UserID: testLeaderID, ConnectionID: "conn-gm", Role: RoleLeader}

	b.ActionResult(ActionMessage{ID: "m1", Status: ActionRejected}, submitter, leader)
	require.Len(t, transport.sentTo("conn-alice", EventActionResult), 1)
	require.Len(t, transport.sentTo("conn-gm", EventActionResult), 1)
	require.Empty(t, transport.broadcastsOf(EventActionResult))

	b.ActionResult(ActionMessage{ID: "m2", Status: ActionQueued}, submitter, nil)
	require.Len(t, transport.sentTo("conn-alice", EventActionResult), 2)
	require.Len(t, transport.sentTo("conn-gm", EventActionResult), 1)

	b.ActionResult(ActionMessage{ID: "m3", Status: ActionCompleted, StateVersion: "9"}, submitter, leader)
	broadcasts := transport.broadcastsOf(EventActionResult)
	require.Len(t, broadcasts, 1)
	require.Equal(t, "9", broadcasts[0].StateVersion)
}

func TestBroadcasterLeaderSubmissionSentOnce(t *testing.T) {
	transport := &fakeTransport{}
	b := NewBroadcaster(testSessionID, transport, true, nil)
	leader := &Participant{UserID: testLeaderID, ConnectionID: "conn-gm", Role: RoleLeader}

	b.ActionResult(ActionMessage{ID: "m1", Status: ActionRejected}, leader, leader)
	require.Len(t, transport.sentTo("conn-gm", EventActionResult), 1)
}

func TestBroadcasterMapUpdateFiltersPerRecipient(t *testing.T) {
	transport := &fakeTransport{}
	b := NewBroadcaster(testSessionID, transport, true, nil)

	b.MapUpdate(broadcastState(), []Participant{
		{UserID: testLeaderID, ConnectionID: "conn-gm", Role: RoleLeader},
		{UserID: "alice", ConnectionID: "conn-alice", Role: RoleParticipant},
	})

	leaderView := transport.sentTo("conn-gm", EventMapUpdate)[0].Data.(*MapState)
	require.Len(t, leaderView.Tokens, 2)
	playerView := transport.sentTo("conn-alice", EventMapUpdate)[0].Data.(*MapState)
	require.Len(t, playerView.Tokens, 1)
}

func TestBroadcasterSwallowsTransportErrors(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	transport := &fakeTransport{err: errors.New("socket closed")}
	b := NewBroadcaster(testSessionID, transport, true, zap.New(core))

	b.FullState(Participant{UserID: "alice", ConnectionID: "conn-alice"}, broadcastState())
	b.EncounterUpdate(broadcastState())

	require.Len(t, logs.FilterMessage("failed to deliver session payload").All(), 1)
	require.Len(t, logs.FilterMessage("failed to broadcast session payload").All(), 1)
}

func TestBroadcasterDisabledIsNoop(t *testing.T) {
	transport := &fakeTransport{}
	b := NewBroadcaster(testSessionID, transport, false, nil)

	b.FullState(Participant{ConnectionID: "conn-alice"}, broadcastState())
	b.RuntimeStateChange(broadcastState(), StatusConnected)
	b.Notify(EventSessionEnded, "1", nil)

	require.Empty(t, transport.sent)
	require.Empty(t, transport.broadcasts)

	NewBroadcaster(testSessionID, nil, true, nil).Notify(EventSessionEnded, "1", nil)
}
