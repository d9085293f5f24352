package realtime

import "github.com/charlesng35/tabletop/internal/session"

// Transport adapts the hub to the session broadcaster.
type Transport struct {
	hub *Hub
}

var _ session.Transport = (*Transport)(nil)

// NewTransport wraps the hub.
func NewTransport(hub *Hub) *Transport {
	return &Transport{hub: hub}
}

// SendToConnection implements session.Transport.
func (t *Transport) SendToConnection(connectionID string, payload session.Payload) error {
	return t.hub.Send(connectionID, fromPayload(payload))
}

// BroadcastToSession implements session.Transport.
func (t *Transport) BroadcastToSession(sessionID string, payload session.Payload, excludeConnectionIDs ...string) error {
	return t.hub.Broadcast(sessionID, fromPayload(payload), excludeConnectionIDs...)
}

func fromPayload(payload session.Payload) Message {
	return Message{
		Type:         payload.Event,
		SessionID:    payload.SessionID,
		StateVersion: payload.StateVersion,
		Data:         payload.Data,
	}
}
