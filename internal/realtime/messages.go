package realtime

import (
	"encoding/json"

	apperrors "github.com/charlesng35/tabletop/pkg/errors"
	"github.com/charlesng35/tabletop/pkg/response"
)

// Message types generated by the hub itself.
const (
	MessageConnected = "connected"
	MessageError     = "error"
	MessagePong      = "pong"

	FramePing = "ping"

	okSuffix    = ".ok"
	errorSuffix = ".error"
)

var errInvalidFrame = apperrors.NewBadRequest("frame must be a JSON object with a type")

// Frame is an inbound client request.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the frame data into v. An empty payload leaves v untouched.
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 || string(f.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return apperrors.ErrBadRequest.WithMessage("malformed " + f.Type + " payload").WithInternal(err)
	}
	return nil
}

// Message is the outbound JSON envelope written to clients.
type Message struct {
	Type         string              `json:"type"`
	RequestID    string              `json:"request_id,omitempty"`
	SessionID    string              `json:"session_id,omitempty"`
	StateVersion string              `json:"state_version,omitempty"`
	Data         any                 `json:"data,omitempty"`
	Error        *response.ErrorInfo `json:"error,omitempty"`
}

func okReply(frame Frame, data any) Message {
	return Message{Type: frame.Type + okSuffix, RequestID: frame.RequestID, Data: data}
}

func errorReply(frame Frame, err error) Message {
	msgType := MessageError
	if frame.Type != MessageError {
		msgType = frame.Type + errorSuffix
	}
	return Message{Type: msgType, RequestID: frame.RequestID, Error: response.NewErrorInfo(err)}
}
