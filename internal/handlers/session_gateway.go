package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/tabletop/internal/realtime"
	"github.com/charlesng35/tabletop/internal/session"
	apperrors "github.com/charlesng35/tabletop/pkg/errors"
	"github.com/charlesng35/tabletop/pkg/logger"
	"github.com/charlesng35/tabletop/pkg/response"
)

// Frame types understood by the session gateway.
const (
	FrameJoin            = "join"
	FrameLeave           = "leave"
	FrameHeartbeat       = "heartbeat"
	FrameActionSubmit    = "action.submit"
	FrameSettingsUpdate  = "settings.update"
	FrameMapUpdate       = "map.update"
	FrameMapChange       = "map.change"
	FrameEncounterUpdate = "encounter.update"
	FrameEncounterStart  = "encounter.start"
	FrameEncounterEnd    = "encounter.end"
	FrameStateGet        = "state.get"
)

// leaderFrames may only be sent by the session's game master.
var leaderFrames = map[string]struct{}{
	FrameSettingsUpdate:  {},
	FrameMapUpdate:       {},
	FrameMapChange:       {},
	FrameEncounterUpdate: {},
	FrameEncounterStart:  {},
	FrameEncounterEnd:    {},
}

// SessionGateway upgrades players into live sessions and maps their frames onto session
// operations.
type SessionGateway struct {
	manager *session.Manager
	hub     *realtime.Hub
	log     *zap.Logger
}

var _ realtime.Dispatcher = (*SessionGateway)(nil)

// NewSessionGateway constructs the gateway.
func NewSessionGateway(manager *session.Manager, hub *realtime.Hub) *SessionGateway {
	return &SessionGateway{
		manager: manager,
		hub:     hub,
		log:     logger.WithModule("gateway"),
	}
}

// Connect opens the requested session and upgrades the request to a websocket bound
// to it. The campaign query is only needed when the session is not open yet.
func (g *SessionGateway) Connect(c *gin.Context) {
	if g.manager == nil || g.hub == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	sessionID := strings.TrimSpace(c.Param("sessionID"))
	userID := strings.TrimSpace(c.Query("user"))
	if userID == "" {
		response.Error(c, apperrors.NewBadRequest("user is required"))
		return
	}

	sess, err := g.manager.Open(c.Request.Context(), sessionID, c.Query("campaign"))
	if err != nil {
		response.Error(c, err)
		return
	}

	g.hub.Serve(c.Writer, c.Request, sess.ID(), userID, g)
}

type joinFrame struct {
	CharacterID string `json:"character_id"`
}

type mapChangeFrame struct {
	MapID string `json:"map_id"`
}

type encounterStartFrame struct {
	EncounterID string `json:"encounter_id"`
}

type heartbeatReply struct {
	LeaderStatus session.ConnectionStatus `json:"leader_status"`
}

// HandleFrame implements realtime.Dispatcher.
func (g *SessionGateway) HandleFrame(ctx context.Context, client realtime.Client, frame realtime.Frame) (any, error) {
	sess, ok := g.manager.Get(client.SessionID)
	if !ok {
		return nil, apperrors.ErrSessionDisposed
	}
	if _, leaderOnly := leaderFrames[frame.Type]; leaderOnly && client.UserID != sess.LeaderID() {
		return nil, apperrors.ErrForbidden.WithMessage(fmt.Sprintf("%s is reserved for the game master", frame.Type))
	}

	switch frame.Type {
	case FrameJoin:
		var body joinFrame
		if err := frame.Decode(&body); err != nil {
			return nil, err
		}
		return sess.Join(ctx, session.JoinParams{
			ParticipantID: client.UserID,
			ConnectionID:  client.ConnectionID,
			CharacterID:   strings.TrimSpace(body.CharacterID),
		})

	case FrameLeave:
		return nil, sess.LeaveConnection(ctx, client.UserID, client.ConnectionID)

	case FrameHeartbeat:
		var err error
		if client.UserID == sess.LeaderID() {
			err = sess.HandleLeaderHeartbeat(ctx, client.UserID)
		} else {
			err = sess.HandleParticipantHeartbeat(client.UserID)
		}
		if err != nil {
			return nil, err
		}
		return heartbeatReply{LeaderStatus: sess.LeaderStatus()}, nil

	case FrameActionSubmit:
		var req session.ActionRequest
		if err := frame.Decode(&req); err != nil {
			return nil, err
		}
		return sess.SubmitAction(ctx, req, client.UserID)

	case FrameSettingsUpdate:
		var update session.SettingsUpdate
		if err := frame.Decode(&update); err != nil {
			return nil, err
		}
		if err := sess.UpdateSettings(ctx, update); err != nil {
			return nil, err
		}
		return sess.State().Settings, nil

	case FrameMapUpdate:
		var update session.MapUpdate
		if err := frame.Decode(&update); err != nil {
			return nil, err
		}
		return nil, sess.UpdateMapState(ctx, update)

	case FrameMapChange:
		var body mapChangeFrame
		if err := frame.Decode(&body); err != nil {
			return nil, err
		}
		if strings.TrimSpace(body.MapID) == "" {
			return nil, apperrors.NewBadRequest("map_id is required")
		}
		return nil, sess.ChangeMap(ctx, strings.TrimSpace(body.MapID))

	case FrameEncounterUpdate:
		var update session.EncounterUpdate
		if err := frame.Decode(&update); err != nil {
			return nil, err
		}
		return nil, sess.UpdateEncounterState(ctx, update)

	case FrameEncounterStart:
		var body encounterStartFrame
		if err := frame.Decode(&body); err != nil {
			return nil, err
		}
		if strings.TrimSpace(body.EncounterID) == "" {
			return nil, apperrors.NewBadRequest("encounter_id is required")
		}
		return nil, sess.StartEncounter(ctx, strings.TrimSpace(body.EncounterID))

	case FrameEncounterEnd:
		return nil, sess.EndEncounter(ctx)

	case FrameStateGet:
		return sess.StateFor(client.UserID)

	default:
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unsupported frame type %s", frame.Type))
	}
}

// HandleClose implements realtime.Dispatcher. Closing a socket leaves the session unless
// the participant already reconnected on another socket.
func (g *SessionGateway) HandleClose(ctx context.Context, client realtime.Client) {
	sess, ok := g.manager.Get(client.SessionID)
	if !ok {
		return
	}
	if err := sess.LeaveConnection(ctx, client.UserID, client.ConnectionID); err != nil && !errors.Is(err, apperrors.ErrSessionDisposed) {
		g.log.Warn("leave on close failed",
			zap.String("session_id", client.SessionID),
			zap.String("user_id", client.UserID),
			zap.Error(err),
		)
	}
}
