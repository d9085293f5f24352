package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/charlesng35/tabletop/internal/services"
	"github.com/charlesng35/tabletop/internal/session"
	apperrors "github.com/charlesng35/tabletop/pkg/errors"
	"github.com/charlesng35/tabletop/pkg/response"
)

// SessionCloser drops the realtime connections of a session.
type SessionCloser interface {
	CloseSession(sessionID string) int
}

// SessionsHandler exposes the live sessions and their event journal over HTTP.
type SessionsHandler struct {
	manager *session.Manager
	journal *services.EventJournal
	closer  SessionCloser
}

// NewSessionsHandler constructs the handler. The journal and closer are optional.
func NewSessionsHandler(manager *session.Manager, journal *services.EventJournal, closer SessionCloser) *SessionsHandler {
	return &SessionsHandler{manager: manager, journal: journal, closer: closer}
}

type sessionSummary struct {
	SessionID    string                   `json:"session_id"`
	CampaignID   string                   `json:"campaign_id"`
	LeaderID     string                   `json:"leader_id"`
	LeaderStatus session.ConnectionStatus `json:"leader_status"`
	StateVersion string                   `json:"state_version"`
	Participants []participantView        `json:"participants"`
	Authority    session.AuthorityStatus  `json:"authority"`
}

type participantView struct {
	UserID       string       `json:"user_id"`
	Role         session.Role `json:"role"`
	CharacterIDs []string     `json:"character_ids,omitempty"`
}

type openSessionRequest struct {
	SessionID  string `json:"session_id" validate:"omitempty,max=64,identifier"`
	CampaignID string `json:"campaign_id" validate:"required,notblank"`
}

// List returns every live session.
func (h *SessionsHandler) List(c *gin.Context) {
	ids := h.manager.List()
	out := make([]sessionSummary, 0, len(ids))
	for _, id := range ids {
		if sess, ok := h.manager.Get(id); ok {
			out = append(out, summarize(sess))
		}
	}
	response.Success(c, http.StatusOK, out)
}

// Get returns one live session.
func (h *SessionsHandler) Get(c *gin.Context) {
	sess, ok := h.manager.Get(strings.TrimSpace(c.Param("sessionID")))
	if !ok {
		response.Error(c, apperrors.ErrNotFound.WithMessage("session is not live"))
		return
	}
	response.Success(c, http.StatusOK, summarize(sess))
}

// Open starts a session for a campaign ahead of the first connection. Opening an id that
// is already live returns the existing session.
func (h *SessionsHandler) Open(c *gin.Context) {
	var req openSessionRequest
	if !bindJSON(c, &req) {
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	status := http.StatusCreated
	if _, exists := h.manager.Get(sessionID); exists {
		status = http.StatusOK
	}

	sess, err := h.manager.Open(requestContext(c), sessionID, strings.TrimSpace(req.CampaignID))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status, summarize(sess))
}

// Close disposes a live session and drops its connections.
func (h *SessionsHandler) Close(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("sessionID"))
	if !h.manager.Close(sessionID) {
		response.Error(c, apperrors.ErrNotFound.WithMessage("session is not live"))
		return
	}
	dropped := 0
	if h.closer != nil {
		dropped = h.closer.CloseSession(sessionID)
	}
	response.Success(c, http.StatusOK, gin.H{"session_id": sessionID, "closed_connections": dropped})
}

// Events pages through the journal of a session, live or closed.
func (h *SessionsHandler) Events(c *gin.Context) {
	if h.journal == nil {
		response.Error(c, apperrors.ErrNotFound.WithMessage("event journal is disabled"))
		return
	}

	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		response.Error(c, err)
		return
	}
	filters := services.JournalFilters{
		SessionID: strings.TrimSpace(c.Param("sessionID")),
		Type:      session.EventType(strings.TrimSpace(c.Query("type"))),
		Limit:     limit,
	}
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, apperrors.NewBadRequest("since must be an RFC3339 timestamp"))
			return
		}
		filters.Since = &since
	}

	events, err := h.journal.List(requestContext(c), filters)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, events)
}

func summarize(sess *session.Session) sessionSummary {
	participants := sess.Participants()
	views := make([]participantView, 0, len(participants))
	for _, p := range participants {
		views = append(views, participantView{UserID: p.UserID, Role: p.Role, CharacterIDs: p.CharacterIDs})
	}
	return sessionSummary{
		SessionID:    sess.ID(),
		CampaignID:   sess.CampaignID(),
		LeaderID:     sess.LeaderID(),
		LeaderStatus: sess.LeaderStatus(),
		StateVersion: sess.State().StateVersion,
		Participants: views,
		Authority:    sess.AuthorityStatus(),
	}
}
