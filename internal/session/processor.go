package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/charlesng35/tabletop/pkg/errors"
)

// Outcome is the result of running one action through its handler. Draft is set only
// for completed actions and must be committed by the caller.
type Outcome struct {
	Message ActionMessage
	Draft   *Draft
}

// Processor validates and executes actions against a state snapshot.
type Processor struct {
	rules *Rules
	log   *zap.Logger
}

// NewProcessor constructs a processor resolving handlers from rules.
func NewProcessor(rules *Rules, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{rules: rules, log: log}
}

// Process resolves the handler for req, validates it against state and executes it on
// a draft. A rejected action returns a nil error. An execution fault returns
// ErrExecutionFailed and leaves nothing to commit.
func (p *Processor) Process(ctx context.Context, messageID string, req ActionRequest, state SessionState, actx ActionContext, submittedAt time.Time) (Outcome, error) {
	msg := ActionMessage{
		ID:            messageID,
		ParticipantID: actx.ParticipantID,
		Request:       req.Clone(),
		SubmittedAt:   submittedAt,
		Status:        ActionProcessing,
		Replayed:      actx.Replay,
	}

	handler, ok := p.rules.Lookup(req.PluginID, req.Type)
	if !ok {
		return Outcome{Message: reject(msg, fmt.Sprintf("unsupported action %s/%s", req.PluginID, req.Type))}, nil
	}

	verdict, err := safeValidate(ctx, handler, req, state.Clone(), actx)
	if err != nil {
		p.log.Error("action validation failed",
			zap.String("action_id", req.ID),
			zap.String("plugin_id", req.PluginID),
			zap.String("type", req.Type),
			zap.Error(err),
		)
		return Outcome{Message: msg}, apperrors.ErrExecutionFailed.WithInternal(err)
	}
	if !verdict.Valid {
		reason := verdict.Error
		if reason == "" {
			reason = "action rejected"
		}
		return Outcome{Message: reject(msg, reason)}, nil
	}

	draft := NewDraft(state)
	if err := safeExecute(ctx, handler, req, draft, actx); err != nil {
		p.log.Error("action execution failed",
			zap.String("action_id", req.ID),
			zap.String("plugin_id", req.PluginID),
			zap.String("type", req.Type),
			zap.String("participant_id", actx.ParticipantID),
			zap.Bool("replay", actx.Replay),
			zap.Error(err),
		)
		return Outcome{Message: msg}, apperrors.ErrExecutionFailed.WithInternal(err)
	}

	msg.Status = ActionCompleted
	msg.Result = &ActionResult{Success: true, Changes: draft.Changes()}
	return Outcome{Message: msg, Draft: draft}, nil
}

func reject(msg ActionMessage, reason string) ActionMessage {
	msg.Status = ActionRejected
	msg.Result = &ActionResult{Success: false, Reason: reason}
	return msg
}

func safeValidate(ctx context.Context, handler Handler, req ActionRequest, state SessionState, actx ActionContext) (result ValidationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validate panicked: %v", r)
		}
	}()
	return handler.Validate(ctx, req, state, actx), nil
}

func safeExecute(ctx context.Context, handler Handler, req ActionRequest, draft *Draft, actx ActionContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("execute panicked: %v", r)
		}
	}()
	return handler.Execute(ctx, req, draft, actx)
}
