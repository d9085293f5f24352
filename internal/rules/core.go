// Package rules ships the built-in rule plugins.
package rules

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/charlesng35/tabletop/internal/session"
)

// CorePluginID identifies the system-agnostic plugin.
const CorePluginID = "core"

// Action types handled by the core plugin.
const (
	// ActionMove places or moves the token of a character on the active map.
	ActionMove = "move"
	// ActionChat relays a chat message through the action result.
	ActionChat = "chat"
	// ActionEndTurn advances initiative to the next slot.
	ActionEndTurn = "end_turn"
	// ActionUpdateHP adjusts the hit points of a character.
	ActionUpdateHP = "update_hp"

	maxChatLength = 2000
	hpAttribute   = "hp"
)

// Core resolves the actions shared by every game system.
type Core struct{}

// NewCore constructs the core plugin.
func NewCore() *Core {
	return &Core{}
}

// ID implements session.Plugin.
func (c *Core) ID() string { return CorePluginID }

// Handlers implements session.Plugin.
func (c *Core) Handlers() map[string]session.Handler {
	return map[string]session.Handler{
		ActionMove:     moveHandler{},
		ActionChat:     chatHandler{},
		ActionEndTurn:  endTurnHandler{},
		ActionUpdateHP: updateHPHandler{},
	}
}

// canControl reports whether the submitter may act for the character.
func canControl(state session.SessionState, characterID string, actx session.ActionContext) (bool, string) {
	character, ok := state.Character(characterID)
	if !ok {
		return false, fmt.Sprintf("unknown character %s", characterID)
	}
	if actx.IsLeader || character.ControlledBy == actx.ParticipantID {
		return true, ""
	}
	return false, "character is controlled by another participant"
}

type moveHandler struct{}

func (moveHandler) Validate(_ context.Context, req session.ActionRequest, state session.SessionState, actx session.ActionContext) session.ValidationResult {
	if state.Map == nil {
		return session.Invalid("no active map")
	}
	if req.CharacterID == "" {
		return session.Invalid("character id is required")
	}
	if ok, reason := canControl(state, req.CharacterID, actx); !ok {
		return session.Invalid(reason)
	}
	if state.Encounter != nil && state.Encounter.Active && !actx.IsLeader && !actx.IsPlayerTurn {
		return session.Invalid("it is not your turn")
	}
	if _, ok := number(req.Payload, "x"); !ok {
		return session.Invalid("x must be a number")
	}
	if _, ok := number(req.Payload, "y"); !ok {
		return session.Invalid("y must be a number")
	}
	return session.Valid()
}

func (moveHandler) Execute(_ context.Context, req session.ActionRequest, draft *session.Draft, _ session.ActionContext) error {
	x, _ := number(req.Payload, "x")
	y, _ := number(req.Payload, "y")

	token, ok := draft.Token(req.CharacterID)
	if !ok {
		state := draft.State()
		if state.Map == nil {
			return fmt.Errorf("move: no active map")
		}
		state.Map.Tokens = append(state.Map.Tokens, session.Token{
			ID:          "token-" + req.CharacterID,
			CharacterID: req.CharacterID,
		})
		token = &state.Map.Tokens[len(state.Map.Tokens)-1]
	}
	token.X = x
	token.Y = y
	draft.Record("map.tokens."+token.ID, "move", map[string]float64{"x": x, "y": y})
	return nil
}

type chatHandler struct{}

func (chatHandler) Validate(_ context.Context, req session.ActionRequest, state session.SessionState, actx session.ActionContext) session.ValidationResult {
	if !state.Settings.ChatEnabled && !actx.IsLeader {
		return session.Invalid("chat is disabled")
	}
	message, _ := req.Payload["message"].(string)
	message = strings.TrimSpace(message)
	switch {
	case message == "":
		return session.Invalid("message is required")
	case len(message) > maxChatLength:
		return session.Invalid(fmt.Sprintf("message exceeds %d characters", maxChatLength))
	}
	return session.Valid()
}

func (chatHandler) Execute(_ context.Context, req session.ActionRequest, draft *session.Draft, actx session.ActionContext) error {
	message, _ := req.Payload["message"].(string)
	draft.Record("chat", "message", map[string]string{
		"from":         actx.ParticipantID,
		"character_id": req.CharacterID,
		"message":      strings.TrimSpace(message),
	})
	return nil
}

type endTurnHandler struct{}

func (endTurnHandler) Validate(_ context.Context, _ session.ActionRequest, state session.SessionState, actx session.ActionContext) session.ValidationResult {
	if state.Encounter == nil || !state.Encounter.Active || len(state.Encounter.Initiative) == 0 {
		return session.Invalid("no active encounter")
	}
	if !actx.IsLeader && !actx.IsPlayerTurn {
		return session.Invalid("it is not your turn")
	}
	return session.Valid()
}

func (endTurnHandler) Execute(_ context.Context, _ session.ActionRequest, draft *session.Draft, _ session.ActionContext) error {
	encounter := draft.State().Encounter
	if encounter == nil || len(encounter.Initiative) == 0 {
		return fmt.Errorf("end turn: no active encounter")
	}

	encounter.Turn++
	if encounter.Turn >= len(encounter.Initiative) {
		encounter.Turn = 0
		encounter.Round++
		remaining := encounter.StatusEffects[:0]
		for _, effect := range encounter.StatusEffects {
			effect.RemainingRounds--
			if effect.RemainingRounds > 0 {
				remaining = append(remaining, effect)
			}
		}
		encounter.StatusEffects = remaining
		draft.Record("encounter.round", "set", encounter.Round)
	}
	draft.Record("encounter.turn", "set", encounter.Turn)
	return nil
}

type updateHPHandler struct{}

func (updateHPHandler) Validate(_ context.Context, req session.ActionRequest, state session.SessionState, actx session.ActionContext) session.ValidationResult {
	if req.CharacterID == "" {
		return session.Invalid("character id is required")
	}
	if ok, reason := canControl(state, req.CharacterID, actx); !ok {
		return session.Invalid(reason)
	}
	if _, ok := number(req.Payload, "delta"); !ok {
		return session.Invalid("delta must be a number")
	}
	return session.Valid()
}

func (updateHPHandler) Execute(_ context.Context, req session.ActionRequest, draft *session.Draft, _ session.ActionContext) error {
	character, ok := draft.Character(req.CharacterID)
	if !ok {
		return fmt.Errorf("update hp: unknown character %s", req.CharacterID)
	}
	delta, _ := number(req.Payload, "delta")
	current, _ := number(character.Attributes, hpAttribute)

	hp := int(math.Max(0, math.Round(current+delta)))
	if character.Attributes == nil {
		character.Attributes = make(map[string]any)
	}
	character.Attributes[hpAttribute] = hp
	draft.Record("characters."+character.ID+".attributes.hp", "set", hp)
	return nil
}

// number reads a numeric value decoded from JSON or set by Go code.
func number(values map[string]any, key string) (float64, bool) {
	switch v := values[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	default:
		return 0, false
	}
}
