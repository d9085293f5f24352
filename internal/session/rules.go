package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrNilPlugin signals an attempt to register a nil rule plugin.
	ErrNilPlugin = errors.New("rules: nil plugin")
	// ErrNilHandler signals an attempt to register a nil action handler.
	ErrNilHandler = errors.New("rules: nil handler")
	// ErrEmptyRuleKey indicates a plugin id or action type with no value.
	ErrEmptyRuleKey = errors.New("rules: plugin id and action type are required")
	// ErrDuplicateHandler indicates a handler registration conflict.
	ErrDuplicateHandler = errors.New("rules: handler already registered")
)

// ValidationResult is the verdict a handler returns for a proposed action.
type ValidationResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// Valid accepts an action.
func Valid() ValidationResult {
	return ValidationResult{Valid: true}
}

// Invalid rejects an action with a human-readable reason.
func Invalid(reason string) ValidationResult {
	return ValidationResult{Valid: false, Error: reason}
}

// Handler resolves one action type. Validate must not mutate state; Execute mutates
// only the supplied draft.
type Handler interface {
	Validate(ctx context.Context, req ActionRequest, state SessionState, actx ActionContext) ValidationResult
	Execute(ctx context.Context, req ActionRequest, draft *Draft, actx ActionContext) error
}

// HandlerFuncs adapts plain functions into a Handler. A nil ValidateFunc accepts every action.
type HandlerFuncs struct {
	ValidateFunc func(ctx context.Context, req ActionRequest, state SessionState, actx ActionContext) ValidationResult
	ExecuteFunc  func(ctx context.Context, req ActionRequest, draft *Draft, actx ActionContext) error
}

// Validate implements Handler.
func (h HandlerFuncs) Validate(ctx context.Context, req ActionRequest, state SessionState, actx ActionContext) ValidationResult {
	if h.ValidateFunc == nil {
		return Valid()
	}
	return h.ValidateFunc(ctx, req, state, actx)
}

// Execute implements Handler.
func (h HandlerFuncs) Execute(ctx context.Context, req ActionRequest, draft *Draft, actx ActionContext) error {
	if h.ExecuteFunc == nil {
		return nil
	}
	return h.ExecuteFunc(ctx, req, draft, actx)
}

// Plugin bundles the handlers of one game system under a plugin id.
type Plugin interface {
	ID() string
	Handlers() map[string]Handler
}

type ruleKey struct {
	pluginID   string
	actionType string
}

// Rules stores action handlers keyed by plugin id and action type with concurrency safety.
type Rules struct {
	mu       sync.RWMutex
	handlers map[ruleKey]Handler
}

// NewRules constructs an empty rules registry.
func NewRules() *Rules {
	return &Rules{handlers: make(map[ruleKey]Handler)}
}

// Register adds a single handler.
func (r *Rules) Register(pluginID, actionType string, handler Handler) error {
	if handler == nil {
		return ErrNilHandler
	}
	key := ruleKey{pluginID: strings.TrimSpace(pluginID), actionType: strings.TrimSpace(actionType)}
	if key.pluginID == "" || key.actionType == "" {
		return ErrEmptyRuleKey
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[key]; exists {
		return ErrDuplicateHandler
	}
	r.handlers[key] = handler
	return nil
}

// RegisterPlugin registers every handler the plugin exposes. Nothing is registered
// when any handler conflicts.
func (r *Rules) RegisterPlugin(plugin Plugin) error {
	if plugin == nil {
		return ErrNilPlugin
	}
	pluginID := strings.TrimSpace(plugin.ID())
	if pluginID == "" {
		return ErrEmptyRuleKey
	}

	handlers := plugin.Handlers()
	r.mu.Lock()
	defer r.mu.Unlock()
	for actionType, handler := range handlers {
		key := ruleKey{pluginID: pluginID, actionType: strings.TrimSpace(actionType)}
		if handler == nil {
			return ErrNilHandler
		}
		if key.actionType == "" {
			return ErrEmptyRuleKey
		}
		if _, exists := r.handlers[key]; exists {
			return ErrDuplicateHandler
		}
	}
	for actionType, handler := range handlers {
		r.handlers[ruleKey{pluginID: pluginID, actionType: strings.TrimSpace(actionType)}] = handler
	}
	return nil
}

// MustRegisterPlugin wraps RegisterPlugin and panics on errors. Intended for bootstrap usage.
func (r *Rules) MustRegisterPlugin(plugin Plugin) {
	if err := r.RegisterPlugin(plugin); err != nil {
		panic(err)
	}
}

// Lookup resolves the handler for a plugin id and action type.
func (r *Rules) Lookup(pluginID, actionType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[ruleKey{pluginID: pluginID, actionType: actionType}]
	return handler, ok
}

// Plugins returns the sorted ids of plugins with at least one handler.
func (r *Rules) Plugins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for key := range r.handlers {
		seen[key.pluginID] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Actions returns the sorted action types registered for a plugin.
func (r *Rules) Actions(pluginID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var actions []string
	for key := range r.handlers {
		if key.pluginID == pluginID {
			actions = append(actions, key.actionType)
		}
	}
	sort.Strings(actions)
	return actions
}
