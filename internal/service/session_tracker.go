package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/attendance-dashboard/internal/models"
	appErrors "github.com/noah-isme/attendance-dashboard/pkg/errors"
)

// TransitionFunc performs the backend call confirming a state transition.
type TransitionFunc func(ctx context.Context) error

type mutationObserver interface {
	ObserveMutation(kind models.MutationKind, phase models.MutationPhase)
}

type transition struct {
	required models.ActivationState
	pending  models.ActivationState
}

var transitions = map[models.MutationKind]transition{
	models.MutationActivate:   {required: models.ActivationInactive, pending: models.ActivationActivating},
	models.MutationDeactivate: {required: models.ActivationActive, pending: models.ActivationDeactivating},
}

// SessionTracker owns the activation state machine of every session a lecturer touches.
// Transitions are applied optimistically and rolled back when the backend call fails.
type SessionTracker struct {
	mu       sync.Mutex
	sessions map[models.ID]*models.SessionActivation
	metrics  mutationObserver
	logger   *zap.Logger
	now      func() time.Time
	onChange func()
}

// NewSessionTracker constructs an empty tracker. A nil clock defaults to time.Now.
func NewSessionTracker(metrics mutationObserver, logger *zap.Logger, now func() time.Time) *SessionTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &SessionTracker{
		sessions: make(map[models.ID]*models.SessionActivation),
		metrics:  metrics,
		logger:   logger,
		now:      now,
	}
}

// OnChange registers a hook invoked after every state change, outside the tracker lock.
func (t *SessionTracker) OnChange(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// Activate moves an inactive session to active. The session reads as activating until call returns.
func (t *SessionTracker) Activate(ctx context.Context, sessionID models.ID, call TransitionFunc) error {
	return t.run(ctx, sessionID, models.MutationActivate, call)
}

// Deactivate moves an active session to inactive. The session reads as deactivating until call returns.
func (t *SessionTracker) Deactivate(ctx context.Context, sessionID models.ID, call TransitionFunc) error {
	return t.run(ctx, sessionID, models.MutationDeactivate, call)
}

func (t *SessionTracker) run(ctx context.Context, sessionID models.ID, kind models.MutationKind, call TransitionFunc) error {
	mutation, err := t.begin(sessionID, kind)
	if err != nil {
		return err
	}
	t.changed()

	callErr := call(ctx)
	t.settle(sessionID, mutation, callErr)
	t.changed()
	return callErr
}

func (t *SessionTracker) begin(sessionID models.ID, kind models.MutationKind) (*models.Mutation, error) {
	rule := transitions[kind]

	t.mu.Lock()
	entry := t.entry(sessionID)
	if entry.State != rule.required {
		state := entry.State
		t.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("cannot %s session %s while it is %s", kind, sessionID, state))
	}

	mutation := &models.Mutation{
		Kind:      kind,
		Phase:     models.MutationPending,
		From:      entry.State,
		StartedAt: t.now(),
	}
	entry.State = rule.pending
	entry.Mutation = mutation
	t.mu.Unlock()

	t.observe(kind, models.MutationPending)
	return mutation, nil
}

func (t *SessionTracker) settle(sessionID models.ID, mutation *models.Mutation, callErr error) {
	t.mu.Lock()
	entry, ok := t.sessions[sessionID]
	if !ok || entry.Mutation != mutation {
		// Reset while the call was in flight.
		t.mu.Unlock()
		return
	}

	now := t.now()
	settled := *mutation
	settled.SettledAt = &now
	if callErr != nil {
		settled.Phase = models.MutationRolledBack
		settled.Error = callErr.Error()
		entry.State = mutation.From
	} else {
		settled.Phase = models.MutationConfirmed
		switch mutation.Kind {
		case models.MutationActivate:
			entry.State = models.ActivationActive
			entry.StartTime = &now
			entry.EndTime = nil
		case models.MutationDeactivate:
			entry.State = models.ActivationInactive
			entry.EndTime = &now
		}
	}
	entry.Mutation = &settled
	t.mu.Unlock()

	if callErr != nil {
		t.logger.Warn("session transition rolled back",
			zap.String("session_id", string(sessionID)),
			zap.String("kind", string(mutation.Kind)),
			zap.Error(callErr),
		)
	}
	t.observe(mutation.Kind, settled.Phase)
}

// State returns the activation state of a session. Unknown sessions are inactive.
func (t *SessionTracker) State(sessionID models.ID) models.ActivationState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.sessions[sessionID]; ok {
		return entry.State
	}
	return models.ActivationInactive
}

// Get returns a copy of the tracked activation for a session.
func (t *SessionTracker) Get(sessionID models.ID) (models.SessionActivation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.sessions[sessionID]
	if !ok {
		return models.SessionActivation{}, false
	}
	return copyActivation(entry), true
}

// Snapshot returns every tracked activation ordered by session id.
func (t *SessionTracker) Snapshot() []models.SessionActivation {
	t.mu.Lock()
	out := make([]models.SessionActivation, 0, len(t.sessions))
	for _, entry := range t.sessions {
		out = append(out, copyActivation(entry))
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Reconcile applies the server-confirmed list of active sessions. Listed sessions become
// active, tracked active sessions missing from the list become inactive, and sessions with
// a transition in flight are left alone.
func (t *SessionTracker) Reconcile(active []models.Session) {
	listed := make(map[models.ID]models.Session, len(active))
	for _, session := range active {
		listed[session.ID] = session
	}

	t.mu.Lock()
	now := t.now()
	for id, session := range listed {
		entry := t.entry(id)
		if entry.State.InFlight() {
			continue
		}
		entry.State = models.ActivationActive
		if session.StartTime != nil {
			start := *session.StartTime
			entry.StartTime = &start
		}
		entry.EndTime = nil
	}
	for id, entry := range t.sessions {
		if _, ok := listed[id]; ok || entry.State != models.ActivationActive {
			continue
		}
		end := now
		entry.State = models.ActivationInactive
		entry.EndTime = &end
	}
	t.mu.Unlock()

	t.changed()
}

// Reset forgets every tracked session. Transitions still in flight settle into nothing.
func (t *SessionTracker) Reset() {
	t.mu.Lock()
	t.sessions = make(map[models.ID]*models.SessionActivation)
	t.mu.Unlock()
}

func (t *SessionTracker) entry(sessionID models.ID) *models.SessionActivation {
	entry, ok := t.sessions[sessionID]
	if !ok {
		entry = &models.SessionActivation{SessionID: sessionID, State: models.ActivationInactive}
		t.sessions[sessionID] = entry
	}
	return entry
}

func (t *SessionTracker) observe(kind models.MutationKind, phase models.MutationPhase) {
	if t.metrics != nil {
		t.metrics.ObserveMutation(kind, phase)
	}
}

func (t *SessionTracker) changed() {
	t.mu.Lock()
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func copyActivation(entry *models.SessionActivation) models.SessionActivation {
	out := *entry
	if entry.Mutation != nil {
		mutation := *entry.Mutation
		out.Mutation = &mutation
	}
	return out
}
