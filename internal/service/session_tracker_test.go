package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/attendance-dashboard/internal/models"
	appErrors "github.com/noah-isme/attendance-dashboard/pkg/errors"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordedMutation struct {
	kind  models.MutationKind
	phase models.MutationPhase
}

type fakeMutationMetrics struct {
	mu        sync.Mutex
	mutations []recordedMutation
}

func (f *fakeMutationMetrics) ObserveMutation(kind models.MutationKind, phase models.MutationPhase) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations = append(f.mutations, recordedMutation{kind: kind, phase: phase})
}

// blockingCall returns a transition that waits for release and reports when it started.
func blockingCall(err error) (TransitionFunc, chan struct{}, chan struct{}) {
	started := make(chan struct{})
	release := make(chan struct{})
	return func(ctx context.Context) error {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		return err
	}, started, release
}

func succeed(context.Context) error { return nil }

func TestSessionTrackerActivateSuccess(t *testing.T) {
	clock := newFixedClock()
	metrics := &fakeMutationMetrics{}
	tracker := NewSessionTracker(metrics, nil, clock.Now)

	require.NoError(t, tracker.Activate(context.Background(), "s1", succeed))

	activation, ok := tracker.Get("s1")
	require.True(t, ok)
	assert.Equal(t, models.ActivationActive, activation.State)
	require.NotNil(t, activation.StartTime)
	assert.Equal(t, clock.Now(), *activation.StartTime)
	require.NotNil(t, activation.Mutation)
	assert.Equal(t, models.MutationConfirmed, activation.Mutation.Phase)
	assert.Equal(t, models.ActivationInactive, activation.Mutation.From)
	assert.Equal(t, []recordedMutation{
		{kind: models.MutationActivate, phase: models.MutationPending},
		{kind: models.MutationActivate, phase: models.MutationConfirmed},
	}, metrics.mutations)
}

func TestSessionTrackerSecondActivateWhileInFlightConflicts(t *testing.T) {
	tracker := NewSessionTracker(nil, nil, nil)
	call, started, release := blockingCall(nil)

	done := make(chan error, 1)
	go func() { done <- tracker.Activate(context.Background(), "s1", call) }()
	<-started

	assert.Equal(t, models.ActivationActivating, tracker.State("s1"))
	activation, _ := tracker.Get("s1")
	require.NotNil(t, activation.Mutation)
	assert.Equal(t, models.MutationPending, activation.Mutation.Phase)

	secondCalled := false
	err := tracker.Activate(context.Background(), "s1", func(context.Context) error {
		secondCalled = true
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	assert.False(t, secondCalled)
	assert.Equal(t, models.ActivationActivating, tracker.State("s1"))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, models.ActivationActive, tracker.State("s1"))

	err = tracker.Activate(context.Background(), "s1", succeed)
	assert.ErrorIs(t, err, appErrors.ErrConflict, "already active")
	assert.Equal(t, models.ActivationActive, tracker.State("s1"))
}

func TestSessionTrackerActivateFailureRollsBack(t *testing.T) {
	metrics := &fakeMutationMetrics{}
	tracker := NewSessionTracker(metrics, nil, nil)
	backendErr := appErrors.Backend(500, "session could not be started")

	err := tracker.Activate(context.Background(), "s1", func(context.Context) error { return backendErr })
	require.Error(t, err)
	assert.Same(t, backendErr, err)

	activation, ok := tracker.Get("s1")
	require.True(t, ok)
	assert.Equal(t, models.ActivationInactive, activation.State)
	assert.Nil(t, activation.StartTime)
	require.NotNil(t, activation.Mutation)
	assert.Equal(t, models.MutationRolledBack, activation.Mutation.Phase)
	assert.Equal(t, "session could not be started", activation.Mutation.Error)
	assert.Equal(t, models.MutationRolledBack, metrics.mutations[len(metrics.mutations)-1].phase)

	require.NoError(t, tracker.Activate(context.Background(), "s1", succeed), "retry after rollback")
}

func TestSessionTrackerDeactivateFromInactiveConflicts(t *testing.T) {
	tracker := NewSessionTracker(nil, nil, nil)

	err := tracker.Deactivate(context.Background(), "s1", succeed)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Equal(t, models.ActivationInactive, tracker.State("s1"))
}

func TestSessionTrackerDeactivateCycle(t *testing.T) {
	clock := newFixedClock()
	tracker := NewSessionTracker(nil, nil, clock.Now)
	require.NoError(t, tracker.Activate(context.Background(), "s1", succeed))

	clock.Advance(time.Hour)
	call, started, release := blockingCall(nil)
	done := make(chan error, 1)
	go func() { done <- tracker.Deactivate(context.Background(), "s1", call) }()
	<-started
	assert.Equal(t, models.ActivationDeactivating, tracker.State("s1"))
	close(release)
	require.NoError(t, <-done)

	activation, _ := tracker.Get("s1")
	assert.Equal(t, models.ActivationInactive, activation.State)
	require.NotNil(t, activation.EndTime)
	assert.Equal(t, clock.Now(), *activation.EndTime)
	assert.Equal(t, models.MutationDeactivate, activation.Mutation.Kind)
}

func TestSessionTrackerDeactivateFailureRestoresActive(t *testing.T) {
	tracker := NewSessionTracker(nil, nil, nil)
	require.NoError(t, tracker.Activate(context.Background(), "s1", succeed))

	err := tracker.Deactivate(context.Background(), "s1", func(context.Context) error { return errors.New("boom") })
	require.Error(t, err)
	assert.Equal(t, models.ActivationActive, tracker.State("s1"))
}

func TestSessionTrackerReconcile(t *testing.T) {
	clock := newFixedClock()
	tracker := NewSessionTracker(nil, nil, clock.Now)
	require.NoError(t, tracker.Activate(context.Background(), "stale", succeed))

	call, started, release := blockingCall(nil)
	done := make(chan error, 1)
	go func() { done <- tracker.Activate(context.Background(), "pending", call) }()
	<-started

	serverStart := clock.Now().Add(-30 * time.Minute)
	tracker.Reconcile([]models.Session{{ID: "s2", StartTime: &serverStart}})

	assert.Equal(t, models.ActivationActive, tracker.State("s2"))
	assert.Equal(t, models.ActivationInactive, tracker.State("stale"))
	assert.Equal(t, models.ActivationActivating, tracker.State("pending"), "in-flight sessions are untouched")

	s2, _ := tracker.Get("s2")
	require.NotNil(t, s2.StartTime)
	assert.Equal(t, serverStart, *s2.StartTime)
	stale, _ := tracker.Get("stale")
	require.NotNil(t, stale.EndTime)

	close(release)
	require.NoError(t, <-done)

	snapshot := tracker.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, models.ID("pending"), snapshot[0].SessionID)
	assert.Equal(t, models.ID("s2"), snapshot[1].SessionID)
	assert.Equal(t, models.ID("stale"), snapshot[2].SessionID)
}

func TestSessionTrackerResetDropsInFlightSettle(t *testing.T) {
	tracker := NewSessionTracker(nil, nil, nil)
	call, started, release := blockingCall(nil)
	done := make(chan error, 1)
	go func() { done <- tracker.Activate(context.Background(), "s1", call) }()
	<-started

	tracker.Reset()
	close(release)
	require.NoError(t, <-done)

	_, ok := tracker.Get("s1")
	assert.False(t, ok)
}

func TestSessionTrackerOnChange(t *testing.T) {
	tracker := NewSessionTracker(nil, nil, nil)
	var mu sync.Mutex
	calls := 0
	tracker.OnChange(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	require.NoError(t, tracker.Activate(context.Background(), "s1", succeed))
	_ = tracker.Activate(context.Background(), "s1", succeed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls, "rejected transitions do not notify")
}
