package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/attendance-dashboard/internal/models"
	"github.com/noah-isme/attendance-dashboard/internal/repository"
	appErrors "github.com/noah-isme/attendance-dashboard/pkg/errors"
)

type loaderAPI interface {
	MyAttendance(ctx context.Context, courseID models.ID) ([]models.AttendanceRecord, error)
	AvailableSessions(ctx context.Context) ([]models.Session, error)
	MyCourses(ctx context.Context) ([]models.Course, error)
}

type loadObserver interface {
	ObserveLoad(role models.UserRole, err error)
}

// LoadFailure reports a failed fetch of a role-scoped load cycle.
type LoadFailure struct {
	Role  models.UserRole
	Cause error
}

// Error implements the error interface. The cause message is kept verbatim.
func (e *LoadFailure) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("failed to load %s dashboard", e.Role)
	}
	return e.Cause.Error()
}

// Unwrap returns the failed fetch error.
func (e *LoadFailure) Unwrap() error {
	return e.Cause
}

type collection string

const (
	collectionRecords  collection = "records"
	collectionSessions collection = "sessions"
	collectionStats    collection = "stats"
	collectionCourses  collection = "courses"
)

// LoadStatus is the aggregated state of all load cycles.
type LoadStatus struct {
	Loading bool
	Err     error
	Stats   models.AttendanceStats
}

// RoleLoader fetches the collections a role needs and applies them to the record store.
// Every cycle takes a sequence number; a response older than the newest one already
// applied to the same collection is discarded.
type RoleLoader struct {
	api     loaderAPI
	store   *repository.RecordStore
	tracker *SessionTracker
	metrics loadObserver
	logger  *zap.Logger

	// reconcileMu orders tracker reconciliation; reconciled is the newest cycle applied to it.
	reconcileMu sync.Mutex
	reconciled  uint64

	mu       sync.Mutex
	seq      uint64
	applied  map[collection]uint64
	settled  uint64
	inflight int
	err      error
	stats    models.AttendanceStats
	onChange func()
}

// NewRoleLoader constructs a loader writing into store and reconciling tracker.
func NewRoleLoader(api loaderAPI, store *repository.RecordStore, tracker *SessionTracker, metrics loadObserver, logger *zap.Logger) *RoleLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoleLoader{
		api:     api,
		store:   store,
		tracker: tracker,
		metrics: metrics,
		logger:  logger,
		applied: make(map[collection]uint64),
		stats:   ComputeStats(nil),
	}
}

// OnChange registers a hook invoked when loading state or data changes.
func (l *RoleLoader) OnChange(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = fn
}

// LoadForRole runs one load cycle. Fetches run concurrently and never cancel each other;
// the returned error is the last failure observed, also kept as the loader error.
func (l *RoleLoader) LoadForRole(ctx context.Context, role models.UserRole) error {
	dashboardRole := role.DashboardRole()
	if dashboardRole == "" {
		return appErrors.Clone(appErrors.ErrUnsupportedRole, fmt.Sprintf("role %q has no dashboard", role))
	}

	l.mu.Lock()
	l.seq++
	seq := l.seq
	l.inflight++
	l.mu.Unlock()
	l.changed()

	var (
		errMu sync.Mutex
		last  error
	)
	fail := func(name collection, err error) {
		l.logger.Warn("dashboard fetch failed",
			zap.String("role", string(dashboardRole)),
			zap.String("collection", string(name)),
			zap.Uint64("seq", seq),
			zap.Error(err),
		)
		errMu.Lock()
		last = &LoadFailure{Role: dashboardRole, Cause: err}
		errMu.Unlock()
	}

	var g errgroup.Group
	switch dashboardRole {
	case models.RoleStudent:
		g.Go(func() error {
			records, err := l.api.MyAttendance(ctx, "")
			if err != nil {
				fail(collectionRecords, err)
				return nil
			}
			l.apply(seq, collectionRecords, func() { l.store.SetRecords(records) })
			return nil
		})
		g.Go(func() error {
			sessions, err := l.api.AvailableSessions(ctx)
			if err != nil {
				fail(collectionSessions, err)
				return nil
			}
			l.apply(seq, collectionSessions, func() { l.store.SetSessions(sessions) })
			return nil
		})
		g.Go(func() error {
			records, err := l.api.MyAttendance(ctx, "")
			if err != nil {
				fail(collectionStats, err)
				return nil
			}
			stats := ComputeStats(records)
			l.apply(seq, collectionStats, func() { l.stats = stats })
			return nil
		})
	case models.RoleLecturer:
		g.Go(func() error {
			courses, err := l.api.MyCourses(ctx)
			if err != nil {
				fail(collectionCourses, err)
				return nil
			}
			active := FlattenActiveSessions(courses)
			applied := l.apply(seq, collectionCourses, func() {
				l.store.SetCourses(courses)
				l.store.SetSessions(active)
			})
			if applied {
				l.reconcile(seq, active)
			}
			return nil
		})
	}
	_ = g.Wait()

	l.finish(seq, last)
	if l.metrics != nil {
		l.metrics.ObserveLoad(dashboardRole, last)
	}
	l.changed()
	return last
}

// FlattenActiveSessions concatenates the active sessions embedded in each course. Courses
// without the field contribute nothing.
func FlattenActiveSessions(courses []models.Course) []models.Session {
	sessions := make([]models.Session, 0)
	for _, course := range courses {
		for _, session := range course.ActiveSessions {
			if session.CourseID == "" {
				session.CourseID = course.ID
			}
			sessions = append(sessions, session)
		}
	}
	return sessions
}

// Status returns the aggregated loading flag, error and derived stats.
func (l *RoleLoader) Status() LoadStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LoadStatus{Loading: l.inflight > 0, Err: l.err, Stats: l.stats}
}

// Reset drops the derived stats and error. Cycles still in flight keep their sequence.
func (l *RoleLoader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = nil
	l.stats = ComputeStats(nil)
}

// setError records a failure raised outside a load cycle, such as a rejected action.
func (l *RoleLoader) setError(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
	l.changed()
}

// apply runs fn under the loader lock unless a newer cycle already wrote the collection.
func (l *RoleLoader) apply(seq uint64, name collection, fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq < l.applied[name] {
		l.logger.Debug("discarding stale response", zap.String("collection", string(name)), zap.Uint64("seq", seq))
		return false
	}
	l.applied[name] = seq
	fn()
	return true
}

// reconcile feeds the listed sessions to the tracker unless a newer cycle already wrote
// the courses or reconciled. It runs outside l.mu because the tracker's change hook reads
// loader status.
func (l *RoleLoader) reconcile(seq uint64, active []models.Session) {
	if l.tracker == nil {
		return
	}
	l.reconcileMu.Lock()
	defer l.reconcileMu.Unlock()

	l.mu.Lock()
	stale := seq < l.applied[collectionCourses]
	l.mu.Unlock()
	if stale || seq < l.reconciled {
		l.logger.Debug("discarding stale reconcile", zap.Uint64("seq", seq))
		return
	}
	l.reconciled = seq
	l.tracker.Reconcile(active)
}

func (l *RoleLoader) finish(seq uint64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inflight--
	if seq > l.settled {
		l.settled = seq
		l.err = err
	}
}

func (l *RoleLoader) changed() {
	l.mu.Lock()
	fn := l.onChange
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}
