package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/attendance-dashboard/internal/dto"
	"github.com/noah-isme/attendance-dashboard/internal/models"
	"github.com/noah-isme/attendance-dashboard/internal/repository"
	appErrors "github.com/noah-isme/attendance-dashboard/pkg/errors"
)

// DashboardAPI is the slice of the attendance backend a dashboard talks to.
type DashboardAPI interface {
	loaderAPI
	MarkAttendance(ctx context.Context, sessionID models.ID, image []byte, filename, contentType string) (*models.MarkAttendanceResult, error)
	CourseAnalytics(ctx context.Context, courseID models.ID) (*models.CourseAnalytics, error)
	ActivateSession(ctx context.Context, sessionID models.ID) error
	DeactivateSession(ctx context.Context, sessionID models.ID) error
	Today(ctx context.Context) (*models.TodayAttendance, error)
	WeeklyStats(ctx context.Context) (*models.WeeklyStats, error)
	MonthlyStats(ctx context.Context) (*models.MonthlyStats, error)
}

type dashboardMetrics interface {
	mutationObserver
	loadObserver
}

var allowedImageTypes = []string{"image/jpeg", "image/png", "image/webp"}

// DashboardConfig tunes dashboard behaviour.
type DashboardConfig struct {
	AnalyticsFallback bool
	MaxUploadBytes    int64
}

// DashboardParams groups the collaborators of a Dashboard.
type DashboardParams struct {
	Identity  models.Identity
	API       DashboardAPI
	Validator *validator.Validate
	Metrics   dashboardMetrics
	Logger    *zap.Logger
	Config    DashboardConfig
	Now       func() time.Time
}

// MarkAttendanceRequest carries one face capture upload.
type MarkAttendanceRequest struct {
	SessionID models.ID `validate:"required"`
	Image     []byte    `validate:"required"`
	Filename  string
}

// Dashboard is the state coordinator of one signed-in user. It owns every collection it
// exposes; consumers read copies through Snapshot and mutate only through its actions.
type Dashboard struct {
	identity  models.Identity
	api       DashboardAPI
	validator *validator.Validate
	logger    *zap.Logger
	cfg       DashboardConfig
	now       func() time.Time

	store     *repository.RecordStore
	analytics *repository.AnalyticsCache
	tracker   *SessionTracker
	loader    *RoleLoader

	mu          sync.RWMutex
	summary     models.Summary
	marking     map[models.ID]struct{}
	closed      bool
	subscribers map[int]func(dto.DashboardSnapshot)
	nextSub     int
}

// NewDashboard wires a dashboard for the given identity.
func NewDashboard(params DashboardParams) *Dashboard {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("dashboard_id", params.Identity.DashboardID))
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	var mutations mutationObserver
	var loads loadObserver
	if params.Metrics != nil {
		mutations = params.Metrics
		loads = params.Metrics
	}

	store := repository.NewRecordStore()
	tracker := NewSessionTracker(mutations, logger, now)
	d := &Dashboard{
		identity:    params.Identity,
		api:         params.API,
		validator:   validate,
		logger:      logger,
		cfg:         params.Config,
		now:         now,
		store:       store,
		analytics:   repository.NewAnalyticsCache(),
		tracker:     tracker,
		loader:      NewRoleLoader(params.API, store, tracker, loads, logger),
		marking:     make(map[models.ID]struct{}),
		subscribers: make(map[int]func(dto.DashboardSnapshot)),
	}
	tracker.OnChange(d.notify)
	d.loader.OnChange(d.notify)
	return d
}

// Identity returns the signed-in identity.
func (d *Dashboard) Identity() models.Identity {
	return d.identity
}

// RefreshData reloads the collections of the current role.
func (d *Dashboard) RefreshData(ctx context.Context) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.loader.LoadForRole(ctx, d.identity.Role())
}

// MarkAttendance uploads a face capture and then reloads the student dashboard once.
// Backend rejections are returned with their message unchanged.
func (d *Dashboard) MarkAttendance(ctx context.Context, req MarkAttendanceRequest) (*models.MarkAttendanceResult, error) {
	if err := d.requireRole(models.RoleStudent); err != nil {
		return nil, err
	}
	detected, err := d.validateCapture(req)
	if err != nil {
		return nil, d.fail(err)
	}
	if err := d.beginMark(req.SessionID); err != nil {
		return nil, d.fail(err)
	}
	defer d.endMark(req.SessionID)

	filename := req.Filename
	if filename == "" {
		filename = "capture" + detected.Extension()
	}

	result, err := d.api.MarkAttendance(ctx, req.SessionID, req.Image, filename, detected.String())
	if err != nil {
		d.logger.Warn("mark attendance rejected", zap.String("session_id", string(req.SessionID)), zap.Error(err))
		return nil, d.fail(err)
	}

	if err := d.loader.LoadForRole(ctx, models.RoleStudent); err != nil {
		d.logger.Warn("reload after mark failed", zap.Error(err))
	}
	return result, nil
}

func (d *Dashboard) validateCapture(req MarkAttendanceRequest) (*mimetype.MIME, error) {
	if err := d.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "session id and image are required")
	}
	if d.cfg.MaxUploadBytes > 0 && int64(len(req.Image)) > d.cfg.MaxUploadBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("image exceeds %d bytes", d.cfg.MaxUploadBytes))
	}
	detected := mimetype.Detect(req.Image)
	if !mimetype.EqualsAny(detected.String(), allowedImageTypes...) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported image type %s", detected.String()))
	}
	return detected, nil
}

func (d *Dashboard) beginMark(sessionID models.ID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.marking[sessionID]; busy {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("attendance for session %s is already being marked", sessionID))
	}
	if d.store.HasCompletedRecord(sessionID) {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("attendance for session %s is already recorded", sessionID))
	}
	d.marking[sessionID] = struct{}{}
	return nil
}

func (d *Dashboard) endMark(sessionID models.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.marking, sessionID)
}

// ActivateSession opens a session for marking and refreshes the lecturer's session list.
func (d *Dashboard) ActivateSession(ctx context.Context, sessionID models.ID) (models.SessionActivation, error) {
	return d.transition(ctx, sessionID, models.MutationActivate)
}

// DeactivateSession closes a session and refreshes the lecturer's session list.
func (d *Dashboard) DeactivateSession(ctx context.Context, sessionID models.ID) (models.SessionActivation, error) {
	return d.transition(ctx, sessionID, models.MutationDeactivate)
}

func (d *Dashboard) transition(ctx context.Context, sessionID models.ID, kind models.MutationKind) (models.SessionActivation, error) {
	if err := d.requireRole(models.RoleLecturer); err != nil {
		return models.SessionActivation{}, err
	}
	if sessionID == "" {
		return models.SessionActivation{}, appErrors.Clone(appErrors.ErrValidation, "session id is required")
	}

	var err error
	switch kind {
	case models.MutationActivate:
		err = d.tracker.Activate(ctx, sessionID, func(ctx context.Context) error {
			return d.api.ActivateSession(ctx, sessionID)
		})
	case models.MutationDeactivate:
		err = d.tracker.Deactivate(ctx, sessionID, func(ctx context.Context) error {
			return d.api.DeactivateSession(ctx, sessionID)
		})
	}
	if err != nil {
		activation, _ := d.tracker.Get(sessionID)
		return activation, d.fail(err)
	}

	if err := d.loader.LoadForRole(ctx, models.RoleLecturer); err != nil {
		d.logger.Warn("reload after session transition failed", zap.Error(err))
	}
	activation, _ := d.tracker.Get(sessionID)
	return activation, nil
}

// LoadCourseAnalytics fetches analytics for a course and replaces the cached entry. When
// the fallback is enabled an unreachable or failing backend yields an empty payload marked
// as fallback instead of an error.
func (d *Dashboard) LoadCourseAnalytics(ctx context.Context, courseID models.ID) (models.AnalyticsResult, error) {
	if err := d.requireRole(models.RoleLecturer); err != nil {
		return models.AnalyticsResult{}, err
	}
	if courseID == "" {
		return models.AnalyticsResult{}, appErrors.Clone(appErrors.ErrValidation, "course id is required")
	}

	analytics, err := d.api.CourseAnalytics(ctx, courseID)
	if err != nil {
		if !d.cfg.AnalyticsFallback || !fallbackEligible(err) {
			return models.AnalyticsResult{}, d.fail(err)
		}
		d.logger.Warn("serving fallback analytics", zap.String("course_id", string(courseID)), zap.Error(err))
		result := models.AnalyticsResult{
			Source:    models.AnalyticsSourceFallback,
			Analytics: models.EmptyCourseAnalytics(courseID),
			FetchedAt: d.now(),
			Reason:    err.Error(),
		}
		d.analytics.Put(courseID, result)
		d.notify()
		return result, nil
	}

	result := models.AnalyticsResult{
		Source:    models.AnalyticsSourceBackend,
		Analytics: *analytics,
		FetchedAt: d.now(),
	}
	d.analytics.Put(courseID, result)
	d.notify()
	return result, nil
}

// fallbackEligible accepts transport failures and backend errors that say nothing about
// the request itself.
func fallbackEligible(err error) bool {
	appErr := appErrors.FromError(err)
	switch appErr.Code {
	case appErrors.ErrNetwork.Code:
		return true
	case appErrors.ErrBackend.Code:
		return appErr.Status >= http.StatusInternalServerError || appErr.Status == http.StatusNotFound
	default:
		return false
	}
}

// LoadSummary fetches one of the summary views and keeps it alongside earlier ones.
func (d *Dashboard) LoadSummary(ctx context.Context, view models.SummaryView) (models.Summary, error) {
	if err := d.checkOpen(); err != nil {
		return models.Summary{}, err
	}
	if !view.Valid() {
		return models.Summary{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown summary view %q", view))
	}

	var err error
	switch view {
	case models.SummaryToday:
		var today *models.TodayAttendance
		if today, err = d.api.Today(ctx); err == nil {
			d.mu.Lock()
			d.summary.Today = today
			d.mu.Unlock()
		}
	case models.SummaryWeekly:
		var weekly *models.WeeklyStats
		if weekly, err = d.api.WeeklyStats(ctx); err == nil {
			d.mu.Lock()
			d.summary.Weekly = weekly
			d.mu.Unlock()
		}
	case models.SummaryMonthly:
		var monthly *models.MonthlyStats
		if monthly, err = d.api.MonthlyStats(ctx); err == nil {
			d.mu.Lock()
			d.summary.Monthly = monthly
			d.mu.Unlock()
		}
	}
	if err != nil {
		return models.Summary{}, d.fail(err)
	}

	d.notify()
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.summary, nil
}

// StatsForCourse recomputes stats over the records of one course. An empty id covers all records.
func (d *Dashboard) StatsForCourse(courseID models.ID) models.AttendanceStats {
	if courseID == "" {
		return ComputeStats(d.store.Records())
	}
	return ComputeStats(d.store.RecordsForCourse(courseID))
}

// Records returns the student's attendance records in backend order.
func (d *Dashboard) Records() []models.AttendanceRecord {
	return d.store.Records()
}

// Activation returns the tracked activation of a session.
func (d *Dashboard) Activation(sessionID models.ID) models.SessionActivation {
	if activation, ok := d.tracker.Get(sessionID); ok {
		return activation
	}
	return models.SessionActivation{SessionID: sessionID, State: models.ActivationInactive}
}

// Snapshot returns a copy of the dashboard state.
func (d *Dashboard) Snapshot() dto.DashboardSnapshot {
	status := d.loader.Status()

	sessions := d.store.Sessions()
	for i := range sessions {
		sessions[i].ActivationState = d.tracker.State(sessions[i].ID)
	}

	snapshot := dto.DashboardSnapshot{
		DashboardID: d.identity.DashboardID,
		User:        d.identity.User,
		Role:        d.identity.Role(),
		Records:     d.store.Records(),
		Sessions:    sessions,
		Courses:     d.store.Courses(),
		Stats:       status.Stats,
		Activations: d.tracker.Snapshot(),
		Analytics:   d.analytics.All(),
		Loading:     status.Loading,
		GeneratedAt: d.now(),
	}
	if status.Err != nil {
		snapshot.Error = status.Err.Error()
	}

	d.mu.RLock()
	snapshot.Summary = d.summary
	d.mu.RUnlock()
	return snapshot
}

// Subscribe registers fn to receive a fresh snapshot after every state change. The
// returned function removes the subscription. fn may be called concurrently from the
// goroutines of in-flight fetches and actions, so it must guard its own state, and
// snapshots can arrive out of order; compare GeneratedAt when that matters.
func (d *Dashboard) Subscribe(fn func(dto.DashboardSnapshot)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	d.subscribers[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subscribers, id)
	}
}

// Close tears the dashboard down. Every later action fails with ErrSessionClosed.
func (d *Dashboard) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.subscribers = make(map[int]func(dto.DashboardSnapshot))
	d.summary = models.Summary{}
	d.mu.Unlock()

	d.store.Reset()
	d.analytics.Clear()
	d.tracker.Reset()
	d.loader.Reset()
	d.logger.Debug("dashboard closed")
}

// Closed reports whether Close has been called.
func (d *Dashboard) Closed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

func (d *Dashboard) checkOpen() error {
	if d.Closed() {
		return appErrors.ErrSessionClosed
	}
	return nil
}

func (d *Dashboard) requireRole(role models.UserRole) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if d.identity.Role() != role {
		return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("action requires the %s dashboard", role))
	}
	return nil
}

// fail records err as the dashboard error and returns it unchanged.
func (d *Dashboard) fail(err error) error {
	d.loader.setError(err)
	return err
}

func (d *Dashboard) notify() {
	d.mu.RLock()
	if d.closed || len(d.subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	subscribers := make([]func(dto.DashboardSnapshot), 0, len(d.subscribers))
	for _, fn := range d.subscribers {
		subscribers = append(subscribers, fn)
	}
	d.mu.RUnlock()

	snapshot := d.Snapshot()
	for _, fn := range subscribers {
		fn(snapshot)
	}
}
