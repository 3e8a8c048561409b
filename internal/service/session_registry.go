package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/attendance-dashboard/internal/models"
	appErrors "github.com/noah-isme/attendance-dashboard/pkg/errors"
)

// IdentityStore persists signed-in identities keyed by token hash.
type IdentityStore interface {
	Get(ctx context.Context, key string) (*models.Identity, error)
	Set(ctx context.Context, key string, identity models.Identity, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type registryMetrics interface {
	dashboardMetrics
	RecordIdentityLookup(hit bool)
	SetActiveDashboards(n int)
}

// APIFactory builds a backend client authenticated with an access token.
type APIFactory func(accessToken string) DashboardAPI

// SessionRegistryConfig tunes identity storage and dashboard creation.
type SessionRegistryConfig struct {
	IdentityTTL           time.Duration
	InitialRefreshTimeout time.Duration
	Dashboard             DashboardConfig
}

// SessionRegistry maps access tokens to live dashboards. Identities are persisted in the
// identity store so a dashboard can be rebuilt after a restart.
type SessionRegistry struct {
	store     IdentityStore
	newAPI    APIFactory
	validator *validator.Validate
	metrics   registryMetrics
	logger    *zap.Logger
	cfg       SessionRegistryConfig
	now       func() time.Time

	mu         sync.Mutex
	dashboards map[string]*Dashboard
}

// NewSessionRegistry constructs a registry.
func NewSessionRegistry(store IdentityStore, newAPI APIFactory, validate *validator.Validate, metrics registryMetrics, logger *zap.Logger, cfg SessionRegistryConfig) *SessionRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	RegisterValidations(validate)
	if cfg.IdentityTTL <= 0 {
		cfg.IdentityTTL = 8 * time.Hour
	}
	if cfg.InitialRefreshTimeout <= 0 {
		cfg.InitialRefreshTimeout = 10 * time.Second
	}
	return &SessionRegistry{
		store:      store,
		newAPI:     newAPI,
		validator:  validate,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
		dashboards: make(map[string]*Dashboard),
	}
}

// RegisterValidations adds the custom tags used by dashboard models.
func RegisterValidations(validate *validator.Validate) {
	_ = validate.RegisterValidation("user_role", func(fl validator.FieldLevel) bool {
		return models.UserRole(fl.Field().String()).Valid()
	})
}

// SignIn validates the backend login response, stores the identity and builds a dashboard
// with an initial refresh. A failed refresh does not fail sign in; it shows up as the
// dashboard error.
func (r *SessionRegistry) SignIn(ctx context.Context, req models.SignInRequest) (*Dashboard, error) {
	if err := r.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "access token and user are required")
	}

	now := r.now()
	expiresAt, err := r.tokenExpiry(req, now)
	if err != nil {
		return nil, err
	}

	ttl := r.cfg.IdentityTTL
	if remaining := expiresAt.Sub(now); remaining < ttl {
		ttl = remaining
	}
	identity := models.Identity{
		DashboardID: uuid.NewString(),
		User:        req.User,
		AccessToken: req.AccessToken,
		ExpiresAt:   expiresAt,
		SignedInAt:  now,
	}

	key := tokenKey(req.AccessToken)
	stored := identity
	stored.AccessToken = ""
	if err := r.store.Set(ctx, key, stored, ttl); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store identity")
	}

	dashboard := r.newDashboard(identity)
	r.mu.Lock()
	previous := r.dashboards[key]
	r.dashboards[key] = dashboard
	count := len(r.dashboards)
	r.mu.Unlock()
	if previous != nil {
		previous.Close()
	}
	r.publishCount(count)

	r.logger.Info("dashboard signed in",
		zap.String("dashboard_id", identity.DashboardID),
		zap.String("user_id", string(identity.User.ID)),
		zap.String("role", string(identity.User.Role)),
	)
	r.initialRefresh(ctx, dashboard)
	return dashboard, nil
}

// tokenExpiry reads the backend's claims without verifying the signature; the backend
// remains the authority on every call.
func (r *SessionRegistry) tokenExpiry(req models.SignInRequest, now time.Time) (time.Time, error) {
	claims := &models.AccessTokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(req.AccessToken, claims); err != nil {
		return time.Time{}, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "malformed access token")
	}
	if claims.UserID != "" && claims.UserID != req.User.ID {
		return time.Time{}, appErrors.Clone(appErrors.ErrUnauthorized, "access token does not belong to user")
	}
	if claims.ExpiresAt == nil {
		return now.Add(r.cfg.IdentityTTL), nil
	}
	expiresAt := claims.ExpiresAt.Time
	if !expiresAt.After(now) {
		return time.Time{}, appErrors.Clone(appErrors.ErrUnauthorized, "access token expired")
	}
	return expiresAt, nil
}

// Resolve returns the dashboard of an access token, rebuilding it from the identity store
// when this process has not seen the token yet.
func (r *SessionRegistry) Resolve(ctx context.Context, accessToken string) (*Dashboard, error) {
	if accessToken == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing access token")
	}
	key := tokenKey(accessToken)

	r.mu.Lock()
	dashboard, ok := r.dashboards[key]
	r.mu.Unlock()
	if ok {
		if r.expired(dashboard.Identity()) {
			_ = r.SignOut(ctx, accessToken)
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "access token expired")
		}
		return dashboard, nil
	}

	identity, err := r.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, appErrors.ErrCacheMiss) {
			r.recordLookup(false)
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "no dashboard session for token")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load identity")
	}
	r.recordLookup(true)
	if r.expired(*identity) {
		_ = r.store.Delete(ctx, key)
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "access token expired")
	}
	identity.AccessToken = accessToken

	rebuilt := r.newDashboard(*identity)
	r.mu.Lock()
	if existing, raced := r.dashboards[key]; raced {
		r.mu.Unlock()
		rebuilt.Close()
		return existing, nil
	}
	r.dashboards[key] = rebuilt
	count := len(r.dashboards)
	r.mu.Unlock()
	r.publishCount(count)

	r.logger.Info("dashboard restored from identity store", zap.String("dashboard_id", identity.DashboardID))
	r.initialRefresh(ctx, rebuilt)
	return rebuilt, nil
}

// SignOut tears down the token's dashboard and forgets its identity.
func (r *SessionRegistry) SignOut(ctx context.Context, accessToken string) error {
	key := tokenKey(accessToken)

	r.mu.Lock()
	dashboard, ok := r.dashboards[key]
	delete(r.dashboards, key)
	count := len(r.dashboards)
	r.mu.Unlock()

	if ok {
		dashboard.Close()
		r.publishCount(count)
	}
	if err := r.store.Delete(ctx, key); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete identity")
	}
	return nil
}

// Count returns the number of live dashboards.
func (r *SessionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.dashboards)
}

// CloseAll closes every dashboard without touching the identity store.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	dashboards := r.dashboards
	r.dashboards = make(map[string]*Dashboard)
	r.mu.Unlock()

	for _, dashboard := range dashboards {
		dashboard.Close()
	}
	r.publishCount(0)
}

func (r *SessionRegistry) newDashboard(identity models.Identity) *Dashboard {
	var metrics dashboardMetrics
	if r.metrics != nil {
		metrics = r.metrics
	}
	return NewDashboard(DashboardParams{
		Identity:  identity,
		API:       r.newAPI(identity.AccessToken),
		Validator: r.validator,
		Metrics:   metrics,
		Logger:    r.logger,
		Config:    r.cfg.Dashboard,
		Now:       r.now,
	})
}

func (r *SessionRegistry) initialRefresh(ctx context.Context, dashboard *Dashboard) {
	refreshCtx, cancel := context.WithTimeout(ctx, r.cfg.InitialRefreshTimeout)
	defer cancel()
	if err := dashboard.RefreshData(refreshCtx); err != nil {
		r.logger.Warn("initial dashboard refresh failed",
			zap.String("dashboard_id", dashboard.Identity().DashboardID),
			zap.Error(err),
		)
	}
}

func (r *SessionRegistry) expired(identity models.Identity) bool {
	return !identity.ExpiresAt.IsZero() && !r.now().Before(identity.ExpiresAt)
}

func (r *SessionRegistry) recordLookup(hit bool) {
	if r.metrics != nil {
		r.metrics.RecordIdentityLookup(hit)
	}
}

func (r *SessionRegistry) publishCount(n int) {
	if r.metrics != nil {
		r.metrics.SetActiveDashboards(n)
	}
}

// tokenKey keeps raw access tokens out of the identity store keys.
func tokenKey(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return hex.EncodeToString(sum[:])
}
