package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/attendance-dashboard/internal/models"
	"github.com/noah-isme/attendance-dashboard/pkg/config"
	appErrors "github.com/noah-isme/attendance-dashboard/pkg/errors"
	"github.com/noah-isme/attendance-dashboard/pkg/middleware/requestid"
)

// Endpoint labels double as metric label values, so they use path templates.
const (
	EndpointMark              = "/attendance/mark/{sessionId}"
	EndpointMyAttendance      = "/attendance/student/my-attendance"
	EndpointAvailableSessions = "/attendance/student/available-sessions"
	EndpointMyCourses         = "/courses/my-courses"
	EndpointCourseAnalytics   = "/attendance/course/{courseId}/analytics"
	EndpointActivate          = "/attendance/session/{sessionId}/activate"
	EndpointDeactivate        = "/attendance/session/{sessionId}/deactivate"
	EndpointToday             = "/attendance/today"
	EndpointWeeklyStats       = "/attendance/weekly-stats"
	EndpointMonthlyStats      = "/attendance/monthly-stats"
)

const maxErrorBody = 64 * 1024

type backendObserver interface {
	ObserveBackendCall(method, endpoint string, status int, duration time.Duration, err error)
}

// APIClient is the shared transport to the attendance backend.
type APIClient struct {
	baseURL string
	http    *http.Client
	metrics backendObserver
	logger  *zap.Logger
}

// NewAPIClient constructs a client. A nil httpClient gets a default honouring cfg.Timeout.
func NewAPIClient(cfg config.BackendConfig, httpClient *http.Client, metrics backendObserver, logger *zap.Logger) *APIClient {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		metrics: metrics,
		logger:  logger,
	}
}

// ForToken returns a view of the backend authenticated as the given bearer token.
func (c *APIClient) ForToken(token string) *AttendanceAPI {
	return &AttendanceAPI{client: c, token: token}
}

// AttendanceAPI issues backend calls on behalf of one signed-in user.
type AttendanceAPI struct {
	client *APIClient
	token  string
}

// MarkAttendance uploads a face capture for the session.
func (a *AttendanceAPI) MarkAttendance(ctx context.Context, sessionID models.ID, image []byte, filename, contentType string) (*models.MarkAttendanceResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("write multipart image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	path := "/attendance/mark/" + url.PathEscape(sessionID.String())
	var result models.MarkAttendanceResult
	if err := a.do(ctx, http.MethodPost, EndpointMark, path, body, writer.FormDataContentType(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// MyAttendance returns the student's records, optionally narrowed to one course.
func (a *AttendanceAPI) MyAttendance(ctx context.Context, courseID models.ID) ([]models.AttendanceRecord, error) {
	path := EndpointMyAttendance
	if courseID != "" {
		path += "?" + url.Values{"course_id": {courseID.String()}}.Encode()
	}
	var raw json.RawMessage
	if err := a.do(ctx, http.MethodGet, EndpointMyAttendance, path, nil, "", &raw); err != nil {
		return nil, err
	}
	var records []models.AttendanceRecord
	if err := decodeCollection(raw, &records, "records", "attendance", "data"); err != nil {
		return nil, malformed(EndpointMyAttendance, err)
	}
	return records, nil
}

// AvailableSessions returns sessions the student may currently mark.
func (a *AttendanceAPI) AvailableSessions(ctx context.Context) ([]models.Session, error) {
	var raw json.RawMessage
	if err := a.do(ctx, http.MethodGet, EndpointAvailableSessions, EndpointAvailableSessions, nil, "", &raw); err != nil {
		return nil, err
	}
	var sessions []models.Session
	if err := decodeCollection(raw, &sessions, "sessions", "data"); err != nil {
		return nil, malformed(EndpointAvailableSessions, err)
	}
	return sessions, nil
}

// MyCourses returns the lecturer's courses with their embedded active sessions.
func (a *AttendanceAPI) MyCourses(ctx context.Context) ([]models.Course, error) {
	var raw json.RawMessage
	if err := a.do(ctx, http.MethodGet, EndpointMyCourses, EndpointMyCourses, nil, "", &raw); err != nil {
		return nil, err
	}
	var courses []models.Course
	if err := decodeCollection(raw, &courses, "courses", "data"); err != nil {
		return nil, malformed(EndpointMyCourses, err)
	}
	return courses, nil
}

// CourseAnalytics returns the analytics payload for a course.
func (a *AttendanceAPI) CourseAnalytics(ctx context.Context, courseID models.ID) (*models.CourseAnalytics, error) {
	path := "/attendance/course/" + url.PathEscape(courseID.String()) + "/analytics"
	var raw json.RawMessage
	if err := a.do(ctx, http.MethodGet, EndpointCourseAnalytics, path, nil, "", &raw); err != nil {
		return nil, err
	}
	analytics := models.EmptyCourseAnalytics(courseID)
	if err := decodeObject(raw, &analytics, "analytics", "data"); err != nil {
		return nil, malformed(EndpointCourseAnalytics, err)
	}
	if analytics.CourseID == "" {
		analytics.CourseID = courseID
	}
	return &analytics, nil
}

// ActivateSession opens a session for marking.
func (a *AttendanceAPI) ActivateSession(ctx context.Context, sessionID models.ID) error {
	path := "/attendance/session/" + url.PathEscape(sessionID.String()) + "/activate"
	return a.do(ctx, http.MethodPost, EndpointActivate, path, nil, "", nil)
}

// DeactivateSession closes a session.
func (a *AttendanceAPI) DeactivateSession(ctx context.Context, sessionID models.ID) error {
	path := "/attendance/session/" + url.PathEscape(sessionID.String()) + "/deactivate"
	return a.do(ctx, http.MethodPost, EndpointDeactivate, path, nil, "", nil)
}

// Today returns today's record for the user.
func (a *AttendanceAPI) Today(ctx context.Context) (*models.TodayAttendance, error) {
	var raw json.RawMessage
	if err := a.do(ctx, http.MethodGet, EndpointToday, EndpointToday, nil, "", &raw); err != nil {
		return nil, err
	}
	var today models.TodayAttendance
	if err := decodeObject(raw, &today, "attendance"); err != nil {
		return nil, malformed(EndpointToday, err)
	}
	return &today, nil
}

// WeeklyStats returns the current week's statistics.
func (a *AttendanceAPI) WeeklyStats(ctx context.Context) (*models.WeeklyStats, error) {
	var stats models.WeeklyStats
	if err := a.do(ctx, http.MethodGet, EndpointWeeklyStats, EndpointWeeklyStats, nil, "", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// MonthlyStats returns the current month's statistics.
func (a *AttendanceAPI) MonthlyStats(ctx context.Context) (*models.MonthlyStats, error) {
	var stats models.MonthlyStats
	if err := a.do(ctx, http.MethodGet, EndpointMonthlyStats, EndpointMonthlyStats, nil, "", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (a *AttendanceAPI) do(ctx context.Context, method, endpoint, path string, body io.Reader, contentType string, dest interface{}) error {
	c := a.client
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "build backend request")
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	} else if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	if reqID := requestid.FromContext(ctx); reqID != "" {
		req.Header.Set(requestid.HeaderKey, reqID)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(method, endpoint, 0, start, err)
		c.logger.Warn("backend call failed", zap.String("method", method), zap.String("endpoint", endpoint), zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrNetwork.Code, appErrors.ErrNetwork.Status, appErrors.ErrNetwork.Message)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		backendErr := appErrors.Backend(resp.StatusCode, errorMessage(payload))
		c.observe(method, endpoint, resp.StatusCode, start, backendErr)
		c.logger.Info("backend rejected request",
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.String("message", backendErr.Message),
		)
		return backendErr
	}
	c.observe(method, endpoint, resp.StatusCode, start, nil)

	if dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		if err == io.EOF {
			return nil
		}
		return malformed(endpoint, err)
	}
	return nil
}

func (c *APIClient) observe(method, endpoint string, status int, start time.Time, err error) {
	if c.metrics != nil {
		c.metrics.ObserveBackendCall(method, endpoint, status, time.Since(start), err)
	}
}

func malformed(endpoint string, err error) error {
	return appErrors.Wrap(err, appErrors.ErrBackend.Code, appErrors.ErrBackend.Status, fmt.Sprintf("malformed response from %s", endpoint))
}

// errorMessage extracts the human readable message from a backend error body.
// FastAPI emits {"detail": "..."} or {"detail": [{"msg": "..."}]}; the global handlers
// emit {"success": false, "message": "...", "error": "..."}.
func errorMessage(payload []byte) string {
	var body struct {
		Detail  json.RawMessage `json:"detail"`
		Message json.RawMessage `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return strings.TrimSpace(string(payload))
	}
	for _, field := range []json.RawMessage{body.Detail, body.Message, body.Error} {
		if msg := messageOf(field); msg != "" {
			return msg
		}
	}
	return ""
}

// messageOf reads a message given as a string, an object with message or msg, or a list of those.
func messageOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}
	type item struct {
		Message string `json:"message"`
		Msg     string `json:"msg"`
	}
	var obj item
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		return obj.Msg
	}
	var items []item
	if err := json.Unmarshal(raw, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			switch {
			case it.Msg != "":
				msgs = append(msgs, it.Msg)
			case it.Message != "":
				msgs = append(msgs, it.Message)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}

// decodeCollection accepts a bare JSON array or an object wrapping the array under one of keys.
func decodeCollection(raw json.RawMessage, dest interface{}, keys ...string) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '[' {
		return json.Unmarshal(trimmed, dest)
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return err
	}
	for _, key := range keys {
		if inner, ok := wrapper[key]; ok {
			return decodeCollection(inner, dest)
		}
	}
	return fmt.Errorf("no collection under keys %v", keys)
}

// decodeObject accepts a bare object or one wrapped under one of keys.
func decodeObject(raw json.RawMessage, dest interface{}, keys ...string) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return err
	}
	for _, key := range keys {
		if inner, ok := wrapper[key]; ok && len(wrapper) == 1 {
			return json.Unmarshal(inner, dest)
		}
	}
	return json.Unmarshal(trimmed, dest)
}
