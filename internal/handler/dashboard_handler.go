package handler

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/attendance-dashboard/internal/dto"
	"github.com/noah-isme/attendance-dashboard/internal/models"
	"github.com/noah-isme/attendance-dashboard/internal/service"
	appErrors "github.com/noah-isme/attendance-dashboard/pkg/errors"
	"github.com/noah-isme/attendance-dashboard/pkg/response"
)

type exporter interface {
	Export(source service.RecordSource, format service.ExportFormat, courseID models.ID) (*service.ExportFile, error)
}

// DashboardHandler exposes the dashboard action set over HTTP.
type DashboardHandler struct {
	exports        exporter
	maxUploadBytes int64
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(exports exporter, maxUploadBytes int64) *DashboardHandler {
	return &DashboardHandler{exports: exports, maxUploadBytes: maxUploadBytes}
}

// Get godoc
// @Summary Current dashboard state
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /dashboard [get]
func (h *DashboardHandler) Get(c *gin.Context) {
	dashboard := dashboardFromContext(c)
	if dashboard == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	response.OK(c, dashboard.Snapshot())
}

// Refresh godoc
// @Summary Reload the dashboard for the current role
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /dashboard/refresh [post]
func (h *DashboardHandler) Refresh(c *gin.Context) {
	dashboard := dashboardFromContext(c)
	if dashboard == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	start := time.Now()
	if err := dashboard.RefreshData(c.Request.Context()); err != nil {
		var failure *service.LoadFailure
		if errors.As(err, &failure) {
			err = appErrors.Wrap(failure.Cause, appErrors.ErrLoadFailure.Code, appErrors.ErrLoadFailure.Status, failure.Error())
		}
		response.Error(c, err)
		return
	}
	response.OK(c, dashboard.Snapshot(), map[string]interface{}{"processing_time_ms": time.Since(start).Milliseconds()})
}

// MarkAttendance godoc
// @Summary Mark attendance with a face capture
// @Tags Attendance
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Param file formData file true "Face capture (jpeg, png or webp)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /attendance/mark/{sessionId} [post]
func (h *DashboardHandler) MarkAttendance(c *gin.Context) {
	dashboard := dashboardFromContext(c)
	if dashboard == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	image, filename, err := h.readCapture(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := dashboard.MarkAttendance(c.Request.Context(), service.MarkAttendanceRequest{
		SessionID: models.ID(c.Param("sessionId")),
		Image:     image,
		Filename:  filename,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.MarkAttendanceResponse{Result: *result, Stats: dashboard.Snapshot().Stats})
}

func (h *DashboardHandler) readCapture(c *gin.Context) ([]byte, string, error) {
	header, err := c.FormFile("file")
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if h.maxUploadBytes > 0 && header.Size > h.maxUploadBytes {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("image exceeds %d bytes", h.maxUploadBytes))
	}
	file, err := header.Open()
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unreadable upload")
	}
	defer file.Close()

	var reader io.Reader = file
	if h.maxUploadBytes > 0 {
		reader = io.LimitReader(file, h.maxUploadBytes+1)
	}
	image, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unreadable upload")
	}
	return image, header.Filename, nil
}

// Stats godoc
// @Summary Attendance stats, optionally for one course
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param course_id query string false "Course ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/stats [get]
func (h *DashboardHandler) Stats(c *gin.Context) {
	dashboard := dashboardFromContext(c)
	if dashboard == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	courseID := models.ID(strings.TrimSpace(c.Query("course_id")))
	response.OK(c, dashboard.StatsForCourse(courseID))
}

// Activate godoc
// @Summary Open a session for marking
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{sessionId}/activate [post]
func (h *DashboardHandler) Activate(c *gin.Context) {
	dashboard := dashboardFromContext(c)
	if dashboard == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	activation, err := dashboard.ActivateSession(c.Request.Context(), models.ID(c.Param("sessionId")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.SessionActivationResponse{Activation: activation})
}

// Deactivate godoc
// @Summary Close a session
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{sessionId}/deactivate [post]
func (h *DashboardHandler) Deactivate(c *gin.Context) {
	dashboard := dashboardFromContext(c)
	if dashboard == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	activation, err := dashboard.DeactivateSession(c.Request.Context(), models.ID(c.Param("sessionId")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.SessionActivationResponse{Activation: activation})
}

// CourseAnalytics godoc
// @Summary Course analytics for lecturers
// @Tags Analytics
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{courseId}/analytics [get]
func (h *DashboardHandler) CourseAnalytics(c *gin.Context) {
	dashboard := dashboardFromContext(c)
	if dashboard == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := dashboard.LoadCourseAnalytics(c.Request.Context(), models.ID(c.Param("courseId")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result, map[string]interface{}{"source": result.Source})
}

// Summary godoc
// @Summary Today, weekly or monthly attendance summary
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param view path string true "today, weekly or monthly"
// @Success 200 {object} response.Envelope
// @Router /summary/{view} [get]
func (h *DashboardHandler) Summary(c *gin.Context) {
	dashboard := dashboardFromContext(c)
	if dashboard == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	view := models.SummaryView(strings.ToLower(c.Param("view")))
	summary, err := dashboard.LoadSummary(c.Request.Context(), view)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, summary)
}

// Export godoc
// @Summary Download attendance history
// @Tags Attendance
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param format query string false "csv or pdf" default(csv)
// @Param course_id query string false "Course ID"
// @Success 200 {file} file
// @Router /attendance/export [get]
func (h *DashboardHandler) Export(c *gin.Context) {
	dashboard := dashboardFromContext(c)
	if dashboard == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if h.exports == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	format := service.ExportFormat(c.DefaultQuery("format", string(service.ExportFormatCSV)))
	file, err := h.exports.Export(dashboard, format, models.ID(strings.TrimSpace(c.Query("course_id"))))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Payload)
}
