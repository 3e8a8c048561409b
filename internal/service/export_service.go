package service

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/attendance-dashboard/internal/models"
	appErrors "github.com/noah-isme/attendance-dashboard/pkg/errors"
	"github.com/noah-isme/attendance-dashboard/pkg/export"
)

// ExportFormat selects the rendered file type.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

type renderer interface {
	ContentType() string
	Extension() string
	Render(data export.Dataset, title string) ([]byte, error)
}

// RecordSource is anything holding a signed-in identity and its attendance records.
type RecordSource interface {
	Identity() models.Identity
	Records() []models.AttendanceRecord
}

// ExportFile is a rendered attendance history ready for download.
type ExportFile struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// ExportService renders a student's attendance history with its stats summary.
type ExportService struct {
	renderers map[ExportFormat]renderer
	logger    *zap.Logger
	now       func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers use the pkg/export defaults.
func NewExportService(logger *zap.Logger, csv, pdf renderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		renderers: map[ExportFormat]renderer{ExportFormatCSV: csv, ExportFormatPDF: pdf},
		logger:    logger,
		now:       time.Now,
	}
}

// Export renders the records of the source, optionally limited to one course.
func (s *ExportService) Export(source RecordSource, format ExportFormat, courseID models.ID) (*ExportFile, error) {
	r, ok := s.renderers[ExportFormat(strings.ToLower(string(format)))]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	identity := source.Identity()
	if identity.Role() != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can export attendance history")
	}

	records := source.Records()
	if courseID != "" {
		filtered := records[:0]
		for _, record := range records {
			if record.CourseID == courseID {
				filtered = append(filtered, record)
			}
		}
		records = filtered
	}

	title := fmt.Sprintf("Attendance history - %s", identity.User.FullName)
	payload, err := r.Render(buildRecordDataset(records), title)
	if err != nil {
		s.logger.Error("render attendance export", zap.String("format", string(format)), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	return &ExportFile{
		Filename:    s.filename(identity, courseID, r.Extension()),
		ContentType: r.ContentType(),
		Payload:     payload,
	}, nil
}

func buildRecordDataset(records []models.AttendanceRecord) export.Dataset {
	stats := ComputeStats(records)
	dataset := export.Dataset{
		Headers: []string{"Date", "Course", "Session", "Status"},
		Rows:    make([]map[string]string, 0, len(records)),
		Summary: []string{
			fmt.Sprintf("Total sessions: %d", stats.TotalSessions),
			fmt.Sprintf("Present: %d  Late: %d  Absent: %d", stats.PresentSessions, stats.LateSessions, stats.AbsentSessions),
			fmt.Sprintf("Attendance rate: %d%% (%s)", stats.AttendanceRate, stats.Status),
		},
	}
	for _, record := range records {
		date := ""
		if !record.Timestamp.IsZero() {
			date = record.Timestamp.Format("2006-01-02 15:04")
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Date":    date,
			"Course":  string(record.CourseID),
			"Session": string(record.SessionID),
			"Status":  string(record.Status),
		})
	}
	return dataset
}

func (s *ExportService) filename(identity models.Identity, courseID models.ID, ext string) string {
	owner := sanitizeFilename(string(identity.User.ID))
	if courseID != "" {
		owner = owner + "_" + sanitizeFilename(string(courseID))
	}
	return fmt.Sprintf("attendance_%s_%s.%s", owner, s.now().UTC().Format("20060102_150405"), ext)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
