// Package jobs runs report generation on an asynq queue so a slow render
// (headless Chrome, pandoc) never blocks an API request.
package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	TypeReportGenerate = "report:generate"
	QueueReports       = "reports"
)

// ReportPayload identifies one report row to generate.
type ReportPayload struct {
	ReportID   string `json:"report_id"`
	StandardID string `json:"standard_id"`
	CompanyID  string `json:"company_id"`
	Year       int    `json:"year"`
	Format     string `json:"format"`
}

// NewReportGenerateTask builds the queued task for one report.
func NewReportGenerateTask(p ReportPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal report payload: %w", err)
	}
	return asynq.NewTask(TypeReportGenerate, payload, asynq.Queue(QueueReports), asynq.MaxRetry(3)), nil
}
