package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"greenledger/api/internal/export"
	"greenledger/api/internal/store"
)

// Builder assembles the report data. Implemented by report.Builder.
type Builder interface {
	Build(ctx context.Context, standardID, companyID string, year int) (export.Report, error)
}

// Uploader stores the rendered artifact. Implemented by evidence.Storage.
type Uploader interface {
	UploadReport(ctx context.Context, reportID, fileName, contentType string, data []byte) (string, error)
}

// WorkerStore is the slice of the persistence layer the worker needs.
type WorkerStore interface {
	GetReport(ctx context.Context, reportID string) (store.Report, error)
	MarkReportRunning(ctx context.Context, reportID string) error
	MarkReportDone(ctx context.Context, reportID, objectKey string) error
	MarkReportFailed(ctx context.Context, reportID, reason string) error
	InsertNotification(ctx context.Context, userID, kind, message string) error
}

// Worker consumes report generation tasks.
type Worker struct {
	store   WorkerStore
	builder Builder
	uploads Uploader
}

func NewWorker(s WorkerStore, builder Builder, uploads Uploader) *Worker {
	return &Worker{store: s, builder: builder, uploads: uploads}
}

// Mux registers the worker's handlers.
func (w *Worker) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeReportGenerate, w.HandleReportGenerate)
	return mux
}

// HandleReportGenerate renders one report and stores the artifact. A deleted
// report row means the request was superseded; the task is dropped without
// retrying.
func (w *Worker) HandleReportGenerate(ctx context.Context, t *asynq.Task) error {
	var payload ReportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode report payload: %v: %w", err, asynq.SkipRetry)
	}

	rep, err := w.store.GetReport(ctx, payload.ReportID)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("jobs: report %s no longer exists, dropping task", payload.ReportID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load report %s: %w", payload.ReportID, err)
	}

	if err := w.store.MarkReportRunning(ctx, rep.ID); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}

	format, err := export.ParseFormat(payload.Format)
	if err != nil {
		w.fail(ctx, rep, err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	data, err := w.builder.Build(ctx, payload.StandardID, payload.CompanyID, payload.Year)
	if err != nil {
		w.fail(ctx, rep, err)
		return fmt.Errorf("build report %s: %w", rep.ID, err)
	}

	result, err := export.Render(data, format)
	if err != nil {
		w.fail(ctx, rep, err)
		return fmt.Errorf("render report %s: %w", rep.ID, err)
	}

	objectKey, err := w.uploads.UploadReport(ctx, rep.ID, result.Filename, result.MimeType, result.Data)
	if err != nil {
		w.fail(ctx, rep, err)
		return fmt.Errorf("store report %s: %w", rep.ID, err)
	}

	if err := w.store.MarkReportDone(ctx, rep.ID, objectKey); err != nil {
		return fmt.Errorf("mark done: %w", err)
	}

	if rep.RequestedBy != "" {
		msg := fmt.Sprintf("Your %s report for %d is ready.", format, payload.Year)
		if err := w.store.InsertNotification(ctx, rep.RequestedBy, "report_ready", msg); err != nil {
			log.Printf("jobs: notify requester of %s: %v", rep.ID, err)
		}
	}

	log.Printf("jobs: report %s generated (%s, %d bytes)", rep.ID, result.Filename, len(result.Data))
	return nil
}

func (w *Worker) fail(ctx context.Context, rep store.Report, cause error) {
	if err := w.store.MarkReportFailed(ctx, rep.ID, cause.Error()); err != nil {
		log.Printf("jobs: mark report %s failed: %v", rep.ID, err)
	}
}
