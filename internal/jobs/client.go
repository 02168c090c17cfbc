package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"greenledger/api/internal/store"
)

// ReportStore is the slice of the persistence layer the enqueuer needs.
type ReportStore interface {
	CreateReport(ctx context.Context, standardID, companyID string, year int, format, requestedBy string) (store.Report, error)
}

// Enqueuer creates report rows and queues their generation. It also serves
// as the assignment controller's report trigger.
type Enqueuer struct {
	client *asynq.Client
	store  ReportStore
}

func NewEnqueuer(redisURL string, s ReportStore) (*Enqueuer, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}
	return &Enqueuer{client: asynq.NewClient(opt), store: s}, nil
}

// EnqueueReport records a pending report and queues its generation.
func (e *Enqueuer) EnqueueReport(ctx context.Context, standardID, companyID string, year int, format, requestedBy string) (store.Report, error) {
	rep, err := e.store.CreateReport(ctx, standardID, companyID, year, format, requestedBy)
	if err != nil {
		return store.Report{}, fmt.Errorf("create report row: %w", err)
	}

	task, err := NewReportGenerateTask(ReportPayload{
		ReportID:   rep.ID,
		StandardID: standardID,
		CompanyID:  companyID,
		Year:       year,
		Format:     format,
	})
	if err != nil {
		return store.Report{}, err
	}

	if _, err := e.client.EnqueueContext(ctx, task); err != nil {
		return store.Report{}, fmt.Errorf("enqueue report %s: %w", rep.ID, err)
	}
	return rep, nil
}

// TriggerReport regenerates the default-format report after an assignment
// change. Satisfies the assignment controller's trigger interface.
func (e *Enqueuer) TriggerReport(ctx context.Context, standardID, companyID, questionID string, year int) error {
	rep, err := e.EnqueueReport(ctx, standardID, companyID, year, "pdf", "")
	if err != nil {
		return err
	}
	log.Printf("jobs: queued report %s after assignment change on question %s", rep.ID, questionID)
	return nil
}

func (e *Enqueuer) Close() error {
	return e.client.Close()
}
