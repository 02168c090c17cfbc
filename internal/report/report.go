// Package report assembles a company's answers to a standard into the
// ordered, numbered table the export renderers consume.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"greenledger/api/internal/export"
	"greenledger/api/internal/questionnaire"
	"greenledger/api/internal/store"
)

// Store is the slice of the persistence layer the builder needs.
type Store interface {
	GetStandard(ctx context.Context, standardID string) (store.Standard, error)
	GetCompany(ctx context.Context, companyID string) (store.Company, error)
	ListQuestions(ctx context.Context, standardID string) ([]store.Question, error)
	ListAnswers(ctx context.Context, standardID, companyID string, year int) (map[string]store.Answer, error)
	ListAssignees(ctx context.Context, questionID string, year int) ([]store.Assignee, error)
}

type Builder struct {
	store        Store
	orphanPolicy questionnaire.OrphanPolicy
}

func NewBuilder(s Store, orphanPolicy questionnaire.OrphanPolicy) *Builder {
	return &Builder{store: s, orphanPolicy: orphanPolicy}
}

// Build assembles the report for one standard, company and year. Questions
// appear in hierarchy order with their display numbers; unanswered questions
// stay in the table with an empty answer.
func (b *Builder) Build(ctx context.Context, standardID, companyID string, year int) (export.Report, error) {
	standard, err := b.store.GetStandard(ctx, standardID)
	if err != nil {
		return export.Report{}, fmt.Errorf("load standard: %w", err)
	}
	company, err := b.store.GetCompany(ctx, companyID)
	if err != nil {
		return export.Report{}, fmt.Errorf("load company: %w", err)
	}

	rows, err := b.store.ListQuestions(ctx, standardID)
	if err != nil {
		return export.Report{}, fmt.Errorf("load questions: %w", err)
	}
	if len(rows) == 0 {
		return export.Report{}, ErrEmptyStandard
	}

	questions := make([]questionnaire.Question, 0, len(rows))
	for _, row := range rows {
		q := questionnaire.Question{
			ID:       row.ID,
			Type:     row.Type,
			Content:  row.Content,
			Theme:    row.Theme,
			Category: row.Category,
		}
		if row.ParentID != nil {
			q.ParentID = *row.ParentID
		}
		questions = append(questions, questionnaire.EnrichContent(q))
	}

	ordered, err := questionnaire.Organize(questions, questionnaire.Options{Orphans: b.orphanPolicy})
	if err != nil {
		return export.Report{}, fmt.Errorf("organize questions: %w", err)
	}

	answers, err := b.store.ListAnswers(ctx, standardID, companyID, year)
	if err != nil {
		return export.Report{}, fmt.Errorf("load answers: %w", err)
	}

	report := export.Report{
		StandardCode: standard.Code,
		StandardName: standard.Name,
		CompanyName:  company.Name,
		Year:         year,
		GeneratedAt:  time.Now().UTC(),
		Rows:         make([]export.Row, 0, len(ordered)),
	}

	for _, q := range ordered {
		row := export.Row{
			DisplayNo: q.DisplayNo,
			Question:  questionText(q),
			Theme:     q.Theme,
			Category:  q.Category,
		}

		if answer, ok := answers[q.ID]; ok {
			row.Answer = answerText(answer.Content)
			row.Status = answer.Status
		}

		assignees, err := b.store.ListAssignees(ctx, q.ID, year)
		if err != nil {
			return export.Report{}, fmt.Errorf("load assignees for %s: %w", q.ID, err)
		}
		names := make([]string, 0, len(assignees))
		for _, a := range assignees {
			names = append(names, a.DisplayName)
		}
		row.Assignees = strings.Join(names, ", ")

		report.Rows = append(report.Rows, row)
	}

	return report, nil
}

// questionText extracts the display text from a question whose content may
// be a JSON object with a "question" or "text" field, or plain text.
func questionText(q questionnaire.Question) string {
	trimmed := strings.TrimSpace(q.Content)
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return trimmed
	}
	for _, key := range []string{"question", "text", "title"} {
		if raw, ok := fields[key]; ok {
			var s string
			if json.Unmarshal(raw, &s) == nil && s != "" {
				return s
			}
		}
	}
	return trimmed
}

// answerText flattens a stored answer value to a printable string. Answers
// are free-form JSON: strings stay as-is, numbers and booleans print their
// literal form, objects try a "value" or "text" field before falling back to
// compact JSON.
func answerText(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return s
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(content, &fields); err == nil {
		for _, key := range []string{"value", "text", "answer"} {
			if raw, ok := fields[key]; ok {
				if inner := answerText(raw); inner != "" {
					return inner
				}
			}
		}
	}

	compact := strings.TrimSpace(string(content))
	if compact == "null" {
		return ""
	}
	return compact
}

// ErrEmptyStandard reports a standard with no questions; generating an empty
// report is almost always a caller mistake.
var ErrEmptyStandard = errors.New("standard has no questions")
