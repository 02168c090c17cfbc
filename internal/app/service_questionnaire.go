package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"greenledger/api/internal/assignment"
	"greenledger/api/internal/export"
	"greenledger/api/internal/notify"
	"greenledger/api/internal/qcache"
	"greenledger/api/internal/questionnaire"
	"greenledger/api/internal/rbac"
	"greenledger/api/internal/search"
	"greenledger/api/internal/store"
)

// ---- questions ----

// ListStandardQuestions returns the standard's question bank in display
// order, numbered and with per-year assignees attached. Served from the
// Redis cache when warm.
func (s *Service) ListStandardQuestions(ctx context.Context, standardID string, year int) ([]questionnaire.Question, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetQuestions(ctx, standardID, year); err == nil {
			return cached, nil
		} else if !errors.Is(err, qcache.ErrMiss) {
			log.Printf("app: question cache read %s/%d: %v", standardID, year, err)
		}
	}

	if _, err := s.store.GetStandard(ctx, standardID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Standard not found", nil)
		}
		return nil, err
	}

	rows, err := s.store.ListQuestions(ctx, standardID)
	if err != nil {
		return nil, err
	}

	questions := make([]questionnaire.Question, 0, len(rows))
	for _, row := range rows {
		questions = append(questions, toQuestionView(row))
	}

	organized, err := questionnaire.Organize(questions, questionnaire.Options{Orphans: s.orphans})
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "ORPHANED_QUESTION", err.Error(), nil)
	}

	for i := range organized {
		assignees, err := s.store.ListAssignees(ctx, organized[i].ID, year)
		if err != nil {
			return nil, err
		}
		organized[i].Assignees = toAssignedUsers(assignees)
	}

	if s.cache != nil {
		if err := s.cache.PutQuestions(ctx, standardID, year, organized); err != nil {
			log.Printf("app: question cache write %s/%d: %v", standardID, year, err)
		}
	}
	return organized, nil
}

func (s *Service) CreateQuestion(ctx context.Context, session Session, standardID string, input CreateQuestionInput) (map[string]any, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	if _, err := s.store.GetStandard(ctx, standardID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Standard not found", nil)
		}
		return nil, err
	}

	var parent *string
	if input.ParentID != "" {
		parentQ, err := s.store.GetQuestion(ctx, input.ParentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Parent question not found", nil)
			}
			return nil, err
		}
		if parentQ.StandardID != standardID {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Parent question belongs to a different standard", nil)
		}
		parent = &input.ParentID
	}

	question, err := s.store.CreateQuestion(ctx, store.Question{
		StandardID: standardID,
		ParentID:   parent,
		Type:       input.Type,
		Content:    input.Content,
		Theme:      input.Theme,
		Category:   input.Category,
		SortOrder:  input.SortOrder,
	})
	if err != nil {
		return nil, err
	}

	s.afterQuestionChange(ctx, session, standardID, fmt.Sprintf("add question %s", question.ID))
	if s.search != nil {
		s.search.IndexQuestion(search.QuestionRecord{
			ID: question.ID, Content: question.Content, Theme: question.Theme,
			Category: question.Category, StandardID: standardID,
		})
	}
	return questionPayload(question), nil
}

func (s *Service) UpdateQuestion(ctx context.Context, session Session, standardID, questionID string, input CreateQuestionInput) (map[string]any, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	question, err := s.requireQuestion(ctx, standardID, questionID)
	if err != nil {
		return nil, err
	}

	question.Type = input.Type
	question.Content = input.Content
	question.Theme = input.Theme
	question.Category = input.Category
	question.SortOrder = input.SortOrder
	if input.ParentID == "" {
		question.ParentID = nil
	} else {
		if input.ParentID == questionID {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Question cannot be its own parent", nil)
		}
		question.ParentID = &input.ParentID
	}

	if err := s.store.UpdateQuestion(ctx, question); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Question not found", nil)
		}
		return nil, err
	}

	s.afterQuestionChange(ctx, session, standardID, fmt.Sprintf("update question %s", questionID))
	if s.search != nil {
		s.search.IndexQuestion(search.QuestionRecord{
			ID: question.ID, Content: question.Content, Theme: question.Theme,
			Category: question.Category, StandardID: standardID,
		})
	}
	return questionPayload(question), nil
}

func (s *Service) DeleteQuestion(ctx context.Context, session Session, standardID, questionID string) error {
	if _, err := s.requireQuestion(ctx, standardID, questionID); err != nil {
		return err
	}
	if err := s.store.DeleteQuestion(ctx, questionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Question not found", nil)
		}
		return err
	}

	s.afterQuestionChange(ctx, session, standardID, fmt.Sprintf("delete question %s", questionID))
	if s.search != nil {
		s.search.DeleteQuestion(questionID)
	}
	return nil
}

func (s *Service) requireQuestion(ctx context.Context, standardID, questionID string) (store.Question, error) {
	question, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Question{}, domainError(http.StatusNotFound, "NOT_FOUND", "Question not found", nil)
		}
		return store.Question{}, err
	}
	if question.StandardID != standardID {
		return store.Question{}, domainError(http.StatusNotFound, "NOT_FOUND", "Question not found", nil)
	}
	return question, nil
}

func (s *Service) afterQuestionChange(ctx context.Context, session Session, standardID, message string) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, standardID); err != nil {
			log.Printf("app: invalidate question cache %s: %v", standardID, err)
		}
	}
	s.snapshotStandard(ctx, standardID, session.UserName, message)
}

func toQuestionView(row store.Question) questionnaire.Question {
	parentID := ""
	if row.ParentID != nil {
		parentID = *row.ParentID
	}
	return questionnaire.Question{
		ID:       row.ID,
		ParentID: parentID,
		Type:     row.Type,
		Content:  row.Content,
		Theme:    row.Theme,
		Category: row.Category,
	}
}

func toAssignedUsers(assignees []store.Assignee) []questionnaire.AssignedUser {
	users := make([]questionnaire.AssignedUser, 0, len(assignees))
	for _, a := range assignees {
		users = append(users, questionnaire.AssignedUser{
			ID: a.UserID, Name: a.DisplayName, Role: a.Role, CompanyID: a.CompanyID,
		})
	}
	return users
}

func questionPayload(q store.Question) map[string]any {
	payload := map[string]any{
		"id":         q.ID,
		"standardId": q.StandardID,
		"type":       q.Type,
		"content":    q.Content,
		"theme":      q.Theme,
		"category":   q.Category,
		"sortOrder":  q.SortOrder,
	}
	if q.ParentID != nil {
		payload["parentId"] = *q.ParentID
	}
	return payload
}

// ---- assignments ----

// alwaysConfirm satisfies the controller's confirmation surface; the HTTP
// client already confirmed before the request reached us.
type alwaysConfirm struct{}

func (alwaysConfirm) Confirm(string) bool { return true }

// storeMutator dispatches the persistent assign/unassign and refuses assign
// dispatches while the unassign guard is engaged.
type storeMutator struct {
	store dataStore
	guard *assignment.Guard
}

func (m *storeMutator) Mutate(ctx context.Context, req assignment.MutationRequest) (assignment.MutationResponse, error) {
	if req.Action == assignment.ActionAssign && m.guard.Active() {
		return assignment.MutationResponse{}, &assignment.MutationError{
			Message: "An unassign for this question is still settling. Try again shortly.",
			Err:     assignment.ErrUnassignActive,
		}
	}

	switch req.Action {
	case assignment.ActionAssign:
		assignees, err := m.store.AssignUsers(ctx, req.QuestionID, req.UserIDs, req.Year, notify.ActorFromContext(ctx))
		if err != nil {
			return assignment.MutationResponse{}, err
		}
		return assignment.MutationResponse{
			AssignedUsers: toAssignedUsers(assignees),
			Action:        string(assignment.ActionAssign),
		}, nil
	case assignment.ActionUnassign:
		removed, err := m.store.UnassignUsers(ctx, req.QuestionID, req.UserIDs, req.Year)
		if err != nil {
			return assignment.MutationResponse{}, err
		}
		return assignment.MutationResponse{
			UnassignedUsers: removed,
			Action:          string(assignment.ActionUnassign),
		}, nil
	default:
		return assignment.MutationResponse{}, fmt.Errorf("unknown assignment action %q", req.Action)
	}
}

// controllerForYear returns the reconciliation controller bound to one
// reporting year, creating it on first use. In-flight tracking and the
// unassign guard are per year, matching the assignment uniqueness key.
func (s *Service) controllerForYear(year int) *assignment.Controller {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()

	if ctrl, ok := s.controllers[year]; ok {
		return ctrl
	}

	guard := assignment.NewGuard()
	var cache assignment.Cache = noopAssignCache{}
	if s.cache != nil {
		cache = s.cache.ForYear(year)
	}
	var reports assignment.ReportTrigger = noopReportTrigger{}
	if s.jobs != nil {
		reports = s.jobs
	}

	ctrl := assignment.New(cache, &storeMutator{store: s.store, guard: guard}, reports, alwaysConfirm{}, s.notifier, guard)
	s.controllers[year] = ctrl
	return ctrl
}

type noopAssignCache struct{}

func (noopAssignCache) SelectAssignees(context.Context, string, string) ([]questionnaire.AssignedUser, error) {
	return nil, nil
}
func (noopAssignCache) PatchAssignees(context.Context, string, string, []questionnaire.AssignedUser) error {
	return nil
}

type noopReportTrigger struct{}

func (noopReportTrigger) TriggerReport(context.Context, string, string, string, int) error {
	return nil
}

func (s *Service) AssignQuestion(ctx context.Context, session Session, standardID, questionID string, input AssignInput) error {
	return s.runAssignment(ctx, session, standardID, questionID, input, assignment.ActionAssign)
}

func (s *Service) UnassignQuestion(ctx context.Context, session Session, standardID, questionID string, input AssignInput) error {
	return s.runAssignment(ctx, session, standardID, questionID, input, assignment.ActionUnassign)
}

func (s *Service) runAssignment(ctx context.Context, session Session, standardID, questionID string, input AssignInput, action assignment.Action) error {
	if err := s.validateInput(input); err != nil {
		return err
	}
	if _, err := s.requireQuestion(ctx, standardID, questionID); err != nil {
		return err
	}

	users := make([]questionnaire.AssignedUser, 0, len(input.UserIDs))
	for _, userID := range input.UserIDs {
		user, err := s.store.GetUserByID(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("Unknown user %s", userID), nil)
			}
			return err
		}
		if action == assignment.ActionAssign && user.DeactivatedAt != nil {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("User %s is deactivated", user.DisplayName), nil)
		}
		users = append(users, questionnaire.AssignedUser{
			ID: user.ID, Name: user.DisplayName, Role: user.Role, CompanyID: user.CompanyID,
		})
	}

	ctx = notify.WithActor(ctx, session.UserID)
	req := assignment.Request{
		StandardID: standardID,
		QuestionID: questionID,
		Users:      users,
		Year:       input.Year,
		Action:     action,
		ActorRole:  rbac.Normalize(session.Role),
	}

	ctrl := s.controllerForYear(input.Year)
	var err error
	if action == assignment.ActionAssign {
		err = ctrl.Assign(ctx, req)
	} else {
		err = ctrl.Unassign(ctx, req)
	}
	if err != nil {
		return mapAssignmentError(err)
	}

	if action == assignment.ActionAssign {
		s.emailAssignees(ctx, standardID, input.Year, users)
	}
	return nil
}

func mapAssignmentError(err error) error {
	switch {
	case errors.Is(err, assignment.ErrNotAllowed):
		return domainError(http.StatusForbidden, "FORBIDDEN", "You do not have permission to change question assignments.", nil)
	case errors.Is(err, assignment.ErrOperationInFlight):
		return domainError(http.StatusConflict, "OPERATION_IN_FLIGHT", "Another assignment change for this question is still in progress.", nil)
	case errors.Is(err, assignment.ErrCancelled):
		return domainError(http.StatusConflict, "CANCELLED", "Assignment change cancelled.", nil)
	}
	var mutErr *assignment.MutationError
	if errors.As(err, &mutErr) && mutErr.Message != "" {
		return domainError(http.StatusUnprocessableEntity, "MUTATION_FAILED", mutErr.Message, nil)
	}
	return err
}

func (s *Service) emailAssignees(ctx context.Context, standardID string, year int, users []questionnaire.AssignedUser) {
	if !s.SMTPConfigured() {
		return
	}
	standard, err := s.store.GetStandard(ctx, standardID)
	if err != nil {
		return
	}
	for _, u := range users {
		user, err := s.store.GetUserByID(ctx, u.ID)
		if err != nil || user.Email == "" {
			continue
		}
		go func(addr, name string) {
			if err := s.email.SendAssignmentNotification(addr, name, standard.Name, year); err != nil {
				log.Printf("app: assignment email to %s: %v", addr, err)
			}
		}(user.Email, user.DisplayName)
	}
}

// ---- answers ----

func (s *Service) SaveAnswer(ctx context.Context, session Session, standardID, questionID string, year int, input SaveAnswerInput) (map[string]any, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	if session.CompanyID == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "NO_COMPANY", "Your account is not linked to a company", nil)
	}
	if _, err := s.requireQuestion(ctx, standardID, questionID); err != nil {
		return nil, err
	}

	status := input.Status
	if status == "" {
		status = "draft"
	}
	role := rbac.Normalize(session.Role)
	if status == "approved" && !rbac.Can(role, rbac.ActionReview) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only reviewers can approve answers", nil)
	}

	// Employees may only answer questions assigned to them; managers and
	// admins can answer anything.
	if !rbac.Can(role, rbac.ActionAssign) {
		assignees, err := s.store.ListAssignees(ctx, questionID, year)
		if err != nil {
			return nil, err
		}
		assigned := false
		for _, a := range assignees {
			if a.UserID == session.UserID {
				assigned = true
				break
			}
		}
		if !assigned {
			return nil, domainError(http.StatusForbidden, "NOT_ASSIGNED", "This question is not assigned to you", nil)
		}
	}

	answer, err := s.store.UpsertAnswer(ctx, questionID, session.CompanyID, year, input.Content, status, session.UserID)
	if err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexAnswer(search.AnswerRecord{
			ID:         answer.ID,
			Text:       string(answer.Content),
			QuestionID: questionID,
			StandardID: standardID,
			CompanyID:  session.CompanyID,
			Year:       year,
		})
	}
	return answerPayload(answer), nil
}

// ListStandardAnswers returns the company's answers for a standard and year,
// keyed by question ID. Auditors and admins may read another company's
// answers via the companyID override.
func (s *Service) ListStandardAnswers(ctx context.Context, session Session, standardID, companyID string, year int) (map[string]any, error) {
	scope := session.CompanyID
	if companyID != "" && companyID != session.CompanyID {
		role := rbac.Normalize(session.Role)
		if role != rbac.RoleAuditor && role != rbac.RoleAdmin {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
		scope = companyID
	}
	if scope == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "NO_COMPANY", "No company to scope answers to", nil)
	}

	answers, err := s.store.ListAnswers(ctx, standardID, scope, year)
	if err != nil {
		return nil, err
	}
	items := make(map[string]any, len(answers))
	for questionID, answer := range answers {
		items[questionID] = answerPayload(answer)
	}
	return map[string]any{"companyId": scope, "year": year, "answers": items}, nil
}

func answerPayload(a store.Answer) map[string]any {
	return map[string]any{
		"id":         a.ID,
		"questionId": a.QuestionID,
		"companyId":  a.CompanyID,
		"year":       a.Year,
		"content":    a.Content,
		"status":     a.Status,
		"answeredBy": a.AnsweredBy,
		"updatedAt":  a.UpdatedAt,
	}
}

// ---- evidence ----

func (s *Service) UploadEvidence(ctx context.Context, session Session, questionID string, year int, fileName, contentType string, size int64, body io.Reader) (map[string]any, error) {
	if s.storage == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Evidence storage not configured", nil)
	}
	if strings.TrimSpace(fileName) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "fileName is required", nil)
	}
	answer, err := s.store.GetAnswer(ctx, questionID, session.CompanyID, year)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Answer the question before attaching evidence", nil)
		}
		return nil, err
	}

	objectKey, err := s.storage.UploadEvidence(ctx, answer.ID, fileName, contentType, size, body)
	if err != nil {
		return nil, fmt.Errorf("upload evidence: %w", err)
	}

	record, err := s.store.AddEvidence(ctx, store.Evidence{
		AnswerID:    answer.ID,
		FileName:    fileName,
		ObjectKey:   objectKey,
		ContentType: contentType,
		SizeBytes:   size,
		UploadedBy:  session.UserID,
	})
	if err != nil {
		// Orphan the object rather than fail the request twice.
		_ = s.storage.Delete(ctx, objectKey)
		return nil, err
	}
	return evidencePayload(record), nil
}

func (s *Service) ListEvidence(ctx context.Context, session Session, questionID string, year int) ([]map[string]any, error) {
	answer, err := s.store.GetAnswer(ctx, questionID, session.CompanyID, year)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return []map[string]any{}, nil
		}
		return nil, err
	}
	records, err := s.store.ListEvidence(ctx, answer.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(records))
	for _, record := range records {
		items = append(items, evidencePayload(record))
	}
	return items, nil
}

func (s *Service) EvidenceDownloadURL(ctx context.Context, evidenceID string) (string, error) {
	if s.storage == nil {
		return "", domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Evidence storage not configured", nil)
	}
	record, err := s.store.GetEvidence(ctx, evidenceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", domainError(http.StatusNotFound, "NOT_FOUND", "Evidence not found", nil)
		}
		return "", err
	}
	url, err := s.storage.PresignedURL(ctx, record.ObjectKey, record.FileName, 15*time.Minute)
	if err != nil {
		return "", fmt.Errorf("presign evidence: %w", err)
	}
	return url, nil
}

func evidencePayload(e store.Evidence) map[string]any {
	return map[string]any{
		"id":          e.ID,
		"answerId":    e.AnswerID,
		"fileName":    e.FileName,
		"contentType": e.ContentType,
		"sizeBytes":   e.SizeBytes,
		"uploadedBy":  e.UploadedBy,
		"createdAt":   e.CreatedAt,
	}
}

// ---- reports ----

func (s *Service) RequestReport(ctx context.Context, session Session, standardID string, input RequestReportInput) (map[string]any, error) {
	if s.jobs == nil {
		return nil, domainError(http.StatusServiceUnavailable, "REPORTS_UNAVAILABLE", "Report generation not configured", nil)
	}
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	if _, err := export.ParseFormat(input.Format); err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}

	companyID := input.CompanyID
	if companyID == "" {
		companyID = session.CompanyID
	}
	if companyID == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "NO_COMPANY", "No company to report on", nil)
	}
	if companyID != session.CompanyID {
		role := rbac.Normalize(session.Role)
		if role != rbac.RoleAuditor && role != rbac.RoleAdmin {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
	}
	if _, err := s.store.GetStandard(ctx, standardID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Standard not found", nil)
		}
		return nil, err
	}

	format := input.Format
	if format == "" {
		format = "pdf"
	}
	report, err := s.jobs.EnqueueReport(ctx, standardID, companyID, input.Year, format, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("enqueue report: %w", err)
	}
	return reportPayload(report), nil
}

func (s *Service) ListReports(ctx context.Context, session Session, companyID string, year int) ([]map[string]any, error) {
	scope := session.CompanyID
	role := rbac.Normalize(session.Role)
	if role == rbac.RoleAuditor || role == rbac.RoleAdmin {
		scope = companyID // empty means all companies
	}
	reports, err := s.store.ListReports(ctx, scope, year)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(reports))
	for _, report := range reports {
		items = append(items, reportPayload(report))
	}
	return items, nil
}

func (s *Service) GetReport(ctx context.Context, session Session, reportID string) (map[string]any, error) {
	report, err := s.requireReport(ctx, session, reportID)
	if err != nil {
		return nil, err
	}
	return reportPayload(report), nil
}

func (s *Service) ReportDownloadURL(ctx context.Context, session Session, reportID string) (string, error) {
	if s.storage == nil {
		return "", domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Report storage not configured", nil)
	}
	report, err := s.requireReport(ctx, session, reportID)
	if err != nil {
		return "", err
	}
	if report.Status != "done" || report.ObjectKey == "" {
		return "", domainError(http.StatusConflict, "REPORT_NOT_READY", "Report is not ready yet", nil)
	}
	fileName := fmt.Sprintf("report-%d.%s", report.Year, report.Format)
	url, err := s.storage.PresignedURL(ctx, report.ObjectKey, fileName, 15*time.Minute)
	if err != nil {
		return "", fmt.Errorf("presign report: %w", err)
	}
	return url, nil
}

func (s *Service) requireReport(ctx context.Context, session Session, reportID string) (store.Report, error) {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Report{}, domainError(http.StatusNotFound, "NOT_FOUND", "Report not found", nil)
		}
		return store.Report{}, err
	}
	role := rbac.Normalize(session.Role)
	if report.CompanyID != session.CompanyID && role != rbac.RoleAuditor && role != rbac.RoleAdmin {
		return store.Report{}, domainError(http.StatusNotFound, "NOT_FOUND", "Report not found", nil)
	}
	return report, nil
}

func reportPayload(r store.Report) map[string]any {
	payload := map[string]any{
		"id":         r.ID,
		"standardId": r.StandardID,
		"companyId":  r.CompanyID,
		"year":       r.Year,
		"format":     r.Format,
		"status":     r.Status,
		"createdAt":  r.CreatedAt,
	}
	if r.Error != "" {
		payload["error"] = r.Error
	}
	if r.GeneratedAt != nil {
		payload["generatedAt"] = *r.GeneratedAt
	}
	return payload
}

// ---- notifications ----

func (s *Service) ListNotifications(ctx context.Context, session Session, unreadOnly bool) ([]map[string]any, error) {
	records, err := s.store.ListNotifications(ctx, session.UserID, unreadOnly)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(records))
	for _, n := range records {
		item := map[string]any{
			"id":        n.ID,
			"kind":      n.Kind,
			"message":   n.Message,
			"read":      n.ReadAt != nil,
			"createdAt": n.CreatedAt,
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, session Session, notificationID string) error {
	if err := s.store.MarkNotificationRead(ctx, notificationID, session.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Notification not found", nil)
		}
		return err
	}
	return nil
}

// ---- search ----

func (s *Service) Search(ctx context.Context, session Session, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search not configured", nil)
	}
	role := rbac.Normalize(session.Role)
	q.FilterCompanyID = session.CompanyID
	q.CrossCompany = role == rbac.RoleAuditor || role == rbac.RoleAdmin
	return s.search.Search(q), nil
}
