package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, displayName, email, passwordHash, role, companyID string) (User, error) {
	var user User
	var companyArg any
	if companyID != "" {
		companyArg = companyID
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (display_name, email, password_hash, role, company_id)
		VALUES ($1, LOWER($2), $3, $4, $5)
		RETURNING id, display_name, email, role, COALESCE(company_id::text, ''), created_at, updated_at
	`, displayName, email, passwordHash, role, companyArg).Scan(
		&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.CompanyID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, COALESCE(company_id::text, ''), email_verified_at, deactivated_at, created_at, updated_at
		FROM users WHERE email = LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role,
		&user.CompanyID, &user.EmailVerifiedAt, &user.DeactivatedAt, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, role, COALESCE(company_id::text, ''), email_verified_at, deactivated_at, created_at, updated_at
		FROM users WHERE id = $1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role,
		&user.CompanyID, &user.EmailVerifiedAt, &user.DeactivatedAt, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, companyID string) ([]User, error) {
	query := `
		SELECT id, display_name, email, role, COALESCE(company_id::text, ''), email_verified_at, deactivated_at, created_at, updated_at
		FROM users
	`
	args := []any{}
	if companyID != "" {
		query += ` WHERE company_id = $1`
		args = append(args, companyID)
	}
	query += ` ORDER BY display_name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role,
			&user.CompanyID, &user.EmailVerifiedAt, &user.DeactivatedAt, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) UpdateUserRole(ctx context.Context, userID, role string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET role=$2, updated_at=NOW() WHERE id=$1`, userID, role)
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeactivateUser(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET deactivated_at=NOW(), updated_at=NOW() WHERE id=$1 AND deactivated_at IS NULL`, userID)
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- verification and password reset tokens ----

func (s *PostgresStore) SetVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("set verification token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET email_verified_at=NOW(), verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id::text FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup password reset: %w", err)
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1 AND used_at IS NULL`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- access token revocation ----
// Refresh sessions live in Redis (internal/session); only the JTI denylist
// is durable.

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1 AND expires_at > NOW())
	`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- companies ----

func (s *PostgresStore) CreateCompany(ctx context.Context, name, slug string, parentID *string, sector, country string) (Company, error) {
	var company Company
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO companies (name, slug, parent_id, sector, country)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, name, slug, parent_id, sector, country, created_at, updated_at
	`, name, slug, parentID, sector, country).Scan(
		&company.ID, &company.Name, &company.Slug, &company.ParentID,
		&company.Sector, &company.Country, &company.CreatedAt, &company.UpdatedAt)
	if err != nil {
		return Company{}, fmt.Errorf("insert company: %w", err)
	}
	return company, nil
}

func (s *PostgresStore) GetCompany(ctx context.Context, companyID string) (Company, error) {
	var company Company
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, parent_id, sector, country, created_at, updated_at
		FROM companies WHERE id = $1
	`, companyID).Scan(&company.ID, &company.Name, &company.Slug, &company.ParentID,
		&company.Sector, &company.Country, &company.CreatedAt, &company.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Company{}, ErrNotFound
	}
	if err != nil {
		return Company{}, fmt.Errorf("lookup company: %w", err)
	}
	return company, nil
}

// ListCompanies returns the whole forest ordered by name; the caller shapes
// the parent/child nesting.
func (s *PostgresStore) ListCompanies(ctx context.Context) ([]Company, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, slug, parent_id, sector, country, created_at, updated_at
		FROM companies ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	defer rows.Close()

	var companies []Company
	for rows.Next() {
		var company Company
		if err := rows.Scan(&company.ID, &company.Name, &company.Slug, &company.ParentID,
			&company.Sector, &company.Country, &company.CreatedAt, &company.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		companies = append(companies, company)
	}
	return companies, rows.Err()
}

func (s *PostgresStore) UpdateCompany(ctx context.Context, companyID, name, sector, country string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE companies SET name=$2, sector=$3, country=$4, updated_at=NOW() WHERE id=$1
	`, companyID, name, sector, country)
	if err != nil {
		return fmt.Errorf("update company: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteCompany(ctx context.Context, companyID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM companies WHERE id=$1`, companyID)
	if err != nil {
		return fmt.Errorf("delete company: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- standards ----

func (s *PostgresStore) CreateStandard(ctx context.Context, code, name, description, createdBy string) (Standard, error) {
	var standard Standard
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO standards (code, name, description, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id, code, name, description, published, COALESCE(created_by::text, ''), created_at, updated_at
	`, code, name, description, createdBy).Scan(
		&standard.ID, &standard.Code, &standard.Name, &standard.Description,
		&standard.Published, &standard.CreatedBy, &standard.CreatedAt, &standard.UpdatedAt)
	if err != nil {
		return Standard{}, fmt.Errorf("insert standard: %w", err)
	}
	return standard, nil
}

func (s *PostgresStore) GetStandard(ctx context.Context, standardID string) (Standard, error) {
	var standard Standard
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, name, description, published, COALESCE(created_by::text, ''), created_at, updated_at
		FROM standards WHERE id = $1
	`, standardID).Scan(&standard.ID, &standard.Code, &standard.Name, &standard.Description,
		&standard.Published, &standard.CreatedBy, &standard.CreatedAt, &standard.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Standard{}, ErrNotFound
	}
	if err != nil {
		return Standard{}, fmt.Errorf("lookup standard: %w", err)
	}
	return standard, nil
}

func (s *PostgresStore) ListStandards(ctx context.Context, publishedOnly bool) ([]Standard, error) {
	query := `
		SELECT id, code, name, description, published, COALESCE(created_by::text, ''), created_at, updated_at
		FROM standards
	`
	if publishedOnly {
		query += ` WHERE published`
	}
	query += ` ORDER BY code`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list standards: %w", err)
	}
	defer rows.Close()

	var standards []Standard
	for rows.Next() {
		var standard Standard
		if err := rows.Scan(&standard.ID, &standard.Code, &standard.Name, &standard.Description,
			&standard.Published, &standard.CreatedBy, &standard.CreatedAt, &standard.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan standard: %w", err)
		}
		standards = append(standards, standard)
	}
	return standards, rows.Err()
}

func (s *PostgresStore) PublishStandard(ctx context.Context, standardID string, published bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE standards SET published=$2, updated_at=NOW() WHERE id=$1`, standardID, published)
	if err != nil {
		return fmt.Errorf("publish standard: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateStandard(ctx context.Context, standardID, name, description string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE standards SET name=$2, description=$3, updated_at=NOW() WHERE id=$1
	`, standardID, name, description)
	if err != nil {
		return fmt.Errorf("update standard: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteStandard(ctx context.Context, standardID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM standards WHERE id=$1`, standardID)
	if err != nil {
		return fmt.Errorf("delete standard: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- questions ----

// ListQuestions returns a standard's question bank in author order. The rows
// are flat; organizing them into the numbered hierarchy happens in memory.
func (s *PostgresStore) ListQuestions(ctx context.Context, standardID string) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, standard_id, parent_id, type, content, theme, category, sort_order, created_at, updated_at
		FROM questions WHERE standard_id = $1
		ORDER BY sort_order, created_at
	`, standardID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var questions []Question
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.StandardID, &q.ParentID, &q.Type, &q.Content,
			&q.Theme, &q.Category, &q.SortOrder, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (s *PostgresStore) GetQuestion(ctx context.Context, questionID string) (Question, error) {
	var q Question
	err := s.db.QueryRowContext(ctx, `
		SELECT id, standard_id, parent_id, type, content, theme, category, sort_order, created_at, updated_at
		FROM questions WHERE id = $1
	`, questionID).Scan(&q.ID, &q.StandardID, &q.ParentID, &q.Type, &q.Content,
		&q.Theme, &q.Category, &q.SortOrder, &q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Question{}, ErrNotFound
	}
	if err != nil {
		return Question{}, fmt.Errorf("lookup question: %w", err)
	}
	return q, nil
}

func (s *PostgresStore) CreateQuestion(ctx context.Context, q Question) (Question, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO questions (standard_id, parent_id, type, content, theme, category, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, q.StandardID, q.ParentID, q.Type, q.Content, q.Theme, q.Category, q.SortOrder).Scan(
		&q.ID, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return Question{}, fmt.Errorf("insert question: %w", err)
	}
	return q, nil
}

func (s *PostgresStore) UpdateQuestion(ctx context.Context, q Question) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE questions
		SET parent_id=$2, type=$3, content=$4, theme=$5, category=$6, sort_order=$7, updated_at=NOW()
		WHERE id=$1
	`, q.ID, q.ParentID, q.Type, q.Content, q.Theme, q.Category, q.SortOrder)
	if err != nil {
		return fmt.Errorf("update question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteQuestion(ctx context.Context, questionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE id=$1`, questionID)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- assignments ----

func (s *PostgresStore) ListAssignees(ctx context.Context, questionID string, year int) ([]Assignee, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.user_id, u.display_name, u.role, a.company_id
		FROM assignments a
		JOIN users u ON u.id = a.user_id
		WHERE a.question_id = $1 AND a.year = $2
		ORDER BY u.display_name
	`, questionID, year)
	if err != nil {
		return nil, fmt.Errorf("list assignees: %w", err)
	}
	defer rows.Close()

	var assignees []Assignee
	for rows.Next() {
		var a Assignee
		if err := rows.Scan(&a.UserID, &a.DisplayName, &a.Role, &a.CompanyID); err != nil {
			return nil, fmt.Errorf("scan assignee: %w", err)
		}
		assignees = append(assignees, a)
	}
	return assignees, rows.Err()
}

// AssignUsers inserts assignments for each user in one transaction. Already
// assigned users are skipped, and the final assignee list is returned.
func (s *PostgresStore) AssignUsers(ctx context.Context, questionID string, userIDs []string, year int, assignedBy string) ([]Assignee, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin assign tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, userID := range userIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO assignments (question_id, user_id, company_id, year, assigned_by)
			SELECT $1, u.id, u.company_id, $3, $4
			FROM users u
			WHERE u.id = $2 AND u.deactivated_at IS NULL AND u.company_id IS NOT NULL
			ON CONFLICT (question_id, user_id, year) DO NOTHING
		`, questionID, userID, year, assignedBy); err != nil {
			return nil, fmt.Errorf("insert assignment for %s: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit assign tx: %w", err)
	}
	return s.ListAssignees(ctx, questionID, year)
}

// UnassignUsers removes assignments and returns the removed user IDs.
func (s *PostgresStore) UnassignUsers(ctx context.Context, questionID string, userIDs []string, year int) ([]string, error) {
	var removed []string
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin unassign tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, userID := range userIDs {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM assignments WHERE question_id=$1 AND user_id=$2 AND year=$3
		`, questionID, userID, year)
		if err != nil {
			return nil, fmt.Errorf("delete assignment for %s: %w", userID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			removed = append(removed, userID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit unassign tx: %w", err)
	}
	return removed, nil
}

// ListAssignedQuestionIDs returns the IDs of questions within a standard
// assigned to one user for a year, for the employee's "my questions" view.
func (s *PostgresStore) ListAssignedQuestionIDs(ctx context.Context, standardID, userID string, year int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.question_id
		FROM assignments a
		JOIN questions q ON q.id = a.question_id
		WHERE q.standard_id = $1 AND a.user_id = $2 AND a.year = $3
	`, standardID, userID, year)
	if err != nil {
		return nil, fmt.Errorf("list assigned questions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan question id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ---- answers ----

func (s *PostgresStore) UpsertAnswer(ctx context.Context, questionID, companyID string, year int, content json.RawMessage, status, answeredBy string) (Answer, error) {
	var answer Answer
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO answers (question_id, company_id, year, content, status, answered_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (question_id, company_id, year)
		DO UPDATE SET content=EXCLUDED.content, status=EXCLUDED.status, answered_by=EXCLUDED.answered_by, updated_at=NOW()
		RETURNING id, question_id, company_id, year, content, status, COALESCE(answered_by::text, ''), created_at, updated_at
	`, questionID, companyID, year, []byte(content), status, answeredBy).Scan(
		&answer.ID, &answer.QuestionID, &answer.CompanyID, &answer.Year,
		&answer.Content, &answer.Status, &answer.AnsweredBy, &answer.CreatedAt, &answer.UpdatedAt)
	if err != nil {
		return Answer{}, fmt.Errorf("upsert answer: %w", err)
	}
	return answer, nil
}

func (s *PostgresStore) GetAnswer(ctx context.Context, questionID, companyID string, year int) (Answer, error) {
	var answer Answer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, question_id, company_id, year, content, status, COALESCE(answered_by::text, ''), created_at, updated_at
		FROM answers WHERE question_id=$1 AND company_id=$2 AND year=$3
	`, questionID, companyID, year).Scan(
		&answer.ID, &answer.QuestionID, &answer.CompanyID, &answer.Year,
		&answer.Content, &answer.Status, &answer.AnsweredBy, &answer.CreatedAt, &answer.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Answer{}, ErrNotFound
	}
	if err != nil {
		return Answer{}, fmt.Errorf("lookup answer: %w", err)
	}
	return answer, nil
}

// ListAnswers returns every answer a company gave for a standard and year,
// keyed by question.
func (s *PostgresStore) ListAnswers(ctx context.Context, standardID, companyID string, year int) (map[string]Answer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.question_id, a.company_id, a.year, a.content, a.status, COALESCE(a.answered_by::text, ''), a.created_at, a.updated_at
		FROM answers a
		JOIN questions q ON q.id = a.question_id
		WHERE q.standard_id = $1 AND a.company_id = $2 AND a.year = $3
	`, standardID, companyID, year)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	answers := make(map[string]Answer)
	for rows.Next() {
		var answer Answer
		if err := rows.Scan(&answer.ID, &answer.QuestionID, &answer.CompanyID, &answer.Year,
			&answer.Content, &answer.Status, &answer.AnsweredBy, &answer.CreatedAt, &answer.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		answers[answer.QuestionID] = answer
	}
	return answers, rows.Err()
}

// ---- reports ----

func (s *PostgresStore) CreateReport(ctx context.Context, standardID, companyID string, year int, format, requestedBy string) (Report, error) {
	var report Report
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO reports (standard_id, company_id, year, format, status, requested_by)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		RETURNING id, standard_id, company_id, year, format, status, object_key, error, COALESCE(requested_by::text, ''), generated_at, created_at
	`, standardID, companyID, year, format, requestedBy).Scan(
		&report.ID, &report.StandardID, &report.CompanyID, &report.Year, &report.Format,
		&report.Status, &report.ObjectKey, &report.Error, &report.RequestedBy, &report.GeneratedAt, &report.CreatedAt)
	if err != nil {
		return Report{}, fmt.Errorf("insert report: %w", err)
	}
	return report, nil
}

func (s *PostgresStore) GetReport(ctx context.Context, reportID string) (Report, error) {
	var report Report
	err := s.db.QueryRowContext(ctx, `
		SELECT id, standard_id, company_id, year, format, status, object_key, error, COALESCE(requested_by::text, ''), generated_at, created_at
		FROM reports WHERE id=$1
	`, reportID).Scan(&report.ID, &report.StandardID, &report.CompanyID, &report.Year, &report.Format,
		&report.Status, &report.ObjectKey, &report.Error, &report.RequestedBy, &report.GeneratedAt, &report.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Report{}, ErrNotFound
	}
	if err != nil {
		return Report{}, fmt.Errorf("lookup report: %w", err)
	}
	return report, nil
}

func (s *PostgresStore) ListReports(ctx context.Context, companyID string, year int) ([]Report, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, standard_id, company_id, year, format, status, object_key, error, COALESCE(requested_by::text, ''), generated_at, created_at
		FROM reports WHERE company_id=$1 AND year=$2
		ORDER BY created_at DESC
	`, companyID, year)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var report Report
		if err := rows.Scan(&report.ID, &report.StandardID, &report.CompanyID, &report.Year, &report.Format,
			&report.Status, &report.ObjectKey, &report.Error, &report.RequestedBy, &report.GeneratedAt, &report.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

func (s *PostgresStore) MarkReportRunning(ctx context.Context, reportID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE reports SET status='running', error='' WHERE id=$1`, reportID)
	if err != nil {
		return fmt.Errorf("mark report running: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkReportDone(ctx context.Context, reportID, objectKey string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE reports SET status='done', object_key=$2, error='', generated_at=NOW() WHERE id=$1
	`, reportID, objectKey)
	if err != nil {
		return fmt.Errorf("mark report done: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkReportFailed(ctx context.Context, reportID, reason string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE reports SET status='failed', error=$2 WHERE id=$1`, reportID, reason)
	if err != nil {
		return fmt.Errorf("mark report failed: %w", err)
	}
	return nil
}

// ---- evidence ----

func (s *PostgresStore) AddEvidence(ctx context.Context, e Evidence) (Evidence, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO evidence (answer_id, file_name, object_key, content_type, size_bytes, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, e.AnswerID, e.FileName, e.ObjectKey, e.ContentType, e.SizeBytes, e.UploadedBy).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return Evidence{}, fmt.Errorf("insert evidence: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) ListEvidence(ctx context.Context, answerID string) ([]Evidence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, answer_id, file_name, object_key, content_type, size_bytes, COALESCE(uploaded_by::text, ''), created_at
		FROM evidence WHERE answer_id=$1 ORDER BY created_at
	`, answerID)
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	defer rows.Close()

	var items []Evidence
	for rows.Next() {
		var e Evidence
		if err := rows.Scan(&e.ID, &e.AnswerID, &e.FileName, &e.ObjectKey, &e.ContentType,
			&e.SizeBytes, &e.UploadedBy, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetEvidence(ctx context.Context, evidenceID string) (Evidence, error) {
	var e Evidence
	err := s.db.QueryRowContext(ctx, `
		SELECT id, answer_id, file_name, object_key, content_type, size_bytes, COALESCE(uploaded_by::text, ''), created_at
		FROM evidence WHERE id=$1
	`, evidenceID).Scan(&e.ID, &e.AnswerID, &e.FileName, &e.ObjectKey, &e.ContentType,
		&e.SizeBytes, &e.UploadedBy, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Evidence{}, ErrNotFound
	}
	if err != nil {
		return Evidence{}, fmt.Errorf("lookup evidence: %w", err)
	}
	return e, nil
}

// ---- notifications ----

func (s *PostgresStore) InsertNotification(ctx context.Context, userID, kind, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (user_id, kind, message)
		VALUES ($1, $2, $3)
	`, userID, kind, message)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error) {
	query := `
		SELECT id, user_id, kind, message, read_at, created_at
		FROM notifications WHERE user_id=$1
	`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT 100`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var items []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Message, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, notificationID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read_at=NOW() WHERE id=$1 AND user_id=$2 AND read_at IS NULL
	`, notificationID, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
