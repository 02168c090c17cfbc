package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"greenledger/api/internal/assignment"
	"greenledger/api/internal/auth"
	"greenledger/api/internal/authpw"
	"greenledger/api/internal/config"
	"greenledger/api/internal/email"
	"greenledger/api/internal/notify"
	"greenledger/api/internal/qcache"
	"greenledger/api/internal/questionnaire"
	"greenledger/api/internal/rbac"
	"greenledger/api/internal/revision"
	"greenledger/api/internal/search"
	"greenledger/api/internal/store"
	"greenledger/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	CompanyID    string
	JTI          string
	ExpiresAt    time.Time
}

type SignUpInput struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	DisplayName string `json:"displayName" validate:"required"`
	CompanyID   string `json:"companyId"`
}

type CreateCompanyInput struct {
	Name     string `json:"name" validate:"required"`
	Slug     string `json:"slug" validate:"required,lowercase,excludesall= "`
	ParentID string `json:"parentId"`
	Sector   string `json:"sector"`
	Country  string `json:"country"`
}

type CreateStandardInput struct {
	Code        string `json:"code" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

type CreateQuestionInput struct {
	ParentID  string `json:"parentId"`
	Type      string `json:"type" validate:"required,oneof=text checkbox dropdown radio table"`
	Content   string `json:"content" validate:"required"`
	Theme     string `json:"theme"`
	Category  string `json:"category"`
	SortOrder int    `json:"sortOrder"`
}

type SaveAnswerInput struct {
	Content json.RawMessage `json:"content" validate:"required"`
	Status  string          `json:"status" validate:"omitempty,oneof=draft submitted approved"`
}

type AssignInput struct {
	UserIDs []string `json:"userIds" validate:"required,min=1,dive,required"`
	Year    int      `json:"year" validate:"required,gte=2000,lte=2100"`
}

type RequestReportInput struct {
	CompanyID string `json:"companyId"`
	Year      int    `json:"year" validate:"required,gte=2000,lte=2100"`
	Format    string `json:"format" validate:"omitempty,oneof=pdf docx csv xlsx"`
}

// dataStore is the persistence surface the service needs. PostgresStore
// implements it; tests substitute a fake.
type dataStore interface {
	CreateUser(ctx context.Context, displayName, email, passwordHash, role, companyID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	ListUsers(ctx context.Context, companyID string) ([]store.User, error)
	UpdateUserRole(ctx context.Context, userID, role string) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	DeactivateUser(ctx context.Context, userID string) error

	SetVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	VerifyUserEmail(ctx context.Context, token string) error
	CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, token string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, token string) error

	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	CreateCompany(ctx context.Context, name, slug string, parentID *string, sector, country string) (store.Company, error)
	GetCompany(ctx context.Context, companyID string) (store.Company, error)
	ListCompanies(ctx context.Context) ([]store.Company, error)
	UpdateCompany(ctx context.Context, companyID, name, sector, country string) error
	DeleteCompany(ctx context.Context, companyID string) error

	CreateStandard(ctx context.Context, code, name, description, createdBy string) (store.Standard, error)
	GetStandard(ctx context.Context, standardID string) (store.Standard, error)
	ListStandards(ctx context.Context, publishedOnly bool) ([]store.Standard, error)
	UpdateStandard(ctx context.Context, standardID, name, description string) error
	DeleteStandard(ctx context.Context, standardID string) error
	PublishStandard(ctx context.Context, standardID string, published bool) error

	ListQuestions(ctx context.Context, standardID string) ([]store.Question, error)
	GetQuestion(ctx context.Context, questionID string) (store.Question, error)
	CreateQuestion(ctx context.Context, q store.Question) (store.Question, error)
	UpdateQuestion(ctx context.Context, q store.Question) error
	DeleteQuestion(ctx context.Context, questionID string) error

	ListAssignees(ctx context.Context, questionID string, year int) ([]store.Assignee, error)
	AssignUsers(ctx context.Context, questionID string, userIDs []string, year int, assignedBy string) ([]store.Assignee, error)
	UnassignUsers(ctx context.Context, questionID string, userIDs []string, year int) ([]string, error)
	ListAssignedQuestionIDs(ctx context.Context, standardID, userID string, year int) ([]string, error)

	UpsertAnswer(ctx context.Context, questionID, companyID string, year int, content json.RawMessage, status, answeredBy string) (store.Answer, error)
	GetAnswer(ctx context.Context, questionID, companyID string, year int) (store.Answer, error)
	ListAnswers(ctx context.Context, standardID, companyID string, year int) (map[string]store.Answer, error)

	GetReport(ctx context.Context, reportID string) (store.Report, error)
	ListReports(ctx context.Context, companyID string, year int) ([]store.Report, error)

	AddEvidence(ctx context.Context, e store.Evidence) (store.Evidence, error)
	ListEvidence(ctx context.Context, answerID string) ([]store.Evidence, error)
	GetEvidence(ctx context.Context, evidenceID string) (store.Evidence, error)

	InsertNotification(ctx context.Context, userID, kind, message string) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]store.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID, userID string) error

	Ping(ctx context.Context) error
}

// refreshStore holds refresh sessions, keyed by token hash.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// reportQueue enqueues background report generation.
type reportQueue interface {
	EnqueueReport(ctx context.Context, standardID, companyID string, year int, format, requestedBy string) (store.Report, error)
	TriggerReport(ctx context.Context, standardID, companyID, questionID string, year int) error
}

// objectStorage is the evidence and report blob backend.
type objectStorage interface {
	UploadEvidence(ctx context.Context, answerID, fileName, contentType string, size int64, body io.Reader) (string, error)
	PresignedURL(ctx context.Context, objectKey, fileName string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, objectKey string) error
}

// Deps carries everything the service composes. Search, Revisions, Storage,
// Jobs and Email may be nil; the corresponding operations degrade or fail
// with a clear error.
type Deps struct {
	Cache     *qcache.Store
	Sessions  refreshStore
	Search    *search.Service
	Revisions *revision.Service
	Storage   objectStorage
	Jobs      reportQueue
	Email     *email.Service
}

type Service struct {
	cfg       config.Config
	store     dataStore
	cache     *qcache.Store
	sessions  refreshStore
	search    *search.Service
	revisions *revision.Service
	storage   objectStorage
	jobs      reportQueue
	email     *email.Service
	auth      *authpw.Service
	notifier  *notify.Recorder
	validate  *validator.Validate
	orphans   questionnaire.OrphanPolicy

	ctrlMu      sync.Mutex
	controllers map[int]*assignment.Controller
}

func New(cfg config.Config, dataStore dataStore, deps Deps) *Service {
	orphans, err := questionnaire.ParseOrphanPolicy(cfg.OrphanPolicy)
	if err != nil {
		log.Printf("app: %v, falling back to promote", err)
		orphans = questionnaire.OrphanPromote
	}

	return &Service{
		cfg:         cfg,
		store:       dataStore,
		cache:       deps.Cache,
		sessions:    deps.Sessions,
		search:      deps.Search,
		revisions:   deps.Revisions,
		storage:     deps.Storage,
		jobs:        deps.Jobs,
		email:       deps.Email,
		auth:        authpw.NewService(dataStore, dataStore),
		notifier:    notify.NewRecorder(dataStore),
		validate:    validator.New(),
		orphans:     orphans,
		controllers: make(map[int]*assignment.Controller),
	}
}

// Bootstrap seeds the first admin account when the user table is empty. The
// generated password is printed once; there is no other way to recover it.
func (s *Service) Bootstrap(ctx context.Context) error {
	users, err := s.store.ListUsers(ctx, "")
	if err != nil {
		return fmt.Errorf("bootstrap: list users: %w", err)
	}
	if len(users) > 0 {
		return nil
	}

	password := util.NewToken()[:16]
	user, err := s.auth.SignUp(ctx, authpw.SignUpRequest{
		Email:       "admin@greenledger.local",
		Password:    password,
		DisplayName: "Administrator",
	})
	if err != nil {
		return fmt.Errorf("bootstrap: create admin: %w", err)
	}
	if err := s.store.UpdateUserRole(ctx, user.ID, string(rbac.RoleAdmin)); err != nil {
		return fmt.Errorf("bootstrap: promote admin: %w", err)
	}

	log.Printf("app: seeded admin account admin@greenledger.local password=%s", password)
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SearchHealthy() bool {
	return s.search != nil
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) validateInput(input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]map[string]string, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, map[string]string{
				"field": fe.Field(),
				"rule":  fe.Tag(),
			})
		}
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid input", details)
	}
	return domainError(http.StatusBadRequest, "INVALID_BODY", "Invalid input", nil)
}

// ---- sessions ----

func (s *Service) SignUp(ctx context.Context, input SignUpInput) (Session, error) {
	if err := s.validateInput(input); err != nil {
		return Session{}, err
	}

	user, err := s.auth.SignUp(ctx, authpw.SignUpRequest{
		Email:       input.Email,
		Password:    input.Password,
		DisplayName: input.DisplayName,
		CompanyID:   input.CompanyID,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrEmailTaken) {
			return Session{}, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
		}
		return Session{}, domainError(http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
	}

	verifyToken, err := s.auth.IssueVerification(ctx, user.ID)
	if err != nil {
		log.Printf("app: issue verification for %s: %v", user.Email, err)
	}
	if s.SMTPConfigured() && verifyToken != "" {
		go func() {
			if err := s.email.SendVerificationEmail(user.Email, user.DisplayName, verifyToken); err != nil {
				log.Printf("app: verification email to %s: %v", user.Email, err)
			}
		}()
	}

	return s.issueSession(ctx, user)
}

// VerifyEmail confirms an address via the token mailed at sign-up.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if err := s.auth.VerifyEmail(ctx, token); err != nil {
		if errors.Is(err, authpw.ErrInvalidVerifyToken) {
			return domainError(http.StatusUnprocessableEntity, "INVALID_TOKEN", "Invalid or expired verification token", nil)
		}
		return err
	}
	return nil
}

// RequestPasswordReset mails a reset link. The response never reveals whether
// the address exists. Without SMTP the token is logged for local development.
func (s *Service) RequestPasswordReset(ctx context.Context, emailAddr string) error {
	token, user, err := s.auth.RequestPasswordReset(ctx, emailAddr)
	if err != nil {
		return err
	}
	if token == "" {
		return nil
	}
	if !s.SMTPConfigured() {
		log.Printf("app: SMTP not configured, password reset token for %s: %s", user.Email, token)
		return nil
	}
	go func() {
		if err := s.email.SendPasswordResetEmail(user.Email, user.DisplayName, token); err != nil {
			log.Printf("app: reset email to %s: %v", user.Email, err)
		}
	}()
	return nil
}

// ResetPassword consumes a mailed reset token.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := s.auth.ResetPassword(ctx, token, newPassword); err != nil {
		if errors.Is(err, authpw.ErrInvalidResetToken) {
			return domainError(http.StatusUnprocessableEntity, "INVALID_TOKEN", "Invalid or expired reset token", nil)
		}
		return domainError(http.StatusBadRequest, "PASSWORD_RESET_FAILED", err.Error(), nil)
	}
	return nil
}

func (s *Service) SignIn(ctx context.Context, emailAddr, password string) (Session, error) {
	user, err := s.auth.SignIn(ctx, emailAddr, password)
	if err != nil {
		if errors.Is(err, authpw.ErrAccountDeactivated) {
			return Session{}, domainError(http.StatusForbidden, "ACCOUNT_DEACTIVATED", "Account deactivated", nil)
		}
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	cached, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}

	// Re-read the user so role changes and deactivation take effect on
	// rotation, not only at access-token expiry.
	user, err := s.store.GetUserByID(ctx, cached.ID)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if user.DeactivatedAt != nil {
		return Session{}, domainError(http.StatusForbidden, "ACCOUNT_DEACTIVATED", "Account deactivated", nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, user.Role, jti, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken()
	refreshExpires := time.Now().Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		CompanyID:    user.CompanyID,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		CompanyID: user.CompanyID,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, session Session, current, next string) error {
	if err := s.auth.ChangePassword(ctx, session.UserID, current, next); err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			return domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Current password is incorrect", nil)
		}
		return domainError(http.StatusBadRequest, "PASSWORD_CHANGE_FAILED", err.Error(), nil)
	}
	return nil
}

// ---- users ----

func (s *Service) ListUsers(ctx context.Context, session Session) ([]map[string]any, error) {
	companyFilter := ""
	if rbac.Normalize(session.Role) != rbac.RoleAdmin && rbac.Normalize(session.Role) != rbac.RoleAuditor {
		companyFilter = session.CompanyID
	}
	users, err := s.store.ListUsers(ctx, companyFilter)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, u := range users {
		items = append(items, map[string]any{
			"id":          u.ID,
			"displayName": u.DisplayName,
			"email":       u.Email,
			"role":        u.Role,
			"companyId":   u.CompanyID,
			"deactivated": u.DeactivatedAt != nil,
		})
	}
	return items, nil
}

// AdminCreateUser provisions an account with a generated password. The
// password is returned only when no SMTP is configured; otherwise the user
// gets a welcome email and resets it themselves.
func (s *Service) AdminCreateUser(ctx context.Context, displayName, emailAddr, role, companyID string) (map[string]any, error) {
	input := SignUpInput{Email: emailAddr, Password: util.NewToken()[:16], DisplayName: displayName, CompanyID: companyID}
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	user, err := s.auth.SignUp(ctx, authpw.SignUpRequest{
		Email:       input.Email,
		Password:    input.Password,
		DisplayName: input.DisplayName,
		CompanyID:   input.CompanyID,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrEmailTaken) {
			return nil, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
		}
		return nil, err
	}

	normalized := rbac.Normalize(role)
	if normalized != rbac.RoleEmployee {
		if err := s.store.UpdateUserRole(ctx, user.ID, string(normalized)); err != nil {
			return nil, err
		}
		user.Role = string(normalized)
	}

	result := map[string]any{
		"id":          user.ID,
		"displayName": user.DisplayName,
		"email":       user.Email,
		"role":        user.Role,
		"companyId":   user.CompanyID,
	}
	if s.SMTPConfigured() {
		go func() {
			if err := s.email.SendWelcomeEmail(user.Email, user.DisplayName); err != nil {
				log.Printf("app: welcome email to %s: %v", user.Email, err)
			}
		}()
	} else {
		result["tempPassword"] = input.Password
	}
	return result, nil
}

func (s *Service) UpdateUserRole(ctx context.Context, userID, role string) error {
	normalized := rbac.Normalize(role)
	if string(normalized) != strings.ToLower(strings.TrimSpace(role)) {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unknown role", nil)
	}
	if err := s.store.UpdateUserRole(ctx, userID, string(normalized)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "User not found", nil)
		}
		return err
	}
	return nil
}

func (s *Service) DeactivateUser(ctx context.Context, userID string) error {
	if err := s.store.DeactivateUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "User not found", nil)
		}
		return err
	}
	return nil
}

// ---- companies ----

type companyNode struct {
	Company  map[string]any
	Children []*companyNode
}

func (s *Service) CreateCompany(ctx context.Context, input CreateCompanyInput) (map[string]any, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	var parent *string
	if input.ParentID != "" {
		if _, err := s.store.GetCompany(ctx, input.ParentID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Parent company not found", nil)
			}
			return nil, err
		}
		parent = &input.ParentID
	}
	company, err := s.store.CreateCompany(ctx, input.Name, input.Slug, parent, input.Sector, input.Country)
	if err != nil {
		return nil, err
	}
	return companyPayload(company), nil
}

func (s *Service) UpdateCompany(ctx context.Context, companyID, name, sector, country string) error {
	if strings.TrimSpace(name) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if err := s.store.UpdateCompany(ctx, companyID, name, sector, country); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Company not found", nil)
		}
		return err
	}
	return nil
}

func (s *Service) GetCompany(ctx context.Context, companyID string) (map[string]any, error) {
	company, err := s.store.GetCompany(ctx, companyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Company not found", nil)
		}
		return nil, err
	}
	return companyPayload(company), nil
}

// ListCompanyTree returns the reporting-entity forest: top-level companies in
// name order, each with its nested subsidiaries.
// DeleteCompany removes a leaf company. Companies with subsidiaries must be
// reorganized first; deleting a mid-tree node would silently reparent them.
func (s *Service) DeleteCompany(ctx context.Context, companyID string) error {
	companies, err := s.store.ListCompanies(ctx)
	if err != nil {
		return err
	}
	for _, c := range companies {
		if c.ParentID != nil && *c.ParentID == companyID {
			return domainError(http.StatusConflict, "COMPANY_HAS_SUBSIDIARIES", "Reassign or delete subsidiaries first", nil)
		}
	}
	if err := s.store.DeleteCompany(ctx, companyID); err != nil {
		return err
	}
	return nil
}

// ListSubsidiaries returns the direct children of one company.
func (s *Service) ListSubsidiaries(ctx context.Context, companyID string) ([]map[string]any, error) {
	if _, err := s.store.GetCompany(ctx, companyID); err != nil {
		return nil, err
	}
	companies, err := s.store.ListCompanies(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0)
	for _, c := range companies {
		if c.ParentID != nil && *c.ParentID == companyID {
			items = append(items, companyPayload(c))
		}
	}
	return items, nil
}

func (s *Service) ListCompanyTree(ctx context.Context) ([]map[string]any, error) {
	companies, err := s.store.ListCompanies(ctx)
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]*companyNode, len(companies))
	for _, c := range companies {
		nodes[c.ID] = &companyNode{Company: companyPayload(c)}
	}
	var roots []*companyNode
	for _, c := range companies {
		node := nodes[c.ID]
		if c.ParentID != nil {
			if parent, ok := nodes[*c.ParentID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}

	var render func(n *companyNode) map[string]any
	render = func(n *companyNode) map[string]any {
		out := n.Company
		children := make([]map[string]any, 0, len(n.Children))
		for _, child := range n.Children {
			children = append(children, render(child))
		}
		out["children"] = children
		return out
	}

	items := make([]map[string]any, 0, len(roots))
	for _, root := range roots {
		items = append(items, render(root))
	}
	return items, nil
}

func companyPayload(c store.Company) map[string]any {
	payload := map[string]any{
		"id":      c.ID,
		"name":    c.Name,
		"slug":    c.Slug,
		"sector":  c.Sector,
		"country": c.Country,
	}
	if c.ParentID != nil {
		payload["parentId"] = *c.ParentID
	}
	return payload
}

// ---- standards ----

func (s *Service) CreateStandard(ctx context.Context, session Session, input CreateStandardInput) (map[string]any, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	standard, err := s.store.CreateStandard(ctx, input.Code, input.Name, input.Description, session.UserID)
	if err != nil {
		return nil, err
	}

	if s.revisions != nil {
		snap := revision.Snapshot{Code: standard.Code, Name: standard.Name, Description: standard.Description}
		if err := s.revisions.EnsureStandardRepo(standard.ID, snap, session.UserName); err != nil {
			log.Printf("app: init revision repo for %s: %v", standard.ID, err)
		}
	}
	if s.search != nil {
		s.search.IndexStandard(search.StandardRecord{
			ID: standard.ID, Code: standard.Code, Name: standard.Name, Description: standard.Description,
		})
	}
	return standardPayload(standard), nil
}

func (s *Service) GetStandard(ctx context.Context, standardID string) (map[string]any, error) {
	standard, err := s.store.GetStandard(ctx, standardID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Standard not found", nil)
		}
		return nil, err
	}
	return standardPayload(standard), nil
}

// ListStandards hides unpublished standards from employees and auditors;
// managers and admins see drafts too.
func (s *Service) ListStandards(ctx context.Context, session Session) ([]map[string]any, error) {
	publishedOnly := !s.Can(session.Role, rbac.ActionReview)
	standards, err := s.store.ListStandards(ctx, publishedOnly)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(standards))
	for _, standard := range standards {
		items = append(items, standardPayload(standard))
	}
	return items, nil
}

// PublishStandard marks the standard visible and tags the head revision with
// the given version label.
// UpdateStandard changes name and description. The code is immutable once
// created; answers and revisions reference it.
func (s *Service) UpdateStandard(ctx context.Context, session Session, standardID string, input CreateStandardInput) (map[string]any, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	standard, err := s.store.GetStandard(ctx, standardID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Standard not found", nil)
		}
		return nil, err
	}
	if input.Code != standard.Code {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Standard code cannot be changed", nil)
	}
	if err := s.store.UpdateStandard(ctx, standardID, input.Name, input.Description); err != nil {
		return nil, err
	}
	standard.Name, standard.Description = input.Name, input.Description

	if s.search != nil {
		s.search.IndexStandard(search.StandardRecord{
			ID: standard.ID, Code: standard.Code, Name: standard.Name, Description: standard.Description,
		})
	}
	s.snapshotStandard(ctx, standardID, session.UserName, "update standard metadata")
	return standardPayload(standard), nil
}

// DeleteStandard removes a standard and everything under it (questions,
// assignments, answers and reports cascade in the schema).
func (s *Service) DeleteStandard(ctx context.Context, standardID string) error {
	questions, err := s.store.ListQuestions(ctx, standardID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteStandard(ctx, standardID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Standard not found", nil)
		}
		return err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, standardID); err != nil {
			log.Printf("app: invalidate question cache %s: %v", standardID, err)
		}
	}
	if s.search != nil {
		for _, q := range questions {
			s.search.DeleteQuestion(q.ID)
		}
	}
	return nil
}

func (s *Service) PublishStandard(ctx context.Context, session Session, standardID, version string) error {
	standard, err := s.store.GetStandard(ctx, standardID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Standard not found", nil)
		}
		return err
	}
	if err := s.store.PublishStandard(ctx, standardID, true); err != nil {
		return err
	}

	if s.revisions != nil {
		if version == "" {
			version = "published-" + time.Now().Format("2006-01-02")
		}
		_, head, err := s.revisions.GetHeadSnapshot(standardID)
		if err == nil {
			if err := s.revisions.TagVersion(standardID, head.Hash, version); err != nil {
				log.Printf("app: tag %s on %s: %v", version, standardID, err)
			}
		}
	}
	if s.search != nil {
		s.search.IndexStandard(search.StandardRecord{
			ID: standard.ID, Code: standard.Code, Name: standard.Name, Description: standard.Description,
		})
	}
	return nil
}

func standardPayload(st store.Standard) map[string]any {
	return map[string]any{
		"id":          st.ID,
		"code":        st.Code,
		"name":        st.Name,
		"description": st.Description,
		"published":   st.Published,
		"createdBy":   st.CreatedBy,
	}
}

// ---- revisions ----

func (s *Service) StandardHistory(ctx context.Context, standardID string, limit int) ([]map[string]any, error) {
	if s.revisions == nil {
		return nil, domainError(http.StatusServiceUnavailable, "REVISIONS_UNAVAILABLE", "Revision history not configured", nil)
	}
	if _, err := s.store.GetStandard(ctx, standardID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Standard not found", nil)
		}
		return nil, err
	}
	commits, err := s.revisions.History(standardID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(commits))
	for _, c := range commits {
		items = append(items, map[string]any{
			"hash":      c.Hash,
			"message":   c.Message,
			"author":    c.Author,
			"createdAt": c.CreatedAt,
		})
	}
	return items, nil
}

func (s *Service) StandardRevision(ctx context.Context, standardID, hash string) (map[string]any, error) {
	if s.revisions == nil {
		return nil, domainError(http.StatusServiceUnavailable, "REVISIONS_UNAVAILABLE", "Revision history not configured", nil)
	}
	snap, err := s.revisions.GetSnapshotByHash(standardID, hash)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Revision not found", nil)
	}
	questions := make([]map[string]any, 0, len(snap.Questions))
	for _, q := range snap.Questions {
		questions = append(questions, map[string]any{
			"id":        q.ID,
			"parentId":  q.ParentID,
			"type":      q.Type,
			"content":   q.Content,
			"theme":     q.Theme,
			"category":  q.Category,
			"sortOrder": q.SortOrder,
		})
	}
	return map[string]any{
		"code":        snap.Code,
		"name":        snap.Name,
		"description": snap.Description,
		"questions":   questions,
	}, nil
}

// snapshotStandard commits the current question bank to the standard's
// revision repo. Best effort; persistence already succeeded.
func (s *Service) snapshotStandard(ctx context.Context, standardID, author, message string) {
	if s.revisions == nil {
		return
	}
	standard, err := s.store.GetStandard(ctx, standardID)
	if err != nil {
		log.Printf("app: snapshot %s: %v", standardID, err)
		return
	}
	questions, err := s.store.ListQuestions(ctx, standardID)
	if err != nil {
		log.Printf("app: snapshot %s: %v", standardID, err)
		return
	}

	snap := revision.Snapshot{Code: standard.Code, Name: standard.Name, Description: standard.Description}
	for _, q := range questions {
		parentID := ""
		if q.ParentID != nil {
			parentID = *q.ParentID
		}
		snap.Questions = append(snap.Questions, revision.QuestionSnapshot{
			ID: q.ID, ParentID: parentID, Type: q.Type, Content: q.Content,
			Theme: q.Theme, Category: q.Category, SortOrder: q.SortOrder,
		})
	}

	if err := s.revisions.EnsureStandardRepo(standardID, snap, author); err != nil {
		log.Printf("app: snapshot %s: %v", standardID, err)
		return
	}
	if _, err := s.revisions.CommitSnapshot(standardID, snap, author, message); err != nil {
		log.Printf("app: snapshot %s: %v", standardID, err)
	}
}
