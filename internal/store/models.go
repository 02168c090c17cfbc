package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID              string
	DisplayName     string
	Email           string
	PasswordHash    string
	Role            string
	CompanyID       string
	EmailVerifiedAt *time.Time
	DeactivatedAt   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Company is one node of the reporting-entity forest. ParentID is nil for
// top-level entities.
type Company struct {
	ID        string
	Name      string
	Slug      string
	ParentID  *string
	Sector    string
	Country   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Standard struct {
	ID          string
	Code        string
	Name        string
	Description string
	Published   bool
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Question is one row of a standard's question bank. Content is either plain
// text or a JSON object; SortOrder fixes the author-chosen sibling order the
// organizer preserves.
type Question struct {
	ID        string
	StandardID string
	ParentID  *string
	Type      string
	Content   string
	Theme     string
	Category  string
	SortOrder int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Assignment struct {
	ID         string
	QuestionID string
	UserID     string
	CompanyID  string
	Year       int
	AssignedBy string
	CreatedAt  time.Time
}

// Assignee is an assignment joined with its user, shaped for display.
type Assignee struct {
	UserID      string
	DisplayName string
	Role        string
	CompanyID   string
}

type Answer struct {
	ID         string
	QuestionID string
	CompanyID  string
	Year       int
	Content    json.RawMessage
	Status     string
	AnsweredBy string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Report struct {
	ID          string
	StandardID  string
	CompanyID   string
	Year        int
	Format      string
	Status      string
	ObjectKey   string
	Error       string
	RequestedBy string
	GeneratedAt *time.Time
	CreatedAt   time.Time
}

type Evidence struct {
	ID          string
	AnswerID    string
	FileName    string
	ObjectKey   string
	ContentType string
	SizeBytes   int64
	UploadedBy  string
	CreatedAt   time.Time
}

type Notification struct {
	ID        string
	UserID    string
	Kind      string
	Message   string
	ReadAt    *time.Time
	CreatedAt time.Time
}
