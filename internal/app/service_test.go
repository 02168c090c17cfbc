package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"greenledger/api/internal/config"
	"greenledger/api/internal/qcache"
	"greenledger/api/internal/store"
)

// fakeStore is an in-memory dataStore for service tests.
type fakeStore struct {
	mu sync.Mutex

	users         map[string]store.User
	companies     map[string]store.Company
	standards     map[string]store.Standard
	questions     map[string]store.Question
	assignments   map[string][]store.Assignee // key question:year
	answers       map[string]store.Answer     // key question:company:year
	reports       map[string]store.Report
	evidence      map[string]store.Evidence
	notifications []store.Notification
	revokedJTIs   map[string]bool
	verifyTokens  map[string]string // token -> userID
	resetTokens   map[string]string // token -> userID, deleted when used

	listQuestionCalls int
	assignCalls       int
	unassignCalls     int
	assignErr         error

	seq int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:        map[string]store.User{},
		companies:    map[string]store.Company{},
		standards:    map[string]store.Standard{},
		questions:    map[string]store.Question{},
		assignments:  map[string][]store.Assignee{},
		answers:      map[string]store.Answer{},
		reports:      map[string]store.Report{},
		evidence:     map[string]store.Evidence{},
		revokedJTIs:  map[string]bool{},
		verifyTokens: map[string]string{},
		resetTokens:  map[string]string{},
	}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s%d", prefix, f.seq)
}

func assignKey(questionID string, year int) string {
	return fmt.Sprintf("%s:%d", questionID, year)
}

func answerKey(questionID, companyID string, year int) string {
	return fmt.Sprintf("%s:%s:%d", questionID, companyID, year)
}

func (f *fakeStore) CreateUser(_ context.Context, displayName, email, passwordHash, role, companyID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := store.User{ID: f.nextID("u"), DisplayName: displayName, Email: email, PasswordHash: passwordHash, Role: role, CompanyID: companyID}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) ListUsers(_ context.Context, companyID string) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.User
	for _, u := range f.users {
		if companyID == "" || u.CompanyID == companyID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateUserRole(_ context.Context, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.Role = role
	f.users[userID] = u
	return nil
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.PasswordHash = passwordHash
	f.users[userID] = u
	return nil
}

func (f *fakeStore) DeactivateUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now()
	u.DeactivatedAt = &now
	f.users[userID] = u
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokedJTIs[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revokedJTIs[jti], nil
}

func (f *fakeStore) SetVerificationToken(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[userID]; !ok {
		return store.ErrNotFound
	}
	f.verifyTokens[token] = userID
	return nil
}

func (f *fakeStore) VerifyUserEmail(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.verifyTokens[token]
	if !ok {
		return store.ErrNotFound
	}
	delete(f.verifyTokens, token)
	u := f.users[userID]
	now := time.Now()
	u.EmailVerifiedAt = &now
	f.users[userID] = u
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetTokens[token] = userID
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.resetTokens[token]
	if !ok {
		return "", store.ErrNotFound
	}
	return userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.resetTokens[token]; !ok {
		return store.ErrNotFound
	}
	delete(f.resetTokens, token)
	return nil
}

func (f *fakeStore) CreateCompany(_ context.Context, name, slug string, parentID *string, sector, country string) (store.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := store.Company{ID: f.nextID("co"), Name: name, Slug: slug, ParentID: parentID, Sector: sector, Country: country}
	f.companies[c.ID] = c
	return c, nil
}

func (f *fakeStore) GetCompany(_ context.Context, companyID string) (store.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.companies[companyID]
	if !ok {
		return store.Company{}, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) ListCompanies(_ context.Context) ([]store.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Company
	for _, c := range f.companies {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeStore) UpdateCompany(_ context.Context, companyID, name, sector, country string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.companies[companyID]
	if !ok {
		return store.ErrNotFound
	}
	c.Name, c.Sector, c.Country = name, sector, country
	f.companies[companyID] = c
	return nil
}

func (f *fakeStore) DeleteCompany(_ context.Context, companyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.companies[companyID]; !ok {
		return store.ErrNotFound
	}
	delete(f.companies, companyID)
	return nil
}

func (f *fakeStore) CreateStandard(_ context.Context, code, name, description, createdBy string) (store.Standard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := store.Standard{ID: f.nextID("std"), Code: code, Name: name, Description: description, CreatedBy: createdBy}
	f.standards[st.ID] = st
	return st, nil
}

func (f *fakeStore) GetStandard(_ context.Context, standardID string) (store.Standard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.standards[standardID]
	if !ok {
		return store.Standard{}, store.ErrNotFound
	}
	return st, nil
}

func (f *fakeStore) ListStandards(_ context.Context, publishedOnly bool) ([]store.Standard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Standard
	for _, st := range f.standards {
		if !publishedOnly || st.Published {
			out = append(out, st)
		}
	}
	return out, nil
}

func (f *fakeStore) PublishStandard(_ context.Context, standardID string, published bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.standards[standardID]
	if !ok {
		return store.ErrNotFound
	}
	st.Published = published
	f.standards[standardID] = st
	return nil
}

func (f *fakeStore) UpdateStandard(_ context.Context, standardID, name, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.standards[standardID]
	if !ok {
		return store.ErrNotFound
	}
	st.Name, st.Description = name, description
	f.standards[standardID] = st
	return nil
}

func (f *fakeStore) DeleteStandard(_ context.Context, standardID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.standards[standardID]; !ok {
		return store.ErrNotFound
	}
	delete(f.standards, standardID)
	for id, q := range f.questions {
		if q.StandardID == standardID {
			delete(f.questions, id)
		}
	}
	return nil
}

func (f *fakeStore) ListQuestions(_ context.Context, standardID string) ([]store.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listQuestionCalls++
	var out []store.Question
	for _, q := range f.questions {
		if q.StandardID == standardID {
			out = append(out, q)
		}
	}
	// sort_order ordering, mirroring the SQL
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].SortOrder < out[i].SortOrder {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (f *fakeStore) GetQuestion(_ context.Context, questionID string) (store.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.questions[questionID]
	if !ok {
		return store.Question{}, store.ErrNotFound
	}
	return q, nil
}

func (f *fakeStore) CreateQuestion(_ context.Context, q store.Question) (store.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q.ID = f.nextID("q")
	f.questions[q.ID] = q
	return q, nil
}

func (f *fakeStore) UpdateQuestion(_ context.Context, q store.Question) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.questions[q.ID]; !ok {
		return store.ErrNotFound
	}
	f.questions[q.ID] = q
	return nil
}

func (f *fakeStore) DeleteQuestion(_ context.Context, questionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.questions[questionID]; !ok {
		return store.ErrNotFound
	}
	delete(f.questions, questionID)
	return nil
}

func (f *fakeStore) ListAssignees(_ context.Context, questionID string, year int) ([]store.Assignee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assignments[assignKey(questionID, year)], nil
}

func (f *fakeStore) AssignUsers(_ context.Context, questionID string, userIDs []string, year int, _ string) ([]store.Assignee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assignCalls++
	if f.assignErr != nil {
		return nil, f.assignErr
	}
	key := assignKey(questionID, year)
	existing := map[string]bool{}
	for _, a := range f.assignments[key] {
		existing[a.UserID] = true
	}
	for _, id := range userIDs {
		if existing[id] {
			continue
		}
		u := f.users[id]
		f.assignments[key] = append(f.assignments[key], store.Assignee{
			UserID: id, DisplayName: u.DisplayName, Role: u.Role, CompanyID: u.CompanyID,
		})
	}
	return f.assignments[key], nil
}

func (f *fakeStore) UnassignUsers(_ context.Context, questionID string, userIDs []string, year int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unassignCalls++
	key := assignKey(questionID, year)
	drop := map[string]bool{}
	for _, id := range userIDs {
		drop[id] = true
	}
	var kept []store.Assignee
	var removed []string
	for _, a := range f.assignments[key] {
		if drop[a.UserID] {
			removed = append(removed, a.UserID)
		} else {
			kept = append(kept, a)
		}
	}
	f.assignments[key] = kept
	return removed, nil
}

func (f *fakeStore) ListAssignedQuestionIDs(_ context.Context, standardID, userID string, year int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for key, assignees := range f.assignments {
		for _, a := range assignees {
			if a.UserID == userID {
				out = append(out, key)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertAnswer(_ context.Context, questionID, companyID string, year int, content json.RawMessage, status, answeredBy string) (store.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := answerKey(questionID, companyID, year)
	a, ok := f.answers[key]
	if !ok {
		a = store.Answer{ID: f.nextID("ans"), QuestionID: questionID, CompanyID: companyID, Year: year}
	}
	a.Content, a.Status, a.AnsweredBy = content, status, answeredBy
	f.answers[key] = a
	return a, nil
}

func (f *fakeStore) GetAnswer(_ context.Context, questionID, companyID string, year int) (store.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.answers[answerKey(questionID, companyID, year)]
	if !ok {
		return store.Answer{}, store.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) ListAnswers(_ context.Context, standardID, companyID string, year int) (map[string]store.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]store.Answer{}
	for _, a := range f.answers {
		if a.CompanyID == companyID && a.Year == year {
			if q, ok := f.questions[a.QuestionID]; ok && q.StandardID == standardID {
				out[a.QuestionID] = a
			}
		}
	}
	return out, nil
}

func (f *fakeStore) GetReport(_ context.Context, reportID string) (store.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[reportID]
	if !ok {
		return store.Report{}, store.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) ListReports(_ context.Context, companyID string, year int) ([]store.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Report
	for _, r := range f.reports {
		if companyID != "" && r.CompanyID != companyID {
			continue
		}
		if year != 0 && r.Year != year {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeStore) AddEvidence(_ context.Context, e store.Evidence) (store.Evidence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = f.nextID("ev")
	f.evidence[e.ID] = e
	return e, nil
}

func (f *fakeStore) ListEvidence(_ context.Context, answerID string) ([]store.Evidence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Evidence
	for _, e := range f.evidence {
		if e.AnswerID == answerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) GetEvidence(_ context.Context, evidenceID string) (store.Evidence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.evidence[evidenceID]
	if !ok {
		return store.Evidence{}, store.ErrNotFound
	}
	return e, nil
}

func (f *fakeStore) InsertNotification(_ context.Context, userID, kind, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, store.Notification{
		ID: f.nextID("n"), UserID: userID, Kind: kind, Message: message,
	})
	return nil
}

func (f *fakeStore) ListNotifications(_ context.Context, userID string, unreadOnly bool) ([]store.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Notification
	for _, n := range f.notifications {
		if n.UserID == userID && (!unreadOnly || n.ReadAt == nil) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkNotificationRead(_ context.Context, notificationID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, n := range f.notifications {
		if n.ID == notificationID && n.UserID == userID && n.ReadAt == nil {
			now := time.Now()
			f.notifications[i].ReadAt = &now
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeStore) Ping(context.Context) error { return nil }

// fakeSessions is an in-memory refresh session store.
type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]store.User
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[string]store.User{}}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash string, user store.User, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[tokenHash] = user
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.sessions[tokenHash]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, tokenHash)
	return nil
}

// fakeQueue records report trigger calls.
type fakeQueue struct {
	mu        sync.Mutex
	enqueued  []store.Report
	triggered []string // companyIDs
}

func (f *fakeQueue) EnqueueReport(_ context.Context, standardID, companyID string, year int, format, requestedBy string) (store.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := store.Report{ID: fmt.Sprintf("rep%d", len(f.enqueued)+1), StandardID: standardID, CompanyID: companyID, Year: year, Format: format, Status: "pending", RequestedBy: requestedBy}
	f.enqueued = append(f.enqueued, r)
	return r, nil
}

func (f *fakeQueue) TriggerReport(_ context.Context, standardID, companyID, questionID string, year int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append(f.triggered, companyID)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:    "test-secret",
		AccessTTL:    15 * time.Minute,
		RefreshTTL:   24 * time.Hour,
		OrphanPolicy: "promote",
	}
}

func newTestService(t *testing.T) (*Service, *fakeStore, *fakeQueue) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := qcache.NewStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	fs := newFakeStore()
	queue := &fakeQueue{}
	svc := New(testConfig(), fs, Deps{
		Cache:    cache,
		Sessions: newFakeSessions(),
		Jobs:     queue,
	})
	return svc, fs, queue
}

func seedStandard(t *testing.T, fs *fakeStore) (standardID string, q1, q1a, q2 store.Question) {
	t.Helper()
	ctx := context.Background()
	std, _ := fs.CreateStandard(ctx, "GRI-305", "Emissions", "", "u0")
	q1, _ = fs.CreateQuestion(ctx, store.Question{StandardID: std.ID, Type: "text", Content: "Scope 1 emissions?", SortOrder: 1})
	q1a, _ = fs.CreateQuestion(ctx, store.Question{StandardID: std.ID, ParentID: &q1.ID, Type: "dropdown", Content: "Total tCO2e?", SortOrder: 2})
	q2, _ = fs.CreateQuestion(ctx, store.Question{StandardID: std.ID, Type: "text", Content: "Reduction targets?", SortOrder: 3})
	return std.ID, q1, q1a, q2
}

func seedUser(fs *fakeStore, role, companyID string) store.User {
	u, _ := fs.CreateUser(context.Background(), "User "+role, role+"@acme.example", "x", role, companyID)
	return u
}

func managerSession(u store.User) Session {
	return Session{UserID: u.ID, UserName: u.DisplayName, Role: u.Role, CompanyID: u.CompanyID}
}

func TestListStandardQuestionsOrdersAndNumbers(t *testing.T) {
	svc, fs, _ := newTestService(t)
	standardID, q1, q1a, q2 := seedStandard(t, fs)
	ctx := context.Background()

	questions, err := svc.ListStandardQuestions(ctx, standardID, 2026)
	if err != nil {
		t.Fatalf("ListStandardQuestions: %v", err)
	}
	if len(questions) != 3 {
		t.Fatalf("got %d questions, want 3", len(questions))
	}

	wantOrder := []string{q1.ID, q1a.ID, q2.ID}
	wantNos := []string{"1", "1(a)", "2"}
	for i, q := range questions {
		if q.ID != wantOrder[i] {
			t.Errorf("position %d: got %s, want %s", i, q.ID, wantOrder[i])
		}
		if q.DisplayNo != wantNos[i] {
			t.Errorf("position %d: displayNo %q, want %q", i, q.DisplayNo, wantNos[i])
		}
	}
}

func TestListStandardQuestionsServedFromCache(t *testing.T) {
	svc, fs, _ := newTestService(t)
	standardID, _, _, _ := seedStandard(t, fs)
	ctx := context.Background()

	if _, err := svc.ListStandardQuestions(ctx, standardID, 2026); err != nil {
		t.Fatalf("first list: %v", err)
	}
	if _, err := svc.ListStandardQuestions(ctx, standardID, 2026); err != nil {
		t.Fatalf("second list: %v", err)
	}
	if fs.listQuestionCalls != 1 {
		t.Errorf("store hit %d times, want 1 (second call cached)", fs.listQuestionCalls)
	}
}

func TestCreateQuestionInvalidatesCache(t *testing.T) {
	svc, fs, _ := newTestService(t)
	standardID, _, _, _ := seedStandard(t, fs)
	admin := seedUser(fs, "admin", "")
	ctx := context.Background()

	if _, err := svc.ListStandardQuestions(ctx, standardID, 2026); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	_, err := svc.CreateQuestion(ctx, managerSession(admin), standardID, CreateQuestionInput{
		Type: "text", Content: "New question", SortOrder: 4,
	})
	if err != nil {
		t.Fatalf("CreateQuestion: %v", err)
	}

	questions, err := svc.ListStandardQuestions(ctx, standardID, 2026)
	if err != nil {
		t.Fatalf("relist: %v", err)
	}
	if len(questions) != 4 {
		t.Errorf("got %d questions after create, want 4 (cache must be invalidated)", len(questions))
	}
}

func TestCreateQuestionValidation(t *testing.T) {
	svc, fs, _ := newTestService(t)
	standardID, _, _, _ := seedStandard(t, fs)
	admin := seedUser(fs, "admin", "")
	ctx := context.Background()

	for _, bad := range []string{"freeform", "numeric", "single_choice"} {
		_, err := svc.CreateQuestion(ctx, managerSession(admin), standardID, CreateQuestionInput{
			Type: bad, Content: "bad type",
		})
		var domainErr *DomainError
		if err == nil || !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
			t.Fatalf("type %q: err = %v, want VALIDATION_ERROR", bad, err)
		}
	}

	for _, good := range []string{"text", "checkbox", "dropdown", "radio", "table"} {
		if _, err := svc.CreateQuestion(ctx, managerSession(admin), standardID, CreateQuestionInput{
			Type: good, Content: "Question of type " + good,
		}); err != nil {
			t.Fatalf("type %q: %v", good, err)
		}
	}
}

func TestAssignQuestionHappyPath(t *testing.T) {
	svc, fs, queue := newTestService(t)
	standardID, q1, _, _ := seedStandard(t, fs)
	manager := seedUser(fs, "manager", "co1")
	worker := seedUser(fs, "employee", "co1")
	ctx := context.Background()

	err := svc.AssignQuestion(ctx, managerSession(manager), standardID, q1.ID, AssignInput{
		UserIDs: []string{worker.ID}, Year: 2026,
	})
	if err != nil {
		t.Fatalf("AssignQuestion: %v", err)
	}

	if fs.assignCalls != 1 {
		t.Errorf("assign calls = %d, want 1", fs.assignCalls)
	}
	assignees, _ := fs.ListAssignees(ctx, q1.ID, 2026)
	if len(assignees) != 1 || assignees[0].UserID != worker.ID {
		t.Errorf("assignees = %+v, want [%s]", assignees, worker.ID)
	}
	if len(queue.triggered) != 1 || queue.triggered[0] != "co1" {
		t.Errorf("report triggers = %v, want [co1]", queue.triggered)
	}

	// the actor gets a success notification
	notes, _ := fs.ListNotifications(ctx, manager.ID, false)
	if len(notes) != 1 || notes[0].Kind != "success" {
		t.Errorf("notifications = %+v, want one success", notes)
	}
}

func TestAssignQuestionForbiddenForEmployee(t *testing.T) {
	svc, fs, queue := newTestService(t)
	standardID, q1, _, _ := seedStandard(t, fs)
	worker := seedUser(fs, "employee", "co1")

	err := svc.AssignQuestion(context.Background(), managerSession(worker), standardID, q1.ID, AssignInput{
		UserIDs: []string{worker.ID}, Year: 2026,
	})
	var domainErr *DomainError
	if err == nil || !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("err = %v, want 403", err)
	}
	if fs.assignCalls != 0 {
		t.Errorf("mutation dispatched despite forbidden role")
	}
	if len(queue.triggered) != 0 {
		t.Errorf("report triggered despite forbidden role")
	}
}

func TestUnassignNeverTriggersReports(t *testing.T) {
	svc, fs, queue := newTestService(t)
	standardID, q1, _, _ := seedStandard(t, fs)
	manager := seedUser(fs, "manager", "co1")
	worker := seedUser(fs, "employee", "co1")
	ctx := context.Background()

	if err := svc.AssignQuestion(ctx, managerSession(manager), standardID, q1.ID, AssignInput{UserIDs: []string{worker.ID}, Year: 2026}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	triggersAfterAssign := len(queue.triggered)

	if err := svc.UnassignQuestion(ctx, managerSession(manager), standardID, q1.ID, AssignInput{UserIDs: []string{worker.ID}, Year: 2026}); err != nil {
		t.Fatalf("unassign: %v", err)
	}

	if len(queue.triggered) != triggersAfterAssign {
		t.Errorf("unassign added report triggers: %v", queue.triggered)
	}
	assignees, _ := fs.ListAssignees(ctx, q1.ID, 2026)
	if len(assignees) != 0 {
		t.Errorf("assignees after unassign = %+v, want none", assignees)
	}
}

func TestAssignRollsBackOnMutationFailure(t *testing.T) {
	svc, fs, queue := newTestService(t)
	standardID, q1, _, _ := seedStandard(t, fs)
	manager := seedUser(fs, "manager", "co1")
	worker := seedUser(fs, "employee", "co1")
	ctx := context.Background()

	fs.assignErr = fmt.Errorf("deadlock detected")
	err := svc.AssignQuestion(ctx, managerSession(manager), standardID, q1.ID, AssignInput{
		UserIDs: []string{worker.ID}, Year: 2026,
	})
	if err == nil {
		t.Fatal("expected error from failed mutation")
	}
	if len(queue.triggered) != 0 {
		t.Errorf("report triggered despite failed mutation")
	}
	notes, _ := fs.ListNotifications(ctx, manager.ID, false)
	if len(notes) != 1 || notes[0].Kind != "error" {
		t.Errorf("notifications = %+v, want one error", notes)
	}
}

func TestSaveAnswerRequiresAssignmentForEmployee(t *testing.T) {
	svc, fs, _ := newTestService(t)
	standardID, q1, _, _ := seedStandard(t, fs)
	manager := seedUser(fs, "manager", "co1")
	worker := seedUser(fs, "employee", "co1")
	ctx := context.Background()

	content := json.RawMessage(`{"value": 830, "unit": "tCO2e"}`)

	_, err := svc.SaveAnswer(ctx, managerSession(worker), standardID, q1.ID, 2026, SaveAnswerInput{Content: content})
	var domainErr *DomainError
	if err == nil || !errors.As(err, &domainErr) || domainErr.Code != "NOT_ASSIGNED" {
		t.Fatalf("unassigned employee err = %v, want NOT_ASSIGNED", err)
	}

	if err := svc.AssignQuestion(ctx, managerSession(manager), standardID, q1.ID, AssignInput{UserIDs: []string{worker.ID}, Year: 2026}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	answer, err := svc.SaveAnswer(ctx, managerSession(worker), standardID, q1.ID, 2026, SaveAnswerInput{Content: content})
	if err != nil {
		t.Fatalf("SaveAnswer after assignment: %v", err)
	}
	if answer["status"] != "draft" {
		t.Errorf("status = %v, want draft", answer["status"])
	}
}

func TestSaveAnswerApprovalNeedsReviewer(t *testing.T) {
	svc, fs, _ := newTestService(t)
	standardID, q1, _, _ := seedStandard(t, fs)
	manager := seedUser(fs, "manager", "co1")
	worker := seedUser(fs, "employee", "co1")
	ctx := context.Background()

	if err := svc.AssignQuestion(ctx, managerSession(manager), standardID, q1.ID, AssignInput{UserIDs: []string{worker.ID}, Year: 2026}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	content := json.RawMessage(`"done"`)
	_, err := svc.SaveAnswer(ctx, managerSession(worker), standardID, q1.ID, 2026, SaveAnswerInput{Content: content, Status: "approved"})
	var domainErr *DomainError
	if err == nil || !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("employee approve err = %v, want 403", err)
	}

	if _, err := svc.SaveAnswer(ctx, managerSession(manager), standardID, q1.ID, 2026, SaveAnswerInput{Content: content, Status: "approved"}); err != nil {
		t.Fatalf("manager approve: %v", err)
	}
}

func TestRequestReportScopesCompany(t *testing.T) {
	svc, fs, queue := newTestService(t)
	standardID, _, _, _ := seedStandard(t, fs)
	manager := seedUser(fs, "manager", "co1")
	ctx := context.Background()

	report, err := svc.RequestReport(ctx, managerSession(manager), standardID, RequestReportInput{Year: 2026, Format: "csv"})
	if err != nil {
		t.Fatalf("RequestReport: %v", err)
	}
	if report["companyId"] != "co1" {
		t.Errorf("companyId = %v, want co1 (defaulted from session)", report["companyId"])
	}
	if len(queue.enqueued) != 1 || queue.enqueued[0].Format != "csv" {
		t.Errorf("enqueued = %+v", queue.enqueued)
	}

	// cross-company request denied for manager
	_, err = svc.RequestReport(ctx, managerSession(manager), standardID, RequestReportInput{CompanyID: "co2", Year: 2026})
	var domainErr *DomainError
	if err == nil || !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("cross-company err = %v, want 403", err)
	}
}

func TestListCompanyTreeNestsSubsidiaries(t *testing.T) {
	svc, fs, _ := newTestService(t)
	ctx := context.Background()

	parent, _ := fs.CreateCompany(ctx, "Acme Group", "acme", nil, "industrial", "DE")
	if _, err := fs.CreateCompany(ctx, "Acme Energy", "acme-energy", &parent.ID, "energy", "DE"); err != nil {
		t.Fatalf("seed child: %v", err)
	}

	tree, err := svc.ListCompanyTree(ctx)
	if err != nil {
		t.Fatalf("ListCompanyTree: %v", err)
	}
	if len(tree) != 1 {
		t.Fatalf("roots = %d, want 1", len(tree))
	}
	children, ok := tree[0]["children"].([]map[string]any)
	if !ok || len(children) != 1 {
		t.Fatalf("children = %v, want 1 nested company", tree[0]["children"])
	}
	if children[0]["name"] != "Acme Energy" {
		t.Errorf("child name = %v", children[0]["name"])
	}
}

func TestBootstrapSeedsAdminOnce(t *testing.T) {
	svc, fs, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	admin, err := fs.GetUserByEmail(ctx, "admin@greenledger.local")
	if err != nil {
		t.Fatalf("admin not created: %v", err)
	}
	if admin.Role != "admin" {
		t.Errorf("role = %q, want admin", admin.Role)
	}

	if err := svc.Bootstrap(ctx); err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	users, _ := fs.ListUsers(ctx, "")
	if len(users) != 1 {
		t.Errorf("users = %d after double bootstrap, want 1", len(users))
	}
}

func TestPasswordResetFlow(t *testing.T) {
	svc, fs, _ := newTestService(t)
	ctx := context.Background()
	hash, _ := bcrypt.GenerateFromPassword([]byte("old password"), bcrypt.MinCost)
	user, _ := fs.CreateUser(ctx, "Reset Me", "reset@acme.example", string(hash), "employee", "co1")

	if err := svc.RequestPasswordReset(ctx, user.Email); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	var token string
	for tok := range fs.resetTokens {
		token = tok
	}
	if token == "" {
		t.Fatal("no reset token stored")
	}

	if err := svc.ResetPassword(ctx, token, "entirely new pass"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if _, err := svc.SignIn(ctx, user.Email, "entirely new pass"); err != nil {
		t.Fatalf("sign in with new password: %v", err)
	}
	if _, err := svc.SignIn(ctx, user.Email, "old password"); err == nil {
		t.Error("old password still accepted after reset")
	}

	err := svc.ResetPassword(ctx, token, "yet another pass")
	var domainErr *DomainError
	if err == nil || !errors.As(err, &domainErr) || domainErr.Code != "INVALID_TOKEN" {
		t.Fatalf("reused token err = %v, want INVALID_TOKEN", err)
	}
}

func TestRequestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	svc, fs, _ := newTestService(t)

	if err := svc.RequestPasswordReset(context.Background(), "nobody@acme.example"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if len(fs.resetTokens) != 0 {
		t.Errorf("reset token issued for unknown account")
	}
}

func TestVerifyEmailRejectsBadToken(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.VerifyEmail(context.Background(), "bogus")
	var domainErr *DomainError
	if err == nil || !errors.As(err, &domainErr) || domainErr.Code != "INVALID_TOKEN" {
		t.Fatalf("err = %v, want INVALID_TOKEN", err)
	}
}

func TestDeleteCompanyRefusesParents(t *testing.T) {
	svc, fs, _ := newTestService(t)
	ctx := context.Background()
	parent, _ := fs.CreateCompany(ctx, "Acme Group", "acme-group", nil, "Energy", "NL")
	child, _ := fs.CreateCompany(ctx, "Acme Energy", "acme-energy", &parent.ID, "Energy", "NL")

	err := svc.DeleteCompany(ctx, parent.ID)
	var domainErr *DomainError
	if err == nil || !errors.As(err, &domainErr) || domainErr.Code != "COMPANY_HAS_SUBSIDIARIES" {
		t.Fatalf("err = %v, want COMPANY_HAS_SUBSIDIARIES", err)
	}

	if err := svc.DeleteCompany(ctx, child.ID); err != nil {
		t.Fatalf("delete leaf: %v", err)
	}
	if err := svc.DeleteCompany(ctx, parent.ID); err != nil {
		t.Fatalf("delete former parent: %v", err)
	}
}

func TestUpdateStandardKeepsCodeImmutable(t *testing.T) {
	svc, fs, _ := newTestService(t)
	standardID, _, _, _ := seedStandard(t, fs)
	manager := seedUser(fs, "manager", "co1")
	ctx := context.Background()

	_, err := svc.UpdateStandard(ctx, managerSession(manager), standardID, CreateStandardInput{
		Code: "GRI-302", Name: "Energy",
	})
	var domainErr *DomainError
	if err == nil || !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}

	payload, err := svc.UpdateStandard(ctx, managerSession(manager), standardID, CreateStandardInput{
		Code: "GRI-305", Name: "Emissions and removals", Description: "Scope 1-3",
	})
	if err != nil {
		t.Fatalf("UpdateStandard: %v", err)
	}
	if payload["name"] != "Emissions and removals" {
		t.Errorf("name = %v", payload["name"])
	}
	got, _ := fs.GetStandard(ctx, standardID)
	if got.Code != "GRI-305" || got.Name != "Emissions and removals" {
		t.Errorf("stored standard = %+v", got)
	}
}
