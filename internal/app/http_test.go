package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"greenledger/api/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *fakeStore) {
	t.Helper()
	svc, fs, _ := newTestService(t)
	ts := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	t.Cleanup(ts.Close)
	return ts, fs
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		payload = nil
	}
	return resp, payload
}

func signInAs(t *testing.T, ts *httptest.Server, fs *fakeStore, role, companyID string) (string, store.User) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	email := fmt.Sprintf("%s@acme.example", role)
	user, err := fs.CreateUser(context.Background(), "Test "+role, email, string(hash), role, companyID)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	resp, payload := doJSON(t, http.MethodPost, ts.URL+"/api/auth/signin", "", map[string]any{
		"email": email, "password": "correct horse",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signin status = %d, body %v", resp.StatusCode, payload)
	}
	token, _ := payload["accessToken"].(string)
	if token == "" {
		t.Fatalf("signin returned no token: %v", payload)
	}
	return token, user
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, payload := doJSON(t, http.MethodGet, ts.URL+"/api/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if payload["ok"] != true {
		t.Errorf("payload = %v", payload)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, payload := doJSON(t, http.MethodGet, ts.URL+"/api/users", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if payload["code"] != "UNAUTHORIZED" {
		t.Errorf("payload = %v", payload)
	}
}

func TestSignUpSignInFlow(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, payload := doJSON(t, http.MethodPost, ts.URL+"/api/auth/signup", "", map[string]any{
		"email": "new@acme.example", "password": "long enough", "displayName": "New User",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d, body %v", resp.StatusCode, payload)
	}
	if payload["role"] != "employee" {
		t.Errorf("self-registered role = %v, want employee", payload["role"])
	}

	resp, payload = doJSON(t, http.MethodPost, ts.URL+"/api/auth/signin", "", map[string]any{
		"email": "new@acme.example", "password": "long enough",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signin status = %d, body %v", resp.StatusCode, payload)
	}

	token := payload["accessToken"].(string)
	resp, payload = doJSON(t, http.MethodGet, ts.URL+"/api/session", token, nil)
	if resp.StatusCode != http.StatusOK || payload["authenticated"] != true {
		t.Fatalf("session check: status %d, body %v", resp.StatusCode, payload)
	}
}

func TestSignUpValidation(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, payload := doJSON(t, http.MethodPost, ts.URL+"/api/auth/signup", "", map[string]any{
		"email": "not-an-email", "password": "short", "displayName": "X",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body %v", resp.StatusCode, payload)
	}
	if payload["code"] != "VALIDATION_ERROR" {
		t.Errorf("code = %v", payload["code"])
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	ts, _ := newTestServer(t)
	_, payload := doJSON(t, http.MethodPost, ts.URL+"/api/auth/signup", "", map[string]any{
		"email": "r@acme.example", "password": "long enough", "displayName": "R",
	})
	refresh := payload["refreshToken"].(string)

	resp, next := doJSON(t, http.MethodPost, ts.URL+"/api/session/refresh", "", map[string]any{
		"refreshToken": refresh,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d, body %v", resp.StatusCode, next)
	}
	if next["refreshToken"] == refresh {
		t.Error("refresh token was not rotated")
	}

	// the old refresh token is single use
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/session/refresh", "", map[string]any{
		"refreshToken": refresh,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("reused refresh status = %d, want 401", resp.StatusCode)
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	ts, fs := newTestServer(t)
	token, _ := signInAs(t, ts, fs, "employee", "co1")

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/session/logout", token, map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/users", token, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("revoked token status = %d, want 401", resp.StatusCode)
	}
}

func TestStandardCreationRequiresReviewRole(t *testing.T) {
	ts, fs := newTestServer(t)
	employeeToken, _ := signInAs(t, ts, fs, "employee", "co1")
	managerToken, _ := signInAs(t, ts, fs, "manager", "co1")

	body := map[string]any{"code": "GRI-305", "name": "Emissions"}

	resp, payload := doJSON(t, http.MethodPost, ts.URL+"/api/standards", employeeToken, body)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("employee create status = %d, body %v", resp.StatusCode, payload)
	}

	resp, payload = doJSON(t, http.MethodPost, ts.URL+"/api/standards", managerToken, body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("manager create status = %d, body %v", resp.StatusCode, payload)
	}
	if payload["code"] != "GRI-305" {
		t.Errorf("payload = %v", payload)
	}
}

func TestQuestionListIncludesDisplayNumbers(t *testing.T) {
	ts, fs := newTestServer(t)
	managerToken, _ := signInAs(t, ts, fs, "manager", "co1")
	standardID, _, _, _ := seedStandard(t, fs)

	url := fmt.Sprintf("%s/api/standards/%s/questions?year=2026", ts.URL, standardID)
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	req.Header.Set("Authorization", "Bearer "+managerToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list questions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var payload struct {
		Questions []struct {
			DisplayNo string `json:"displayNo"`
		} `json:"questions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Questions) != 3 {
		t.Fatalf("got %d questions, want 3", len(payload.Questions))
	}
	want := []string{"1", "1(a)", "2"}
	for i, q := range payload.Questions {
		if q.DisplayNo != want[i] {
			t.Errorf("question %d displayNo = %q, want %q", i, q.DisplayNo, want[i])
		}
	}
}

func TestAssignEndpointConflictOnMissingQuestion(t *testing.T) {
	ts, fs := newTestServer(t)
	managerToken, manager := signInAs(t, ts, fs, "manager", "co1")
	standardID, _, _, _ := seedStandard(t, fs)

	url := fmt.Sprintf("%s/api/standards/%s/questions/%s/assign", ts.URL, standardID, "missing")
	resp, payload := doJSON(t, http.MethodPost, url, managerToken, map[string]any{
		"userIds": []string{manager.ID}, "year": 2026,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, body %v", resp.StatusCode, payload)
	}
}

func TestAssignEndpointRoundTrip(t *testing.T) {
	ts, fs := newTestServer(t)
	managerToken, _ := signInAs(t, ts, fs, "manager", "co1")
	_, worker := signInAs(t, ts, fs, "employee", "co1")
	standardID, q1, _, _ := seedStandard(t, fs)

	url := fmt.Sprintf("%s/api/standards/%s/questions/%s/assign", ts.URL, standardID, q1.ID)
	resp, payload := doJSON(t, http.MethodPost, url, managerToken, map[string]any{
		"userIds": []string{worker.ID}, "year": 2026,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("assign status = %d, body %v", resp.StatusCode, payload)
	}

	assignees, _ := fs.ListAssignees(context.Background(), q1.ID, 2026)
	if len(assignees) != 1 || assignees[0].UserID != worker.ID {
		t.Errorf("assignees = %+v", assignees)
	}
}

func TestNotFoundRoute(t *testing.T) {
	ts, fs := newTestServer(t)
	token, _ := signInAs(t, ts, fs, "admin", "")
	resp, payload := doJSON(t, http.MethodGet, ts.URL+"/api/nope", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, body %v", resp.StatusCode, payload)
	}
}
