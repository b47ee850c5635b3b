package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/getourhome/agentservice/internal/auth"
	"github.com/getourhome/agentservice/internal/domain/agent"
	"github.com/getourhome/agentservice/internal/http/handlers"
	"github.com/getourhome/agentservice/internal/http/middlewares"
	"github.com/getourhome/agentservice/internal/notifications"
	"github.com/getourhome/agentservice/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Make sure Gin does not spam the console during the test
func init() {
	gin.SetMode(gin.TestMode)
}

// Fake directory implementing handlers.AgentReader and handlers.AgentWriter

type fakeAgentsRepo struct {
	getByIDFn                 func(ctx context.Context, id string) (agent.Agent, error)
	getByLoginIDFn            func(ctx context.Context, loginID string) (agent.Agent, error)
	getByEmailFn              func(ctx context.Context, email string) (agent.Agent, error)
	getByRegistrationNumberFn func(ctx context.Context, registrationNumber string) (agent.Agent, error)
	createFn                  func(ctx context.Context, req agent.CreateAgentRequest, passwordHash string) (agent.Agent, error)
	updateAgencyNameFn        func(ctx context.Context, id, agencyName string) (agent.Agent, error)

	createCalls       int
	updateAgencyCalls int
}

func (f *fakeAgentsRepo) GetByID(ctx context.Context, id string) (agent.Agent, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return agent.Agent{}, agent.ErrNotFound
}

func (f *fakeAgentsRepo) GetByLoginID(ctx context.Context, loginID string) (agent.Agent, error) {
	if f.getByLoginIDFn != nil {
		return f.getByLoginIDFn(ctx, loginID)
	}
	return agent.Agent{}, agent.ErrNotFound
}

func (f *fakeAgentsRepo) GetByEmail(ctx context.Context, email string) (agent.Agent, error) {
	if f.getByEmailFn != nil {
		return f.getByEmailFn(ctx, email)
	}
	return agent.Agent{}, agent.ErrNotFound
}

func (f *fakeAgentsRepo) GetByRegistrationNumber(ctx context.Context, registrationNumber string) (agent.Agent, error) {
	if f.getByRegistrationNumberFn != nil {
		return f.getByRegistrationNumberFn(ctx, registrationNumber)
	}
	return agent.Agent{}, agent.ErrNotFound
}

func (f *fakeAgentsRepo) Create(ctx context.Context, req agent.CreateAgentRequest, passwordHash string) (agent.Agent, error) {
	f.createCalls++
	if f.createFn != nil {
		return f.createFn(ctx, req, passwordHash)
	}
	return agent.Agent{ID: uuid.NewString(), LoginID: req.LoginID, Status: agent.StatusPending}, nil
}

func (f *fakeAgentsRepo) UpdateAgencyName(ctx context.Context, id, agencyName string) (agent.Agent, error) {
	f.updateAgencyCalls++
	if f.updateAgencyNameFn != nil {
		return f.updateAgencyNameFn(ctx, id, agencyName)
	}
	return agent.Agent{}, agent.ErrNotFound
}

type fakeNotifier struct {
	sent []notifications.AgencyNameChangeInput
}

func (f *fakeNotifier) SendAgencyNameChange(ctx context.Context, in notifications.AgencyNameChangeInput) error {
	f.sent = append(f.sent, in)
	return nil
}

const testSecret = "test-secret-key"

func newAuthTestRouter(repo *fakeAgentsRepo, notifier notifications.Notifier) *gin.Engine {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	jwtManager := auth.NewManager(testSecret)

	h := handlers.NewAuthHandler(repo, repo, jwtManager, notifier, log)
	mw := middlewares.NewAuthMiddleware(jwtManager)

	r := gin.New()
	r.POST("/register", h.Register)
	r.POST("/login", h.Login)
	r.PATCH("/agents/me/agency-name", mw.RequireAuth(), h.UpdateAgencyName)

	return r
}

func doJSON(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	return w
}

type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type sessionResponse struct {
	Role  string `json:"role"`
	Token string `json:"token"`
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()

	var e apiErrorResponse

	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("failed to unmarshal error body %q: %v", w.Body.String(), err)
	}

	return e.Error.Code
}

const registerBody = `{
	"loginId": "tester",
	"displayName": "Kim Test",
	"phoneNumber": "01012341234",
	"registrationNumber": "11111-0000-1111",
	"agencyName": "Test Realty",
	"password": "tester1234",
	"email": "tester@test.com"
}`

func TestRegister_Success(t *testing.T) {
	repo := &fakeAgentsRepo{}

	var gotHash string

	repo.createFn = func(ctx context.Context, req agent.CreateAgentRequest, passwordHash string) (agent.Agent, error) {
		gotHash = passwordHash
		return agent.Agent{ID: uuid.NewString(), LoginID: req.LoginID, Status: agent.StatusPending}, nil
	}

	r := newAuthTestRouter(repo, &fakeNotifier{})

	w := doJSON(r, http.MethodPost, "/register", registerBody, nil)

	if w.Code != http.StatusCreated {
		t.Fatalf("register got status %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
	}

	if repo.createCalls != 1 {
		t.Fatalf("create called %d times, want 1", repo.createCalls)
	}

	// stored hash must verify against the raw password without equaling it
	if gotHash == "tester1234" {
		t.Fatalf("password stored in plaintext")
	}

	if err := security.CheckPassword(gotHash, "tester1234"); err != nil {
		t.Fatalf("stored hash does not verify: %v", err)
	}
}

func TestRegister_DuplicateChecksInOrder(t *testing.T) {
	existing := agent.Agent{ID: uuid.NewString(), LoginID: "tester"}

	tests := []struct {
		name     string
		repo     *fakeAgentsRepo
		wantCode string
	}{
		{
			name: "duplicate login id",
			repo: &fakeAgentsRepo{
				getByLoginIDFn: func(ctx context.Context, loginID string) (agent.Agent, error) { return existing, nil },
			},
			wantCode: "login_id_taken",
		},
		{
			name: "duplicate email",
			repo: &fakeAgentsRepo{
				getByEmailFn: func(ctx context.Context, email string) (agent.Agent, error) { return existing, nil },
			},
			wantCode: "email_taken",
		},
		{
			name: "duplicate registration number",
			repo: &fakeAgentsRepo{
				getByRegistrationNumberFn: func(ctx context.Context, rn string) (agent.Agent, error) { return existing, nil },
			},
			wantCode: "registration_number_taken",
		},
		{
			// login id check runs first, so it wins when several collide
			name: "login id reported before email",
			repo: &fakeAgentsRepo{
				getByLoginIDFn: func(ctx context.Context, loginID string) (agent.Agent, error) { return existing, nil },
				getByEmailFn:   func(ctx context.Context, email string) (agent.Agent, error) { return existing, nil },
			},
			wantCode: "login_id_taken",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newAuthTestRouter(tc.repo, &fakeNotifier{})

			w := doJSON(r, http.MethodPost, "/register", registerBody, nil)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusBadRequest, w.Body.String())
			}

			if code := errorCode(t, w); code != tc.wantCode {
				t.Fatalf("error code = %q, want %q", code, tc.wantCode)
			}

			if tc.repo.createCalls != 0 {
				t.Fatalf("create must not run after a duplicate check failure")
			}
		})
	}
}

func TestRegister_DuplicateRaceSurfacesAsDuplicate(t *testing.T) {
	// pre-checks pass but the insert hits the unique index
	repo := &fakeAgentsRepo{
		createFn: func(ctx context.Context, req agent.CreateAgentRequest, passwordHash string) (agent.Agent, error) {
			return agent.Agent{}, agent.ErrDuplicateEmail
		},
	}

	r := newAuthTestRouter(repo, &fakeNotifier{})

	w := doJSON(r, http.MethodPost, "/register", registerBody, nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusBadRequest, w.Body.String())
	}

	if code := errorCode(t, w); code != "email_taken" {
		t.Fatalf("error code = %q, want email_taken", code)
	}
}

func acceptedAgent(t *testing.T, password string) agent.Agent {
	t.Helper()

	hash, err := security.HashPassword(password)

	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}

	return agent.Agent{
		ID:           uuid.NewString(),
		LoginID:      "tester",
		AgencyName:   "Test Realty",
		PasswordHash: hash,
		Status:       agent.StatusAccepted,
		Role:         agent.RoleAgent,
	}
}

func TestLogin_Success(t *testing.T) {
	a := acceptedAgent(t, "tester1234")

	repo := &fakeAgentsRepo{
		getByLoginIDFn: func(ctx context.Context, loginID string) (agent.Agent, error) {
			if loginID == a.LoginID {
				return a, nil
			}
			return agent.Agent{}, agent.ErrNotFound
		},
	}

	r := newAuthTestRouter(repo, &fakeNotifier{})

	w := doJSON(r, http.MethodPost, "/login", `{"loginId":"tester","password":"tester1234"}`, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("login got status %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp sessionResponse

	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if resp.Role != agent.RoleAgent {
		t.Fatalf("role = %q, want %q", resp.Role, agent.RoleAgent)
	}

	// issued token resolves back to the agent
	claims, err := auth.NewManager(testSecret).Validate(resp.Token)

	if err != nil {
		t.Fatalf("returned token failed validation: %v", err)
	}

	if claims.Subject != a.ID {
		t.Fatalf("token subject = %q, want %q", claims.Subject, a.ID)
	}

	if claims.AgencyName != a.AgencyName {
		t.Fatalf("token agencyName = %q, want %q", claims.AgencyName, a.AgencyName)
	}
}

func TestLogin_WrongPasswordAndUnknownLoginLookSame(t *testing.T) {
	a := acceptedAgent(t, "tester1234")

	repo := &fakeAgentsRepo{
		getByLoginIDFn: func(ctx context.Context, loginID string) (agent.Agent, error) {
			if loginID == a.LoginID {
				return a, nil
			}
			return agent.Agent{}, agent.ErrNotFound
		},
	}

	r := newAuthTestRouter(repo, &fakeNotifier{})

	wrongPass := doJSON(r, http.MethodPost, "/login", `{"loginId":"tester","password":"wrongpass"}`, nil)
	unknown := doJSON(r, http.MethodPost, "/login", `{"loginId":"nobody","password":"tester1234"}`, nil)

	for name, w := range map[string]*httptest.ResponseRecorder{"wrong password": wrongPass, "unknown login": unknown} {
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: got status %d, want %d", name, w.Code, http.StatusBadRequest)
		}

		if code := errorCode(t, w); code != "invalid_credentials" {
			t.Fatalf("%s: error code = %q, want invalid_credentials", name, code)
		}
	}

	// both bodies must be identical so callers cannot probe for accounts
	if wrongPass.Body.String() != unknown.Body.String() {
		t.Fatalf("wrong-password and unknown-login responses differ:\n%s\n%s", wrongPass.Body.String(), unknown.Body.String())
	}
}

func TestLogin_NotApproved(t *testing.T) {
	for _, status := range []agent.Status{agent.StatusPending, agent.StatusRejected} {
		a := acceptedAgent(t, "tester1234")
		a.Status = status

		repo := &fakeAgentsRepo{
			getByLoginIDFn: func(ctx context.Context, loginID string) (agent.Agent, error) { return a, nil },
		}

		r := newAuthTestRouter(repo, &fakeNotifier{})

		w := doJSON(r, http.MethodPost, "/login", `{"loginId":"tester","password":"tester1234"}`, nil)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status %s: login got %d, want %d, body=%s", status, w.Code, http.StatusUnauthorized, w.Body.String())
		}

		if code := errorCode(t, w); code != "not_approved" {
			t.Fatalf("status %s: error code = %q, want not_approved", status, code)
		}
	}
}

func TestUpdateAgencyName_Success(t *testing.T) {
	a := acceptedAgent(t, "tester1234")

	repo := &fakeAgentsRepo{
		getByIDFn: func(ctx context.Context, id string) (agent.Agent, error) {
			if id == a.ID {
				return a, nil
			}
			return agent.Agent{}, agent.ErrNotFound
		},
		updateAgencyNameFn: func(ctx context.Context, id, agencyName string) (agent.Agent, error) {
			updated := a
			updated.AgencyName = agencyName
			return updated, nil
		},
	}

	notifier := &fakeNotifier{}
	r := newAuthTestRouter(repo, notifier)

	token, err := auth.NewManager(testSecret).Issue(a.ID, a.AgencyName, a.Role)

	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	w := doJSON(r, http.MethodPatch, "/agents/me/agency-name", `{"agencyName":"New Realty"}`,
		map[string]string{"Authorization": "Bearer " + token})

	if w.Code != http.StatusOK {
		t.Fatalf("update got status %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}

	if repo.updateAgencyCalls != 1 {
		t.Fatalf("update called %d times, want 1", repo.updateAgencyCalls)
	}

	// exactly one publish carrying the new value
	if len(notifier.sent) != 1 {
		t.Fatalf("got %d publishes, want 1", len(notifier.sent))
	}

	if got := notifier.sent[0].Payload(); got != "tester:New Realty" {
		t.Fatalf("publish payload = %q, want %q", got, "tester:New Realty")
	}

	// fresh token reflects the new agency name
	var resp sessionResponse

	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	claims, err := auth.NewManager(testSecret).Validate(resp.Token)

	if err != nil {
		t.Fatalf("returned token failed validation: %v", err)
	}

	if claims.AgencyName != "New Realty" {
		t.Fatalf("token agencyName = %q, want New Realty", claims.AgencyName)
	}
}

func TestUpdateAgencyName_Unauthenticated(t *testing.T) {
	repo := &fakeAgentsRepo{}
	notifier := &fakeNotifier{}
	r := newAuthTestRouter(repo, notifier)

	tests := map[string]map[string]string{
		"missing header":    nil,
		"not bearer":        {"Authorization": "Basic abc"},
		"garbage token":     {"Authorization": "Bearer not-a-token"},
		"tampered bearer":   {"Authorization": "Bearer a.b.c"},
		"empty bearer":      {"Authorization": "Bearer "},
		"foreign signature": {"Authorization": "Bearer " + mustIssue(t, "other-secret")},
	}

	for name, headers := range tests {
		w := doJSON(r, http.MethodPatch, "/agents/me/agency-name", `{"agencyName":"New Realty"}`, headers)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: got status %d, want %d, body=%s", name, w.Code, http.StatusUnauthorized, w.Body.String())
		}
	}

	if repo.updateAgencyCalls != 0 {
		t.Fatalf("record must stay unchanged on auth failures")
	}

	if len(notifier.sent) != 0 {
		t.Fatalf("nothing may be published on auth failures")
	}
}

func mustIssue(t *testing.T, secret string) string {
	t.Helper()

	token, err := auth.NewManager(secret).Issue(uuid.NewString(), "Test Realty", agent.RoleAgent)

	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	return token
}

func TestUpdateAgencyName_SubjectGone(t *testing.T) {
	// valid token, but the agent was removed after issuance
	repo := &fakeAgentsRepo{}
	r := newAuthTestRouter(repo, &fakeNotifier{})

	token := mustIssue(t, testSecret)

	w := doJSON(r, http.MethodPatch, "/agents/me/agency-name", `{"agencyName":"New Realty"}`,
		map[string]string{"Authorization": "Bearer " + token})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusBadRequest, w.Body.String())
	}

	if code := errorCode(t, w); code != "user_not_found" {
		t.Fatalf("error code = %q, want user_not_found", code)
	}
}

func TestStorageFailureSurfacesAsInternalError(t *testing.T) {
	// a directory outage must come back as a plain 500, never as a
	// duplicate or credential error
	storeErr := errors.New("conn refused")

	tests := map[string]struct {
		repo   *fakeAgentsRepo
		method string
		path   string
		body   string
	}{
		"register": {
			repo: &fakeAgentsRepo{
				getByLoginIDFn: func(ctx context.Context, loginID string) (agent.Agent, error) {
					return agent.Agent{}, storeErr
				},
			},
			method: http.MethodPost,
			path:   "/register",
			body:   registerBody,
		},
		"login": {
			repo: &fakeAgentsRepo{
				getByLoginIDFn: func(ctx context.Context, loginID string) (agent.Agent, error) {
					return agent.Agent{}, storeErr
				},
			},
			method: http.MethodPost,
			path:   "/login",
			body:   `{"loginId":"tester","password":"tester1234"}`,
		},
		"update agency name": {
			repo: &fakeAgentsRepo{
				getByIDFn: func(ctx context.Context, id string) (agent.Agent, error) {
					return agent.Agent{}, storeErr
				},
			},
			method: http.MethodPatch,
			path:   "/agents/me/agency-name",
			body:   `{"agencyName":"New Realty"}`,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			notifier := &fakeNotifier{}
			r := newAuthTestRouter(tc.repo, notifier)

			var headers map[string]string

			if tc.path == "/agents/me/agency-name" {
				headers = map[string]string{"Authorization": "Bearer " + mustIssue(t, testSecret)}
			}

			w := doJSON(r, tc.method, tc.path, tc.body, headers)

			if w.Code != http.StatusInternalServerError {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusInternalServerError, w.Body.String())
			}

			if code := errorCode(t, w); code != "internal_error" {
				t.Fatalf("error code = %q, want internal_error", code)
			}

			if tc.repo.createCalls != 0 || tc.repo.updateAgencyCalls != 0 {
				t.Fatalf("no write may happen when the directory is down")
			}

			if len(notifier.sent) != 0 {
				t.Fatalf("nothing may be published when the directory is down")
			}
		})
	}
}

func TestUpdateAgencyName_NotApproved(t *testing.T) {
	a := acceptedAgent(t, "tester1234")
	a.Status = agent.StatusPending

	repo := &fakeAgentsRepo{
		getByIDFn: func(ctx context.Context, id string) (agent.Agent, error) { return a, nil },
	}

	notifier := &fakeNotifier{}
	r := newAuthTestRouter(repo, notifier)

	token, err := auth.NewManager(testSecret).Issue(a.ID, a.AgencyName, a.Role)

	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	w := doJSON(r, http.MethodPatch, "/agents/me/agency-name", `{"agencyName":"New Realty"}`,
		map[string]string{"Authorization": "Bearer " + token})

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusUnauthorized, w.Body.String())
	}

	if code := errorCode(t, w); code != "not_approved" {
		t.Fatalf("error code = %q, want not_approved", code)
	}

	if repo.updateAgencyCalls != 0 {
		t.Fatalf("record must stay unchanged for unapproved agents")
	}

	if len(notifier.sent) != 0 {
		t.Fatalf("nothing may be published for unapproved agents")
	}
}
