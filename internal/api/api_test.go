package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/MediSynth-io/messagely/internal/auth"
	"github.com/MediSynth-io/messagely/internal/config"
	"github.com/MediSynth-io/messagely/internal/database"
	"github.com/MediSynth-io/messagely/internal/gate"
	"github.com/MediSynth-io/messagely/internal/metrics"
	"github.com/MediSynth-io/messagely/internal/store"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"
)

type messageResponse struct {
	Message messageView `json:"message"`
}

type messagesResponse struct {
	Messages []messageView `json:"messages"`
}

// APITestSuite drives the router end to end against a temp sqlite database.
type APITestSuite struct {
	suite.Suite
	db     *database.DB
	server *httptest.Server
	tokens map[string]string
}

func (s *APITestSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := database.Open(context.Background(), config.DatabaseConfig{
		Type:       config.DatabaseSQLite,
		Path:       filepath.Join(s.T().TempDir(), "api_test.db"),
		MaxRetries: 1,
	}, logger)
	s.Require().NoError(err)
	s.db = db

	hasher, err := auth.NewPasswordHasher(bcrypt.MinCost)
	s.Require().NoError(err)
	tokens, err := auth.NewTokenManager([]byte("api-test-secret"), time.Hour)
	s.Require().NoError(err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	st := store.New(db)

	cfg := config.Config{APIPort: 8081}
	cfg.CORS.AllowedOrigins = []string{"http://localhost:*"}
	a, err := NewApi(cfg, Deps{
		Store:    st,
		Auth:     auth.NewService(st, hasher, tokens, logger, m),
		Gate:     gate.New(tokens, logger, m),
		Logger:   logger,
		Metrics:  m,
		Gatherer: reg,
	})
	s.Require().NoError(err)

	s.server = httptest.NewServer(a.Router)
	s.tokens = map[string]string{}
}

func (s *APITestSuite) TearDownTest() {
	s.server.Close()
	s.db.Close()
}

func TestAPITestSuite(t *testing.T) {
	suite.Run(t, new(APITestSuite))
}

// do sends a request with an optional bearer token and JSON body and returns
// the status and raw response body.
func (s *APITestSuite) do(method, path, token string, body any) (int, []byte) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, s.server.URL+path, reader)
	s.Require().NoError(err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	return resp.StatusCode, raw
}

func (s *APITestSuite) decode(raw []byte, dst any) {
	s.Require().NoError(json.Unmarshal(raw, dst), string(raw))
}

func (s *APITestSuite) register(username string) string {
	status, raw := s.do(http.MethodPost, "/auth/register", "", map[string]string{
		"username":   username,
		"password":   "secret",
		"first_name": username + "-first",
		"last_name":  username + "-last",
		"phone":      "+14155550100",
	})
	s.Require().Equal(http.StatusCreated, status, string(raw))

	var resp tokenResponse
	s.decode(raw, &resp)
	s.Require().NotEmpty(resp.Token)
	s.tokens[username] = resp.Token
	return resp.Token
}

func (s *APITestSuite) send(from, to, body string) messageView {
	status, raw := s.do(http.MethodPost, "/messages", s.tokens[from], map[string]string{
		"to_username": to,
		"body":        body,
	})
	s.Require().Equal(http.StatusCreated, status, string(raw))

	var resp struct {
		Message createdMessage `json:"message"`
	}
	s.decode(raw, &resp)
	return messageView{ID: resp.Message.ID, Body: resp.Message.Body, SentAt: resp.Message.SentAt}
}

func (s *APITestSuite) TestRegisterAndLogin() {
	s.register("bob")

	status, raw := s.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "bob", "password": "secret"})
	s.Equal(http.StatusOK, status)
	var login tokenResponse
	s.decode(raw, &login)
	s.NotEmpty(login.Token)

	status, _ = s.do(http.MethodGet, "/users", login.Token, nil)
	s.Equal(http.StatusOK, status)
}

func (s *APITestSuite) TestLoginFailuresAreIndistinguishable() {
	s.register("bob")

	wrongStatus, wrongBody := s.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "bob", "password": "wrong"})
	ghostStatus, ghostBody := s.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "ghost", "password": "secret"})

	s.Equal(http.StatusUnauthorized, wrongStatus)
	s.Equal(http.StatusUnauthorized, ghostStatus)
	s.JSONEq(string(wrongBody), string(ghostBody))
}

func (s *APITestSuite) TestRegisterDuplicateUsername() {
	s.register("bob")

	status, _ := s.do(http.MethodPost, "/auth/register", "", map[string]string{
		"username":   "bob",
		"password":   "other",
		"first_name": "Robert",
		"last_name":  "Other",
		"phone":      "+14155550101",
	})
	s.Equal(http.StatusUnauthorized, status)
}

func (s *APITestSuite) TestRegisterValidation() {
	status, raw := s.do(http.MethodPost, "/auth/register", "", map[string]string{"username": "bob"})
	s.Equal(http.StatusBadRequest, status)

	var body errorBody
	s.decode(raw, &body)
	s.Equal(http.StatusBadRequest, body.Error.Status)
	s.Contains(body.Error.Message, "password")
}

func (s *APITestSuite) TestUserProfiles() {
	s.register("bob")
	s.register("test")

	status, raw := s.do(http.MethodGet, "/users", s.tokens["test"], nil)
	s.Require().Equal(http.StatusOK, status)
	s.NotContains(string(raw), "password")
	s.NotContains(string(raw), "phone")
	var list struct {
		Users []struct {
			Username string `json:"username"`
		} `json:"users"`
	}
	s.decode(raw, &list)
	s.Len(list.Users, 2)

	status, raw = s.do(http.MethodGet, "/users/bob", s.tokens["bob"], nil)
	s.Require().Equal(http.StatusOK, status)
	s.NotContains(string(raw), "password")
	var profile struct {
		User struct {
			Username    string     `json:"username"`
			Phone       string     `json:"phone"`
			LastLoginAt *time.Time `json:"last_login_at"`
		} `json:"user"`
	}
	s.decode(raw, &profile)
	s.Equal("bob", profile.User.Username)
	s.NotEmpty(profile.User.Phone)
	s.NotNil(profile.User.LastLoginAt)

	status, _ = s.do(http.MethodGet, "/users/bob", s.tokens["test"], nil)
	s.Equal(http.StatusUnauthorized, status)

	status, _ = s.do(http.MethodGet, "/users/ghost", s.tokens["bob"], nil)
	s.Equal(http.StatusNotFound, status)
}

func (s *APITestSuite) TestMessageViewPermissions() {
	s.register("bob")
	s.register("test")
	s.register("bill")

	msg := s.send("bob", "test", "hello test")

	for _, who := range []string{"bob", "test"} {
		status, raw := s.do(http.MethodGet, "/messages/"+msg.ID, s.tokens[who], nil)
		s.Require().Equal(http.StatusOK, status, who)

		var resp messageResponse
		s.decode(raw, &resp)
		s.Equal("hello test", resp.Message.Body)
		s.Require().NotNil(resp.Message.FromUser)
		s.Require().NotNil(resp.Message.ToUser)
		s.Equal("bob", resp.Message.FromUser.Username)
		s.Equal("test", resp.Message.ToUser.Username)
		s.Nil(resp.Message.ReadAt)
	}

	status, _ := s.do(http.MethodGet, "/messages/"+msg.ID, s.tokens["bill"], nil)
	s.Equal(http.StatusUnauthorized, status)

	status, _ = s.do(http.MethodGet, "/messages/"+uuid.NewString(), s.tokens["bill"], nil)
	s.Equal(http.StatusNotFound, status)

	status, _ = s.do(http.MethodGet, "/messages/not-a-uuid", s.tokens["bob"], nil)
	s.Equal(http.StatusNotFound, status)
}

func (s *APITestSuite) TestCreateMessageToUnknownRecipient() {
	s.register("bob")

	status, _ := s.do(http.MethodPost, "/messages", s.tokens["bob"], map[string]string{
		"to_username": "ghost",
		"body":        "anyone there?",
	})
	s.Equal(http.StatusUnauthorized, status)
}

func (s *APITestSuite) TestMarkReadOnlyByRecipient() {
	s.register("bob")
	s.register("test")
	msg := s.send("bob", "test", "read me")

	status, _ := s.do(http.MethodPost, "/messages/"+msg.ID+"/read", s.tokens["bob"], nil)
	s.Equal(http.StatusUnauthorized, status)

	status, raw := s.do(http.MethodPost, "/messages/"+msg.ID+"/read", s.tokens["test"], nil)
	s.Require().Equal(http.StatusOK, status)
	var first struct {
		Message readReceipt `json:"message"`
	}
	s.decode(raw, &first)
	s.Equal(msg.ID, first.Message.ID)
	s.Require().NotNil(first.Message.ReadAt)

	status, raw = s.do(http.MethodPost, "/messages/"+msg.ID+"/read", s.tokens["test"], nil)
	s.Require().Equal(http.StatusOK, status)
	var second struct {
		Message readReceipt `json:"message"`
	}
	s.decode(raw, &second)
	s.Require().NotNil(second.Message.ReadAt)
	s.True(first.Message.ReadAt.Equal(*second.Message.ReadAt), "read_at must be set once")
}

func (s *APITestSuite) TestListingPermissionsAndOrder() {
	s.register("bob")
	s.register("test")
	s.register("bill")

	s.send("bob", "test", "first")
	s.send("bob", "bill", "second")
	s.send("test", "bob", "reply")
	s.send("bill", "test", "not bob's")

	for _, path := range []string{"/users/bob/from", "/users/bob/to"} {
		status, _ := s.do(http.MethodGet, path, s.tokens["test"], nil)
		s.Equal(http.StatusUnauthorized, status, path)
	}

	status, raw := s.do(http.MethodGet, "/users/bob/from", s.tokens["bob"], nil)
	s.Require().Equal(http.StatusOK, status)
	var sent messagesResponse
	s.decode(raw, &sent)
	s.Require().Len(sent.Messages, 2)
	s.Equal("first", sent.Messages[0].Body)
	s.Equal("second", sent.Messages[1].Body)
	s.False(sent.Messages[1].SentAt.Before(sent.Messages[0].SentAt))
	for _, m := range sent.Messages {
		s.Require().NotNil(m.ToUser)
		s.Nil(m.FromUser)
	}

	status, raw = s.do(http.MethodGet, "/users/bob/to", s.tokens["bob"], nil)
	s.Require().Equal(http.StatusOK, status)
	var received messagesResponse
	s.decode(raw, &received)
	s.Require().Len(received.Messages, 1)
	s.Equal("reply", received.Messages[0].Body)
	s.Require().NotNil(received.Messages[0].FromUser)
	s.Equal("test", received.Messages[0].FromUser.Username)

	status, _ = s.do(http.MethodGet, "/users/ghost/from", s.tokens["bob"], nil)
	s.Equal(http.StatusNotFound, status)
}

func (s *APITestSuite) TestMissingAndInvalidTokens() {
	s.register("bob")

	status, raw := s.do(http.MethodGet, "/users", "", nil)
	s.Equal(http.StatusUnauthorized, status)
	var body errorBody
	s.decode(raw, &body)
	s.Equal(http.StatusUnauthorized, body.Error.Status)

	status, _ = s.do(http.MethodGet, "/users", "garbage", nil)
	s.Equal(http.StatusUnauthorized, status)

	other, err := auth.NewTokenManager([]byte("someone-else"), time.Hour)
	s.Require().NoError(err)
	forged, err := other.Issue("bob")
	s.Require().NoError(err)
	status, _ = s.do(http.MethodGet, "/users", forged, nil)
	s.Equal(http.StatusUnauthorized, status)
}

func (s *APITestSuite) TestTokenCarriers() {
	s.register("bob")
	s.register("test")

	status, _ := s.do(http.MethodGet, "/users?_token="+url.QueryEscape(s.tokens["bob"]), "", nil)
	s.Equal(http.StatusOK, status)

	status, raw := s.do(http.MethodPost, "/messages", "", map[string]string{
		"_token":      s.tokens["bob"],
		"to_username": "test",
		"body":        "token in body",
	})
	s.Require().Equal(http.StatusCreated, status, string(raw))
}

func (s *APITestSuite) TestHeartbeatAndMetrics() {
	status, raw := s.do(http.MethodGet, "/heartbeat", "", nil)
	s.Equal(http.StatusOK, status)
	s.JSONEq(`{"status":"ok"}`, string(raw))

	s.do(http.MethodGet, "/users", "", nil)

	status, raw = s.do(http.MethodGet, "/metrics", "", nil)
	s.Equal(http.StatusOK, status)
	s.Contains(string(raw), "messagely_http_requests_total")
	s.Contains(string(raw), `route="/users"`)
	s.Contains(string(raw), "messagely_gate_decisions_total")
}

func (s *APITestSuite) TestUnknownRoute() {
	status, raw := s.do(http.MethodGet, "/nonexistent", "", nil)
	s.Equal(http.StatusNotFound, status)
	var body errorBody
	s.decode(raw, &body)
	s.Equal(http.StatusNotFound, body.Error.Status)
}

func TestNewApi(t *testing.T) {
	t.Run("InvalidConfigZeroPort", func(t *testing.T) {
		_, err := NewApi(config.Config{APIPort: 0}, Deps{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must have at least a port")
	})

	t.Run("MissingDependencies", func(t *testing.T) {
		_, err := NewApi(config.Config{APIPort: 8081}, Deps{})
		assert.Error(t, err)
	})
}
