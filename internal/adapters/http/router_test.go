package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/VoiceDesk/internal/adapters/signal"
	"github.com/dkeye/VoiceDesk/internal/app/relay"
	"github.com/dkeye/VoiceDesk/internal/auth"
	"github.com/dkeye/VoiceDesk/internal/config"
	"github.com/dkeye/VoiceDesk/internal/domain"
)

type relayFixture struct {
	cfg      *config.Config
	hub      *relay.Hub
	verifier *auth.Verifier
	router   *gin.Engine
}

func newRelayFixture(t *testing.T, mode string) *relayFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Mode: mode, Secret: "test-secret-test-secret", Issuer: "voicedesk", TokenTTL: time.Hour}
	v, err := auth.NewVerifier(cfg.Secret, cfg.Issuer)
	require.NoError(t, err)
	hub := relay.NewHub(relay.DropPolicy{})
	ctl := signal.NewSignalWSController(hub, signal.NewRateLimiter(100, time.Second, nil), signal.Options{})
	return &relayFixture{
		cfg:      cfg,
		hub:      hub,
		verifier: v,
		router:   SetupRouter(context.Background(), cfg, ctl, v),
	}
}

func (f *relayFixture) token(t *testing.T, id domain.PartyID) string {
	t.Helper()
	tok, err := f.verifier.Issue(domain.Party{ID: id}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *relayFixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestHealthAndMetrics(t *testing.T) {
	f := newRelayFixture(t, "test")

	w := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "voicedesk_relay_parties")
}

func TestPresenceRequiresAuth(t *testing.T) {
	f := newRelayFixture(t, "test")

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/parties/customer-7/presence", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/parties/customer-7/presence", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = f.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_token")
}

func TestPresenceReportsOnlineParties(t *testing.T) {
	f := newRelayFixture(t, "test")
	sub, err := f.hub.Endpoint("customer-7").Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/parties/customer-7/presence?token="+f.token(t, "agent-1"), nil)
	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"customer-7","online":true}`, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/parties/nobody/presence", nil)
	req.Header.Set("Authorization", "Bearer "+f.token(t, "agent-1"))
	w = f.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"nobody","online":false}`, w.Body.String())
}

func TestCookieSessionLogin(t *testing.T) {
	f := newRelayFixture(t, "test")

	w := f.do(httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(`{"token":"nope"}`)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := `{"token":"` + f.token(t, "customer-7") + `"}`
	w = f.do(httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodGet, "/api/parties/agent-1/presence", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w = f.do(req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(httptest.NewRequest(http.MethodDelete, "/api/session", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestDevTokenOnlyInDebug(t *testing.T) {
	f := newRelayFixture(t, "test")
	w := f.do(httptest.NewRequest(http.MethodPost, "/api/dev/token", strings.NewReader(`{"id":"agent-1"}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)

	f = newRelayFixture(t, "debug")
	w = f.do(httptest.NewRequest(http.MethodPost, "/api/dev/token", strings.NewReader(`{"id":"agent-1","name":"Ann"}`)))
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Token string       `json:"token"`
		Party domain.Party `json:"party"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	party, err := f.verifier.Verify(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.PartyID("agent-1"), party.ID)
	assert.Equal(t, "Ann", resp.Party.Name)

	w = f.do(httptest.NewRequest(http.MethodPost, "/api/dev/token", strings.NewReader(`{"id":"   "}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSignalSocketAuthenticatesAndRelays(t *testing.T) {
	f := newRelayFixture(t, "test")
	srv := httptest.NewServer(f.router)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial(url+"?token="+f.token(t, "agent-1"), nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool { return f.hub.Online("agent-1") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ws.WriteJSON(domain.NewOffer("", "customer-7", "v=0")))
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got domain.Message
	require.NoError(t, ws.ReadJSON(&got))
	assert.Equal(t, domain.KindEnd, got.Kind)
	assert.Equal(t, domain.CauseUnavailable, got.Reason)
	assert.Equal(t, domain.PartyID("customer-7"), got.From)
}
