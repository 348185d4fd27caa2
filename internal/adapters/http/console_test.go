package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/VoiceDesk/internal/app/call"
	"github.com/dkeye/VoiceDesk/internal/app/relay"
	"github.com/dkeye/VoiceDesk/internal/config"
	"github.com/dkeye/VoiceDesk/internal/core"
	"github.com/dkeye/VoiceDesk/internal/domain"
	"github.com/dkeye/VoiceDesk/internal/testutil"
)

type alwaysConnected struct{}

func (alwaysConnected) Connected() bool { return true }

type consoleFixture struct {
	host     *call.Host
	media    *testutil.MediaFactory
	customer *relay.Endpoint
	inbox    core.Subscription
	router   *gin.Engine
}

func newConsoleFixture(t *testing.T, media *testutil.MediaFactory) *consoleFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := relay.NewHub(relay.DropPolicy{})
	customer := hub.Endpoint("customer-7")
	inbox, err := customer.Subscribe()
	require.NoError(t, err)

	host := call.NewHost(hub.Endpoint("agent-1"), media, call.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = host.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		inbox.Close()
	})
	// Run subscribes asynchronously
	require.Eventually(t, func() bool { return hub.Online("agent-1") }, 2*time.Second, 5*time.Millisecond)

	ctl := NewConsoleController(host, alwaysConnected{})
	return &consoleFixture{
		host:     host,
		media:    media,
		customer: customer,
		inbox:    inbox,
		router:   SetupConsoleRouter(&config.Config{Mode: "test"}, ctl),
	}
}

func (f *consoleFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *consoleFixture) info(t *testing.T) (domain.CallInfo, int) {
	t.Helper()
	w := f.do(http.MethodGet, "/api/calls/current", "")
	var info domain.CallInfo
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	}
	return info, w.Code
}

func (f *consoleFixture) expect(t *testing.T, kind domain.Kind) domain.Message {
	t.Helper()
	for {
		select {
		case m := <-f.inbox.C():
			if m.Kind == kind {
				return m
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no %s reached the customer", kind)
		}
	}
}

func TestConsoleCallLifecycle(t *testing.T) {
	f := newConsoleFixture(t, &testutil.MediaFactory{})

	w := f.do(http.MethodPost, "/api/calls", `{"partner_id":"customer-7","partner_name":"Jane Roe"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created domain.CallInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, domain.PartyID("customer-7"), created.Remote)
	assert.Equal(t, "Jane Roe", created.RemoteName)
	assert.Equal(t, domain.RoleCaller, created.Role)

	offer := f.expect(t, domain.KindOffer)
	assert.Equal(t, domain.PartyID("agent-1"), offer.From)

	w = f.do(http.MethodPost, "/api/calls", `{"partner_id":"customer-8"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(http.MethodPut, "/api/calls/current/mute", `{"muted":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	info, _ := f.info(t)
	assert.True(t, info.Muted)
	assert.False(t, f.media.Last().Enabled())

	w = f.do(http.MethodPut, "/api/calls/current/mute", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.NoError(t, f.customer.Send(context.Background(), domain.NewAnswer("customer-7", "agent-1", "v=0 answer")))
	require.Eventually(t, func() bool {
		info, code := f.info(t)
		return code == http.StatusOK && info.State == domain.StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	w = f.do(http.MethodDelete, "/api/calls/current", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	end := f.expect(t, domain.KindEnd)
	assert.Equal(t, domain.CauseHangup, end.Reason)
	assert.True(t, f.media.Last().Closed())

	_, code := f.info(t)
	assert.Equal(t, http.StatusNotFound, code)
	w = f.do(http.MethodDelete, "/api/calls/current", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(http.MethodPut, "/api/calls/current/mute", `{"muted":false}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConsoleRejectsBadRequests(t *testing.T) {
	f := newConsoleFixture(t, &testutil.MediaFactory{})

	w := f.do(http.MethodPost, "/api/calls", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/calls", `{"partner_id":"agent-1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_party")

	w = f.do(http.MethodPost, "/api/calls", `{"partner_id":"`+strings.Repeat("x", domain.MaxPartyIDLen+1)+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConsoleMediaUnavailable(t *testing.T) {
	f := newConsoleFixture(t, &testutil.MediaFactory{CaptureErr: errors.New("permission denied")})

	w := f.do(http.MethodPost, "/api/calls", `{"partner_id":"customer-7"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	_, code := f.info(t)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestConsoleStatus(t *testing.T) {
	f := newConsoleFixture(t, &testutil.MediaFactory{})

	w := f.do(http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"party":"agent-1","signaling":true,"in_call":false}`, w.Body.String())
}

func TestConsoleEventStream(t *testing.T) {
	f := newConsoleFixture(t, &testutil.MediaFactory{Hold: true})
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/calls/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	w := f.do(http.MethodPost, "/api/calls", `{"partner_id":"customer-7"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	w = f.do(http.MethodDelete, "/api/calls/current", "")
	require.Equal(t, http.StatusNoContent, w.Code)

	var events []string
	var ended string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event:"); ok {
			events = append(events, name)
			continue
		}
		if data, ok := strings.CutPrefix(line, "data:"); ok && len(events) > 0 && events[len(events)-1] == "ended" {
			ended = data
			break
		}
	}
	assert.Equal(t, []string{"state", "state", "ended"}, events)
	assert.Contains(t, ended, `"end_reason":"LOCAL_HANGUP"`)
}
