package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"GraderUsageETL/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func dialRuns(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/runs?token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

func TestHandleRunEvents_StreamsEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	ts := newTestServer(t)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	conn, _, err := dialRuns(t, srv, ts.token(t))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return ts.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	ts.hub.Publish(models.Event{RunID: "r1", Stage: models.StageLoad, Message: "records inserted", Count: 42})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev models.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "r1", ev.RunID)
	assert.Equal(t, models.StageLoad, ev.Stage)
	assert.Equal(t, int64(42), ev.Count)

	conn.Close()
	require.Eventually(t, func() bool { return ts.hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandleRunEvents_HubCloseDisconnects(t *testing.T) {
	defer goleak.VerifyNone(t)

	ts := newTestServer(t)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	conn, _, err := dialRuns(t, srv, ts.token(t))
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return ts.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	ts.hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestHandleRunEvents_RejectsBadToken(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	_, resp, err := dialRuns(t, srv, "garbage")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, ts.hub.Clients())
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := NewHub(nil)
	slow := hub.register()
	fast := hub.register()

	for i := range clientBuffer {
		hub.Publish(models.Event{Count: int64(i)})
		<-fast.send
	}
	assert.Equal(t, 2, hub.Clients())

	hub.Publish(models.Event{RunID: "overflow"})
	assert.Equal(t, 1, hub.Clients())

	// the slow client's channel is drained then closed
	n := 0
	for range slow.send {
		n++
	}
	assert.Equal(t, clientBuffer, n)

	ev := <-fast.send
	assert.Equal(t, "overflow", ev.RunID)

	hub.unregister(fast)
	hub.unregister(fast)
	assert.Equal(t, 0, hub.Clients())
}
