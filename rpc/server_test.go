package rpc_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/events"
	"github.com/tolelom/tolstake/rpc"
)

func newHTTP(t *testing.T, e *env, token string) (*httptest.Server, *rpc.Stream) {
	t.Helper()
	stream := rpc.NewStream(e.emitter, nil)
	srv := rpc.NewServer(rpc.Options{AuthToken: token}, e.handler, stream)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		stream.Close()
		ts.Close()
	})
	return ts, stream
}

func post(t *testing.T, url, token string, body any) rpc.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	var resp rpc.Response
	require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
	return resp
}

func TestServerAuth(t *testing.T) {
	e := newEnv(t, nil)
	ts, _ := newHTTP(t, e, "secret")
	body := rpc.Request{JSONRPC: "2.0", ID: 1, Method: "getStateRoot"}

	resp := post(t, ts.URL, "", body)
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeUnauthorized, resp.Error.Code)

	resp = post(t, ts.URL, "secret", body)
	assert.Nil(t, resp.Error)
}

func TestServerRejectsBadEnvelope(t *testing.T) {
	e := newEnv(t, nil)
	ts, _ := newHTTP(t, e, "")

	resp := post(t, ts.URL, "", rpc.Request{JSONRPC: "1.0", ID: 1, Method: "getStateRoot"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeInvalidRequest, resp.Error.Code)

	res, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, nil)
	ts, _ := newHTTP(t, e, "secret")
	res, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestStreamDeliversFilteredEvents(t *testing.T) {
	e := newEnv(t, nil)
	ts, stream := newHTTP(t, e, "")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?types=staked"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return stream.Clients() == 1 }, time.Second, 10*time.Millisecond)

	e.setupPool(t)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.EventStaked, ev.Type)
	assert.Equal(t, "alice", ev.Data["owner"])
}

func TestStreamRejectsUnknownType(t *testing.T) {
	e := newEnv(t, nil)
	ts, _ := newHTTP(t, e, "")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?types=bogus"
	_, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestStreamSkipsFailedTransactions(t *testing.T) {
	e := newEnv(t, nil)
	ts, stream := newHTTP(t, e, "")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?types=staked,tx_failed"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return stream.Clients() == 1 }, time.Second, 10*time.Millisecond)

	resp := e.send(t, core.TxStake, "alice", core.StakePayload{PoolID: "missing", Token: "TOK", Amount: 1})
	require.NotNil(t, resp.Error)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.EventTxFailed, ev.Type)
}
