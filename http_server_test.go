package main

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusEndpoint(t *testing.T) {
	req := require.New(t)
	ts, _ := newTestServer(t, stubCompleter{text: "ok"})

	resp, err := http.Get(ts.URL + "/api/status")
	req.NoError(err)
	defer func() { _ = resp.Body.Close() }()
	req.Equal(http.StatusOK, resp.StatusCode)

	var status statusResponse
	req.NoError(json.NewDecoder(resp.Body).Decode(&status))
	req.Equal("running", status.Status)
	req.True(status.AIAvailable)
	req.Equal(0, status.ConnectedUsers)
	_, err = time.Parse(time.RFC3339, status.Timestamp)
	req.NoError(err)
}

func TestStatusEndpoint_CountsConnectedUsers(t *testing.T) {
	req := require.New(t)
	ts, _ := newTestServer(t, nil)

	conn := dialWS(t, ts)
	waitForEvent(t, conn, EventUserList)

	resp, err := http.Get(ts.URL + "/api/status")
	req.NoError(err)
	defer func() { _ = resp.Body.Close() }()

	var status statusResponse
	req.NoError(json.NewDecoder(resp.Body).Decode(&status))
	req.False(status.AIAvailable)
	req.Equal(1, status.ConnectedUsers)
}

func TestIndexAndHealth(t *testing.T) {
	req := require.New(t)
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/")
	req.NoError(err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	req.NoError(err)
	req.Equal(http.StatusOK, resp.StatusCode)
	req.Contains(resp.Header.Get("Content-Type"), "text/html")
	req.Contains(string(body), "test") // display name is templated in

	resp, err = http.Get(ts.URL + "/healthz")
	req.NoError(err)
	_ = resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)
}
