package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seen struct {
	method string
	path   string
	query  string
	auth   string
	body   map[string]any
}

func newTestDaemon(t *testing.T, status int, reply string) (*httptest.Server, *seen) {
	t.Helper()
	got := &seen{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.query = r.URL.RawQuery
		got.auth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		got.body = nil
		if len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, &got.body))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func run(t *testing.T, srv *httptest.Server, args ...string) (string, string, error) {
	t.Helper()
	cmd := rootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--addr", srv.URL, "--token", "tok"}, args...))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestCommands_Requests(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		method string
		path   string
		query  string
		body   map[string]any
	}{
		{"status", []string{"status"}, http.MethodGet, "/api/v1/session", "", nil},
		{"connect", []string{"connect"}, http.MethodPost, "/api/v1/session/connect", "", nil},
		{"switch", []string{"switch-network"}, http.MethodPost, "/api/v1/session/switch-network", "", nil},
		{"list", []string{"games", "list", "--sort", "highest_bet", "--status", "open"}, http.MethodGet, "/api/v1/games", "sort=highest_bet&status=open", nil},
		{"show", []string{"games", "show", "7"}, http.MethodGet, "/api/v1/games/7", "", nil},
		{"create", []string{"games", "create", "1.5", "Fire", "--secret", "abc"}, http.MethodPost, "/api/v1/games", "",
			map[string]any{"bet": "1.5", "move": "fire", "secret": "abc"}},
		{"join", []string{"games", "join", "3", "water"}, http.MethodPost, "/api/v1/games/3/join", "",
			map[string]any{"move": "water", "bet": ""}},
		{"reveal from vault", []string{"games", "reveal", "3"}, http.MethodPost, "/api/v1/games/3/reveal", "", map[string]any{}},
		{"reveal explicit", []string{"games", "reveal", "3", "--move", "plant", "--secret", "s"}, http.MethodPost, "/api/v1/games/3/reveal", "",
			map[string]any{"move": "plant", "secret": "s"}},
		{"claim alias", []string{"games", "claim", "4"}, http.MethodPost, "/api/v1/games/4/claim-timeout", "", nil},
		{"stats", []string{"stats", "0x00000000000000000000000000000000000a11ce"}, http.MethodGet,
			"/api/v1/players/0x00000000000000000000000000000000000a11ce/stats", "", nil},
		{"leaderboard", []string{"leaderboard"}, http.MethodGet, "/api/v1/leaderboard", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, got := newTestDaemon(t, http.StatusOK, `{"ok":true}`)
			out, _, err := run(t, srv, tt.args...)
			require.NoError(t, err)

			assert.Equal(t, tt.method, got.method)
			assert.Equal(t, tt.path, got.path)
			assert.Equal(t, tt.query, got.query)
			assert.Equal(t, "Bearer tok", got.auth)
			assert.Equal(t, tt.body, got.body)
			assert.Equal(t, "{\n  \"ok\": true\n}\n", out)
		})
	}
}

func TestCommands_LocalValidation(t *testing.T) {
	srv, got := newTestDaemon(t, http.StatusOK, `{}`)

	for _, args := range [][]string{
		{"games", "create", "1", "stone"},
		{"games", "show", "0"},
		{"games", "join", "x", "fire"},
		{"stats", "nobody"},
		{"games", "list", "--sort", "random"},
		{"games", "reveal", "1", "--move", "fire"},
	} {
		_, _, err := run(t, srv, args...)
		assert.Error(t, err, args)
	}
	assert.Empty(t, got.path)
}

func TestCommands_APIError(t *testing.T) {
	srv, _ := newTestDaemon(t, http.StatusServiceUnavailable, `{"error":"Wallet not connected","code":503}`)

	_, _, err := run(t, srv, "leaderboard")
	require.Error(t, err)
	assert.Equal(t, "Wallet not connected (503)", err.Error())
}

func TestCommands_CreateWithoutStoredSecret(t *testing.T) {
	srv, _ := newTestDaemon(t, http.StatusAccepted, `{"gameId":5,"secret":"keep-me"}`)

	out, errOut, err := run(t, srv, "games", "create", "1", "fire")
	require.NoError(t, err)
	assert.Contains(t, out, "keep-me")
	assert.Contains(t, errOut, "secret was not stored")
}
