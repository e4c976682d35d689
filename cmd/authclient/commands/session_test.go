package commands

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPortal(t *testing.T) *httptest.Server {
	t.Helper()

	claims := jwt.MapClaims{
		"sub":  "1",
		"role": "BROKER",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	profile := map[string]any{
		"id":        1,
		"username":  "bob",
		"email":     "bob@example.com",
		"firstName": "Bob",
		"lastName":  "Broker",
		"role":      "BROKER",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		if req["password"] != "builder" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "Invalid username or password"})
			return
		}
		body := map[string]any{"token": token, "refreshToken": "refresh-1"}
		for k, v := range profile {
			body[k] = v
		}
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(profile)
	})
	mux.HandleFunc("/api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, storage string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(append([]string{"--storage", storage, "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestLoginWhoamiRouteLogout(t *testing.T) {
	srv := newPortal(t)
	t.Setenv("AUTHCLIENT_BASE_URL", srv.URL)
	storage := "file:" + filepath.Join(t.TempDir(), "state.db")

	out, err := run(t, storage, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "status: unauthenticated")

	_, err = run(t, storage, "login", "-u", "bob", "-p", "wrong")
	require.Error(t, err)

	out, err = run(t, storage, "login", "-u", "bob", "-p", "builder")
	require.NoError(t, err)
	assert.Contains(t, out, "signed in as bob (BROKER)")
	assert.Contains(t, out, "landing: /broker/policies")

	out, err = run(t, storage, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "status: authenticated")
	assert.Contains(t, out, "bob@example.com")
	assert.Contains(t, out, "landing: /broker/policies")

	out, err = run(t, storage, "route", "/admin")
	require.NoError(t, err)
	assert.Contains(t, out, "redirect /broker/policies")

	out, err = run(t, storage, "route", "/analytics")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "render"))

	out, err = run(t, storage, "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "signed out")

	out, err = run(t, storage, "route", "/analytics")
	require.NoError(t, err)
	assert.Contains(t, out, "redirect /login?redirect=%2Fanalytics")
}
