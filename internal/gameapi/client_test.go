package gameapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL, opts...)
	require.NoError(t, err)
	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestNewClient(t *testing.T) {
	client, err := NewClient("")
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, client.BaseURL())
	assert.Equal(t, SchemaUserID, client.Schema())

	_, err = NewClient("localhost:8080")
	assert.Error(t, err)

	_, err = NewClient(DefaultBaseURL, WithSchema("v3"))
	assert.Error(t, err)
}

func TestClient_Request(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/game/login", r.URL.Path)
		assert.Equal(t, "a", r.URL.Query().Get("id"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "custom-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, "v", r.Header.Get("X-Extra"))
		writeJSON(t, w, http.StatusOK, map[string]string{"id": "a"})
	}, WithUserAgent("custom-agent"))

	body, err := client.Request(context.Background(), http.MethodGet, LoginPath,
		map[string][]string{"id": {"a"}}, http.Header{"X-Extra": {"v"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"a"}`, string(body))
}

func TestClient_Request_NonSuccess(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
	}{
		{name: "json message", status: http.StatusNotFound, body: `{"message":"Game login request not found"}`, wantMessage: "Game login request not found"},
		{name: "plain text", status: http.StatusUnauthorized, body: "Invalid game login credentials\n"},
		{name: "server error", status: http.StatusInternalServerError, body: `{"message":"boom"}`, wantMessage: "boom"},
		{name: "redirect is not success", status: http.StatusNotModified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.Request(context.Background(), http.MethodGet, LoginPath,
				map[string][]string{"token": {"secret-token"}}, nil)
			require.Error(t, err)

			var reqErr *RequestError
			require.ErrorAs(t, err, &reqErr)
			assert.Equal(t, tt.status, reqErr.StatusCode)
			assert.Equal(t, tt.wantMessage, reqErr.Message)
			assert.True(t, IsStatus(err, tt.status))
			assert.NotContains(t, err.Error(), "secret-token")
			assert.NotContains(t, reqErr.URL, "secret-token")
		})
	}
}

func TestClient_Request_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client, err := NewClient(url)
	require.NoError(t, err)

	_, err = client.Request(context.Background(), http.MethodPost, LoginPath, nil, nil)
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, 0, reqErr.StatusCode)
	assert.Error(t, reqErr.Err)
	assert.Contains(t, err.Error(), "failed")
}

func TestClient_Request_ContextCanceled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, WithHTTPClient(&http.Client{Timeout: 5 * time.Second}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Request(ctx, http.MethodGet, LoginPath, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClient_CreateLogin(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, LoginPath, r.URL.Path)
		writeJSON(t, w, http.StatusCreated, map[string]string{"id": "a", "url": "http://x", "token": "t"})
	})

	req, err := client.CreateLogin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &LoginRequest{ID: "a", URL: "http://x", Token: "t"}, req)
}

func TestClient_CreateLogin_InvalidPayload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusCreated, map[string]string{"id": "a"})
	})

	_, err := client.CreateLogin(context.Background())
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestClient_LoginState(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "a", r.URL.Query().Get("id"))
		assert.Equal(t, "t", r.URL.Query().Get("token"))
		writeJSON(t, w, http.StatusOK, map[string]any{"id": "a", "user_id": "u1"})
	})

	state, err := client.LoginState(context.Background(), "a", "t")
	require.NoError(t, err)
	require.True(t, state.Completed())
	assert.Equal(t, "u1", *state.UserID)
}

func TestClient_Exchange(t *testing.T) {
	userID := "u1"
	req := &LoginRequest{ID: "a", URL: "http://x", Token: "t"}

	tests := []struct {
		name      string
		schema    Schema
		state     *LoginState
		wantQuery map[string]string
	}{
		{
			name:      "user_id schema uses request credentials",
			schema:    SchemaUserID,
			state:     &LoginState{ID: "a", UserID: &userID},
			wantQuery: map[string]string{"id": "a", "token": "t"},
		},
		{
			name:      "code schema uses code and user ids",
			schema:    SchemaCode,
			state:     &LoginState{ID: "a", Code: &LoginCode{ID: "c1", User: LoginUser{ID: "u1", Username: "bob"}}},
			wantQuery: map[string]string{"code_id": "c1", "user_id": "u1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, ExchangePath, r.URL.Path)
				query := r.URL.Query()
				assert.Len(t, query, len(tt.wantQuery))
				for k, v := range tt.wantQuery {
					assert.Equal(t, v, query.Get(k))
				}
				writeJSON(t, w, http.StatusOK, map[string]string{"id": "u1", "token": "tok"})
			}, WithSchema(tt.schema))

			login, err := client.Exchange(context.Background(), req, tt.state)
			require.NoError(t, err)
			assert.Equal(t, &ExchangedLogin{ID: "u1", Token: "tok"}, login)
		})
	}
}

func TestClient_Exchange_Rejected(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}, WithSchema(SchemaCode))

	_, err := client.Exchange(context.Background(), nil, &LoginState{ID: "a"})
	assert.ErrorIs(t, err, ErrIncompleteState)

	userID := "u1"
	_, err = client.Exchange(context.Background(), nil, &LoginState{ID: "a", UserID: &userID})
	assert.ErrorContains(t, err, "does not match schema")

	assert.Equal(t, 0, calls)
}

func TestClient_User(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, UserPath, r.URL.Path)
		if r.Header.Get(HeaderLoginID) != "g1" || r.Header.Get(HeaderLoginToken) != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]string{"id": "u1", "username": "bob", "email": "b@x.com"})
	})

	user, err := client.User(context.Background(), Credentials{ID: "g1", Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "bob", user.Username)

	_, err = client.User(context.Background(), Credentials{ID: "g1", Token: "wrong"})
	assert.True(t, IsStatus(err, http.StatusUnauthorized))

	_, err = client.User(context.Background(), Credentials{ID: "g1"})
	assert.ErrorContains(t, err, "credentials are incomplete")
}

func TestClient_AddAchievement(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantAdded bool
		wantErr   bool
	}{
		{name: "created", status: http.StatusCreated, wantAdded: true},
		{name: "ok", status: http.StatusOK, wantAdded: true},
		{name: "already granted", status: http.StatusConflict, wantAdded: false},
		{name: "unknown name", status: http.StatusBadRequest, wantErr: true},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: true},
		{name: "server error", status: http.StatusInternalServerError, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, AchievementPath, r.URL.Path)
				assert.Equal(t, "first_login", r.URL.Query().Get("name"))
				assert.Equal(t, "g1", r.Header.Get(HeaderLoginID))
				assert.Equal(t, "tok", r.Header.Get(HeaderLoginToken))
				writeJSON(t, w, tt.status, map[string]string{"message": http.StatusText(tt.status)})
			})

			added, err := client.AddAchievement(context.Background(), Credentials{ID: "g1", Token: "tok"}, "first_login")
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsStatus(err, tt.status))
				assert.False(t, added)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAdded, added)
		})
	}
}

func TestClient_AddAchievement_RequiresName(t *testing.T) {
	client, err := NewClient(DefaultBaseURL)
	require.NoError(t, err)

	_, err = client.AddAchievement(context.Background(), Credentials{ID: "g1", Token: "tok"}, "")
	assert.ErrorContains(t, err, "achievement name is required")
}
