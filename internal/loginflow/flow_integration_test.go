package loginflow_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgellow/gamelogin/internal/gameapi"
	"github.com/dgellow/gamelogin/internal/gameapitest"
	"github.com/dgellow/gamelogin/internal/loginflow"
)

// TestRun_ScriptedServer replays a fixed conversation: the login completes on
// the second poll and the achievement is created.
func TestRun_ScriptedServer(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		route := r.Method + " " + r.URL.Path

		switch route {
		case "POST /api/game/login":
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "a", "url": "http://x", "token": "t"})
		case "GET /api/game/login":
			if polls.Add(1) == 1 {
				_ = json.NewEncoder(w).Encode(map[string]any{"id": "a", "user_id": nil})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "a", "user_id": "u1"})
		case "GET /api/game/exchange":
			assert.Equal(t, "a", r.URL.Query().Get("id"))
			assert.Equal(t, "t", r.URL.Query().Get("token"))
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "u1", "token": "tok"})
		case "GET /api/game/user":
			assert.Equal(t, "u1", r.Header.Get(gameapi.HeaderLoginID))
			assert.Equal(t, "tok", r.Header.Get(gameapi.HeaderLoginToken))
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "u1", "username": "bob", "email": "b@x.com"})
		case "POST /api/game/achievement":
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "ach1", "name": r.URL.Query().Get("name"), "user_id": "u1"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client, err := gameapi.NewClient(server.URL)
	require.NoError(t, err)

	flow := loginflow.New(client, loginflow.Options{
		Poll:        loginflow.PollOptions{Interval: 10 * time.Millisecond},
		Achievement: "first_login",
	})

	result, err := flow.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, &gameapi.LoginRequest{ID: "a", URL: "http://x", Token: "t"}, result.Request)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, &gameapi.ExchangedLogin{ID: "u1", Token: "tok"}, result.Login)
	require.NotNil(t, result.User)
	assert.Equal(t, "bob", result.User.Username)
	require.NotNil(t, result.User.Email)
	assert.Equal(t, "b@x.com", *result.User.Email)
	assert.True(t, result.AchievementAdded)
	assert.Equal(t, int32(2), polls.Load())
}

func TestRun_FakeServer(t *testing.T) {
	for _, schema := range []gameapi.Schema{gameapi.SchemaUserID, gameapi.SchemaCode} {
		t.Run(string(schema), func(t *testing.T) {
			srv := gameapitest.NewServer(gameapitest.WithSchema(schema))
			defer srv.Close()
			bob := srv.AddUser("bob", "b@x.com")
			srv.ApproveAfter(3, bob.ID)

			client, err := gameapi.NewClient(srv.URL, gameapi.WithSchema(schema))
			require.NoError(t, err)

			var shown string
			flow := loginflow.New(client, loginflow.Options{
				Poll:        loginflow.PollOptions{Interval: 5 * time.Millisecond, Timeout: 10 * time.Second},
				Achievement: gameapitest.AchievementFirstLogin,
				OnLoginURL:  func(req *gameapi.LoginRequest) { shown = req.URL },
			})

			result, err := flow.Run(context.Background())
			require.NoError(t, err)

			assert.Contains(t, shown, "/game?id="+result.Request.ID)
			assert.Equal(t, 3, result.Attempts)
			userID, ok := result.State.CompletedBy()
			require.True(t, ok)
			assert.Equal(t, bob.ID, userID)
			assert.Equal(t, "bob", result.User.Username)
			assert.True(t, result.AchievementAdded)
			assert.Equal(t, 1, srv.Hits(http.MethodGet, gameapi.ExchangePath))

			// A second login by the same user finds the achievement already granted.
			again, err := loginflow.New(client, loginflow.Options{
				Poll:        loginflow.PollOptions{Interval: 5 * time.Millisecond},
				SkipProfile: true,
				Achievement: gameapitest.AchievementFirstLogin,
			}).Run(context.Background())
			require.NoError(t, err)
			assert.False(t, again.AchievementAdded)
			assert.Equal(t, []string{gameapitest.AchievementFirstLogin}, srv.Achievements(bob.ID))
		})
	}
}

func TestRun_FakeServerFailureStopsFlow(t *testing.T) {
	srv := gameapitest.NewServer()
	defer srv.Close()
	bob := srv.AddUser("bob", "")
	srv.ApproveAfter(1, bob.ID)
	srv.FailNext(http.MethodGet, gameapi.ExchangePath, http.StatusInternalServerError)

	client, err := gameapi.NewClient(srv.URL)
	require.NoError(t, err)

	_, err = loginflow.New(client, loginflow.Options{Achievement: gameapitest.AchievementFirstLogin}).Run(context.Background())
	require.Error(t, err)
	assert.True(t, gameapi.IsStatus(err, http.StatusInternalServerError))

	assert.Equal(t, 0, srv.Hits(http.MethodGet, gameapi.UserPath))
	assert.Equal(t, 0, srv.Hits(http.MethodPost, gameapi.AchievementPath))
}

func TestRun_FakeServerRequestExpires(t *testing.T) {
	srv := gameapitest.NewServer(gameapitest.WithTTL(30 * time.Millisecond))
	defer srv.Close()

	client, err := gameapi.NewClient(srv.URL)
	require.NoError(t, err)

	_, err = loginflow.New(client, loginflow.Options{
		Poll: loginflow.PollOptions{Interval: 10 * time.Millisecond, Timeout: 10 * time.Second},
	}).Run(context.Background())
	require.Error(t, err)
	assert.True(t, gameapi.IsStatus(err, http.StatusNotFound), "an expired login request is gone")
	assert.NotErrorIs(t, err, loginflow.ErrLoginPending)
	assert.Equal(t, 0, srv.Hits(http.MethodGet, gameapi.ExchangePath))
}
