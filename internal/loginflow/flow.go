// Package loginflow drives the game login handshake: create a login request,
// wait for the human to complete it in a browser, exchange it for credentials,
// then run the post-login calls.
package loginflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgellow/gamelogin/internal/gameapi"
	"github.com/dgellow/gamelogin/internal/log"
)

var (
	// ErrLoginPending is returned when polling gives up before the login completes.
	ErrLoginPending = errors.New("login not completed")
	// ErrLoginNotCompleted is returned when exchanging a state that is still pending.
	ErrLoginNotCompleted = errors.New("cannot exchange a pending login state")
	// ErrAlreadyExchanged is returned when a completed state is exchanged twice.
	ErrAlreadyExchanged = errors.New("login state already exchanged")
)

// API is the subset of the game login API the flow needs. *gameapi.Client implements it.
type API interface {
	CreateLogin(ctx context.Context) (*gameapi.LoginRequest, error)
	LoginState(ctx context.Context, id, token string) (*gameapi.LoginState, error)
	Exchange(ctx context.Context, req *gameapi.LoginRequest, state *gameapi.LoginState) (*gameapi.ExchangedLogin, error)
	User(ctx context.Context, creds gameapi.Credentials) (*gameapi.User, error)
	AddAchievement(ctx context.Context, creds gameapi.Credentials, name string) (bool, error)
}

var _ API = (*gameapi.Client)(nil)

// Options configures a Flow.
type Options struct {
	Poll PollOptions

	// SkipProfile disables the user fetch after the exchange.
	SkipProfile bool
	// Achievement is granted after the exchange when non-empty.
	Achievement string

	// OnLoginURL is called once the login request exists, so the caller can
	// show its URL to the human.
	OnLoginURL func(req *gameapi.LoginRequest)
	// OnPoll is called after every poll with the 1-based attempt number.
	OnPoll func(attempt int, state *gameapi.LoginState)
}

// Result collects every artifact of a completed Run.
type Result struct {
	Request  *gameapi.LoginRequest
	State    *gameapi.LoginState
	Login    *gameapi.ExchangedLogin
	User     *gameapi.User
	Attempts int

	Achievement      string
	AchievementAdded bool
}

// Flow sequences the login steps against an API. Steps run one at a time.
type Flow struct {
	api  API
	opts Options
	// onWait observes every wait between two polls.
	onWait func(d time.Duration)

	mu        sync.Mutex
	exchanged map[string]struct{}
}

// New creates a flow. Zero poll options are replaced with defaults.
func New(api API, opts Options) *Flow {
	opts.Poll = opts.Poll.withDefaults()
	return &Flow{
		api:       api,
		opts:      opts,
		exchanged: make(map[string]struct{}),
	}
}

// Start creates a login request and hands its URL to OnLoginURL.
func (f *Flow) Start(ctx context.Context) (*gameapi.LoginRequest, error) {
	req, err := f.api.CreateLogin(ctx)
	if err != nil {
		return nil, err
	}

	log.LogInfoWithFields("loginflow", "Login request created", map[string]any{
		"request_id": req.ID,
	})
	if f.opts.OnLoginURL != nil {
		f.opts.OnLoginURL(req)
	}
	return req, nil
}

// WaitForLogin polls until the login request is completed.
func (f *Flow) WaitForLogin(ctx context.Context, req *gameapi.LoginRequest) (*gameapi.LoginState, error) {
	state, _, err := f.poll(ctx, req)
	return state, err
}

// Exchange trades a completed state for credentials. Each state is exchanged
// at most once per Flow.
func (f *Flow) Exchange(ctx context.Context, req *gameapi.LoginRequest, state *gameapi.LoginState) (*gameapi.ExchangedLogin, error) {
	if !state.Completed() {
		return nil, ErrLoginNotCompleted
	}

	f.mu.Lock()
	if _, done := f.exchanged[state.ID]; done {
		f.mu.Unlock()
		return nil, ErrAlreadyExchanged
	}
	f.exchanged[state.ID] = struct{}{}
	f.mu.Unlock()

	login, err := f.api.Exchange(ctx, req, state)
	if err != nil {
		f.mu.Lock()
		delete(f.exchanged, state.ID)
		f.mu.Unlock()
		return nil, err
	}

	log.LogInfoWithFields("loginflow", "Login exchanged", map[string]any{
		"login_id": login.ID,
	})
	return login, nil
}

// Profile fetches the user the credentials belong to.
func (f *Flow) Profile(ctx context.Context, creds gameapi.Credentials) (*gameapi.User, error) {
	return f.api.User(ctx, creds)
}

// GrantAchievement adds an achievement. False means it was already granted.
func (f *Flow) GrantAchievement(ctx context.Context, creds gameapi.Credentials, name string) (bool, error) {
	added, err := f.api.AddAchievement(ctx, creds, name)
	if err != nil {
		return false, err
	}

	log.LogInfoWithFields("loginflow", "Achievement submitted", map[string]any{
		"achievement": name,
		"added":       added,
	})
	return added, nil
}

// Run performs the whole flow. The first failing step ends it; later steps
// are not attempted.
func (f *Flow) Run(ctx context.Context) (*Result, error) {
	req, err := f.Start(ctx)
	if err != nil {
		return nil, err
	}

	state, attempts, err := f.poll(ctx, req)
	if err != nil {
		return nil, err
	}

	login, err := f.Exchange(ctx, req, state)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Request:  req,
		State:    state,
		Login:    login,
		Attempts: attempts,
	}
	creds := login.Credentials()

	if !f.opts.SkipProfile {
		user, err := f.Profile(ctx, creds)
		if err != nil {
			return nil, err
		}
		result.User = user
	}

	if f.opts.Achievement != "" {
		added, err := f.GrantAchievement(ctx, creds, f.opts.Achievement)
		if err != nil {
			return nil, err
		}
		result.Achievement = f.opts.Achievement
		result.AchievementAdded = added
	}

	return result, nil
}
