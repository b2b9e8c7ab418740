package loginflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/dgellow/gamelogin/internal/gameapi"
	"github.com/dgellow/gamelogin/internal/log"
)

const (
	// DefaultPollInterval is the fixed wait between two polls.
	DefaultPollInterval = 5 * time.Second
	// DefaultPollTimeout matches the lifetime the server gives a login request.
	DefaultPollTimeout = 5 * time.Minute
)

// PollOptions bounds the wait for the browser login.
type PollOptions struct {
	// Interval between polls. Constant; there is no backoff growth.
	Interval time.Duration
	// MaxAttempts caps the number of polls. Zero means unlimited.
	MaxAttempts int
	// Timeout caps the total wait. Zero means no timeout.
	Timeout time.Duration
}

func (o PollOptions) withDefaults() PollOptions {
	if o.Interval <= 0 {
		o.Interval = DefaultPollInterval
	}
	if o.MaxAttempts < 0 {
		o.MaxAttempts = 0
	}
	if o.Timeout < 0 {
		o.Timeout = 0
	}
	return o
}

// errStillPending makes the retry policy schedule another poll.
var errStillPending = errors.New("login still pending")

// poll returns the completed state and the number of polls it took.
// n polls wait exactly n-1 intervals.
func (f *Flow) poll(ctx context.Context, req *gameapi.LoginRequest) (*gameapi.LoginState, int, error) {
	opts := f.opts.Poll
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	attempt := 0

	operation := func() (*gameapi.LoginState, error) {
		attempt++
		state, err := f.api.LoginState(ctx, req.ID, req.Token)
		if err != nil {
			// A request cut short by the deadline ends the wait, it is not a server failure.
			if cerr := context.Cause(ctx); cerr != nil {
				return nil, cerr
			}
			return nil, backoff.Permanent(fmt.Errorf("poll attempt %d: %w", attempt, err))
		}
		if state.ID != req.ID {
			log.LogWarnWithFields("loginflow", "Login state id differs from request", map[string]any{
				"request_id": req.ID,
				"state_id":   state.ID,
			})
		}
		if f.opts.OnPoll != nil {
			f.opts.OnPoll(attempt, state)
		}
		if !state.Completed() {
			return nil, errStillPending
		}
		return state, nil
	}

	notify := func(err error, wait time.Duration) {
		log.LogDebugWithFields("loginflow", "Login pending", map[string]any{
			"request_id": req.ID,
			"attempt":    attempt,
			"next_poll":  wait.String(),
		})
		if f.onWait != nil {
			f.onWait(wait)
		}
	}

	state, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(opts.Interval)),
		backoff.WithMaxTries(uint(opts.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		switch {
		case errors.As(err, &permanent):
			return nil, attempt, permanent.Unwrap()
		case errors.Is(err, errStillPending):
			return nil, attempt, fmt.Errorf("%w after %d attempts", ErrLoginPending, attempt)
		default:
			return nil, attempt, fmt.Errorf("%w: %w", ErrLoginPending, err)
		}
	}

	userID, _ := state.CompletedBy()
	log.LogInfoWithFields("loginflow", "Login completed", map[string]any{
		"request_id": req.ID,
		"user_id":    userID,
		"attempts":   attempt,
		"elapsed":    time.Since(start).String(),
	})
	return state, attempt, nil
}
