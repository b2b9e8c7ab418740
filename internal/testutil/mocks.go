package testutil

import (
	"context"

	"github.com/dgellow/gamelogin/internal/gameapi"
	"github.com/stretchr/testify/mock"
)

// MockGameAPI is a testify mock of the game login API client.
type MockGameAPI struct {
	mock.Mock
}

func (m *MockGameAPI) CreateLogin(ctx context.Context) (*gameapi.LoginRequest, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gameapi.LoginRequest), args.Error(1)
}

func (m *MockGameAPI) LoginState(ctx context.Context, id, token string) (*gameapi.LoginState, error) {
	args := m.Called(ctx, id, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gameapi.LoginState), args.Error(1)
}

func (m *MockGameAPI) Exchange(ctx context.Context, req *gameapi.LoginRequest, state *gameapi.LoginState) (*gameapi.ExchangedLogin, error) {
	args := m.Called(ctx, req, state)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gameapi.ExchangedLogin), args.Error(1)
}

func (m *MockGameAPI) User(ctx context.Context, creds gameapi.Credentials) (*gameapi.User, error) {
	args := m.Called(ctx, creds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gameapi.User), args.Error(1)
}

func (m *MockGameAPI) AddAchievement(ctx context.Context, creds gameapi.Credentials, name string) (bool, error) {
	args := m.Called(ctx, creds, name)
	return args.Bool(0), args.Error(1)
}

// PendingState returns a login state that has not been completed.
func PendingState(id string) *gameapi.LoginState {
	return &gameapi.LoginState{ID: id}
}

// CompletedState returns a login state completed by userID (user_id schema).
func CompletedState(id, userID string) *gameapi.LoginState {
	return &gameapi.LoginState{ID: id, UserID: &userID}
}
