package gameapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/asaskevich/govalidator"
)

// Schema selects which shape of the login state and exchange endpoints the
// server speaks. Deployments of the API differ here, so it is configuration.
type Schema string

const (
	// SchemaUserID: state is {id, user_id?}; exchange by the login request's id and token.
	SchemaUserID Schema = "user_id"
	// SchemaCode: state is {id, code?: {id, user}}; exchange by code_id and user_id.
	SchemaCode Schema = "code"
)

// ParseSchema parses a schema name. Empty selects SchemaUserID.
func ParseSchema(s string) (Schema, error) {
	switch Schema(strings.ToLower(strings.TrimSpace(s))) {
	case SchemaUserID, "":
		return SchemaUserID, nil
	case SchemaCode:
		return SchemaCode, nil
	default:
		return "", fmt.Errorf("unknown schema %q (expected %q or %q)", s, SchemaUserID, SchemaCode)
	}
}

// LoginRequest is issued by the server when a login is initiated. URL is meant
// for a human to open; Token authorizes polling.
type LoginRequest struct {
	ID    string `json:"id" valid:"required"`
	URL   string `json:"url" valid:"requrl,required"`
	Token string `json:"token" valid:"required"`
}

// LoginUser is the user summary embedded in login codes.
type LoginUser struct {
	ID       string `json:"id" valid:"required"`
	Username string `json:"username" valid:"required"`
}

// LoginCode is the completion artifact of the code schema.
type LoginCode struct {
	ID   string    `json:"id" valid:"required"`
	User LoginUser `json:"user"`
}

// LoginState is one poll result. Exactly one of UserID and Code is set once the
// login is completed, depending on the schema; both are nil while pending.
type LoginState struct {
	ID     string     `json:"id" valid:"required"`
	UserID *string    `json:"user_id,omitempty" valid:"-"`
	Code   *LoginCode `json:"code,omitempty" valid:"-"`
}

// Completed reports whether the server has recorded a completed browser login.
func (s *LoginState) Completed() bool {
	return s != nil && (s.UserID != nil || s.Code != nil)
}

// CompletedBy returns the id of the user who completed the login.
func (s *LoginState) CompletedBy() (string, bool) {
	switch {
	case s == nil:
		return "", false
	case s.UserID != nil:
		return *s.UserID, true
	case s.Code != nil:
		return s.Code.User.ID, true
	}
	return "", false
}

// User is a profile snapshot.
type User struct {
	ID       string  `json:"id" valid:"required"`
	Username string  `json:"username" valid:"required"`
	Email    *string `json:"email,omitempty" valid:"-"`
}

// ExchangedLogin is the durable credential produced by the exchange step.
type ExchangedLogin struct {
	ID    string `json:"id" valid:"required"`
	Token string `json:"token" valid:"required"`
	User  *User  `json:"user,omitempty" valid:"-"`
}

// Credentials returns the header credential pair for post-login calls.
func (l *ExchangedLogin) Credentials() Credentials {
	return Credentials{ID: l.ID, Token: l.Token}
}

// Credentials is the (id, token) pair sent as X-Game-Login-ID and
// X-Game-Login-Token. The token never appears in formatted or logged output.
type Credentials struct {
	ID    string
	Token string
}

// String implements fmt.Stringer to redact the token.
func (c Credentials) String() string {
	return fmt.Sprintf("{ID:%s Token:***}", c.ID)
}

// LogValue implements slog.LogValuer to redact the token.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(slog.String("id", c.ID), slog.String("token", "***"))
}

func (c Credentials) valid() bool {
	return c.ID != "" && c.Token != ""
}

func (c Credentials) header() http.Header {
	h := make(http.Header, 2)
	h.Set(HeaderLoginID, c.ID)
	h.Set(HeaderLoginToken, c.Token)
	return h
}

// ParseLoginRequest parses the response of POST /api/game/login.
func ParseLoginRequest(data []byte) (*LoginRequest, error) {
	var req LoginRequest
	if err := decode("login request", data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ParseLoginState parses a poll response in the given schema. Fields of the
// other schema are ignored.
func ParseLoginState(data []byte, schema Schema) (*LoginState, error) {
	const model = "login state"
	switch schema {
	case SchemaCode:
		var wire struct {
			ID   string     `json:"id" valid:"required"`
			Code *LoginCode `json:"code" valid:"-"`
		}
		if err := decode(model, data, &wire); err != nil {
			return nil, err
		}
		if wire.Code != nil {
			if err := validate(model, wire.Code, "code."); err != nil {
				return nil, err
			}
		}
		return &LoginState{ID: wire.ID, Code: wire.Code}, nil
	case SchemaUserID, "":
		var wire struct {
			ID     string  `json:"id" valid:"required"`
			UserID *string `json:"user_id" valid:"-"`
		}
		if err := decode(model, data, &wire); err != nil {
			return nil, err
		}
		if wire.UserID != nil && *wire.UserID == "" {
			return nil, &ValidationError{Model: model, Field: "user_id", Reason: "must not be empty when present"}
		}
		return &LoginState{ID: wire.ID, UserID: wire.UserID}, nil
	default:
		return nil, fmt.Errorf("unknown schema %q", schema)
	}
}

// ParseExchangedLogin parses the response of GET /api/game/exchange.
func ParseExchangedLogin(data []byte) (*ExchangedLogin, error) {
	const model = "exchanged login"
	var login ExchangedLogin
	if err := decode(model, data, &login); err != nil {
		return nil, err
	}
	if login.User != nil {
		if err := validate(model, login.User, "user."); err != nil {
			return nil, err
		}
	}
	return &login, nil
}

// ParseUser parses the response of GET /api/game/user.
func ParseUser(data []byte) (*User, error) {
	var user User
	if err := decode("user", data, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// decode unmarshals a JSON object into v and runs the struct validators.
// Type mismatches are reported rather than coerced.
func decode(model string, data []byte, v any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return &ValidationError{Model: model, Reason: "payload must be a JSON object"}
	}

	if err := json.Unmarshal(trimmed, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &ValidationError{
				Model:  model,
				Field:  typeErr.Field,
				Reason: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
			}
		}
		return &ValidationError{Model: model, Reason: err.Error()}
	}

	return validate(model, v, "")
}

func validate(model string, v any, prefix string) error {
	if _, err := govalidator.ValidateStruct(v); err != nil {
		field, reason := firstFieldError(err)
		if field != "" {
			field = prefix + field
		}
		return &ValidationError{Model: model, Field: field, Reason: reason}
	}
	return nil
}

// firstFieldError flattens govalidator's nested error lists and returns the
// first field failure.
func firstFieldError(err error) (string, string) {
	switch e := err.(type) {
	case govalidator.Errors:
		for _, inner := range e {
			if inner != nil {
				return firstFieldError(inner)
			}
		}
	case govalidator.Error:
		name := strings.Join(append(append([]string{}, e.Path...), e.Name), ".")
		reason := e.Error()
		if e.Err != nil {
			reason = e.Err.Error()
		}
		return name, reason
	}
	return "", err.Error()
}
