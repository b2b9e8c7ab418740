// Package gameapitest provides an in-memory game login API server for tests.
//
// It follows the behavior of the real service closely enough to drive the
// client end to end: hashed one-time tokens, login requests that expire,
// approval through a browser form, both state schemas, header credentials and
// idempotent achievements.
package gameapitest

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dgellow/gamelogin/internal/gameapi"
	jsonwriter "github.com/dgellow/gamelogin/internal/json"
	"github.com/dgellow/gamelogin/internal/log"
)

// DefaultTTL is how long login requests and codes stay valid.
const DefaultTTL = 5 * time.Minute

// Option configures a Server.
type Option func(*Server)

// WithSchema selects the state / exchange schema the server speaks.
func WithSchema(schema gameapi.Schema) Option {
	return func(s *Server) { s.schema = schema }
}

// WithTTL sets the lifetime of login requests and codes.
func WithTTL(ttl time.Duration) Option {
	return func(s *Server) { s.store.ttl = ttl }
}

// WithClock replaces the server clock.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.store.now = now }
}

// Server is a running fake of the game login API.
type Server struct {
	*httptest.Server

	schema gameapi.Schema
	store  *store

	mu           sync.Mutex
	hits         map[string]int
	failures     map[string][]int
	polls        map[string]int
	approveAfter int
	approveAs    string
}

type loginRequestResponse struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Token string `json:"token"`
}

type loginStateResponse struct {
	ID     string  `json:"id"`
	UserID *string `json:"user_id"`
}

type loginCodeStateResponse struct {
	ID   string             `json:"id"`
	Code *loginCodeResponse `json:"code"`
}

type loginCodeResponse struct {
	ID   string       `json:"id"`
	User userResponse `json:"user"`
}

type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

type gameLoginResponse struct {
	ID    string       `json:"id"`
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type achievementResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	UserID string `json:"user_id"`
}

// NewServer starts a fake server. Callers must Close it.
func NewServer(opts ...Option) *Server {
	s := &Server{
		schema:   gameapi.SchemaUserID,
		store:    newStore(DefaultTTL, bcrypt.MinCost),
		hits:     make(map[string]int),
		failures: make(map[string][]int),
		polls:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Server = httptest.NewServer(s.Handler())
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+gameapi.LoginPath, s.createLogin)
	mux.HandleFunc("GET "+gameapi.LoginPath, s.loginState)
	mux.HandleFunc("GET "+gameapi.ExchangePath, s.exchange)
	mux.HandleFunc("GET "+gameapi.UserPath, s.requireLogin(s.user))
	mux.HandleFunc("POST "+gameapi.AchievementPath, s.requireLogin(s.addAchievement))
	mux.HandleFunc("GET /game", s.loginPage)
	mux.HandleFunc("POST /game", s.approveForm)
	return s.instrument(mux)
}

// AddUser registers an account that can approve login requests.
func (s *Server) AddUser(username, email string) *User {
	return s.store.addUser(username, email)
}

// Approve completes a login request as userID, as the browser flow would.
func (s *Server) Approve(requestID, userID string) error {
	return s.store.approve(requestID, userID, s.schema == gameapi.SchemaCode)
}

// ApproveAfter makes every login request complete as userID on its n-th poll.
func (s *Server) ApproveAfter(n int, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approveAfter = n
	s.approveAs = userID
}

// FailNext makes the next request to method+path answer with status.
func (s *Server) FailNext(method, path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + path
	s.failures[key] = append(s.failures[key], status)
}

// Hits returns how many requests reached method+path.
func (s *Server) Hits(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[method+" "+path]
}

// Achievements lists the achievements granted to userID.
func (s *Server) Achievements(userID string) []string {
	return s.store.achievementsOf(userID)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path

		s.mu.Lock()
		s.hits[key]++
		var status int
		if queued := s.failures[key]; len(queued) > 0 {
			status = queued[0]
			s.failures[key] = queued[1:]
		}
		s.mu.Unlock()

		if status != 0 {
			log.LogDebugWithFields("gameapitest", "Injected failure", map[string]any{
				"route":  key,
				"status": status,
			})
			jsonwriter.WriteError(w, status, http.StatusText(status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) createLogin(w http.ResponseWriter, r *http.Request) {
	req, token, err := s.store.createRequest()
	if err != nil {
		jsonwriter.WriteInternalServerError(w, err.Error())
		return
	}

	u := url.URL{Scheme: "http", Host: r.Host, Path: "/game"}
	query := u.Query()
	query.Set("id", req.id)
	u.RawQuery = query.Encode()

	_ = jsonwriter.WriteCreated(w, loginRequestResponse{ID: req.id, URL: u.String(), Token: token})
}

func (s *Server) loginState(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	token := r.URL.Query().Get("token")
	if id == "" || token == "" {
		jsonwriter.WriteBadRequest(w, "Missing request ID or token")
		return
	}

	req, err := s.store.requestState(id, token)
	if err != nil {
		jsonwriter.WriteNotFound(w, "Game login request not found")
		return
	}

	if req.userID == nil && s.autoApprove(id) {
		if req, err = s.store.requestState(id, token); err != nil {
			jsonwriter.WriteNotFound(w, "Game login request not found")
			return
		}
	}

	if s.schema == gameapi.SchemaCode {
		resp := loginCodeStateResponse{ID: req.id}
		if req.codeID != nil {
			code, ok := s.store.code(*req.codeID)
			user, found := s.store.userByID(code.userID)
			if !ok || !found {
				jsonwriter.WriteInternalServerError(w, "login code is inconsistent")
				return
			}
			resp.Code = &loginCodeResponse{ID: code.id, User: userResponse{ID: user.ID, Username: user.Username}}
		}
		_ = jsonwriter.Write(w, resp)
		return
	}

	_ = jsonwriter.Write(w, loginStateResponse{ID: req.id, UserID: req.userID})
}

// autoApprove applies ApproveAfter and reports whether it approved the request.
func (s *Server) autoApprove(id string) bool {
	s.mu.Lock()
	s.polls[id]++
	due := s.approveAfter > 0 && s.polls[id] >= s.approveAfter
	userID := s.approveAs
	s.mu.Unlock()

	if !due {
		return false
	}
	if err := s.Approve(id, userID); err != nil {
		log.LogWarnWithFields("gameapitest", "Auto approval failed", map[string]any{
			"request_id": id,
			"error":      err.Error(),
		})
		return false
	}
	return true
}

func (s *Server) exchange(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var (
		login *gameLogin
		token string
		err   error
	)
	if s.schema == gameapi.SchemaCode {
		codeID, userID := query.Get("code_id"), query.Get("user_id")
		if codeID == "" || userID == "" {
			jsonwriter.WriteBadRequest(w, "Missing code ID or user ID")
			return
		}
		login, token, err = s.store.exchangeCode(codeID, userID)
	} else {
		id, reqToken := query.Get("id"), query.Get("token")
		if id == "" || reqToken == "" {
			jsonwriter.WriteBadRequest(w, "Missing ID or token")
			return
		}
		login, token, err = s.store.exchangeRequest(id, reqToken)
	}

	switch {
	case errors.Is(err, errNotFound), errors.Is(err, errAlreadyUsed):
		jsonwriter.WriteNotFound(w, "Game login request not found")
		return
	case errors.Is(err, errNotApproved):
		jsonwriter.WriteBadRequest(w, "Game login request not approved")
		return
	case err != nil:
		jsonwriter.WriteInternalServerError(w, err.Error())
		return
	}

	user, ok := s.store.userByID(login.userID)
	if !ok {
		jsonwriter.WriteInternalServerError(w, "user not found")
		return
	}
	_ = jsonwriter.Write(w, gameLoginResponse{
		ID:    login.id,
		Token: token,
		User:  userResponse{ID: user.ID, Username: user.Username},
	})
}

type userHandler func(w http.ResponseWriter, r *http.Request, user *User)

func (s *Server) requireLogin(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(gameapi.HeaderLoginID)
		token := r.Header.Get(gameapi.HeaderLoginToken)
		if id == "" || token == "" {
			jsonwriter.WriteUnauthorized(w, "Missing game login credentials")
			return
		}
		user, err := s.store.authenticate(id, token)
		if err != nil {
			jsonwriter.WriteUnauthorized(w, "Invalid game login credentials")
			return
		}
		next(w, r, user)
	}
}

func (s *Server) user(w http.ResponseWriter, r *http.Request, user *User) {
	_ = jsonwriter.Write(w, userResponse{ID: user.ID, Username: user.Username, Email: user.Email})
}

func (s *Server) addAchievement(w http.ResponseWriter, r *http.Request, user *User) {
	name := r.FormValue("name")
	if name == "" {
		jsonwriter.WriteBadRequest(w, "Name is required")
		return
	}

	err := s.store.grant(user.ID, name)
	switch {
	case errors.Is(err, errInvalidAchieve):
		jsonwriter.WriteBadRequest(w, "Invalid achievement name")
		return
	case errors.Is(err, errAlreadyExists):
		jsonwriter.WriteConflict(w, "Achievement already exists for user")
		return
	case err != nil:
		jsonwriter.WriteInternalServerError(w, "Failed to add achievement")
		return
	}

	_ = jsonwriter.WriteCreated(w, achievementResponse{ID: uuid.NewString(), Name: name, UserID: user.ID})
}

func (s *Server) loginPage(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing request ID", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "POST request_id=%s and username to /game to approve this login\n", id)
}

// approveForm is the browser side of the flow: a signed-in user confirms the
// login request. The fake identifies the user by username.
func (s *Server) approveForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	requestID := r.FormValue("request_id")
	if requestID == "" {
		http.Error(w, "Missing game login request ID", http.StatusBadRequest)
		return
	}
	user, ok := s.store.userByName(r.FormValue("username"))
	if !ok {
		http.Error(w, "Unknown user", http.StatusUnauthorized)
		return
	}
	if err := s.Approve(requestID, user.ID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "Game login approved")
}
