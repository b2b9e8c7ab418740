package gameapitest

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgellow/gamelogin/internal/crypto"
)

var (
	errNotFound       = errors.New("not found")
	errAlreadyExists  = errors.New("already exists")
	errInvalidToken   = errors.New("invalid token")
	errNotApproved    = errors.New("login request not approved")
	errAlreadyUsed    = errors.New("login request already used")
	errUnknownUser    = errors.New("unknown user")
	errInvalidAchieve = errors.New("invalid achievement name")
)

// User is an account known to the fake server.
type User struct {
	ID       string
	Username string
	Email    string
}

type loginRequest struct {
	id        string
	tokenHash []byte
	expiresAt time.Time
	userID    *string // set when the browser login is approved
	codeID    *string // code schema only
	exchanged bool
}

type loginCode struct {
	id        string
	userID    string
	expiresAt time.Time
	loginID   *string // set once exchanged
}

type gameLogin struct {
	id        string
	userID    string
	tokenHash []byte
}

// store keeps all server state in memory. All methods are safe for concurrent use.
type store struct {
	mu           sync.RWMutex
	ttl          time.Duration
	cost         int
	now          func() time.Time
	users        map[string]*User
	requests     map[string]*loginRequest
	codes        map[string]*loginCode
	logins       map[string]*gameLogin
	achievements map[string]map[string]time.Time // userID -> name -> granted at
}

func newStore(ttl time.Duration, cost int) *store {
	return &store{
		ttl:          ttl,
		cost:         cost,
		now:          time.Now,
		users:        make(map[string]*User),
		requests:     make(map[string]*loginRequest),
		codes:        make(map[string]*loginCode),
		logins:       make(map[string]*gameLogin),
		achievements: make(map[string]map[string]time.Time),
	}
}

func (s *store) addUser(username, email string) *User {
	u := &User{ID: uuid.NewString(), Username: username, Email: email}
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
	return u
}

func (s *store) userByID(id string) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

func (s *store) userByName(username string) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, true
		}
	}
	return nil, false
}

// createRequest stores a new login request and returns its plaintext token.
func (s *store) createRequest() (*loginRequest, string, error) {
	token, hash, err := crypto.NewToken(s.cost)
	if err != nil {
		return nil, "", err
	}
	req := &loginRequest{
		id:        uuid.NewString(),
		tokenHash: hash,
		expiresAt: s.now().Add(s.ttl),
	}

	s.mu.Lock()
	s.requests[req.id] = req
	s.mu.Unlock()
	return req, token, nil
}

// requestState returns a copy of a live, unexchanged request after checking its token.
func (s *store) requestState(id, token string) (loginRequest, error) {
	s.mu.RLock()
	req, ok := s.requests[id]
	var snapshot loginRequest
	if ok {
		snapshot = *req
	}
	s.mu.RUnlock()

	if !ok || snapshot.exchanged || snapshot.expiresAt.Before(s.now()) {
		return loginRequest{}, errNotFound
	}
	if !crypto.CompareToken(snapshot.tokenHash, token) {
		return loginRequest{}, errNotFound
	}
	return snapshot, nil
}

// approve records the browser login of userID on a pending request. In the
// code schema it also issues a single-use login code.
func (s *store) approve(requestID, userID string, withCode bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return errUnknownUser
	}
	req, ok := s.requests[requestID]
	if !ok {
		return errNotFound
	}
	if req.userID != nil || req.exchanged || req.expiresAt.Before(s.now()) {
		return errAlreadyUsed
	}

	uid := userID
	req.userID = &uid
	if withCode {
		code := &loginCode{
			id:        uuid.NewString(),
			userID:    userID,
			expiresAt: s.now().Add(s.ttl),
		}
		s.codes[code.id] = code
		req.codeID = &code.id
	}
	return nil
}

func (s *store) code(id string) (loginCode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.codes[id]
	if !ok {
		return loginCode{}, false
	}
	return *c, true
}

// exchangeRequest turns an approved request into a game login (user_id schema).
func (s *store) exchangeRequest(id, token string) (*gameLogin, string, error) {
	req, err := s.requestState(id, token)
	if err != nil {
		return nil, "", err
	}
	if req.userID == nil {
		return nil, "", errNotApproved
	}

	login, plain, err := s.newLogin(*req.userID)
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	live := s.requests[id]
	if live.exchanged {
		return nil, "", errAlreadyUsed
	}
	live.exchanged = true
	s.logins[login.id] = login
	return login, plain, nil
}

// exchangeCode turns an unused login code into a game login (code schema).
func (s *store) exchangeCode(codeID, userID string) (*gameLogin, string, error) {
	code, ok := s.code(codeID)
	if !ok || code.userID != userID || code.loginID != nil || code.expiresAt.Before(s.now()) {
		return nil, "", errNotFound
	}

	login, plain, err := s.newLogin(userID)
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	live := s.codes[codeID]
	if live.loginID != nil {
		return nil, "", errAlreadyUsed
	}
	live.loginID = &login.id
	s.logins[login.id] = login
	for _, req := range s.requests {
		if req.codeID != nil && *req.codeID == codeID {
			req.exchanged = true
		}
	}
	return login, plain, nil
}

func (s *store) newLogin(userID string) (*gameLogin, string, error) {
	token, hash, err := crypto.NewToken(s.cost)
	if err != nil {
		return nil, "", err
	}
	return &gameLogin{id: uuid.NewString(), userID: userID, tokenHash: hash}, token, nil
}

// authenticate resolves the user behind a game login credential pair.
func (s *store) authenticate(loginID, token string) (*User, error) {
	s.mu.RLock()
	login, ok := s.logins[loginID]
	s.mu.RUnlock()
	if !ok || !crypto.CompareToken(login.tokenHash, token) {
		return nil, errInvalidToken
	}

	user, ok := s.userByID(login.userID)
	if !ok {
		return nil, errUnknownUser
	}
	return user, nil
}

func (s *store) grant(userID, name string) error {
	if !validAchievement(name) {
		return errInvalidAchieve
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	granted, ok := s.achievements[userID]
	if !ok {
		granted = make(map[string]time.Time)
		s.achievements[userID] = granted
	}
	if _, exists := granted[name]; exists {
		return errAlreadyExists
	}
	granted[name] = s.now()
	return nil
}

func (s *store) achievementsOf(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.achievements[userID]))
	for name := range s.achievements[userID] {
		names = append(names, name)
	}
	return names
}

// AchievementFirstLogin is the only achievement the server accepts.
const AchievementFirstLogin = "first_login"

func validAchievement(name string) bool {
	return name == AchievementFirstLogin
}
