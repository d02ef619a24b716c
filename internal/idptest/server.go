// Package idptest provides an in-process fake of the hosted identity service
// for tests. It implements the same HTTP surface pkg/idp speaks: password and
// refresh grants, sign-up, sign-out and the TOTP factor lifecycle. Codes are
// real TOTP codes so the full enroll/challenge/verify ceremony can be
// exercised end to end without the hosted service.
package idptest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/carteralabs/panel/pkg/idx"
)

const tokenTTL = time.Hour

var signingKey = []byte("idptest-signing-key")

// User is a fake account.
type User struct {
	ID       string
	Email    string
	Password string
	Factors  []*Factor
}

// Factor is a fake TOTP enrollment.
type Factor struct {
	ID           string
	FriendlyName string
	Status       string
	Secret       string
	URI          string
}

type challenge struct {
	id        string
	factorID  string
	userID    string
	expiresAt time.Time
}

// Server is the fake identity service.
type Server struct {
	srv *httptest.Server

	mu         sync.Mutex
	users      map[string]*User // keyed by email
	refresh    map[string]string
	challenges map[string]*challenge
	issued     int

	// Failure injection for exercising the panel's error branches.
	FailFactorList bool
	FailChallenge  bool

	// SignUpCalls records sign-up requests including the redirect target.
	SignUpCalls []SignUpCall
}

// SignUpCall captures one sign-up request.
type SignUpCall struct {
	Email      string
	RedirectTo string
}

// New starts a fake identity service. Callers must Close it.
func New() *Server {
	s := &Server{
		users:      make(map[string]*User),
		refresh:    make(map[string]string),
		challenges: make(map[string]*challenge),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", s.handleToken)
	mux.HandleFunc("POST /signup", s.handleSignUp)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.HandleFunc("GET /factors", s.handleListFactors)
	mux.HandleFunc("POST /factors", s.handleEnroll)
	mux.HandleFunc("POST /factors/{id}/challenge", s.handleChallenge)
	mux.HandleFunc("POST /factors/{id}/verify", s.handleVerify)

	s.srv = httptest.NewServer(mux)
	return s
}

// URL is the base URL to hand to idp.NewClient.
func (s *Server) URL() string { return s.srv.URL }

// Close shuts the fake service down.
func (s *Server) Close() { s.srv.Close() }

// AddUser registers an account.
func (s *Server) AddUser(email, password string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := &User{ID: idx.New().String(), Email: email, Password: password}
	s.users[email] = u
	return u
}

// EnrollVerified attaches a verified TOTP factor to an existing user and
// returns it. Use TOTPCode to produce codes it accepts.
func (s *Server) EnrollVerified(email, friendlyName string) *Factor {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[email]
	f := s.newFactorLocked(u, friendlyName)
	f.Status = "verified"
	return f
}

// TOTPCode returns a currently valid code for the user's first factor.
func (s *Server) TOTPCode(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[email]
	if u == nil || len(u.Factors) == 0 {
		return ""
	}
	code, err := totp.GenerateCode(u.Factors[0].Secret, time.Now())
	if err != nil {
		return ""
	}
	return code
}

// ChallengeCount returns how many challenges have been issued so far.
func (s *Server) ChallengeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issued
}

func (s *Server) newFactorLocked(u *User, friendlyName string) *Factor {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "Cartera Panel",
		AccountName: u.Email,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		panic(err)
	}

	f := &Factor{
		ID:           idx.New().String(),
		FriendlyName: friendlyName,
		Status:       "unverified",
		Secret:       key.Secret(),
		URI:          key.URL(),
	}
	u.Factors = append(u.Factors, f)
	return f
}

func (s *Server) issueToken(u *User, aal string) map[string]any {
	claims := jwt.MapClaims{
		"sub":   u.ID,
		"email": u.Email,
		"aal":   aal,
		"exp":   time.Now().Add(tokenTTL).Unix(),
		"iat":   time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(signingKey)
	if err != nil {
		panic(err)
	}

	refreshToken := idx.New().String()
	s.refresh[refreshToken] = u.Email + "|" + aal

	return map[string]any{
		"access_token":  signed,
		"refresh_token": refreshToken,
		"token_type":    "bearer",
		"expires_in":    int(tokenTTL.Seconds()),
		"user":          map[string]string{"id": u.ID, "email": u.Email},
	}
}

// userFromBearer resolves the Authorization header to a user. Returns nil
// when the token is missing or malformed.
func (s *Server) userFromBearer(r *http.Request) *User {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return nil
	}

	var claims jwt.MapClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return signingKey, nil
	})
	if err != nil {
		return nil
	}

	email, _ := claims["email"].(string)
	return s.users[email]
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var body struct {
		Email        string `json:"email"`
		Password     string `json:"password"`
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	switch r.URL.Query().Get("grant_type") {
	case "password":
		u := s.users[body.Email]
		if u == nil || u.Password != body.Password {
			writeError(w, http.StatusBadRequest, "invalid_grant", "invalid login credentials")
			return
		}
		writeJSON(w, http.StatusOK, s.issueToken(u, "aal1"))

	case "refresh_token":
		entry, ok := s.refresh[body.RefreshToken]
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_grant", "refresh token not found")
			return
		}
		delete(s.refresh, body.RefreshToken) // tokens rotate
		email, aal, _ := strings.Cut(entry, "|")
		writeJSON(w, http.StatusOK, s.issueToken(s.users[email], aal))

	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "unsupported grant type")
	}
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var body struct {
		Email      string `json:"email"`
		Password   string `json:"password"`
		RedirectTo string `json:"redirect_to"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.SignUpCalls = append(s.SignUpCalls, SignUpCall{Email: body.Email, RedirectTo: body.RedirectTo})

	if _, exists := s.users[body.Email]; exists {
		writeError(w, http.StatusUnprocessableEntity, "user_already_exists", "user already registered")
		return
	}

	u := &User{ID: idx.New().String(), Email: body.Email, Password: body.Password}
	s.users[body.Email] = u
	writeJSON(w, http.StatusOK, map[string]string{"id": u.ID, "email": u.Email})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.userFromBearer(r) == nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "missing or invalid token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListFactors(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailFactorList {
		writeError(w, http.StatusInternalServerError, "server_error", "factor listing unavailable")
		return
	}

	u := s.userFromBearer(r)
	if u == nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "missing or invalid token")
		return
	}

	factors := make([]map[string]any, 0, len(u.Factors))
	for _, f := range u.Factors {
		entry := map[string]any{
			"id":            f.ID,
			"factor_type":   "totp",
			"friendly_name": f.FriendlyName,
			"status":        f.Status,
		}
		if f.Status == "unverified" {
			entry["totp"] = map[string]string{"secret": f.Secret, "uri": f.URI}
		}
		factors = append(factors, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"totp": factors})
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.userFromBearer(r)
	if u == nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "missing or invalid token")
		return
	}

	var body struct {
		FactorType   string `json:"factor_type"`
		FriendlyName string `json:"friendly_name"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	for _, f := range u.Factors {
		if f.FriendlyName == body.FriendlyName {
			writeError(w, http.StatusUnprocessableEntity, "mfa_factor_name_conflict",
				"a factor with this friendly name already exists")
			return
		}
	}

	f := s.newFactorLocked(u, body.FriendlyName)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":            f.ID,
		"factor_type":   "totp",
		"friendly_name": f.FriendlyName,
		"status":        f.Status,
		"totp":          map[string]string{"secret": f.Secret, "uri": f.URI},
	})
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailChallenge {
		writeError(w, http.StatusInternalServerError, "server_error", "challenge issuance unavailable")
		return
	}

	u := s.userFromBearer(r)
	if u == nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "missing or invalid token")
		return
	}

	factorID := r.PathValue("id")
	ch := &challenge{
		id:        idx.New().String(),
		factorID:  factorID,
		userID:    u.ID,
		expiresAt: time.Now().Add(5 * time.Minute),
	}
	s.challenges[ch.id] = ch
	s.issued++

	writeJSON(w, http.StatusOK, map[string]any{
		"id":         ch.id,
		"expires_at": ch.expiresAt.Format(time.RFC3339),
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.userFromBearer(r)
	if u == nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "missing or invalid token")
		return
	}

	var body struct {
		ChallengeID string `json:"challenge_id"`
		Code        string `json:"code"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	factorID := r.PathValue("id")
	ch := s.challenges[body.ChallengeID]
	if ch == nil || ch.factorID != factorID || ch.userID != u.ID || time.Now().After(ch.expiresAt) {
		writeError(w, http.StatusBadRequest, "mfa_challenge_expired", "challenge not found or expired")
		return
	}

	var factor *Factor
	for _, f := range u.Factors {
		if f.ID == factorID {
			factor = f
		}
	}
	if factor == nil {
		writeError(w, http.StatusNotFound, "invalid_request", "factor not found")
		return
	}

	if !totp.Validate(body.Code, factor.Secret) {
		// Wrong code leaves the challenge in place so the user can retry.
		writeError(w, http.StatusBadRequest, "mfa_verification_failed", "invalid TOTP code")
		return
	}

	delete(s.challenges, body.ChallengeID) // success consumes the challenge
	factor.Status = "verified"
	writeJSON(w, http.StatusOK, s.issueToken(u, "aal2"))
}
