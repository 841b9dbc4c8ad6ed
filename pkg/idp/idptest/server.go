// Package idptest runs an in-process identity provider realm for tests. It
// serves discovery, JWKS, the token and logout endpoints and the subset of
// the user admin API the service calls.
package idptest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/platinummonkey/tenantgate/pkg/config"
)

// Fixed identifiers of the fake realm
const (
	Realm         = "test-realm"
	ClientID      = "tenantgate"
	ClientSecret  = "test-secret"
	AdminRealm    = "master"
	AdminClientID = "admin-cli"
	AdminUsername = "admin"
	AdminPassword = "admin"
	KeyID         = "test-key"
	TokenLifetime = 300
)

// User is an account held by the fake realm
type User struct {
	ID              string
	Email           string
	Password        string
	FirstName       string
	LastName        string
	EmailVerified   bool
	RequiredActions []string
}

// Server is a fake identity provider realm
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	key           *rsa.PrivateKey
	kid           string
	users         map[string]*User
	refreshTokens map[string]string // token -> user id
	adminToken    string
	adminLogins   int
	jwksFetches   int
	failJWKS      bool
	adminLocked   bool
	createCalls   int
}

// NewServer starts a fake realm and closes it when the test ends
func NewServer(t testing.TB) *Server {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}

	s := &Server{
		key:           key,
		kid:           KeyID,
		users:         make(map[string]*User),
		refreshTokens: make(map[string]string),
	}

	router := mux.NewRouter()
	realm := router.PathPrefix("/realms/{realm}").Subrouter()
	realm.HandleFunc("/.well-known/openid-configuration", s.handleDiscovery).Methods(http.MethodGet)
	realm.HandleFunc("/protocol/openid-connect/certs", s.handleJWKS).Methods(http.MethodGet)
	realm.HandleFunc("/protocol/openid-connect/token", s.handleToken).Methods(http.MethodPost)
	realm.HandleFunc("/protocol/openid-connect/logout", s.handleLogout).Methods(http.MethodPost)

	admin := router.PathPrefix("/admin/realms/" + Realm).Subrouter()
	admin.Use(s.requireAdmin)
	admin.HandleFunc("/users", s.handleFindUsers).Methods(http.MethodGet)
	admin.HandleFunc("/users", s.handleCreateUser).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}", s.handleGetUser).Methods(http.MethodGet)
	admin.HandleFunc("/users/{id}", s.handleUpdateUser).Methods(http.MethodPut)
	admin.HandleFunc("/users/{id}/reset-password", s.handleResetPassword).Methods(http.MethodPut)

	s.Server = httptest.NewServer(router)
	t.Cleanup(s.Close)
	return s
}

// Config returns an IdP configuration pointing at the fake realm
func (s *Server) Config() config.IdPConfig {
	return config.IdPConfig{
		BaseURL:        s.URL,
		Realm:          Realm,
		ClientID:       ClientID,
		ClientSecret:   ClientSecret,
		AdminUsername:  AdminUsername,
		AdminPassword:  AdminPassword,
		AdminRealm:     AdminRealm,
		AdminClientID:  AdminClientID,
		Algorithm:      "RS256",
		Issuer:         s.Issuer(),
		KeyCacheTTL:    time.Hour,
		HTTPTimeout:    5 * time.Second,
		AudiencePolicy: config.AudiencePolicyLenient,
	}
}

// Issuer is the iss claim of tokens minted by the realm
func (s *Server) Issuer() string {
	return s.URL + "/realms/" + Realm
}

// PrivateKey is the current realm signing key
func (s *Server) PrivateKey() *rsa.PrivateKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// RotateKey replaces the realm signing key with a fresh one published under
// kid. Tokens signed with the previous key no longer verify once callers
// refetch the key set.
func (s *Server) RotateKey(t testing.TB, kid string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	s.mu.Lock()
	s.key = key
	s.kid = kid
	s.mu.Unlock()
}

// CurrentKeyID is the kid of the active signing key
func (s *Server) CurrentKeyID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kid
}

// AddUser registers an account and returns its id
func (s *Server) AddUser(email, password, firstName, lastName string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.users[id] = &User{
		ID:            id,
		Email:         email,
		Password:      password,
		FirstName:     firstName,
		LastName:      lastName,
		EmailVerified: true,
	}
	return id
}

// User returns a copy of the account with id, or nil
func (s *Server) User(id string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil
	}
	cp := *u
	return &cp
}

// SetRequiredActions marks an account as not fully set up
func (s *Server) SetRequiredActions(id string, actions ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.RequiredActions = actions
	}
}

// ExpireAdminToken invalidates the admin credential currently handed out,
// so the next admin call is answered with 401.
func (s *Server) ExpireAdminToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminToken = "expired"
}

// RejectAdminLogin makes every admin call fail with 401, including calls
// made with a freshly issued credential.
func (s *Server) RejectAdminLogin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminToken = ""
	s.adminLocked = true
}

// FailJWKS makes the JWKS endpoint answer 500 until reset
func (s *Server) FailJWKS(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failJWKS = fail
}

// AdminLogins counts admin credential grants
func (s *Server) AdminLogins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adminLogins
}

// JWKSFetches counts JWKS downloads
func (s *Server) JWKSFetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jwksFetches
}

// CreateCalls counts user creation requests
func (s *Server) CreateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCalls
}

// Sign signs claims with the realm key under kid
func (s *Server) Sign(t testing.TB, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(s.PrivateKey())
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

// Claims returns a valid access token claim set for user id
func (s *Server) Claims(id, email string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":                s.Issuer(),
		"sub":                id,
		"aud":                []string{"account"},
		"azp":                ClientID,
		"exp":                now.Add(TokenLifetime * time.Second).Unix(),
		"iat":                now.Unix(),
		"typ":                "Bearer",
		"email":              email,
		"preferred_username": email,
		"realm_access":       map[string]interface{}{"roles": []string{"default-roles-" + Realm}},
	}
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	realm := mux.Vars(r)["realm"]
	base := s.URL + "/realms/" + realm
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"issuer":                 base,
		"authorization_endpoint": base + "/protocol/openid-connect/auth",
		"token_endpoint":         base + "/protocol/openid-connect/token",
		"jwks_uri":               base + "/protocol/openid-connect/certs",
		"end_session_endpoint":   base + "/protocol/openid-connect/logout",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.jwksFetches++
	fail := s.failJWKS
	signing, kid := s.key, s.kid
	s.mu.Unlock()

	if fail {
		http.Error(w, "unavailable", http.StatusInternalServerError)
		return
	}

	key, err := jwk.Import(&signing.PublicKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = key.Set(jwk.KeyIDKey, kid)
	_ = key.Set(jwk.AlgorithmKey, "RS256")
	_ = key.Set(jwk.KeyUsageKey, "sig")

	set := jwk.NewSet()
	_ = set.AddKey(key)
	writeJSON(w, http.StatusOK, set)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	realm := mux.Vars(r)["realm"]

	if realm == AdminRealm {
		s.handleAdminToken(w, r)
		return
	}
	if realm != Realm {
		writeOAuthError(w, http.StatusNotFound, "realm_not_found", "realm not found")
		return
	}
	if r.PostForm.Get("client_id") != ClientID || r.PostForm.Get("client_secret") != ClientSecret {
		writeOAuthError(w, http.StatusUnauthorized, "unauthorized_client", "Invalid client credentials")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "password":
		s.mu.Lock()
		user := s.findByEmail(r.PostForm.Get("username"))
		s.mu.Unlock()
		if user == nil || user.Password != r.PostForm.Get("password") {
			writeOAuthError(w, http.StatusUnauthorized, "invalid_grant", "Invalid user credentials")
			return
		}
		if len(user.RequiredActions) > 0 {
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "Account is not fully set up")
			return
		}
		s.issueTokens(w, user)
	case "refresh_token":
		s.mu.Lock()
		id, ok := s.refreshTokens[r.PostForm.Get("refresh_token")]
		if ok {
			delete(s.refreshTokens, r.PostForm.Get("refresh_token"))
		}
		user := s.users[id]
		s.mu.Unlock()
		if !ok || user == nil {
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "Invalid refresh token")
			return
		}
		s.issueTokens(w, user)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant type")
	}
}

func (s *Server) handleAdminToken(w http.ResponseWriter, r *http.Request) {
	if r.PostForm.Get("client_id") != AdminClientID ||
		r.PostForm.Get("username") != AdminUsername ||
		r.PostForm.Get("password") != AdminPassword {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_grant", "Invalid user credentials")
		return
	}

	s.mu.Lock()
	s.adminLogins++
	token := fmt.Sprintf("admin-token-%d", s.adminLogins)
	if !s.adminLocked {
		s.adminToken = token
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": token,
		"expires_in":   60,
		"token_type":   "Bearer",
	})
}

func (s *Server) issueTokens(w http.ResponseWriter, user *User) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, s.Claims(user.ID, user.Email))
	token.Header["kid"] = s.CurrentKeyID()
	access, err := token.SignedString(s.PrivateKey())
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	refresh := uuid.NewString()
	s.mu.Lock()
	s.refreshTokens[refresh] = user.ID
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  access,
		"refresh_token": refresh,
		"expires_in":    TokenLifetime,
		"token_type":    "Bearer",
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	token := r.PostForm.Get("refresh_token")
	if _, ok := s.refreshTokens[token]; !ok {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "Invalid refresh token")
		return
	}
	delete(s.refreshTokens, token)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		valid := s.adminToken != "" && r.Header.Get("Authorization") == "Bearer "+s.adminToken
		s.mu.Unlock()
		if !valid {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "HTTP 401 Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type userDoc struct {
	ID              string   `json:"id"`
	Username        string   `json:"username"`
	Email           string   `json:"email"`
	FirstName       string   `json:"firstName,omitempty"`
	LastName        string   `json:"lastName,omitempty"`
	Enabled         bool     `json:"enabled"`
	EmailVerified   bool     `json:"emailVerified"`
	RequiredActions []string `json:"requiredActions"`
}

func docOf(u *User) userDoc {
	actions := u.RequiredActions
	if actions == nil {
		actions = []string{}
	}
	return userDoc{
		ID:              u.ID,
		Username:        u.Email,
		Email:           u.Email,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		Enabled:         true,
		EmailVerified:   u.EmailVerified,
		RequiredActions: actions,
	}
}

func (s *Server) handleFindUsers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := []userDoc{}
	if u := s.findByEmail(r.URL.Query().Get("email")); u != nil {
		result = append(result, docOf(u))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[mux.Vars(r)["id"]]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	writeJSON(w, http.StatusOK, docOf(u))
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		FirstName   string `json:"firstName"`
		LastName    string `json:"lastName"`
		Credentials []struct {
			Value string `json:"value"`
		} `json:"credentials"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"errorMessage": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++

	if s.findByEmail(body.Email) != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"errorMessage": "User exists with same email"})
		return
	}
	password := ""
	if len(body.Credentials) > 0 {
		password = body.Credentials[0].Value
	}

	id := uuid.NewString()
	s.users[id] = &User{
		ID:            id,
		Email:         body.Email,
		Password:      password,
		FirstName:     body.FirstName,
		LastName:      body.LastName,
		EmailVerified: true,
	}
	w.Header().Set("Location", s.URL+"/admin/realms/"+Realm+"/users/"+id)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var patch struct {
		FirstName       *string   `json:"firstName"`
		LastName        *string   `json:"lastName"`
		Email           *string   `json:"email"`
		EmailVerified   *bool     `json:"emailVerified"`
		RequiredActions *[]string `json:"requiredActions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"errorMessage": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[mux.Vars(r)["id"]]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	if patch.FirstName != nil {
		u.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		u.LastName = *patch.LastName
	}
	if patch.Email != nil {
		u.Email = *patch.Email
	}
	if patch.EmailVerified != nil {
		u.EmailVerified = *patch.EmailVerified
	}
	if patch.RequiredActions != nil {
		u.RequiredActions = *patch.RequiredActions
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var cred struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&cred); err != nil || cred.Value == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalidPasswordMinLengthMessage"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[mux.Vars(r)["id"]]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	u.Password = cred.Value
	w.WriteHeader(http.StatusNoContent)
}

// findByEmail must be called with s.mu held
func (s *Server) findByEmail(email string) *User {
	for _, u := range s.users {
		if u.Email != "" && strings.EqualFold(u.Email, email) {
			return u
		}
	}
	return nil
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": description})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
