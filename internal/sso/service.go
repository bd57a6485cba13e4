// Package sso drives the browser single sign-on flow end to end:
// login initiation, assertion callback, session token exchange, and
// logout, plus the machine-to-machine credential grant forwarding.
package sso

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pecha-tools/pecha-auth/internal/relaystate"
	"github.com/pecha-tools/pecha-auth/internal/saml"
	"github.com/pecha-tools/pecha-auth/internal/token"
	"github.com/pecha-tools/pecha-auth/internal/userstore"
)

var loginOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pecha_auth_login_outcomes_total",
	Help: "Completed login callbacks by outcome",
}, []string{"outcome"})

// Service orchestrates the sign-on flow. The user store is optional;
// when present, each successful callback provisions or refreshes a
// local user record.
type Service struct {
	parser   *saml.Parser
	tokens   *token.Service
	provider *Provider
	users    *userstore.Store

	// defaultDestination is where the browser lands after login when
	// the relay state carries no usable destination.
	defaultDestination string
}

// NewService creates the orchestrator.
func NewService(parser *saml.Parser, tokens *token.Service, provider *Provider, users *userstore.Store, defaultDestination string) *Service {
	return &Service{
		parser:             parser,
		tokens:             tokens,
		provider:           provider,
		users:              users,
		defaultDestination: defaultDestination,
	}
}

// RegisterRoutes mounts the auth endpoints on the router.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Get("/login", s.handleLogin)
	r.Get("/callback", s.handleCallback)
	r.Post("/callback", s.handleCallback)
	r.Post("/token", s.handleToken)
	r.Get("/logout", s.handleLogout)
	r.Post("/verify", s.handleVerify)
	r.Post("/client-token", s.handleClientToken)
}

// handleLogin starts the flow: encode the caller's destination into
// relay state and send the browser to the identity provider. AJAX
// callers get the URL as JSON instead of a redirect.
func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	destination := r.URL.Query().Get("redirect_url")
	if !destinationAllowed(destination) {
		destination = ""
	}

	state := relaystate.Encode(destination)

	authURL, err := url.Parse(s.provider.SignOnURL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Sign-on URL misconfigured")
		return
	}
	q := authURL.Query()
	q.Set("RelayState", state)
	authURL.RawQuery = q.Encode()

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]string{"auth_url": authURL.String()})
		return
	}
	http.Redirect(w, r, authURL.String(), http.StatusFound)
}

// handleCallback receives the provider's response. A missing assertion
// is a 400; every other failure redirects back to the caller's
// destination with an error parameter so the browser is never stranded
// on a raw server error.
func (s *Service) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid form body")
			return
		}
	}

	rawResponse := formOrQuery(r, "SAMLResponse")
	state := formOrQuery(r, "RelayState")

	if rawResponse == "" {
		writeError(w, http.StatusBadRequest, "Missing SAMLResponse")
		return
	}

	destination := relaystate.Decode(state)
	if destination == "" || !destinationAllowed(destination) {
		destination = s.defaultDestination
	}

	identity, err := s.parser.Parse(rawResponse)
	if err != nil {
		log.Printf("saml callback rejected: %v", err)
		loginOutcomes.WithLabelValues(callbackErrorCode(err)).Inc()
		s.redirectWithParams(w, r, destination, url.Values{"error": {callbackErrorCode(err)}})
		return
	}

	if s.users != nil {
		user, err := s.users.Provision(r.Context(), identity.SubjectID, identity.Email)
		if err != nil {
			log.Printf("user provisioning failed for %s: %v", identity.SubjectID, err)
		} else if !user.Active {
			log.Printf("login rejected for deactivated user %s", identity.SubjectID)
			loginOutcomes.WithLabelValues("account_disabled").Inc()
			s.redirectWithParams(w, r, destination, url.Values{"error": {"account_disabled"}})
			return
		}
	}

	signed, expiresAt, err := s.tokens.Issue(identity.SubjectID, identity.Email)
	if err != nil {
		log.Printf("token issue failed for %s: %v", identity.SubjectID, err)
		loginOutcomes.WithLabelValues("issue_failed").Inc()
		s.redirectWithParams(w, r, destination, url.Values{"error": {"authentication_failed"}})
		return
	}
	loginOutcomes.WithLabelValues("success").Inc()

	params := url.Values{
		"token":      {signed},
		"expires_at": {strconv.FormatInt(expiresAt.Unix(), 10)},
	}
	if identity.Email != "" {
		params.Set("email", identity.Email)
	}
	s.redirectWithParams(w, r, destination, params)
}

type tokenRequest struct {
	Token string `json:"token"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   int64  `json:"expires_at"`
	Email       string `json:"email,omitempty"`
}

// handleToken validates a presented session token. Failures are a
// generic 401; the specific check that failed is logged, never
// returned.
func (s *Service) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "Missing token")
		return
	}

	claims, err := s.tokens.Verify(r.Context(), req.Token)
	if err != nil {
		log.Printf("token validation failed: %v", err)
		writeError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}

	// The subject must still resolve to a live account; a signed token
	// for an unknown or deactivated user is as invalid as a forged one.
	if s.users != nil {
		user, err := s.users.GetBySubject(r.Context(), claims.Subject)
		switch {
		case errors.Is(err, userstore.ErrNotFound):
			log.Printf("token validation failed: unknown subject %s", claims.Subject)
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, "Failed to validate token")
			return
		case !user.Active:
			log.Printf("token validation failed: deactivated subject %s", claims.Subject)
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: req.Token,
		TokenType:   "bearer",
		ExpiresAt:   claims.ExpiresAt.Unix(),
		Email:       claims.Email,
	})
}

// handleLogout revokes the presented token, if any, and points the
// browser at the provider's sign-out endpoint. A caller-supplied
// destination is forwarded verbatim; logout is not round-tripped
// through relay state.
func (s *Service) handleLogout(w http.ResponseWriter, r *http.Request) {
	if presented := bearerToken(r); presented != "" {
		if err := s.tokens.Revoke(r.Context(), presented); err != nil {
			log.Printf("token revocation failed: %v", err)
			writeError(w, http.StatusInternalServerError, "Logout failed")
			return
		}
	}

	logoutURL := s.provider.SignOutURL
	destination := r.URL.Query().Get("redirect_url")
	if destination != "" && destinationAllowed(destination) {
		if u, err := url.Parse(logoutURL); err == nil {
			q := u.Query()
			q.Set("redirect_uri", destination)
			u.RawQuery = q.Encode()
			logoutURL = u.String()
		}
		http.Redirect(w, r, logoutURL, http.StatusFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":    "Logged out",
		"logout_url": logoutURL,
	})
}

type verifyRequest struct {
	Token    string `json:"token"`
	UserInfo struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
	} `json:"user_info"`
}

// handleVerify issues a session token from caller-supplied identity
// claims. There is no provider-side re-validation on this path; it
// exists for deployments where a trusted frontend has already verified
// the upstream token. Keep it behind network-level trust.
func (s *Service) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Token == "" || req.UserInfo.Sub == "" {
		writeError(w, http.StatusBadRequest, "Missing token or user info")
		return
	}

	if s.users != nil {
		if _, err := s.users.Provision(r.Context(), req.UserInfo.Sub, req.UserInfo.Email); err != nil {
			log.Printf("user provisioning failed for %s: %v", req.UserInfo.Sub, err)
		}
	}

	signed, expiresAt, err := s.tokens.Issue(req.UserInfo.Sub, req.UserInfo.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: signed,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt.Unix(),
		Email:       req.UserInfo.Email,
	})
}

type clientTokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Audience     string `json:"audience"`
}

// handleClientToken forwards a client-credentials grant to the
// provider. Upstream failures pass through with their original status
// and body so operators can see what the provider said.
func (s *Service) handleClientToken(w http.ResponseWriter, r *http.Request) {
	var req clientTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ClientID == "" || req.ClientSecret == "" {
		writeError(w, http.StatusBadRequest, "Missing client credentials")
		return
	}

	body, err := s.provider.ClientCredentialsToken(r.Context(), req.ClientID, req.ClientSecret, req.Audience)
	if err != nil {
		var upstream *UpstreamError
		switch {
		case errors.As(err, &upstream):
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(upstream.StatusCode)
			w.Write(upstream.Body)
		case errors.Is(err, ErrTimeout):
			writeError(w, http.StatusGatewayTimeout, "Identity provider timed out")
		default:
			log.Printf("client token request failed: %v", err)
			writeError(w, http.StatusBadGateway, "Identity provider unreachable")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// redirectWithParams sends the browser to destination with the given
// query parameters merged into any the destination already carries.
func (s *Service) redirectWithParams(w http.ResponseWriter, r *http.Request, destination string, params url.Values) {
	u, err := url.Parse(destination)
	if err != nil {
		u, _ = url.Parse(s.defaultDestination)
	}
	q := u.Query()
	for key, values := range params {
		for _, v := range values {
			q.Set(key, v)
		}
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

func callbackErrorCode(err error) string {
	switch {
	case errors.Is(err, saml.ErrMissingIdentity):
		return "missing_identity"
	case errors.Is(err, saml.ErrSignatureInvalid):
		return "invalid_signature"
	default:
		return "malformed_assertion"
	}
}

// wantsJSON reports whether the caller is programmatic rather than a
// navigating browser.
func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	return r.Header.Get("X-Requested-With") == "XMLHttpRequest"
}

// bearerToken extracts the token from an Authorization header, or ""
// if none is presented.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// destinationAllowed rejects redirect targets that could turn the
// callback into an open redirect to a non-web scheme. Relative paths
// and absolute http(s) URLs are allowed.
func destinationAllowed(destination string) bool {
	if destination == "" {
		return false
	}
	u, err := url.Parse(destination)
	if err != nil {
		return false
	}
	if u.Scheme == "" {
		return !strings.HasPrefix(destination, "//")
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func formOrQuery(r *http.Request, key string) string {
	if r.Method == http.MethodPost {
		if v := r.PostFormValue(key); v != "" {
			return v
		}
	}
	return r.URL.Query().Get(key)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
