package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pecha-tools/pecha-auth/internal/sso"
	"github.com/pecha-tools/pecha-auth/internal/token"
	"github.com/pecha-tools/pecha-auth/internal/userstore"
)

// Server is the main HTTP server for the auth service
type Server struct {
	config *Config
	auth   *sso.Service
	tokens *token.Service
	users  *userstore.Store
	router chi.Router
}

// NewServer creates a new server instance
func NewServer(cfg *Config, auth *sso.Service, tokens *token.Service, users *userstore.Store) *Server {
	s := &Server{
		config: cfg,
		auth:   auth,
		tokens: tokens,
		users:  users,
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Global middleware
	r.Use(Recovery)
	r.Use(RequestLogger)
	r.Use(SecurityHeaders)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Rate limiting for API endpoints
	rateLimiter := NewRateLimiter(100, time.Minute)
	r.Use(rateLimiter.Limit)

	// Health check and metrics
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", s.auth.RegisterRoutes)

		r.Get("/public", s.handlePublic)

		r.Group(func(r chi.Router) {
			r.Use(sso.RequireAuth(s.tokens, s.users))
			r.Get("/private", s.handlePrivate)

			r.Route("/user", func(r chi.Router) {
				r.Get("/me", s.handleCurrentUser)
				r.Get("/{id}", s.handleGetUser)
			})
		})
	})

	s.router = r
}

// Health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: "1.0.0",
	})
}

func (s *Server) handlePublic(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "This endpoint requires no authentication",
	})
}

func (s *Server) handlePrivate(w http.ResponseWriter, r *http.Request) {
	identity := sso.IdentityFrom(r.Context())
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Authenticated",
		"subject": identity.Subject,
		"email":   identity.Email,
	})
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	identity := sso.IdentityFrom(r.Context())
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	user, err := s.users.GetBySubject(r.Context(), identity.Subject)
	if errors.Is(err, userstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleGetUser returns a user record by ID. Callers may read their
// own record; anything else requires the admin flag.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	identity := sso.IdentityFrom(r.Context())
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	caller, err := s.users.GetBySubject(r.Context(), identity.Subject)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}

	id := chi.URLParam(r, "id")
	if caller.ID != id && !caller.Admin {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}

	user, err := s.users.GetByID(r.Context(), id)
	if errors.Is(err, userstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
