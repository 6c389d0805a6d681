// Package chi exposes browser sessions over HTTP.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/kgbrowse/internal/domain"
	"github.com/kailas-cloud/kgbrowse/internal/repository/prefs"
	logpkg "github.com/kailas-cloud/kgbrowse/internal/logger"
	healthuc "github.com/kailas-cloud/kgbrowse/internal/usecase/health"
	"github.com/kailas-cloud/kgbrowse/internal/usecase/session"
)

// maxBodySize bounds request bodies; every payload is a handful of fields.
const maxBodySize = 64 << 10

// ErrorCode is the machine-readable error code of an API error.
type ErrorCode string

// API error codes.
const (
	CodeBadRequest          ErrorCode = "bad_request"
	CodeSessionNotFound     ErrorCode = "session_not_found"
	CodeNotFound            ErrorCode = "not_found"
	CodeUnauthorized        ErrorCode = "unauthorized"
	CodeIllegalTransition   ErrorCode = "illegal_transition"
	CodeLoginNotConfigured  ErrorCode = "login_not_configured"
	CodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	CodeInternalError       ErrorCode = "internal_error"
)

// ErrorResponse is the body of every error.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Sessions is the session registry used by the API.
type Sessions interface {
	Create(browserID string) (*session.Session, error)
	Get(id string) (*session.Session, error)
	ByLoginState(state string) (*session.Session, error)
	Remove(id string)
}

// Preferences stores per-browser preferences.
type Preferences interface {
	Load(ctx context.Context, browserID string) (prefs.Preferences, error)
	Update(ctx context.Context, browserID string, fn func(p *prefs.Preferences)) (prefs.Preferences, error)
}

// Server serves the browser session API.
type Server struct {
	sessions      Sessions
	prefs         Preferences
	health        *healthuc.Service
	appURL        string
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. appURL is where the login callback sends
// the browser back to.
func NewServer(sessions Sessions, health *healthuc.Service, appURL string, logger *zap.Logger) *Server {
	s := &Server{
		sessions: sessions,
		health:   health,
		appURL:   strings.TrimRight(appURL, "/"),
		logger:   logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrSessionNotFound, http.StatusNotFound, CodeSessionNotFound),
		sentinelHandler(domain.ErrInvalidArgument, http.StatusBadRequest, CodeBadRequest),
		sentinelHandler(domain.ErrIllegalTransition, http.StatusConflict, CodeIllegalTransition),
		sentinelHandler(domain.ErrLoginNotConfigured, http.StatusNotImplemented, CodeLoginNotConfigured),
		sentinelHandler(domain.ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized),
		sentinelHandler(domain.ErrTokenExpired, http.StatusUnauthorized, CodeUnauthorized),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, CodeNotFound),
		sentinelHandler(domain.ErrUnavailable, http.StatusBadGateway, CodeUpstreamUnavailable),
		sentinelHandler(domain.ErrMalformed, http.StatusBadGateway, CodeUpstreamUnavailable),
	}
	return s
}

// WithPreferences enables the preferences endpoints.
func (s *Server) WithPreferences(p Preferences) *Server {
	s.prefs = p
	return s
}

// Routes mounts the API on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	r.Get("/auth/callback", s.LoginCallback)

	if s.prefs != nil {
		r.Get("/api/preferences", s.GetPreferences)
		r.Patch("/api/preferences", s.UpdatePreferences)
	}

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.CreateSession)
		r.Route("/{session}", func(r chi.Router) {
			r.Delete("/", s.DeleteSession)
			r.Get("/view", s.GetView)
			r.Post("/start", s.Start)
			r.Post("/popstate", s.PopState)

			r.Put("/query", s.SetQueryString)
			r.Put("/type", s.SelectType)
			r.Post("/facets/{facet}", s.ToggleFacet)
			r.Put("/facets/{facet}/size", s.SetFacetSize)
			r.Delete("/facets", s.ResetFacets)
			r.Put("/page", s.SetPage)
			r.Post("/retry", s.Retry)
			r.Put("/group", s.SelectGroup)

			r.Put("/instance", s.OpenInstance)
			r.Delete("/instance", s.CloseInstance)
			r.Put("/instance/tab", s.SelectTab)

			r.Post("/login", s.Login)
			r.Post("/logout", s.Logout)
			r.Post("/anonymous", s.ContinueAnonymously)
		})
	})
}

// CreateSession handles POST /api/sessions: it creates a session and starts it
// from the tab's location.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	var loc session.Location
	if !s.decode(w, r, &loc) {
		return
	}
	sess, err := s.sessions.Create(BrowserIDFromContext(r.Context()))
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}
	v, err := sess.Start(r.Context(), loc)
	if err != nil {
		s.sessions.Remove(sess.ID())
		s.handleDomainError(r.Context(), w, err)
		return
	}
	w.Header().Set("Location", "/api/sessions/"+sess.ID())
	writeJSON(w, http.StatusCreated, v)
}

// DeleteSession handles DELETE /api/sessions/{session}.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.sessions.Remove(sess.ID())
	w.WriteHeader(http.StatusNoContent)
}

// GetView handles GET /api/sessions/{session}/view.
func (s *Server) GetView(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// Start handles POST /api/sessions/{session}/start, sent again after a reload.
func (s *Server) Start(w http.ResponseWriter, r *http.Request) {
	var loc session.Location
	s.act(w, r, &loc, func(ctx context.Context, sess *session.Session) (session.View, error) {
		return sess.Start(ctx, loc)
	})
}

// PopState handles POST /api/sessions/{session}/popstate.
func (s *Server) PopState(w http.ResponseWriter, r *http.Request) {
	var loc session.Location
	s.act(w, r, &loc, func(ctx context.Context, sess *session.Session) (session.View, error) {
		return sess.PopState(ctx, loc)
	})
}

type queryRequest struct {
	Q string `json:"q"`
}

// SetQueryString handles PUT /api/sessions/{session}/query.
func (s *Server) SetQueryString(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	s.act(w, r, &req, func(ctx context.Context, sess *session.Session) (session.View, error) {
		return sess.SetQueryString(ctx, req.Q)
	})
}

type typeRequest struct {
	Type string `json:"type"`
}

// SelectType handles PUT /api/sessions/{session}/type.
func (s *Server) SelectType(w http.ResponseWriter, r *http.Request) {
	var req typeRequest
	s.act(w, r, &req, func(ctx context.Context, sess *session.Session) (session.View, error) {
		return sess.SelectType(ctx, req.Type)
	})
}

type facetRequest struct {
	Active   bool     `json:"active"`
	Keywords []string `json:"keywords"`
}

// ToggleFacet handles POST /api/sessions/{session}/facets/{facet}.
func (s *Server) ToggleFacet(w http.ResponseWriter, r *http.Request) {
	var req facetRequest
	name := chi.URLParam(r, "facet")
	s.act(w, r, &req, func(ctx context.Context, sess *session.Session) (session.View, error) {
		return sess.ToggleFacet(ctx, name, req.Active, req.Keywords...)
	})
}

type sizeRequest struct {
	Size int `json:"size"`
}

// SetFacetSize handles PUT /api/sessions/{session}/facets/{facet}/size.
func (s *Server) SetFacetSize(w http.ResponseWriter, r *http.Request) {
	var req sizeRequest
	name := chi.URLParam(r, "facet")
	s.act(w, r, &req, func(ctx context.Context, sess *session.Session) (session.View, error) {
		return sess.SetFacetSize(ctx, name, req.Size)
	})
}

// ResetFacets handles DELETE /api/sessions/{session}/facets.
func (s *Server) ResetFacets(w http.ResponseWriter, r *http.Request) {
	s.act(w, r, nil, func(ctx context.Context, sess *session.Session) (session.View, error) {
		return sess.ResetFacets(ctx)
	})
}

type pageRequest struct {
	Page int `json:"page"`
}

// SetPage handles PUT /api/sessions/{session}/page.
func (s *Server) SetPage(w http.ResponseWriter, r *http.Request) {
	var req pageRequest
	s.act(w, r, &req, func(ctx context.Context, sess *session.Session) (session.View, error) {
		return sess.SetPage(ctx, req.Page)
	})
}

// Retry handles POST /api/sessions/{session}/retry.
func (s *Server) Retry(w http.ResponseWriter, r *http.Request) {
	s.act(w, r, nil, func(ctx context.Context, sess *session.Session) (session.View, error) {
		return sess.Retry(ctx)
	})
}

type groupRequest struct {
	Group string `json:"group"`
}

// SelectGroup handles PUT /api/sessions/{session}/group.
func (s *Server) SelectGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	s.act(w, r, &req, func(ctx context.Context, sess *session.Session) (session.View, error) {
		return sess.SelectGroup(ctx, req.Group)
	})
}

type instanceRequest struct {
	ID string `json:"id"`
}

// OpenInstance handles PUT /api/sessions/{session}/instance.
func (s *Server) OpenInstance(w http.ResponseWriter, r *http.Request) {
	var req instanceRequest
	s.act(w, r, &req, func(ctx context.Context, sess *session.Session) (session.View, error) {
		return sess.OpenInstance(ctx, req.ID)
	})
}

// CloseInstance handles DELETE /api/sessions/{session}/instance.
func (s *Server) CloseInstance(w http.ResponseWriter, r *http.Request) {
	s.act(w, r, nil, func(ctx context.Context, sess *session.Session) (session.View, error) {
		return sess.CloseInstance(ctx)
	})
}

type tabRequest struct {
	Tab string `json:"tab"`
}

// SelectTab handles PUT /api/sessions/{session}/instance/tab.
func (s *Server) SelectTab(w http.ResponseWriter, r *http.Request) {
	var req tabRequest
	s.act(w, r, &req, func(ctx context.Context, sess *session.Session) (session.View, error) {
		return sess.SelectTab(ctx, req.Tab)
	})
}

// LoginResponse tells the tab where to send the browser.
type LoginResponse struct {
	RedirectURL string `json:"redirectUrl"`
}

// Login handles POST /api/sessions/{session}/login.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	u, err := sess.Login(r.Context())
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{RedirectURL: u})
}

// LoginCallback handles GET /auth/callback, the provider redirect after a login.
// The browser is sent back to the location its tab last had.
func (s *Server) LoginCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sess, err := s.sessions.ByLoginState(q.Get("state"))
	if err == nil {
		err = ownedBy(sess, r)
	}
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}
	if _, err := sess.CompleteLogin(r.Context(), q.Get("state"), q.Get("code")); err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}
	loc := sess.Location()
	http.Redirect(w, r, s.appURL+"/"+loc.Search+loc.Hash, http.StatusFound)
}

// Logout handles POST /api/sessions/{session}/logout.
func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	s.act(w, r, nil, func(ctx context.Context, sess *session.Session) (session.View, error) {
		return sess.Logout(ctx)
	})
}

// ContinueAnonymously handles POST /api/sessions/{session}/anonymous.
func (s *Server) ContinueAnonymously(w http.ResponseWriter, r *http.Request) {
	s.act(w, r, nil, func(ctx context.Context, sess *session.Session) (session.View, error) {
		return sess.ContinueAnonymously(ctx)
	})
}

// GetPreferences handles GET /api/preferences.
func (s *Server) GetPreferences(w http.ResponseWriter, r *http.Request) {
	p, err := s.prefs.Load(r.Context(), BrowserIDFromContext(r.Context()))
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type preferencesPatch struct {
	Theme   *string `json:"theme"`
	Consent *bool   `json:"consent"`
}

// UpdatePreferences handles PATCH /api/preferences. The group is owned by the
// sessions and cannot be set here.
func (s *Server) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var patch preferencesPatch
	if !s.decode(w, r, &patch) {
		return
	}
	browserID := BrowserIDFromContext(r.Context())
	if browserID == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "browser id cookie is required")
		return
	}
	p, err := s.prefs.Update(r.Context(), browserID, func(p *prefs.Preferences) {
		if patch.Theme != nil {
			p.Theme = *patch.Theme
		}
		if patch.Consent != nil {
			p.Consent = patch.Consent
		}
	})
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, report)
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "session"))
	if err == nil {
		err = ownedBy(sess, r)
	}
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return nil, false
	}
	return sess, true
}

// ownedBy hides sessions of other browsers: a session id alone does not grant access
// to the identity it holds.
func ownedBy(sess *session.Session, r *http.Request) error {
	if sess.BrowserID() != BrowserIDFromContext(r.Context()) {
		return fmt.Errorf("session %q: %w", sess.ID(), domain.ErrSessionNotFound)
	}
	return nil
}

// act decodes the body into req (when non-nil) and runs fn on the addressed session.
func (s *Server) act(
	w http.ResponseWriter,
	r *http.Request,
	req any,
	fn func(ctx context.Context, sess *session.Session) (session.View, error),
) {
	if req != nil && !s.decode(w, r, req) {
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	v, err := fn(r.Context(), sess)
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// decode reads a JSON body. An empty body leaves dst untouched.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrSessionNotFound,
		domain.ErrInvalidArgument,
		domain.ErrIllegalTransition,
		domain.ErrLoginNotConfigured,
		domain.ErrUnauthorized,
		domain.ErrTokenExpired,
		domain.ErrNotFound,
		domain.ErrUnavailable,
		domain.ErrMalformed,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := logpkg.FromContext(ctx)
	logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
