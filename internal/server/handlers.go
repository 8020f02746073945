package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"go.uber.org/zap"

	"askdesk/internal/auth"
	"askdesk/internal/rbac"
	"askdesk/internal/retrieval"
)

// maxBodyBytes bounds request bodies; queries are at most 1000
// characters, so anything near this limit is abuse.
const maxBodyBytes = 64 << 10

// statusFor maps an error to its HTTP status, wire code, and client
// message. This is the single place error kinds become status codes.
func statusFor(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, retrieval.ErrInvalidRequest):
		// Validation detail is client-facing by construction.
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "invalid username or password"
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid_token", "missing, invalid, or expired token"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline_exceeded", "request deadline exceeded"
	case errors.Is(err, context.Canceled):
		return 499, "client_closed_request", "client closed the request"
	case errors.Is(err, retrieval.ErrEmbedderUnavailable):
		return http.StatusServiceUnavailable, "embedding_unavailable", "embedding backend unavailable"
	case errors.Is(err, retrieval.ErrSearchUnavailable):
		return http.StatusBadGateway, "search_unavailable", "vector search unavailable"
	default:
		return http.StatusInternalServerError, "internal_error", "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := statusFor(err)
	if status >= 500 {
		s.log.Error("request failed",
			zap.String("req", RequestIDFrom(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeError(w, status, code, message)
}

// =============================================================================
// AUTH ENDPOINTS
// =============================================================================

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin accepts JSON or form-encoded credentials.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest

	switch {
	case r.Header.Get("Content-Type") == "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "malformed_request", "request body could not be parsed")
			return
		}
		req.Username = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
	default:
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed_request", "request body could not be parsed")
			return
		}
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "malformed_request", "request body could not be parsed")
		return
	}

	pair, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "malformed_request", "request body could not be parsed")
		return
	}

	pair, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// =============================================================================
// USER AND QUERY ENDPOINTS
// =============================================================================

type profileResponse struct {
	Username              string   `json:"username"`
	Roles                 []string `json:"role"`
	Permissions           []string `json:"permissions"`
	AccessibleDepartments []string `json:"accessible_departments"`
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "missing, invalid, or expired token")
		return
	}

	engine := rbac.NewEngine(s.rbacCfg, ident.Roles)
	perms := make([]string, 0, len(engine.EffectivePermissions()))
	for p := range engine.EffectivePermissions() {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	depts := engine.AccessibleDepartments()
	if depts == nil {
		depts = []string{}
	}
	writeJSON(w, http.StatusOK, profileResponse{
		Username:              ident.Username,
		Roles:                 ident.Roles,
		Permissions:           perms,
		AccessibleDepartments: depts,
	})
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "missing, invalid, or expired token")
		return
	}

	var req queryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request", "request body could not be parsed")
		return
	}

	res, err := s.pipeline.Query(r.Context(),
		retrieval.Identity{Username: ident.Username, Roles: ident.Roles},
		retrieval.Request{
			RawQuery:  req.Query,
			TopK:      req.TopK,
			RequestID: RequestIDFrom(r.Context()),
		})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// HEALTH
// =============================================================================

type healthResponse struct {
	Status      string         `json:"status"`
	Chunks      int            `json:"chunks"`
	Departments map[string]int `json:"departments"`
	Dimension   int            `json:"dimension"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	stats := s.store.Stats()
	status := "ok"
	code := http.StatusOK
	if stats.TotalChunks == 0 {
		// Serving with an empty index answers every query with nothing;
		// readiness probes should see that.
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{
		Status:      status,
		Chunks:      stats.TotalChunks,
		Departments: stats.PerDepartment,
		Dimension:   stats.Dimension,
	})
}
