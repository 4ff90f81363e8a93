package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kakuri/internal/models"
	"github.com/hyperjump/kakuri/internal/storage"
)

const defaultAuditWindow = 24 * time.Hour

type queryRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	role := strings.TrimSpace(r.Header.Get(RoleHeader))
	if role == "" {
		s.respondError(w, http.StatusUnauthorized, "missing "+RoleHeader+" header")
		return
	}
	var body queryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req := models.QueryRequest{Query: body.Query, Role: role}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("query request", zap.String("role", req.Role), zap.Int("query_len", len(req.Query)))

	resp, err := s.querier.Run(r.Context(), req.Query, req.Role)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.logger.Debug("query abandoned", zap.Error(err))
			s.respondError(w, http.StatusServiceUnavailable, "request canceled")
			return
		}
		s.logger.Error("query failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type policyResponse struct {
	Version             string              `json:"version"`
	UnlabeledDepartment string              `json:"unlabeled_department"`
	DefaultDepartments  []string            `json:"default_departments"`
	Roles               map[string][]string `json:"roles"`
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	engine := s.policies.Current()
	out := policyResponse{
		Version:             engine.Version(),
		UnlabeledDepartment: engine.UnlabeledDepartment(),
		DefaultDepartments:  engine.Defaults().Departments(),
		Roles:               make(map[string][]string),
	}
	for _, role := range engine.Roles() {
		access, _ := engine.Resolve(role)
		if access.All {
			out.Roles[role] = []string{"all"}
			continue
		}
		out.Roles[role] = access.Departments()
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handlePolicyReload(w http.ResponseWriter, r *http.Request) {
	if s.policies.Path() == "" {
		s.respondError(w, http.StatusNotImplemented, "policy is not file backed")
		return
	}
	if err := s.policies.Reload(); err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "reloaded", "version": s.policies.Current().Version()})
}

func (s *Server) handleAuditSummary(w http.ResponseWriter, r *http.Request) {
	window := defaultAuditWindow
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			s.respondError(w, http.StatusBadRequest, "since must be a positive duration such as 24h")
			return
		}
		window = d
	}
	summary, err := s.storage.AuditSummary(r.Context(), time.Now().Add(-window))
	if err != nil {
		s.logger.Error("audit summary failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	chunkCount, err := s.storage.CountChunks(r.Context())
	if err != nil {
		s.logger.Error("status: count chunks failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"chunks":         chunkCount,
		"policy_version": s.policies.Current().Version(),
	}
	if s.config != nil {
		resp["config"] = map[string]interface{}{
			"index_backend":   s.config.Index.Backend,
			"vector_type":     s.config.Index.VectorType,
			"score_direction": s.config.Selection.ScoreDirection,
			"top_k":           s.config.Selection.TopK,
			"audit_backend":   s.config.Audit.Backend,
		}
		diskBytes, err := storage.DiskUsageBytes(
			s.config.Storage.DatabasePath,
			s.config.Storage.KeywordIndexPath,
			s.config.Storage.VectorIndexPath,
		)
		if err == nil {
			resp["disk_usage_bytes"] = diskBytes
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
