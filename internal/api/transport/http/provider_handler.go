package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/campussite/messaging/internal/api/middleware"
	"github.com/campussite/messaging/internal/messaging/domain"
	"github.com/campussite/messaging/internal/messaging/provider"
	"github.com/campussite/messaging/internal/messaging/repository"
)

// ProviderConfigDTO is the operator-facing view of a config. Secrets are
// write-only: they are accepted on create but never echoed back.
type ProviderConfigDTO struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	FromEmail string    `json:"from_email"`
	FromName  string    `json:"from_name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateProviderConfigRequest DTO for POST /provider-configs. The same
// shape is accepted by the test endpoint, where it is exercised without
// being persisted.
type CreateProviderConfigRequest struct {
	Kind      string  `json:"kind"`
	APIKey    *string `json:"api_key,omitempty"`
	Host      *string `json:"host,omitempty"`
	Port      *int    `json:"port,omitempty"`
	Username  *string `json:"username,omitempty"`
	Password  *string `json:"password,omitempty"`
	FromEmail string  `json:"from_email"`
	FromName  string  `json:"from_name"`
}

// TestConnectionResponse DTO.
type TestConnectionResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type ProviderConfigHandler struct {
	configRepo  repository.ProviderConfigRepository
	logger      *slog.Logger
	testTimeout time.Duration
}

func NewProviderConfigHandler(configRepo repository.ProviderConfigRepository, logger *slog.Logger) *ProviderConfigHandler {
	return &ProviderConfigHandler{
		configRepo:  configRepo,
		logger:      logger.With("handler", "provider_config"),
		testTimeout: 15 * time.Second,
	}
}

// RegisterRoutes registers provider config routes with the given router.
func (h *ProviderConfigHandler) RegisterRoutes(r chi.Router) {
	r.Post("/provider-configs", h.handleCreate)
	r.Get("/provider-configs", h.handleList)
	r.Post("/provider-configs/{configID}/activate", h.handleActivate)
	r.Post("/provider-configs/test", h.handleTestConnection)
}

func (h *ProviderConfigHandler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	operator, ok := r.Context().Value(middleware.AuthenticatedOperatorContextKey).(middleware.AuthenticatedOperator)
	if !ok || operator.ID == "" {
		h.jsonError(w, "Not authenticated", http.StatusUnauthorized)
		return false
	}
	if !operator.IsAdmin {
		h.jsonError(w, "Forbidden: provider configuration requires admin", http.StatusForbidden)
		return false
	}
	return true
}

func (h *ProviderConfigHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))
	if !h.requireAdmin(w, r) {
		return
	}

	cfg, ok := h.decodeConfig(w, r)
	if !ok {
		return
	}

	created, err := h.configRepo.Create(ctx, cfg)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to create provider config", "error", err, "kind", cfg.Kind)
		h.jsonError(w, "Failed to create provider config", http.StatusInternalServerError)
		return
	}

	logger.InfoContext(ctx, "Provider config created", "config_id", created.ID, "kind", created.Kind)
	h.writeJSON(w, http.StatusCreated, toDTO(created))
}

func (h *ProviderConfigHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireAdmin(w, r) {
		return
	}

	configs, err := h.configRepo.List(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to list provider configs", "error", err)
		h.jsonError(w, "Failed to list provider configs", http.StatusInternalServerError)
		return
	}

	dtos := make([]ProviderConfigDTO, 0, len(configs))
	for _, cfg := range configs {
		dtos = append(dtos, toDTO(cfg))
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

func (h *ProviderConfigHandler) handleActivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))
	if !h.requireAdmin(w, r) {
		return
	}

	configID := chi.URLParam(r, "configID")
	if _, err := uuid.Parse(configID); err != nil {
		h.jsonError(w, "Invalid config ID format", http.StatusBadRequest)
		return
	}

	if err := h.configRepo.SetActive(ctx, configID); err != nil {
		if errors.Is(err, domain.ErrProviderConfigNotFound) {
			h.jsonError(w, "Provider config not found", http.StatusNotFound)
			return
		}
		logger.ErrorContext(ctx, "Failed to activate provider config", "error", err, "config_id", configID)
		h.jsonError(w, "Failed to activate provider config", http.StatusInternalServerError)
		return
	}

	logger.InfoContext(ctx, "Provider config activated", "config_id", configID)
	w.WriteHeader(http.StatusNoContent)
}

// handleTestConnection runs the cheapest live check against the posted
// provider credentials without persisting anything and without sending
// mail.
func (h *ProviderConfigHandler) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))
	if !h.requireAdmin(w, r) {
		return
	}

	cfg, ok := h.decodeConfig(w, r)
	if !ok {
		return
	}
	cfg.ID = "test"

	sender, err := provider.New(*cfg, h.logger, nil)
	if err != nil {
		h.writeJSON(w, http.StatusOK, TestConnectionResponse{Success: false, Error: err.Error()})
		return
	}

	testCtx, cancel := context.WithTimeout(ctx, h.testTimeout)
	defer cancel()

	if err := sender.TestConnection(testCtx); err != nil {
		logger.InfoContext(ctx, "Provider connection test failed", "kind", cfg.Kind, "error", err)
		h.writeJSON(w, http.StatusOK, TestConnectionResponse{Success: false, Error: err.Error()})
		return
	}

	logger.InfoContext(ctx, "Provider connection test passed", "kind", cfg.Kind)
	h.writeJSON(w, http.StatusOK, TestConnectionResponse{Success: true})
}

func (h *ProviderConfigHandler) decodeConfig(w http.ResponseWriter, r *http.Request) (*domain.ProviderConfig, bool) {
	var req CreateProviderConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "Invalid request payload: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}

	kind := domain.ProviderKind(req.Kind)
	switch kind {
	case domain.ProviderKindSMTP, domain.ProviderKindBrevo, domain.ProviderKindSendGrid, domain.ProviderKindResend, domain.ProviderKindSES:
	default:
		h.jsonError(w, "unknown provider kind: "+req.Kind, http.StatusBadRequest)
		return nil, false
	}
	if req.FromEmail == "" {
		h.jsonError(w, "from_email is required", http.StatusBadRequest)
		return nil, false
	}

	return &domain.ProviderConfig{
		Kind:      kind,
		APIKey:    req.APIKey,
		Host:      req.Host,
		Port:      req.Port,
		Username:  req.Username,
		Password:  req.Password,
		FromEmail: req.FromEmail,
		FromName:  req.FromName,
	}, true
}

func toDTO(cfg *domain.ProviderConfig) ProviderConfigDTO {
	return ProviderConfigDTO{
		ID:        cfg.ID,
		Kind:      string(cfg.Kind),
		FromEmail: cfg.FromEmail,
		FromName:  cfg.FromName,
		IsActive:  cfg.IsActive,
		CreatedAt: cfg.CreatedAt,
	}
}

func (h *ProviderConfigHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *ProviderConfigHandler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
