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
	"github.com/campussite/messaging/internal/messaging/repository"
)

// DispatchJobSubject is the NATS subject a queued message is announced on.
const DispatchJobSubject = "messages.dispatch"

// JobPublisher is the slice of the message broker client the handler
// needs. *messagebroker.NatsClient satisfies it.
type JobPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// RecipientSpecDTO mirrors domain.RecipientSpec on the wire.
type RecipientSpecDTO struct {
	Kind        string  `json:"kind"`
	Email       *string `json:"email,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	SchoolRef   *string `json:"school_ref,omitempty"`
}

// QueueMessageRequest DTO for POST /messages.
type QueueMessageRequest struct {
	Subject    string             `json:"subject"`
	Body       string             `json:"body"`
	Vars       map[string]string  `json:"vars,omitempty"`
	Recipients []RecipientSpecDTO `json:"recipients"`
}

// QueueMessageResponse DTO.
type QueueMessageResponse struct {
	MessageID string               `json:"message_id"`
	Status    domain.MessageStatus `json:"status"`
}

// RecipientStatusDTO is the per-recipient half of the delivery record:
// the original spec plus its resolution outcome.
type RecipientStatusDTO struct {
	Kind             string  `json:"kind"`
	Email            *string `json:"email,omitempty"`
	DisplayName      *string `json:"display_name,omitempty"`
	SchoolRef        *string `json:"school_ref,omitempty"`
	ResolutionStatus string  `json:"resolution_status"`
	FailureReason    *string `json:"failure_reason,omitempty"`
}

// MessageStatusResponse DTO for GET /messages/{messageID}.
type MessageStatusResponse struct {
	ID                string               `json:"id"`
	SenderRef         string               `json:"sender_ref"`
	Subject           string               `json:"subject"`
	Status            domain.MessageStatus `json:"status"`
	ProviderMessageID *string              `json:"provider_message_id,omitempty"`
	ErrorReason       *string              `json:"error_reason,omitempty"`
	Recipients        []RecipientStatusDTO `json:"recipients"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
	SentAt            *time.Time           `json:"sent_at,omitempty"`
}

type MessageHandler struct {
	natsClient  JobPublisher
	messageRepo repository.MessageRepository
	logger      *slog.Logger
}

func NewMessageHandler(
	natsClient JobPublisher,
	messageRepo repository.MessageRepository,
	logger *slog.Logger,
) *MessageHandler {
	return &MessageHandler{
		natsClient:  natsClient,
		messageRepo: messageRepo,
		logger:      logger.With("handler", "message"),
	}
}

// RegisterRoutes registers message routes with the given router.
func (h *MessageHandler) RegisterRoutes(r chi.Router) {
	r.Post("/messages", h.handleQueueMessage)
	r.Get("/messages/{messageID}", h.handleGetMessageStatus)
}

// handleQueueMessage inserts the queued message with its recipient specs
// and publishes the dispatch job. The caller never waits on delivery; 202
// means "durably queued", nothing more.
func (h *MessageHandler) handleQueueMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	operator, ok := ctx.Value(middleware.AuthenticatedOperatorContextKey).(middleware.AuthenticatedOperator)
	if !ok || operator.ID == "" {
		logger.WarnContext(ctx, "Operator not authenticated for queue message")
		h.jsonError(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	var req QueueMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.ErrorContext(ctx, "Failed to decode queue message request", "error", err)
		h.jsonError(w, "Invalid request payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Subject == "" || req.Body == "" {
		h.jsonError(w, "subject and body are required", http.StatusBadRequest)
		return
	}
	if len(req.Recipients) == 0 {
		h.jsonError(w, "at least one recipient is required", http.StatusBadRequest)
		return
	}

	specs := make([]domain.RecipientSpec, 0, len(req.Recipients))
	for _, dto := range req.Recipients {
		kind := domain.RecipientKind(dto.Kind)
		if kind != domain.RecipientKindExternal && kind != domain.RecipientKindSchoolAdmin {
			h.jsonError(w, "unknown recipient kind: "+dto.Kind, http.StatusBadRequest)
			return
		}
		specs = append(specs, domain.RecipientSpec{
			Kind:        kind,
			Email:       dto.Email,
			DisplayName: dto.DisplayName,
			SchoolRef:   dto.SchoolRef,
		})
	}

	msg := &domain.Message{
		ID:        uuid.NewString(),
		SenderRef: operator.ID,
		Subject:   req.Subject,
		Body:      req.Body,
		Vars:      req.Vars,
		Status:    domain.MessageStatusQueued,
	}

	if _, err := h.messageRepo.Create(ctx, msg, specs); err != nil {
		logger.ErrorContext(ctx, "Failed to create message record", "error", err, "message_id", msg.ID)
		h.jsonError(w, "Failed to queue message", http.StatusInternalServerError)
		return
	}

	payloadBytes, err := json.Marshal(map[string]string{"message_id": msg.ID})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to marshal NATS payload", "error", err, "message_id", msg.ID)
		h.jsonError(w, "Failed to enqueue dispatch job", http.StatusInternalServerError)
		return
	}
	if err := h.natsClient.Publish(ctx, DispatchJobSubject, payloadBytes); err != nil {
		// The row stays queued; the operator can re-publish by re-queueing,
		// and the failure is loud rather than a message silently parked.
		logger.ErrorContext(ctx, "Failed to publish dispatch job", "error", err, "message_id", msg.ID)
		h.jsonError(w, "Failed to enqueue dispatch job", http.StatusInternalServerError)
		return
	}

	logger.InfoContext(ctx, "Message queued for dispatch", "message_id", msg.ID, "recipient_count", len(specs))
	h.writeJSON(w, http.StatusAccepted, QueueMessageResponse{MessageID: msg.ID, Status: msg.Status})
}

// handleGetMessageStatus returns the durable delivery state of a message.
func (h *MessageHandler) handleGetMessageStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	operator, ok := ctx.Value(middleware.AuthenticatedOperatorContextKey).(middleware.AuthenticatedOperator)
	if !ok || operator.ID == "" {
		h.jsonError(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	messageID := chi.URLParam(r, "messageID")
	if _, err := uuid.Parse(messageID); err != nil {
		h.jsonError(w, "Invalid message ID format", http.StatusBadRequest)
		return
	}

	msg, err := h.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			h.jsonError(w, "Message not found", http.StatusNotFound)
			return
		}
		logger.ErrorContext(ctx, "Failed to load message", "error", err, "message_id", messageID)
		h.jsonError(w, "Failed to retrieve message status", http.StatusInternalServerError)
		return
	}

	if msg.SenderRef != operator.ID && !operator.IsAdmin {
		h.jsonError(w, "Forbidden", http.StatusForbidden)
		return
	}

	specs, err := h.messageRepo.GetRecipientSpecs(ctx, messageID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to load recipient records", "error", err, "message_id", messageID)
		h.jsonError(w, "Failed to retrieve message status", http.StatusInternalServerError)
		return
	}
	recipients := make([]RecipientStatusDTO, 0, len(specs))
	for _, spec := range specs {
		recipients = append(recipients, RecipientStatusDTO{
			Kind:             string(spec.Kind),
			Email:            spec.Email,
			DisplayName:      spec.DisplayName,
			SchoolRef:        spec.SchoolRef,
			ResolutionStatus: string(spec.ResolutionStatus),
			FailureReason:    spec.FailureReason,
		})
	}

	h.writeJSON(w, http.StatusOK, MessageStatusResponse{
		ID:                msg.ID,
		SenderRef:         msg.SenderRef,
		Subject:           msg.Subject,
		Status:            msg.Status,
		ProviderMessageID: msg.ProviderMessageID,
		ErrorReason:       msg.ErrorReason,
		Recipients:        recipients,
		CreatedAt:         msg.CreatedAt,
		UpdatedAt:         msg.UpdatedAt,
		SentAt:            msg.SentAt,
	})
}

func (h *MessageHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *MessageHandler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
