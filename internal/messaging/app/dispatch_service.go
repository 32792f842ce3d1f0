package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/campussite/messaging/internal/messaging/domain"
	"github.com/campussite/messaging/internal/messaging/provider"
	"github.com/campussite/messaging/internal/messaging/repository"
	"github.com/campussite/messaging/internal/messaging/resolver"
	"github.com/campussite/messaging/internal/messaging/template"
	"github.com/campussite/messaging/internal/platform/messagebroker"
)

// NATSJobPayload is the message published when a message row is queued.
type NATSJobPayload struct {
	MessageID string `json:"message_id"`
}

// senderFactory builds a provider.Sender from a config. Injectable so
// tests can substitute a stub for the real adapters.
type senderFactory func(cfg domain.ProviderConfig, logger *slog.Logger, httpClient *http.Client) (provider.Sender, error)

// DispatchServiceConfig bounds the blocking steps of a dispatch.
type DispatchServiceConfig struct {
	JobTimeout          time.Duration
	ResolveTimeout      time.Duration
	ProviderSendTimeout time.Duration
}

// DispatchService is the asynchronous delivery pipeline: it consumes
// queued-message jobs from NATS and runs each message exactly once through
// resolve -> render -> send, persisting the terminal status. Messages are
// independent units of work; no ordering exists between two dispatches.
type DispatchService struct {
	messageRepo repository.MessageRepository
	configRepo  repository.ProviderConfigRepository
	recipients  *resolver.Resolver
	newSender   senderFactory
	natsClient  *messagebroker.NatsClient
	logger      *slog.Logger
	cfg         DispatchServiceConfig
	natsSub     *nats.Subscription
	httpClient  *http.Client
}

// NewDispatchService creates a DispatchService.
func NewDispatchService(
	messageRepo repository.MessageRepository,
	configRepo repository.ProviderConfigRepository,
	recipients *resolver.Resolver,
	natsClient *messagebroker.NatsClient,
	logger *slog.Logger,
	cfg DispatchServiceConfig,
) *DispatchService {
	if cfg.JobTimeout == 0 {
		cfg.JobTimeout = 60 * time.Second
	}
	if cfg.ResolveTimeout == 0 {
		cfg.ResolveTimeout = 10 * time.Second
	}
	if cfg.ProviderSendTimeout == 0 {
		cfg.ProviderSendTimeout = 30 * time.Second
	}
	return &DispatchService{
		messageRepo: messageRepo,
		configRepo:  configRepo,
		recipients:  recipients,
		newSender:   provider.New,
		natsClient:  natsClient,
		logger:      logger.With("service", "dispatch"),
		cfg:         cfg,
	}
}

// StartConsumingJobs subscribes to the NATS subject for dispatch jobs.
func (s *DispatchService) StartConsumingJobs(ctx context.Context, subject, queueGroup string) error {
	if s.natsClient == nil {
		return errors.New("NATS client not initialized in DispatchService")
	}
	s.logger.Info("Starting NATS job consumer", "subject", subject, "queue_group", queueGroup)

	msgHandler := func(msg *nats.Msg) {
		dispatchJobsReceivedCounter.WithLabelValues(msg.Subject).Inc()
		var job NATSJobPayload
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			s.logger.Error("Failed to unmarshal NATS job payload", "error", err, "data", string(msg.Data))
			return
		}

		// Each job gets its own deadline, detached from the subscription
		// context so a shutdown does not abandon an in-flight send.
		jobCtx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
		defer cancel()

		if err := s.ProcessDispatchJob(jobCtx, job.MessageID); err != nil {
			s.logger.Error("Failed to process dispatch job", "error", err, "message_id", job.MessageID)
		}
	}

	var err error
	s.natsSub, err = s.natsClient.Subscribe(ctx, subject, queueGroup, msgHandler)
	if err != nil {
		return fmt.Errorf("failed to subscribe to NATS subject '%s': %w", subject, err)
	}
	return nil
}

// StopConsumingJobs unsubscribes from NATS.
func (s *DispatchService) StopConsumingJobs() {
	if s.natsSub != nil && s.natsSub.IsValid() {
		s.logger.Info("Unsubscribing from NATS job subject", "subject", s.natsSub.Subject)
		if err := s.natsSub.Unsubscribe(); err != nil {
			s.logger.Error("Failed to unsubscribe from NATS", "error", err, "subject", s.natsSub.Subject)
		}
	}
}

// ProcessDispatchJob runs one message through the full pipeline. Any panic
// below this frame is converted into a terminal failed status: nothing may
// leave a claimed message silently stuck in sending.
func (s *DispatchService) ProcessDispatchJob(ctx context.Context, messageID string) (err error) {
	start := time.Now()
	providerKind := "none"
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.ErrorContext(ctx, "Panic during dispatch", "message_id", messageID, "panic", rec)
			reason := fmt.Sprintf("%s: %v", domain.ReasonDispatchPanic, rec)
			if failErr := s.messageRepo.MarkFailed(ctx, messageID, reason); failErr != nil {
				s.logger.ErrorContext(ctx, "Failed to record panic failure", "error", failErr, "message_id", messageID)
			}
			dispatchProcessedCounter.WithLabelValues(string(domain.ReasonDispatchPanic)).Inc()
			err = fmt.Errorf("dispatch panicked: %v", rec)
		}
		dispatchDurationHist.WithLabelValues(providerKind).Observe(time.Since(start).Seconds())
	}()

	s.logger.InfoContext(ctx, "Processing dispatch job", "message_id", messageID)

	// Atomic queued -> sending claim. A duplicate trigger firing observes
	// a non-queued status here and aborts with no side effect.
	if err := s.messageRepo.ClaimForSending(ctx, messageID); err != nil {
		if errors.Is(err, domain.ErrNotClaimable) {
			s.logger.WarnContext(ctx, "Message already claimed or terminal, skipping", "message_id", messageID)
			dispatchProcessedCounter.WithLabelValues("duplicate").Inc()
			return nil
		}
		return fmt.Errorf("failed to claim message %s: %w", messageID, err)
	}

	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return s.failMessage(ctx, messageID, fmt.Sprintf("failed to load message: %v", err), "load_message_error")
	}

	specs, err := s.messageRepo.GetRecipientSpecs(ctx, messageID)
	if err != nil {
		return s.failMessage(ctx, messageID, fmt.Sprintf("failed to load recipients: %v", err), "load_recipients_error")
	}

	resolveCtx, cancelResolve := context.WithTimeout(ctx, s.cfg.ResolveTimeout)
	resolved, unresolved := s.recipients.Resolve(resolveCtx, specs)
	cancelResolve()

	recipientsResolvedCounter.WithLabelValues("resolved").Add(float64(len(resolved)))
	for _, u := range unresolved {
		recipientsResolvedCounter.WithLabelValues(string(u.Reason)).Inc()
		s.logger.WarnContext(ctx, "Recipient spec unresolved", "message_id", messageID, "spec_id", u.Spec.ID, "reason", u.Reason)
	}

	// Persist the per-spec outcomes before any terminal decision: the
	// unresolved reasons are part of the delivery record, not just log
	// lines. A write failure here is loud but does not abort the dispatch.
	outcomes := make([]domain.RecipientResolution, 0, len(specs))
	for _, rcpt := range resolved {
		for _, specID := range rcpt.SpecIDs {
			outcomes = append(outcomes, domain.RecipientResolution{SpecID: specID, Status: domain.ResolutionIncluded})
		}
	}
	for _, u := range unresolved {
		reason := string(u.Reason)
		outcomes = append(outcomes, domain.RecipientResolution{SpecID: u.Spec.ID, Status: domain.ResolutionFailed, Reason: &reason})
	}
	if err := s.messageRepo.RecordResolution(ctx, messageID, outcomes); err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist recipient resolution outcomes", "error", err, "message_id", messageID)
	}

	// Partial resolution is fine; an empty delivery list is not. A message
	// is never silently "sent to nobody".
	if len(resolved) == 0 {
		return s.failMessage(ctx, messageID, string(domain.ReasonNoValidRecipients), string(domain.ReasonNoValidRecipients))
	}

	// Read the active config exactly once; a config change mid-dispatch
	// must not affect this message.
	activeCfg, err := s.configRepo.GetActive(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveProviderConfig) {
			s.logger.ErrorContext(ctx, "No active provider configured; all outbound messages are blocked", "message_id", messageID)
			return s.failMessage(ctx, messageID, string(domain.ReasonNoActiveProvider), string(domain.ReasonNoActiveProvider))
		}
		return s.failMessage(ctx, messageID, fmt.Sprintf("failed to load provider config: %v", err), "config_load_error")
	}
	providerKind = string(activeCfg.Kind)

	sender, err := s.newSender(*activeCfg, s.logger, s.httpClient)
	if err != nil {
		// Unrecognized kind or malformed credentials: fatal configuration
		// error, never a silent fallback to a default backend.
		return s.failMessage(ctx, messageID, err.Error(), "provider_config_error")
	}

	envelope := provider.Envelope{
		InternalMessageID: msg.ID,
		From:              provider.Address{Email: activeCfg.FromEmail, Name: activeCfg.FromName},
		To:                resolved,
		Subject:           template.Render(msg.Subject, msg.Vars),
		HTML:              template.Render(msg.Body, msg.Vars),
	}

	s.logger.InfoContext(ctx, "Sending message via provider", "provider", sender.Name(), "recipient_count", len(resolved), "message_id", messageID)

	sendCtx, cancelSend := context.WithTimeout(ctx, s.cfg.ProviderSendTimeout)
	sendStart := time.Now()
	result, sendErr := sender.Send(sendCtx, envelope)
	cancelSend()
	providerSendDurationHist.WithLabelValues(providerKind).Observe(time.Since(sendStart).Seconds())

	if sendErr != nil {
		// The adapter already normalized the provider's error shape; the
		// string is persisted verbatim for operator diagnosis.
		return s.failMessage(ctx, messageID, sendErr.Error(), "provider_rejected")
	}

	if err := s.messageRepo.MarkSent(ctx, messageID, result.ProviderMessageID); err != nil {
		return fmt.Errorf("failed to mark message %s sent: %w", messageID, err)
	}
	s.logger.InfoContext(ctx, "Message sent", "message_id", messageID, "provider", sender.Name(), "provider_message_id", result.ProviderMessageID)
	dispatchProcessedCounter.WithLabelValues("sent").Inc()
	return nil
}

// failMessage records a terminal failure and reports the outcome metric.
// Every non-success exit of a claimed dispatch funnels through here so no
// path leaves a message in sending.
func (s *DispatchService) failMessage(ctx context.Context, messageID, reason, outcome string) error {
	if err := s.messageRepo.MarkFailed(ctx, messageID, reason); err != nil {
		s.logger.ErrorContext(ctx, "Failed to mark message failed", "error", err, "message_id", messageID, "reason", reason)
		return fmt.Errorf("failed to record failure for message %s: %w", messageID, err)
	}
	s.logger.InfoContext(ctx, "Message failed", "message_id", messageID, "reason", reason)
	dispatchProcessedCounter.WithLabelValues(outcome).Inc()
	return nil
}
