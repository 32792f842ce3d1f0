package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const brevoDefaultBaseURL = "https://api.brevo.com/v3"

// BrevoSender sends mail through the Brevo (formerly Sendinblue)
// transactional email API.
type BrevoSender struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func NewBrevoSender(logger *slog.Logger, apiKey string, httpClient *http.Client) *BrevoSender {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &BrevoSender{
		logger:     logger.With("provider", "brevo"),
		httpClient: httpClient,
		baseURL:    brevoDefaultBaseURL,
		apiKey:     apiKey,
	}
}

func (b *BrevoSender) Name() string { return "brevo" }

type brevoAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoSendRequest struct {
	Sender      brevoAddress   `json:"sender"`
	To          []brevoAddress `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
}

type brevoSendResponse struct {
	MessageID string `json:"messageId"`
}

type brevoErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (b *BrevoSender) Send(ctx context.Context, envelope Envelope) (*SendResult, error) {
	reqBody := brevoSendRequest{
		Sender:      brevoAddress{Email: envelope.From.Email, Name: envelope.From.Name},
		To:          make([]brevoAddress, 0, len(envelope.To)),
		Subject:     envelope.Subject,
		HTMLContent: envelope.HTML,
	}
	for _, rcpt := range envelope.To {
		reqBody.To = append(reqBody.To, brevoAddress{Email: rcpt.Email, Name: rcpt.DisplayName})
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request for Brevo: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/smtp/email", bytes.NewBuffer(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request for Brevo: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", b.apiKey)

	httpResp, err := b.httpClient.Do(httpReq)
	if err != nil {
		b.logger.ErrorContext(ctx, "Brevo request failed", "error", err, "internal_message_id", envelope.InternalMessageID)
		return nil, fmt.Errorf("failed to send request to Brevo: %w", err)
	}
	defer httpResp.Body.Close()

	respBodyBytes, readErr := io.ReadAll(httpResp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("Brevo API request failed (status %d), and failed to read response body: %v", httpResp.StatusCode, readErr)
	}

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		var success brevoSendResponse
		if err := json.Unmarshal(respBodyBytes, &success); err != nil {
			b.logger.WarnContext(ctx, "Brevo accepted the message but the response body was unparseable", "status_code", httpResp.StatusCode, "error", err, "internal_message_id", envelope.InternalMessageID)
			return &SendResult{ProviderStatus: fmt.Sprintf("SENT_BREVO_%d_UNPARSED_RESP", httpResp.StatusCode)}, nil
		}
		b.logger.InfoContext(ctx, "Message submitted to Brevo", "provider_message_id", success.MessageID, "internal_message_id", envelope.InternalMessageID)
		return &SendResult{
			ProviderMessageID: success.MessageID,
			ProviderStatus:    fmt.Sprintf("SENT_BREVO_%d", httpResp.StatusCode),
		}, nil
	}

	errMsg := fmt.Sprintf("Brevo API error: status %d", httpResp.StatusCode)
	var apiErr brevoErrorResponse
	if err := json.Unmarshal(respBodyBytes, &apiErr); err == nil && apiErr.Message != "" {
		errMsg = fmt.Sprintf("Brevo API error: status %d, code: %s, message: %s", httpResp.StatusCode, apiErr.Code, apiErr.Message)
	} else if len(respBodyBytes) > 0 && len(respBodyBytes) < 200 {
		errMsg = fmt.Sprintf("Brevo API error: status %d, raw_body: %s", httpResp.StatusCode, string(respBodyBytes))
	}
	b.logger.WarnContext(ctx, "Brevo rejected the message", "status_code", httpResp.StatusCode, "error", errMsg, "internal_message_id", envelope.InternalMessageID)
	return nil, fmt.Errorf("%s", errMsg)
}

// TestConnection calls the account endpoint, the cheapest authenticated
// Brevo call that exercises the API key without sending mail.
func (b *BrevoSender) TestConnection(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/account", nil)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request for Brevo: %w", err)
	}
	httpReq.Header.Set("api-key", b.apiKey)

	httpResp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to reach Brevo: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		return nil
	}

	respBodyBytes, _ := io.ReadAll(httpResp.Body)
	var apiErr brevoErrorResponse
	if err := json.Unmarshal(respBodyBytes, &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Errorf("Brevo account check failed: status %d, message: %s", httpResp.StatusCode, apiErr.Message)
	}
	return fmt.Errorf("Brevo account check failed: status %d", httpResp.StatusCode)
}
