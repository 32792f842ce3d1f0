package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const sendgridDefaultBaseURL = "https://api.sendgrid.com/v3"

// SendGridSender sends mail through the SendGrid v3 mail send API.
type SendGridSender struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func NewSendGridSender(logger *slog.Logger, apiKey string, httpClient *http.Client) *SendGridSender {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &SendGridSender{
		logger:     logger.With("provider", "sendgrid"),
		httpClient: httpClient,
		baseURL:    sendgridDefaultBaseURL,
		apiKey:     apiKey,
	}
}

func (s *SendGridSender) Name() string { return "sendgrid" }

type sendgridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendgridPersonalization struct {
	To []sendgridAddress `json:"to"`
}

type sendgridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendgridSendRequest struct {
	Personalizations []sendgridPersonalization `json:"personalizations"`
	From             sendgridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendgridContent         `json:"content"`
}

type sendgridErrorResponse struct {
	Errors []struct {
		Message string  `json:"message"`
		Field   *string `json:"field"`
	} `json:"errors"`
}

// Send submits the whole recipient list as one personalization. On 202 the
// provider message ID comes back in the X-Message-Id response header, not
// the body.
func (s *SendGridSender) Send(ctx context.Context, envelope Envelope) (*SendResult, error) {
	to := make([]sendgridAddress, 0, len(envelope.To))
	for _, rcpt := range envelope.To {
		to = append(to, sendgridAddress{Email: rcpt.Email, Name: rcpt.DisplayName})
	}
	reqBody := sendgridSendRequest{
		Personalizations: []sendgridPersonalization{{To: to}},
		From:             sendgridAddress{Email: envelope.From.Email, Name: envelope.From.Name},
		Subject:          envelope.Subject,
		Content:          []sendgridContent{{Type: "text/html", Value: envelope.HTML}},
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request for SendGrid: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/mail/send", bytes.NewBuffer(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request for SendGrid: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		s.logger.ErrorContext(ctx, "SendGrid request failed", "error", err, "internal_message_id", envelope.InternalMessageID)
		return nil, fmt.Errorf("failed to send request to SendGrid: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		providerMsgID := httpResp.Header.Get("X-Message-Id")
		s.logger.InfoContext(ctx, "Message submitted to SendGrid", "provider_message_id", providerMsgID, "internal_message_id", envelope.InternalMessageID)
		return &SendResult{
			ProviderMessageID: providerMsgID,
			ProviderStatus:    fmt.Sprintf("SENT_SENDGRID_%d", httpResp.StatusCode),
		}, nil
	}

	respBodyBytes, _ := io.ReadAll(httpResp.Body)
	errMsg := fmt.Sprintf("SendGrid API error: status %d", httpResp.StatusCode)
	var apiErr sendgridErrorResponse
	if err := json.Unmarshal(respBodyBytes, &apiErr); err == nil && len(apiErr.Errors) > 0 {
		msgs := make([]string, 0, len(apiErr.Errors))
		for _, e := range apiErr.Errors {
			msgs = append(msgs, e.Message)
		}
		errMsg = fmt.Sprintf("SendGrid API error: status %d, message: %s", httpResp.StatusCode, strings.Join(msgs, "; "))
	} else if len(respBodyBytes) > 0 && len(respBodyBytes) < 200 {
		errMsg = fmt.Sprintf("SendGrid API error: status %d, raw_body: %s", httpResp.StatusCode, string(respBodyBytes))
	}
	s.logger.WarnContext(ctx, "SendGrid rejected the message", "status_code", httpResp.StatusCode, "error", errMsg, "internal_message_id", envelope.InternalMessageID)
	return nil, fmt.Errorf("%s", errMsg)
}

// TestConnection hits the account endpoint to validate the API key.
func (s *SendGridSender) TestConnection(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/user/account", nil)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request for SendGrid: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to reach SendGrid: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		return nil
	}

	respBodyBytes, _ := io.ReadAll(httpResp.Body)
	var apiErr sendgridErrorResponse
	if err := json.Unmarshal(respBodyBytes, &apiErr); err == nil && len(apiErr.Errors) > 0 {
		return fmt.Errorf("SendGrid account check failed: status %d, message: %s", httpResp.StatusCode, apiErr.Errors[0].Message)
	}
	return fmt.Errorf("SendGrid account check failed: status %d", httpResp.StatusCode)
}
