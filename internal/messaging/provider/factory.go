package provider

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/campussite/messaging/internal/messaging/domain"
)

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intOrZero(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}

// New constructs the Sender for the given config. The switch over
// ProviderKind is exhaustive; an unrecognized kind is a configuration
// error surfaced to the caller, never a silent fallback to a default
// backend. httpClient may be nil; adapters fall back to a timeout-bounded
// default.
func New(cfg domain.ProviderConfig, logger *slog.Logger, httpClient *http.Client) (Sender, error) {
	switch cfg.Kind {
	case domain.ProviderKindSMTP:
		if strOrEmpty(cfg.Host) == "" || intOrZero(cfg.Port) == 0 {
			return nil, fmt.Errorf("smtp config %s is missing host or port", cfg.ID)
		}
		return NewSMTPSender(logger, *cfg.Host, *cfg.Port, strOrEmpty(cfg.Username), strOrEmpty(cfg.Password)), nil
	case domain.ProviderKindBrevo:
		if strOrEmpty(cfg.APIKey) == "" {
			return nil, fmt.Errorf("brevo config %s is missing an API key", cfg.ID)
		}
		return NewBrevoSender(logger, *cfg.APIKey, httpClient), nil
	case domain.ProviderKindSendGrid:
		if strOrEmpty(cfg.APIKey) == "" {
			return nil, fmt.Errorf("sendgrid config %s is missing an API key", cfg.ID)
		}
		return NewSendGridSender(logger, *cfg.APIKey, httpClient), nil
	case domain.ProviderKindResend:
		if strOrEmpty(cfg.APIKey) == "" {
			return nil, fmt.Errorf("resend config %s is missing an API key", cfg.ID)
		}
		return NewResendSender(logger, *cfg.APIKey), nil
	case domain.ProviderKindSES:
		region := strOrEmpty(cfg.Host)
		accessKey := strOrEmpty(cfg.Username)
		secretKey := strOrEmpty(cfg.Password)
		if region == "" || accessKey == "" || secretKey == "" {
			return nil, fmt.Errorf("ses config %s is missing region or credentials", cfg.ID)
		}
		return NewSESSender(logger, region, accessKey, secretKey), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q in config %s", cfg.Kind, cfg.ID)
	}
}
