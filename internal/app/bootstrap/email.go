package bootstrap

import (
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/wolfman30/healme-core/internal/config"
	"github.com/wolfman30/healme-core/internal/notify"
	"github.com/wolfman30/healme-core/pkg/logging"
)

// BuildEmailSender selects the email provider from EMAIL_PROVIDER. A
// provider that is missing its credentials falls back to the stub sender.
func BuildEmailSender(cfg *appconfig.Config, ses *sesv2.Client, logger *logging.Logger) (notify.EmailSender, string) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return notify.NewStubEmailSender(logger), "stub"
	}
	switch cfg.EmailProvider {
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger); sender != nil {
			return sender, "sendgrid"
		}
		logger.Warn("sendgrid selected but SENDGRID_API_KEY is empty; using stub sender")
	case "ses":
		if sender := notify.NewSESSender(ses, notify.SESConfig{
			FromEmail:        cfg.EmailFromAddress,
			FromName:         cfg.EmailFromName,
			ConfigurationSet: cfg.SESConfigurationSet,
		}, logger); sender != nil {
			return sender, "ses"
		}
		logger.Warn("ses selected but no client configured; using stub sender")
	}
	return notify.NewStubEmailSender(logger), "stub"
}
