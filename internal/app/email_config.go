package app

import (
	"github.com/charlesng35/teamshot/internal/services"
	"github.com/charlesng35/teamshot/pkg/mail"
)

// SMTPSettings converts EmailConfig to the mail package representation.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:  c.SMTP.Enabled,
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     c.SMTP.From,
		UseTLS:   c.SMTP.UseTLS,
		Timeout:  c.SMTP.Timeout,
	}
}

// ServiceOptions converts InvitationConfig into InvitationService options. Zero values keep the
// service defaults.
func (c InvitationConfig) ServiceOptions(baseURL string) []services.InvitationOption {
	opts := []services.InvitationOption{
		services.WithInvitationBaseURL(baseURL),
		services.WithInvitationExpiry(c.Expiry),
		services.WithRemovalCooldown(c.RemovalCooldown),
		services.WithLinkDomain(c.LinkDomain),
		services.WithBatchLimit(c.BatchLimit),
	}
	if c.TokenLength > 0 {
		opts = append(opts, services.WithInvitationTokens(services.NewTokenGenerator(c.TokenLength)))
	}
	return opts
}

// ServiceOptions converts CreditConfig into CreditService options.
func (c CreditConfig) ServiceOptions() []services.CreditOption {
	return []services.CreditOption{services.WithPoolLimit(c.EnforcePoolLimit)}
}
