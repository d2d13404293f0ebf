package notification

import (
	"context"
	"fmt"
	"sync"

	"github.com/resolveit/platform/internal/shared/config"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

// EmailProvider delivers one email
type EmailProvider interface {
	Send(ctx context.Context, notification *Notification) error
}

// NewEmailProvider returns SendGrid when an API key is configured and a
// provider that only logs otherwise
func NewEmailProvider(cfg config.MailConfig, logger *zap.Logger) EmailProvider {
	if cfg.SendGridAPIKey == "" {
		return &LogProvider{logger: logger}
	}
	return NewSendGridProvider(cfg)
}

// SendGridProvider sends email through the SendGrid v3 API
type SendGridProvider struct {
	client *sendgrid.Client
	from   *mail.Email
}

// NewSendGridProvider creates a SendGrid provider
func NewSendGridProvider(cfg config.MailConfig) *SendGridProvider {
	return &SendGridProvider{
		client: sendgrid.NewSendClient(cfg.SendGridAPIKey),
		from:   mail.NewEmail(cfg.FromName, cfg.FromAddress),
	}
}

func (p *SendGridProvider) Send(ctx context.Context, n *Notification) error {
	to := mail.NewEmail(n.RecipientName, n.Email)
	message := mail.NewSingleEmail(p.from, n.Subject, to, n.Body, n.HTML)

	response, err := p.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("sendgrid: unexpected status %d: %s", response.StatusCode, response.Body)
	}
	return nil
}

// LogProvider writes emails to the log instead of sending them
type LogProvider struct {
	logger *zap.Logger
}

func (p *LogProvider) Send(ctx context.Context, n *Notification) error {
	p.logger.Info("Email not sent, no mail provider configured",
		zap.String("to", n.Email),
		zap.String("subject", n.Subject),
		zap.String("case_id", n.CaseID.String()),
	)
	return nil
}

// MockEmailProvider is a mock email provider for testing
type MockEmailProvider struct {
	mu         sync.RWMutex
	sent       []*Notification
	failFor    map[string]bool
	failOnSend bool
}

// NewMockEmailProvider creates a new mock email provider
func NewMockEmailProvider() *MockEmailProvider {
	return &MockEmailProvider{failFor: make(map[string]bool)}
}

func (p *MockEmailProvider) Send(ctx context.Context, n *Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failOnSend || p.failFor[n.Email] {
		return fmt.Errorf("mock send failure")
	}
	if n.Email == "" {
		return fmt.Errorf("no email address provided")
	}

	p.sent = append(p.sent, n)
	return nil
}

// SetFailOnSend sets whether Send should fail
func (p *MockEmailProvider) SetFailOnSend(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failOnSend = fail
}

// FailFor makes Send fail for one address
func (p *MockEmailProvider) FailFor(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failFor[email] = true
}

// GetSentNotifications returns all sent notifications in send order
func (p *MockEmailProvider) GetSentNotifications() []*Notification {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*Notification(nil), p.sent...)
}

var (
	_ EmailProvider = (*SendGridProvider)(nil)
	_ EmailProvider = (*LogProvider)(nil)
	_ EmailProvider = (*MockEmailProvider)(nil)
)
