package notification

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/resolveit/platform/internal/case/domain"
	"github.com/resolveit/platform/internal/shared/types"
)

// NotificationStatus represents notification delivery status
type NotificationStatus string

const (
	StatusPending NotificationStatus = "pending"
	StatusSent    NotificationStatus = "sent"
	StatusFailed  NotificationStatus = "failed"
)

// Notification is one email to an opposite party
type Notification struct {
	ID     string             `json:"id"`
	CaseID types.ID           `json:"case_id"`
	Status NotificationStatus `json:"status"`

	RecipientName string `json:"recipient_name"`
	Email         string `json:"email"`

	Subject string `json:"subject"`
	Body    string `json:"body"`
	HTML    string `json:"html"`

	SentAt       *time.Time `json:"sent_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// NewInvitation builds the mediation invitation for the opposite party of c.
// It returns false when the party has no email address.
func NewInvitation(c *domain.Case, clientURL string) (*Notification, bool) {
	party := c.OppositeParty()
	if party == nil || party.Email == nil || strings.TrimSpace(*party.Email) == "" {
		return nil, false
	}

	link := fmt.Sprintf("%s/cases/%s/respond", strings.TrimSuffix(clientURL, "/"), c.ID)
	requester := "A ResolveIt user"
	if c.User != nil && c.User.Name != "" {
		requester = c.User.Name
	}

	body := fmt.Sprintf(
		"Hello %s,\n\n%s has registered a %s dispute (case #%s) naming you as the opposite party "+
			"and has asked to resolve it through mediation.\n\n"+
			"Please let us know whether you agree to mediate: %s\n\nThe ResolveIt team",
		party.Name, requester, strings.ToLower(string(c.CaseType)), c.ID, link,
	)
	htmlBody := fmt.Sprintf(
		"<p>Hello %s,</p><p>%s has registered a %s dispute (case #%s) naming you as the opposite party "+
			"and has asked to resolve it through mediation.</p>"+
			"<p><a href=\"%s\">Respond to the mediation request</a></p><p>The ResolveIt team</p>",
		html.EscapeString(party.Name), html.EscapeString(requester),
		strings.ToLower(string(c.CaseType)), c.ID, html.EscapeString(link),
	)

	return &Notification{
		ID:            fmt.Sprintf("inv-%s-%d", c.ID, time.Now().UnixNano()),
		CaseID:        c.ID,
		Status:        StatusPending,
		RecipientName: party.Name,
		Email:         strings.TrimSpace(*party.Email),
		Subject:       fmt.Sprintf("Mediation request for case #%s", c.ID),
		Body:          body,
		HTML:          htmlBody,
		CreatedAt:     time.Now().UTC(),
	}, true
}
