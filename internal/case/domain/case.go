package domain

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/resolveit/platform/internal/shared/errors"
	"github.com/resolveit/platform/internal/shared/types"
)

// CaseType defines the type of dispute
type CaseType string

const (
	CaseTypeFamily    CaseType = "FAMILY"
	CaseTypeBusiness  CaseType = "BUSINESS"
	CaseTypeCriminal  CaseType = "CRIMINAL"
	CaseTypeCommunity CaseType = "COMMUNITY"
	CaseTypeOther     CaseType = "OTHER"
)

// IsValid reports whether t is a declared case type
func (t CaseType) IsValid() bool {
	switch t {
	case CaseTypeFamily, CaseTypeBusiness, CaseTypeCriminal, CaseTypeCommunity, CaseTypeOther:
		return true
	}
	return false
}

// ParseCaseType parses a case type name
func ParseCaseType(s string) (CaseType, error) {
	t := CaseType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("unknown case type %q", s)
	}
	return t, nil
}

// CaseStatus defines the lifecycle status of a case
type CaseStatus string

const (
	CaseStatusRegistered          CaseStatus = "REGISTERED"
	CaseStatusAwaitingResponse    CaseStatus = "AWAITING_RESPONSE"
	CaseStatusAccepted            CaseStatus = "ACCEPTED"
	CaseStatusRejected            CaseStatus = "REJECTED"
	CaseStatusPanelCreated        CaseStatus = "PANEL_CREATED"
	CaseStatusMediationInProgress CaseStatus = "MEDIATION_IN_PROGRESS"
	CaseStatusResolved            CaseStatus = "RESOLVED"
	CaseStatusUnresolved          CaseStatus = "UNRESOLVED"
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []CaseStatus{
	CaseStatusRegistered,
	CaseStatusAwaitingResponse,
	CaseStatusAccepted,
	CaseStatusRejected,
	CaseStatusPanelCreated,
	CaseStatusMediationInProgress,
	CaseStatusResolved,
	CaseStatusUnresolved,
}

// IsValid reports whether s is a declared status. It says nothing about
// whether a case may move into s; see NextStatus for that.
func (s CaseStatus) IsValid() bool {
	for _, status := range AllStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the normal flow ends at s
func (s CaseStatus) IsTerminal() bool {
	return s == CaseStatusResolved || s == CaseStatusUnresolved || s == CaseStatusRejected
}

// ParseStatus parses a status name
func ParseStatus(s string) (CaseStatus, error) {
	status := CaseStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !status.IsValid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return status, nil
}

// Case is the aggregate root for a registered dispute
type Case struct {
	ID               types.ID   `json:"id"`
	UserID           types.ID   `json:"user_id"`
	CaseType         CaseType   `json:"case_type"`
	Description      string     `json:"description"`
	IsPendingInCourt bool       `json:"is_pending_in_court"`
	CaseNumber       *string    `json:"case_number"`
	InstitutionName  *string    `json:"institution_name"`
	Status           CaseStatus `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`

	// Relations, populated according to the load depth
	User            *UserSummary    `json:"user,omitempty"`
	OppositeParties []OppositeParty `json:"opposite_parties,omitempty"`
	Evidence        []Evidence      `json:"evidence,omitempty"`
	PanelMembers    []PanelMember   `json:"panel_members,omitempty"`
	Witnesses       []Witness       `json:"witnesses,omitempty"`
}

// OppositeParty returns the canonical (first) opposite party, or nil
func (c *Case) OppositeParty() *OppositeParty {
	if len(c.OppositeParties) == 0 {
		return nil
	}
	return &c.OppositeParties[0]
}

// Registration carries the fields submitted when a case is registered
type Registration struct {
	CaseType         string
	Description      string
	IsPendingInCourt bool
	CaseNumber       string
	InstitutionName  string

	OppositePartyName    string
	OppositePartyEmail   string
	OppositePartyPhone   string
	OppositePartyAddress string
}

// Validate records every invalid field in fields
func (r Registration) Validate(fields apperrors.FieldErrors) {
	if _, err := ParseCaseType(r.CaseType); err != nil {
		fields.Add("case_type", "Case type is required")
	}
	if strings.TrimSpace(r.Description) == "" {
		fields.Add("description", "Description is required")
	}
	if strings.TrimSpace(r.OppositePartyName) == "" {
		fields.Add("opposite_party_name", "Opposite party name is required")
	}
}

// NewCase validates the registration and builds a REGISTERED case together
// with its opposite party. The store assigns ids.
func NewCase(ownerID types.ID, r Registration) (*Case, *OppositeParty, error) {
	fields := apperrors.FieldErrors{}
	if ownerID.IsZero() {
		fields.Add("user_id", "Owner is required")
	}
	r.Validate(fields)
	if err := fields.Err(); err != nil {
		return nil, nil, err
	}

	caseType, _ := ParseCaseType(r.CaseType)
	now := time.Now().UTC()
	c := &Case{
		UserID:           ownerID,
		CaseType:         caseType,
		Description:      strings.TrimSpace(r.Description),
		IsPendingInCourt: r.IsPendingInCourt,
		CaseNumber:       optional(r.CaseNumber),
		InstitutionName:  optional(r.InstitutionName),
		Status:           CaseStatusRegistered,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	party := &OppositeParty{
		Name:    strings.TrimSpace(r.OppositePartyName),
		Email:   optional(r.OppositePartyEmail),
		Phone:   optional(r.OppositePartyPhone),
		Address: optional(r.OppositePartyAddress),
	}

	return c, party, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
