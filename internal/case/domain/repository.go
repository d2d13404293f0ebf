package domain

import (
	"context"
	"strings"
	"time"

	"github.com/resolveit/platform/internal/shared/types"
)

// Repository defines the interface for case persistence
type Repository interface {
	// CreateCase writes the case, its opposite party, its evidence and the
	// initial history row as one unit. Nothing is visible on failure.
	CreateCase(ctx context.Context, c *Case, party *OppositeParty, evidence []Evidence) (*Case, error)

	// UpdateStatus sets the status without consulting the graph
	UpdateStatus(ctx context.Context, caseID types.ID, status CaseStatus) (*Case, error)

	// RecordOppositePartyResponse stores the canonical opposite party's answer
	RecordOppositePartyResponse(ctx context.Context, caseID types.ID, agreed bool, respondedAt time.Time) (*OppositeParty, error)

	// ApplyTransition locks the case, lets decide inspect it and persists
	// the returned mutation atomically. Writers to one case are serialized.
	ApplyTransition(ctx context.Context, caseID types.ID, decide TransitionFunc) (*Case, error)

	AddEvidence(ctx context.Context, caseID types.ID, evidence []Evidence) ([]Evidence, error)
	AddWitnesses(ctx context.Context, caseID types.ID, witnesses []Witness) ([]Witness, error)

	// Query operations
	FindByID(ctx context.Context, id types.ID, depth LoadDepth) (*Case, error)
	FindMany(ctx context.Context, filter ListFilter) ([]Case, error)
	CountByStatus(ctx context.Context) (map[CaseStatus]int, error)
	StatusHistory(ctx context.Context, caseID types.ID) ([]StatusChange, error)
	FindUser(ctx context.Context, id types.ID) (*User, error)
}

// LoadDepth controls which relations a read populates
type LoadDepth int

const (
	// DepthSummary loads the owner summary and the first opposite party
	DepthSummary LoadDepth = iota
	// DepthFull loads every relation
	DepthFull
)

// Response is the opposite party's answer to the mediation request
type Response struct {
	Agreed      bool
	RespondedAt time.Time
}

// Mutation is what a TransitionFunc asks the store to persist
type Mutation struct {
	// Status is the new status; empty leaves the status unchanged and
	// writes no history row
	Status   CaseStatus
	Trigger  string
	ActorID  *types.ID
	Override bool

	MarkNotified bool
	Response     *Response
	PanelMembers []PanelMember
}

// TransitionFunc inspects the locked case and decides what to write
type TransitionFunc func(current *Case) (Mutation, error)

// ListFilter defines filters for listing cases. All set fields must match.
type ListFilter struct {
	OwnerID  *types.ID
	Status   *CaseStatus
	CaseType *CaseType
	// CreatedOn selects the UTC calendar day [00:00, +24h)
	CreatedOn *time.Time
	// Search matches description, opposite party name or owner name,
	// case-insensitively
	Search string
	// Unnotified restricts to cases whose first opposite party has an
	// email and has not been notified
	Unnotified bool
	Limit      int
}

// DayRange returns the half-open UTC interval selected by CreatedOn
func (f ListFilter) DayRange() (time.Time, time.Time, bool) {
	if f.CreatedOn == nil {
		return time.Time{}, time.Time{}, false
	}
	d := f.CreatedOn.UTC()
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1), true
}

// Matches evaluates the filter against a case loaded at DepthSummary or deeper
func (f ListFilter) Matches(c *Case) bool {
	if f.OwnerID != nil && c.UserID != *f.OwnerID {
		return false
	}
	if f.Status != nil && c.Status != *f.Status {
		return false
	}
	if f.CaseType != nil && c.CaseType != *f.CaseType {
		return false
	}
	if start, end, ok := f.DayRange(); ok {
		created := c.CreatedAt.UTC()
		if created.Before(start) || !created.Before(end) {
			return false
		}
	}
	if f.Unnotified {
		party := c.OppositeParty()
		if party == nil || party.Notified || party.Email == nil {
			return false
		}
	}
	if f.Search != "" && !matchesSearch(c, f.Search) {
		return false
	}
	return true
}

func matchesSearch(c *Case, search string) bool {
	needle := strings.ToLower(search)
	if strings.Contains(strings.ToLower(c.Description), needle) {
		return true
	}
	for _, p := range c.OppositeParties {
		if strings.Contains(strings.ToLower(p.Name), needle) {
			return true
		}
	}
	return c.User != nil && strings.Contains(strings.ToLower(c.User.Name), needle)
}
