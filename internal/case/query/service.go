package query

import (
	"context"
	"strings"
	"time"

	"github.com/resolveit/platform/internal/case/domain"
	"github.com/resolveit/platform/internal/shared/errors"
	"github.com/resolveit/platform/internal/shared/types"
)

// DateLayout is the accepted form of the date filter
const DateLayout = "2006-01-02"

// Params are the raw list filters as received from a caller
type Params struct {
	Status string
	Type   string
	Date   string
	Search string
}

// Stats is the admin dashboard summary
type Stats struct {
	TotalCases int `json:"totalCases"`
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Resolved   int `json:"resolved"`
	Unresolved int `json:"unresolved"`
}

// Service answers read-only questions about cases. It never writes.
type Service struct {
	repo domain.Repository
}

// NewService creates a query service
func NewService(repo domain.Repository) *Service {
	return &Service{repo: repo}
}

// ParseParams turns raw filters into a ListFilter. Empty values are
// ignored; unknown enum values and malformed dates are rejected.
func ParseParams(p Params) (domain.ListFilter, error) {
	var filter domain.ListFilter
	fields := errors.FieldErrors{}

	if v := strings.TrimSpace(p.Status); v != "" {
		status, err := domain.ParseStatus(v)
		if err != nil {
			fields.Add("status", err.Error())
		} else {
			filter.Status = &status
		}
	}
	if v := strings.TrimSpace(p.Type); v != "" {
		caseType, err := domain.ParseCaseType(v)
		if err != nil {
			fields.Add("type", err.Error())
		} else {
			filter.CaseType = &caseType
		}
	}
	if v := strings.TrimSpace(p.Date); v != "" {
		day, err := parseDay(v)
		if err != nil {
			fields.Add("date", "Date must be YYYY-MM-DD")
		} else {
			filter.CreatedOn = &day
		}
	}
	filter.Search = strings.TrimSpace(p.Search)

	if err := fields.Err(); err != nil {
		return domain.ListFilter{}, err
	}
	return filter, nil
}

// parseDay accepts a plain date or a full RFC 3339 timestamp
func parseDay(v string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

// ListCases returns the cases matching every given filter, newest first
func (s *Service) ListCases(ctx context.Context, p Params) ([]domain.Case, error) {
	filter, err := ParseParams(p)
	if err != nil {
		return nil, err
	}
	return s.repo.FindMany(ctx, filter)
}

// MyCases returns the cases owned by ownerID, newest first
func (s *Service) MyCases(ctx context.Context, ownerID types.ID) ([]domain.Case, error) {
	return s.repo.FindMany(ctx, domain.ListFilter{OwnerID: &ownerID})
}

// DashboardStats groups every case into exactly one bucket
func (s *Service) DashboardStats(ctx context.Context) (Stats, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for status, n := range counts {
		stats.TotalCases += n
		switch domain.BucketOf(status) {
		case domain.BucketPending:
			stats.Pending += n
		case domain.BucketInProgress:
			stats.InProgress += n
		case domain.BucketResolved:
			stats.Resolved += n
		case domain.BucketUnresolved:
			stats.Unresolved += n
		}
	}
	return stats, nil
}

// CaseDetail loads a case with every relation
func (s *Service) CaseDetail(ctx context.Context, id types.ID) (*domain.Case, error) {
	return s.repo.FindByID(ctx, id, domain.DepthFull)
}

// CaseOwner returns the id of the user who registered a case
func (s *Service) CaseOwner(ctx context.Context, id types.ID) (types.ID, error) {
	c, err := s.repo.FindByID(ctx, id, domain.DepthSummary)
	if err != nil {
		return 0, err
	}
	return c.UserID, nil
}

// History returns the status changes of a case, oldest first
func (s *Service) History(ctx context.Context, id types.ID) ([]domain.StatusChange, error) {
	return s.repo.StatusHistory(ctx, id)
}
