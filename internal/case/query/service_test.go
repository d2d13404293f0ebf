package query

import (
	"context"
	"testing"
	"time"

	"github.com/resolveit/platform/internal/case/domain"
	"github.com/resolveit/platform/internal/case/infrastructure"
	"github.com/resolveit/platform/internal/shared/errors"
	"github.com/resolveit/platform/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seeded struct {
	repo  *infrastructure.MemoryRepository
	svc   *Service
	priya types.ID
	amit  types.ID
}

func seed(t *testing.T) *seeded {
	t.Helper()
	repo := infrastructure.NewMemoryRepository()
	priya := repo.PutUser(domain.User{Name: "Priya Sharma", Email: "priya.sharma@example.com", Role: domain.RoleUser})
	amit := repo.PutUser(domain.User{Name: "Amit Patel", Email: "amit.patel@example.com", Role: domain.RoleUser})
	return &seeded{repo: repo, svc: NewService(repo), priya: priya.ID, amit: amit.ID}
}

func (s *seeded) add(t *testing.T, owner types.ID, caseType, description, party string) *domain.Case {
	t.Helper()
	c, p, err := domain.NewCase(owner, domain.Registration{
		CaseType:          caseType,
		Description:       description,
		OppositePartyName: party,
	})
	require.NoError(t, err)
	created, err := s.repo.CreateCase(context.Background(), c, p, nil)
	require.NoError(t, err)
	return created
}

func (s *seeded) setStatus(t *testing.T, id types.ID, status domain.CaseStatus) {
	t.Helper()
	_, err := s.repo.UpdateStatus(context.Background(), id, status)
	require.NoError(t, err)
}

func TestParseParams(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		wantErr []string
	}{
		{"empty", Params{}, nil},
		{"lowercase enums", Params{Status: "resolved", Type: "family"}, nil},
		{"date", Params{Date: "2024-03-01"}, nil},
		{"timestamp", Params{Date: "2024-03-01T10:00:00Z"}, nil},
		{"unknown status", Params{Status: "CLOSED"}, []string{"status"}},
		{"unknown everything", Params{Status: "CLOSED", Type: "PROPERTY", Date: "01/03/2024"}, []string{"status", "type", "date"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseParams(tt.params)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			var appErr *errors.AppError
			require.True(t, errors.As(err, &appErr))
			assert.True(t, errors.Is(err, errors.ErrValidation))
			assert.Len(t, appErr.Details, len(tt.wantErr))
			for _, field := range tt.wantErr {
				assert.Contains(t, appErr.Details, field)
			}
		})
	}
}

func TestListCasesFilters(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	boundary := s.add(t, s.priya, "FAMILY", "Custody arrangement", "Rahul Sharma")
	business := s.add(t, s.amit, "BUSINESS", "Partnership dissolution", "Kavita Iyer")
	s.add(t, s.priya, "COMMUNITY", "Noise complaint against neighbour", "Housing society")
	s.setStatus(t, business.ID, domain.CaseStatusResolved)

	t.Run("status and type", func(t *testing.T) {
		cases, err := s.svc.ListCases(ctx, Params{Status: "RESOLVED", Type: "BUSINESS"})
		require.NoError(t, err)
		require.Len(t, cases, 1)
		assert.Equal(t, business.ID, cases[0].ID)
	})

	t.Run("search by owner name", func(t *testing.T) {
		cases, err := s.svc.ListCases(ctx, Params{Search: "amit"})
		require.NoError(t, err)
		require.Len(t, cases, 1)
		assert.Equal(t, business.ID, cases[0].ID)
	})

	t.Run("search by opposite party", func(t *testing.T) {
		cases, err := s.svc.ListCases(ctx, Params{Search: "RAHUL"})
		require.NoError(t, err)
		require.Len(t, cases, 1)
		assert.Equal(t, boundary.ID, cases[0].ID)
	})

	t.Run("search combined with status", func(t *testing.T) {
		cases, err := s.svc.ListCases(ctx, Params{Search: "amit", Status: "REGISTERED"})
		require.NoError(t, err)
		assert.Empty(t, cases)
	})

	t.Run("date", func(t *testing.T) {
		today := time.Now().UTC().Format(DateLayout)
		cases, err := s.svc.ListCases(ctx, Params{Date: today})
		require.NoError(t, err)
		assert.Len(t, cases, 3)

		cases, err = s.svc.ListCases(ctx, Params{Date: "2001-01-01"})
		require.NoError(t, err)
		assert.Empty(t, cases)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := s.svc.ListCases(ctx, Params{Type: "PROPERTY"})
		assert.True(t, errors.Is(err, errors.ErrValidation))
	})
}

func TestMyCases(t *testing.T) {
	s := seed(t)
	first := s.add(t, s.priya, "FAMILY", "First", "Party A")
	s.add(t, s.amit, "OTHER", "Not mine", "Party B")
	second := s.add(t, s.priya, "OTHER", "Second", "Party C")

	cases, err := s.svc.MyCases(context.Background(), s.priya)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, second.ID, cases[0].ID)
	assert.Equal(t, first.ID, cases[1].ID)
	require.NotNil(t, cases[0].OppositeParty())
	assert.Equal(t, "Party C", cases[0].OppositeParty().Name)
}

func TestDashboardStatsBucketsSumToTotal(t *testing.T) {
	s := seed(t)

	for _, status := range domain.AllStatuses {
		c := s.add(t, s.priya, "OTHER", "Case in "+string(status), "Someone")
		if status != domain.CaseStatusRegistered {
			s.setStatus(t, c.ID, status)
		}
	}

	stats, err := s.svc.DashboardStats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Stats{
		TotalCases: 8,
		Pending:    2,
		InProgress: 3,
		Resolved:   1,
		Unresolved: 2,
	}, stats)
	assert.Equal(t, stats.TotalCases, stats.Pending+stats.InProgress+stats.Resolved+stats.Unresolved)
}

func TestDashboardStatsEmpty(t *testing.T) {
	s := seed(t)
	stats, err := s.svc.DashboardStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}
