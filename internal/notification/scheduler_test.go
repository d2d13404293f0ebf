package notification

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/resolveit/platform/internal/case/domain"
	"github.com/resolveit/platform/internal/case/infrastructure"
	"github.com/resolveit/platform/internal/case/workflow"
	"github.com/resolveit/platform/internal/realtime"
	"github.com/resolveit/platform/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type setup struct {
	repo      *infrastructure.MemoryRepository
	email     *MockEmailProvider
	scheduler *Scheduler
	owner     types.ID
}

func newSetup(t *testing.T) *setup {
	t.Helper()
	repo := infrastructure.NewMemoryRepository()
	owner := repo.PutUser(domain.User{Name: "Priya Sharma", Email: "priya.sharma@example.com", Role: domain.RoleUser})

	logger := zap.NewNop()
	engine := workflow.NewEngine(repo, realtime.NewHub(8, logger), nil, logger)
	email := NewMockEmailProvider()
	return &setup{
		repo:  repo,
		email: email,
		scheduler: NewScheduler(repo, engine, email, SchedulerConfig{
			BatchSize: 10,
			ClientURL: "http://localhost:3000/",
		}, logger),
		owner: owner.ID,
	}
}

func (s *setup) add(t *testing.T, partyEmail string) *domain.Case {
	t.Helper()
	c, p, err := domain.NewCase(s.owner, domain.Registration{
		CaseType:           "COMMUNITY",
		Description:        "Shared wall repairs",
		OppositePartyName:  "Rohan Mehta",
		OppositePartyEmail: partyEmail,
	})
	require.NoError(t, err)
	created, err := s.repo.CreateCase(context.Background(), c, p, nil)
	require.NoError(t, err)
	return created
}

func (s *setup) status(t *testing.T, id types.ID) domain.CaseStatus {
	t.Helper()
	c, err := s.repo.FindByID(context.Background(), id, domain.DepthSummary)
	require.NoError(t, err)
	return c.Status
}

func assertCounts(t *testing.T, result Result, sent, failed int) {
	t.Helper()
	assert.Equal(t, sent, result.Sent, "sent")
	assert.Equal(t, failed, result.Failed, "failed")
	assert.Len(t, result.Deliveries, sent+failed)
}

func TestRunOnceInvitesAndMarksNotified(t *testing.T) {
	s := newSetup(t)
	withEmail := s.add(t, "rohan@example.com")
	withoutEmail := s.add(t, "")

	result, err := s.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assertCounts(t, result, 1, 0)

	sent := s.email.GetSentNotifications()
	require.Len(t, sent, 1)
	assert.Equal(t, "rohan@example.com", sent[0].Email)
	assert.Equal(t, withEmail.ID, sent[0].CaseID)
	assert.Contains(t, sent[0].Body, "http://localhost:3000/cases/"+withEmail.ID.String()+"/respond")
	assert.Contains(t, sent[0].Body, "Priya Sharma")

	assert.Equal(t, domain.CaseStatusAwaitingResponse, s.status(t, withEmail.ID))
	assert.Equal(t, domain.CaseStatusRegistered, s.status(t, withoutEmail.ID))

	// a second run finds nothing left to do
	result, err = s.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assertCounts(t, result, 0, 0)
	assert.Len(t, s.email.GetSentNotifications(), 1)
}

func TestRunOnceRetriesFailedSends(t *testing.T) {
	s := newSetup(t)
	ok := s.add(t, "ok@example.com")
	bad := s.add(t, "bounce@example.com")
	s.email.FailFor("bounce@example.com")

	result, err := s.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assertCounts(t, result, 1, 1)
	assert.Equal(t, domain.CaseStatusAwaitingResponse, s.status(t, ok.ID))
	assert.Equal(t, domain.CaseStatusRegistered, s.status(t, bad.ID))

	s.email.failFor = map[string]bool{}
	result, err = s.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assertCounts(t, result, 1, 0)
	assert.Equal(t, domain.CaseStatusAwaitingResponse, s.status(t, bad.ID))
}

func TestRunOnceRecordsDeliveries(t *testing.T) {
	s := newSetup(t)
	c := s.add(t, "rohan@example.com")
	s.email.SetFailOnSend(true)

	result, err := s.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assertCounts(t, result, 0, 1)

	failed := result.Deliveries[0]
	assert.Equal(t, c.ID, failed.CaseID)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "mock send failure", failed.ErrorMessage)
	assert.Nil(t, failed.SentAt)

	s.email.SetFailOnSend(false)
	result, err = s.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assertCounts(t, result, 1, 0)

	sent := result.Deliveries[0]
	assert.Equal(t, StatusSent, sent.Status)
	assert.Empty(t, sent.ErrorMessage)
	require.NotNil(t, sent.SentAt)
	assert.WithinDuration(t, time.Now(), *sent.SentAt, time.Minute)
}

func TestRunOnceSkipsCasesPastRegistration(t *testing.T) {
	s := newSetup(t)
	c := s.add(t, "rohan@example.com")
	_, err := s.repo.UpdateStatus(context.Background(), c.ID, domain.CaseStatusAccepted)
	require.NoError(t, err)

	result, err := s.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assertCounts(t, result, 0, 0)
	assert.Empty(t, s.email.GetSentNotifications())
}

func TestRunOnceRespectsBatchSize(t *testing.T) {
	s := newSetup(t)
	s.scheduler.config.BatchSize = 2
	for i := 0; i < 3; i++ {
		s.add(t, "rohan@example.com")
	}

	result, err := s.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Sent)
}

func TestNewInvitation(t *testing.T) {
	email := "rohan@example.com"
	c := &domain.Case{
		ID:       12,
		CaseType: domain.CaseTypeFamily,
		User:     &domain.UserSummary{Name: "Priya <b>Sharma</b>"},
		OppositeParties: []domain.OppositeParty{
			{Name: "Rohan Mehta", Email: &email},
		},
	}

	n, ok := NewInvitation(c, "https://resolveit.example")
	require.True(t, ok)
	assert.Equal(t, "Mediation request for case #12", n.Subject)
	assert.Equal(t, StatusPending, n.Status)
	assert.Contains(t, n.Body, "https://resolveit.example/cases/12/respond")
	assert.Contains(t, n.Body, "family dispute")
	assert.False(t, strings.Contains(n.HTML, "<b>"), "names must be escaped in HTML")

	c.OppositeParties[0].Email = nil
	_, ok = NewInvitation(c, "https://resolveit.example")
	assert.False(t, ok)
}

func TestSchedulerStartStop(t *testing.T) {
	s := newSetup(t)
	s.scheduler.config.Interval = time.Hour

	require.NoError(t, s.scheduler.Start())
	assert.Error(t, s.scheduler.Start())
	s.scheduler.Stop()
	s.scheduler.Stop()
}
