package infrastructure

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/resolveit/platform/internal/case/domain"
	"github.com/resolveit/platform/internal/shared/errors"
	"github.com/resolveit/platform/internal/shared/types"
)

// MemoryRepository implements domain.Repository in process memory. It backs
// the tests and the limited mode used when no database is reachable.
//
// Records are copied in and out, and a write becomes visible by swapping the
// whole record under mu, so readers never see a half-applied mutation.
type MemoryRepository struct {
	mu      sync.RWMutex
	users   map[types.ID]domain.User
	cases   map[types.ID]*domain.Case // full depth
	history map[types.ID][]domain.StatusChange
	nextID  int64

	lockMu    sync.Mutex
	caseLocks map[types.ID]*sync.Mutex
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:     make(map[types.ID]domain.User),
		cases:     make(map[types.ID]*domain.Case),
		history:   make(map[types.ID][]domain.StatusChange),
		caseLocks: make(map[types.ID]*sync.Mutex),
	}
}

// SeedUsers adds the accounts the database migration seeds
func (r *MemoryRepository) SeedUsers() {
	r.PutUser(domain.User{Name: "Priya Sharma", Email: "priya.sharma@example.com", Role: domain.RoleUser})
	r.PutUser(domain.User{Name: "Amit Patel", Email: "amit.patel@example.com", Role: domain.RoleUser})
	r.PutUser(domain.User{Name: "Admin User", Email: "admin@resolveit.com", Role: domain.RoleAdmin})
}

// PutUser stores an account, assigning an ID when unset
func (r *MemoryRepository) PutUser(u domain.User) domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u.ID.IsZero() {
		u.ID = r.newID()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	r.users[u.ID] = u
	return u
}

// newID must be called with mu held
func (r *MemoryRepository) newID() types.ID {
	r.nextID++
	return types.ID(r.nextID)
}

func (r *MemoryRepository) lockFor(id types.ID) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()

	l, ok := r.caseLocks[id]
	if !ok {
		l = &sync.Mutex{}
		r.caseLocks[id] = l
	}
	return l
}

// CreateCase saves a new case with its opposite party and evidence
func (r *MemoryRepository) CreateCase(ctx context.Context, c *domain.Case, party *domain.OppositeParty, evidence []domain.Evidence) (*domain.Case, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to save case")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.users[c.UserID]
	if !ok {
		return nil, errors.Validation("owner does not exist", map[string]string{"user_id": "Unknown user"})
	}

	// stage everything on a copy; nothing is stored until all of it succeeds
	staged := copyCase(c)
	staged.ID = r.newID()
	staged.Status = domain.CaseStatusRegistered
	now := time.Now().UTC()
	staged.CreatedAt, staged.UpdatedAt = now, now
	staged.User = owner.Summary()

	p := *party
	p.ID = r.newID()
	p.CaseID = staged.ID
	staged.OppositeParties = []domain.OppositeParty{p}

	staged.Evidence = nil
	for _, e := range evidence {
		if err := checkEvidence(e); err != nil {
			return nil, err
		}
		e.ID = r.newID()
		e.CaseID = staged.ID
		e.UploadedAt = now
		staged.Evidence = append(staged.Evidence, e)
	}

	ownerID := staged.UserID
	r.cases[staged.ID] = staged
	r.history[staged.ID] = []domain.StatusChange{{
		ID:         r.newID(),
		CaseID:     staged.ID,
		To:         domain.CaseStatusRegistered,
		Trigger:    domain.TriggerRegistered,
		ActorID:    &ownerID,
		OccurredAt: now,
	}}

	return summaryOf(staged), nil
}

// UpdateStatus sets the status of a case
func (r *MemoryRepository) UpdateStatus(ctx context.Context, caseID types.ID, status domain.CaseStatus) (*domain.Case, error) {
	return r.ApplyTransition(ctx, caseID, statusMutation(status))
}

// RecordOppositePartyResponse stores the opposite party's answer
func (r *MemoryRepository) RecordOppositePartyResponse(ctx context.Context, caseID types.ID, agreed bool, respondedAt time.Time) (*domain.OppositeParty, error) {
	c, err := r.ApplyTransition(ctx, caseID, responseMutation(agreed, respondedAt))
	if err != nil {
		return nil, err
	}
	return c.OppositeParty(), nil
}

// ApplyTransition serializes writers per case with a dedicated mutex
func (r *MemoryRepository) ApplyTransition(ctx context.Context, caseID types.ID, decide domain.TransitionFunc) (*domain.Case, error) {
	l := r.lockFor(caseID)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to update case")
	}

	r.mu.RLock()
	stored, ok := r.cases[caseID]
	var working *domain.Case
	if ok {
		working = copyCase(stored)
	}
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("case", caseID.String())
	}

	m, err := decide(summaryOf(working))
	if err != nil {
		return nil, err
	}

	if m.MarkNotified || m.Response != nil {
		party := working.OppositeParty()
		if party == nil {
			return nil, errors.NotFound("opposite party", caseID.String())
		}
		if m.Response != nil {
			agreed, at := m.Response.Agreed, m.Response.RespondedAt
			party.AgreedToMediate = &agreed
			party.RespondedAt = &at
		}
		party.Notified = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range m.PanelMembers {
		p.ID = r.newID()
		p.CaseID = caseID
		working.PanelMembers = append(working.PanelMembers, p)
	}

	var change *domain.StatusChange
	if m.Status != "" {
		from := working.Status
		now := time.Now().UTC()
		working.Status = m.Status
		working.UpdatedAt = now
		change = &domain.StatusChange{
			ID:         r.newID(),
			CaseID:     caseID,
			From:       &from,
			To:         m.Status,
			Trigger:    m.Trigger,
			ActorID:    m.ActorID,
			Override:   m.Override,
			OccurredAt: now,
		}
	}

	r.cases[caseID] = working
	if change != nil {
		r.history[caseID] = append(r.history[caseID], *change)
	}

	result := summaryOf(working)
	result.PanelMembers = append([]domain.PanelMember(nil), working.PanelMembers...)
	return result, nil
}

// AddEvidence attaches evidence to an existing case
func (r *MemoryRepository) AddEvidence(ctx context.Context, caseID types.ID, evidence []domain.Evidence) ([]domain.Evidence, error) {
	l := r.lockFor(caseID)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.cases[caseID]
	if !ok {
		return nil, errors.NotFound("case", caseID.String())
	}

	working := copyCase(stored)
	saved := make([]domain.Evidence, 0, len(evidence))
	for _, e := range evidence {
		if err := checkEvidence(e); err != nil {
			return nil, err
		}
		e.ID = r.newID()
		e.CaseID = caseID
		e.UploadedAt = time.Now().UTC()
		saved = append(saved, e)
	}
	working.Evidence = append(working.Evidence, saved...)
	r.cases[caseID] = working
	return saved, nil
}

// AddWitnesses attaches witnesses to an existing case
func (r *MemoryRepository) AddWitnesses(ctx context.Context, caseID types.ID, witnesses []domain.Witness) ([]domain.Witness, error) {
	l := r.lockFor(caseID)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.cases[caseID]
	if !ok {
		return nil, errors.NotFound("case", caseID.String())
	}

	working := copyCase(stored)
	saved := make([]domain.Witness, 0, len(witnesses))
	for _, w := range witnesses {
		w.ID = r.newID()
		w.CaseID = caseID
		saved = append(saved, w)
	}
	working.Witnesses = append(working.Witnesses, saved...)
	r.cases[caseID] = working
	return saved, nil
}

// FindByID finds a case by ID
func (r *MemoryRepository) FindByID(ctx context.Context, id types.ID, depth domain.LoadDepth) (*domain.Case, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.cases[id]
	if !ok {
		return nil, errors.NotFound("case", id.String())
	}
	if depth == domain.DepthFull {
		return copyCase(c), nil
	}
	return summaryOf(c), nil
}

// FindMany lists cases matching the filter, newest first
func (r *MemoryRepository) FindMany(ctx context.Context, filter domain.ListFilter) ([]domain.Case, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := []domain.Case{}
	for _, c := range r.cases {
		if filter.Matches(c) {
			matched = append(matched, *summaryOf(c))
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// CountByStatus counts cases per status
func (r *MemoryRepository) CountByStatus(ctx context.Context) (map[domain.CaseStatus]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[domain.CaseStatus]int)
	for _, c := range r.cases {
		counts[c.Status]++
	}
	return counts, nil
}

// StatusHistory returns the status changes of a case, oldest first
func (r *MemoryRepository) StatusHistory(ctx context.Context, caseID types.ID) ([]domain.StatusChange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.cases[caseID]; !ok {
		return nil, errors.NotFound("case", caseID.String())
	}
	return append([]domain.StatusChange(nil), r.history[caseID]...), nil
}

// FindUser finds an account by ID
func (r *MemoryRepository) FindUser(ctx context.Context, id types.ID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, errors.NotFound("user", id.String())
	}
	return &u, nil
}

// checkEvidence applies the constraints the evidence table enforces
func checkEvidence(e domain.Evidence) error {
	if !e.FileType.IsValid() || e.FileURL == "" {
		return errors.Persistence(fmt.Errorf("evidence violates table constraints: type=%q url=%q", e.FileType, e.FileURL), "failed to save evidence")
	}
	return nil
}

// copyCase deep-copies the slices so stored records are never shared
func copyCase(c *domain.Case) *domain.Case {
	out := *c
	if c.User != nil {
		u := *c.User
		out.User = &u
	}
	out.OppositeParties = append([]domain.OppositeParty(nil), c.OppositeParties...)
	out.Evidence = append([]domain.Evidence(nil), c.Evidence...)
	out.PanelMembers = append([]domain.PanelMember(nil), c.PanelMembers...)
	out.Witnesses = append([]domain.Witness(nil), c.Witnesses...)
	return &out
}

// summaryOf projects a stored case to DepthSummary
func summaryOf(c *domain.Case) *domain.Case {
	out := *c
	if c.User != nil {
		u := *c.User
		out.User = &u
	}
	out.OppositeParties = nil
	if len(c.OppositeParties) > 0 {
		out.OppositeParties = []domain.OppositeParty{c.OppositeParties[0]}
	}
	out.Evidence = nil
	out.PanelMembers = nil
	out.Witnesses = nil
	return &out
}

var _ domain.Repository = (*MemoryRepository)(nil)
