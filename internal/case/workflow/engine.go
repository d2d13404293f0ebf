package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/resolveit/platform/internal/case/domain"
	"github.com/resolveit/platform/internal/realtime"
	"github.com/resolveit/platform/internal/shared/auth"
	"github.com/resolveit/platform/internal/shared/errors"
	"github.com/resolveit/platform/internal/shared/events"
	"github.com/resolveit/platform/internal/shared/metrics"
	"github.com/resolveit/platform/internal/shared/types"
	"go.uber.org/zap"
)

const (
	eventSource = "resolveit.workflow"

	// EventTypeStatusChanged is exported for every committed transition
	EventTypeStatusChanged = "case.status_changed"
	// EventTypeRegistered is exported when a case is created
	EventTypeRegistered = "case.registered"
)

// Publisher is the part of the realtime hub the workflow needs
type Publisher interface {
	PublishToCase(caseID types.ID, m realtime.Message) error
	PublishGlobal(m realtime.Message) error
}

// Engine applies lifecycle events to cases and announces the result
type Engine struct {
	repo   domain.Repository
	out    *broadcaster
	locks  *caseLocks
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine creates a workflow engine. bus may be nil.
func NewEngine(repo domain.Repository, hub Publisher, bus events.EventBus, logger *zap.Logger) *Engine {
	return &Engine{
		repo:   repo,
		out:    newBroadcaster(hub, bus, logger),
		locks:  newCaseLocks(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// StatusChanged is the payload exported to the event stream
type StatusChanged struct {
	CaseID   types.ID          `json:"case_id"`
	From     domain.CaseStatus `json:"from_status"`
	To       domain.CaseStatus `json:"to_status"`
	Trigger  string            `json:"trigger"`
	Override bool              `json:"override"`
}

// Transition sets the status of a case chosen by an admin. The lifecycle
// graph is not consulted; the change is recorded as an override.
func (e *Engine) Transition(ctx context.Context, caseID types.ID, requested string, actor *auth.User) (*domain.Case, error) {
	if !actor.IsAdmin() {
		return nil, errors.Forbidden("only admins can update case status")
	}

	status, err := domain.ParseStatus(requested)
	if err != nil {
		return nil, errors.Validation("invalid status", map[string]string{"status": err.Error()})
	}

	unlock := e.locks.lock(caseID)
	defer unlock()

	var from domain.CaseStatus
	c, err := e.repo.ApplyTransition(ctx, caseID, func(current *domain.Case) (domain.Mutation, error) {
		from = current.Status
		return domain.Mutation{
			Status:   status,
			Trigger:  domain.TriggerAdminOverride,
			ActorID:  actorID(actor),
			Override: true,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Warn("Case status overridden",
		zap.String("case_id", caseID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(status)),
		zap.String("actor_id", actor.ID.String()),
	)
	metrics.RecordStatusOverride()

	e.announce(ctx, from, c, domain.TriggerAdminOverride, true, actor)
	return c, nil
}

// RespondToMediation records the opposite party's answer. The resulting
// status follows from agreed; callers cannot pick it.
func (e *Engine) RespondToMediation(ctx context.Context, caseID types.ID, agreed bool, actor *auth.User) (*domain.Case, error) {
	if actor == nil {
		return nil, errors.Unauthorized("authentication required")
	}

	respondedAt := e.now()
	return e.advance(ctx, caseID, domain.ResponseEvent(agreed), actor, func(m *domain.Mutation) {
		m.Response = &domain.Response{Agreed: agreed, RespondedAt: respondedAt}
	})
}

// MarkNotified records that the opposite party was contacted. A nil actor
// means the system did it.
func (e *Engine) MarkNotified(ctx context.Context, caseID types.ID, actor *auth.User) (*domain.Case, error) {
	if actor != nil && !actor.IsAdmin() {
		return nil, errors.Forbidden("only admins can mark a case notified")
	}
	return e.advance(ctx, caseID, domain.EventOppositePartyNotified, actor, func(m *domain.Mutation) {
		m.MarkNotified = true
	})
}

// PanelMemberInput names one panel member to appoint
type PanelMemberInput struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// AssemblePanel appoints at least one panel member and moves the case on
func (e *Engine) AssemblePanel(ctx context.Context, caseID types.ID, members []PanelMemberInput, actor *auth.User) (*domain.Case, error) {
	if !actor.IsAdmin() {
		return nil, errors.Forbidden("only admins can assemble a panel")
	}

	panel, err := parsePanel(members)
	if err != nil {
		return nil, err
	}

	return e.advance(ctx, caseID, domain.EventPanelAssembled, actor, func(m *domain.Mutation) {
		m.PanelMembers = panel
	})
}

// BeginMediation starts mediation on a case with a panel
func (e *Engine) BeginMediation(ctx context.Context, caseID types.ID, actor *auth.User) (*domain.Case, error) {
	if !actor.IsAdmin() {
		return nil, errors.Forbidden("only admins can start mediation")
	}
	return e.advance(ctx, caseID, domain.EventMediationStarted, actor, nil)
}

// Conclude records the outcome of mediation
func (e *Engine) Conclude(ctx context.Context, caseID types.ID, resolved bool, actor *auth.User) (*domain.Case, error) {
	if !actor.IsAdmin() {
		return nil, errors.Forbidden("only admins can conclude mediation")
	}
	return e.advance(ctx, caseID, domain.ConclusionEvent(resolved), actor, nil)
}

// advance moves a case along the graph. The next status is computed from
// the locked record, so concurrent writers cannot skip a check.
func (e *Engine) advance(ctx context.Context, caseID types.ID, ev domain.Event, actor *auth.User, extra func(*domain.Mutation)) (*domain.Case, error) {
	unlock := e.locks.lock(caseID)
	defer unlock()

	var from domain.CaseStatus
	c, err := e.repo.ApplyTransition(ctx, caseID, func(current *domain.Case) (domain.Mutation, error) {
		next, err := domain.NextStatus(current.Status, ev)
		if err != nil {
			return domain.Mutation{}, err
		}
		from = current.Status

		m := domain.Mutation{Status: next, Trigger: string(ev), ActorID: actorID(actor)}
		if extra != nil {
			extra(&m)
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Case status changed",
		zap.String("case_id", caseID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(c.Status)),
		zap.String("event", string(ev)),
	)

	e.announce(ctx, from, c, string(ev), false, actor)
	return c, nil
}

// announce runs after commit with the case lock held. Nothing here can
// fail the transition.
func (e *Engine) announce(ctx context.Context, from domain.CaseStatus, c *domain.Case, trigger string, override bool, actor *auth.User) {
	metrics.RecordCaseStatusChange(string(from), string(c.Status), trigger)

	status := string(c.Status)
	e.out.toCase(c.ID, realtime.NewStatusUpdate(c.ID, status))
	e.out.global(c.ID, realtime.NewCaseUpdate(c.ID, status, override, c))

	e.out.export(ctx, events.NewEvent(EventTypeStatusChanged, eventSource, c.ID.String(), StatusChanged{
		CaseID:   c.ID,
		From:     from,
		To:       c.Status,
		Trigger:  trigger,
		Override: override,
	}), actor)
}

func parsePanel(members []PanelMemberInput) ([]domain.PanelMember, error) {
	fields := errors.FieldErrors{}
	if len(members) == 0 {
		fields.Add("panel_members", "At least one panel member is required")
	}

	panel := make([]domain.PanelMember, 0, len(members))
	for i, in := range members {
		name := strings.TrimSpace(in.Name)
		if name == "" {
			fields.Add(fmt.Sprintf("panel_members[%d].name", i), "Name is required")
		}
		t, err := domain.ParsePanelMemberType(in.Type)
		if err != nil {
			fields.Add(fmt.Sprintf("panel_members[%d].type", i), "Type must be LAWYER, CIVIL, RELIGIOUS or OTHER")
		}
		panel = append(panel, domain.PanelMember{Name: name, Type: t})
	}

	if err := fields.Err(); err != nil {
		return nil, err
	}
	return panel, nil
}

func actorID(actor *auth.User) *types.ID {
	if actor == nil {
		return nil
	}
	id := actor.ID
	return &id
}
