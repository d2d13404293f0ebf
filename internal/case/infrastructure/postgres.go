package infrastructure

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/resolveit/platform/internal/case/domain"
	"github.com/resolveit/platform/internal/shared/errors"
	"github.com/resolveit/platform/internal/shared/types"
)

// querier is satisfied by both the pool and a transaction
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository implements domain.Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const summarySelect = `
	SELECT c.id, c.user_id, c.case_type, c.description, c.is_pending_in_court,
		c.case_number, c.institution_name, c.status, c.created_at, c.updated_at,
		u.id, u.name, u.email,
		op.id, op.name, op.email, op.phone, op.address,
		op.notified, op.agreed_to_mediate, op.responded_at
	FROM cases c
	JOIN users u ON u.id = c.user_id
	LEFT JOIN LATERAL (
		SELECT * FROM opposite_parties WHERE case_id = c.id ORDER BY id LIMIT 1
	) op ON TRUE`

// CreateCase saves a new case with its opposite party and evidence
func (r *PostgresRepository) CreateCase(ctx context.Context, c *domain.Case, party *domain.OppositeParty, evidence []domain.Evidence) (*domain.Case, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	owner := &domain.UserSummary{}
	err = tx.QueryRow(ctx, `SELECT id, name, email FROM users WHERE id = $1`, c.UserID).
		Scan(&owner.ID, &owner.Name, &owner.Email)
	if err == pgx.ErrNoRows {
		return nil, errors.Validation("owner does not exist", map[string]string{"user_id": "Unknown user"})
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load case owner")
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO cases (
			user_id, case_type, description, is_pending_in_court,
			case_number, institution_name, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		c.UserID, c.CaseType, c.Description, c.IsPendingInCourt,
		c.CaseNumber, c.InstitutionName, domain.CaseStatusRegistered,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to save case")
	}
	c.Status = domain.CaseStatusRegistered
	c.User = owner

	party.CaseID = c.ID
	err = tx.QueryRow(ctx, `
		INSERT INTO opposite_parties (case_id, name, email, phone, address)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		party.CaseID, party.Name, party.Email, party.Phone, party.Address,
	).Scan(&party.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to save opposite party")
	}
	c.OppositeParties = []domain.OppositeParty{*party}

	saved, err := insertEvidence(ctx, tx, c.ID, evidence)
	if err != nil {
		return nil, err
	}
	c.Evidence = saved

	ownerID := c.UserID
	if err := insertHistory(ctx, tx, domain.StatusChange{
		CaseID:  c.ID,
		To:      domain.CaseStatusRegistered,
		Trigger: domain.TriggerRegistered,
		ActorID: &ownerID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to commit transaction")
	}

	return c, nil
}

// UpdateStatus sets the status of a case
func (r *PostgresRepository) UpdateStatus(ctx context.Context, caseID types.ID, status domain.CaseStatus) (*domain.Case, error) {
	return r.ApplyTransition(ctx, caseID, statusMutation(status))
}

// RecordOppositePartyResponse stores the opposite party's answer
func (r *PostgresRepository) RecordOppositePartyResponse(ctx context.Context, caseID types.ID, agreed bool, respondedAt time.Time) (*domain.OppositeParty, error) {
	c, err := r.ApplyTransition(ctx, caseID, responseMutation(agreed, respondedAt))
	if err != nil {
		return nil, err
	}
	return c.OppositeParty(), nil
}

// ApplyTransition locks the case row for the duration of the transaction
func (r *PostgresRepository) ApplyTransition(ctx context.Context, caseID types.ID, decide domain.TransitionFunc) (*domain.Case, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := lockCase(ctx, tx, caseID); err != nil {
		return nil, err
	}

	c, err := scanSummary(tx.QueryRow(ctx, summarySelect+` WHERE c.id = $1`, caseID))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load case")
	}

	m, err := decide(c)
	if err != nil {
		return nil, err
	}

	if m.MarkNotified || m.Response != nil {
		party := c.OppositeParty()
		if party == nil {
			return nil, errors.NotFound("opposite party", caseID.String())
		}
		if m.Response != nil {
			party.AgreedToMediate = &m.Response.Agreed
			party.RespondedAt = &m.Response.RespondedAt
		}
		party.Notified = true

		_, err = tx.Exec(ctx, `
			UPDATE opposite_parties
			SET notified = $2, agreed_to_mediate = $3, responded_at = $4
			WHERE id = $1`,
			party.ID, party.Notified, party.AgreedToMediate, party.RespondedAt)
		if err != nil {
			return nil, errors.Wrap(err, "failed to update opposite party")
		}
	}

	for i := range m.PanelMembers {
		p := &m.PanelMembers[i]
		p.CaseID = caseID
		err := tx.QueryRow(ctx, `
			INSERT INTO panel_members (case_id, name, type) VALUES ($1, $2, $3)
			RETURNING id`, p.CaseID, p.Name, p.Type).Scan(&p.ID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to save panel member")
		}
	}
	c.PanelMembers = append(c.PanelMembers, m.PanelMembers...)

	if m.Status != "" {
		from := c.Status
		err := tx.QueryRow(ctx, `
			UPDATE cases SET status = $2, updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at`, caseID, m.Status).Scan(&c.UpdatedAt)
		if err != nil {
			return nil, errors.Wrap(err, "failed to update case status")
		}
		c.Status = m.Status

		if err := insertHistory(ctx, tx, domain.StatusChange{
			CaseID:   caseID,
			From:     &from,
			To:       m.Status,
			Trigger:  m.Trigger,
			ActorID:  m.ActorID,
			Override: m.Override,
		}); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to commit transaction")
	}

	return c, nil
}

// AddEvidence attaches evidence to an existing case
func (r *PostgresRepository) AddEvidence(ctx context.Context, caseID types.ID, evidence []domain.Evidence) ([]domain.Evidence, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := lockCase(ctx, tx, caseID); err != nil {
		return nil, err
	}

	saved, err := insertEvidence(ctx, tx, caseID, evidence)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to commit transaction")
	}
	return saved, nil
}

// AddWitnesses attaches witnesses to an existing case
func (r *PostgresRepository) AddWitnesses(ctx context.Context, caseID types.ID, witnesses []domain.Witness) ([]domain.Witness, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := lockCase(ctx, tx, caseID); err != nil {
		return nil, err
	}

	saved := make([]domain.Witness, 0, len(witnesses))
	for _, w := range witnesses {
		w.CaseID = caseID
		err := tx.QueryRow(ctx, `
			INSERT INTO witnesses (case_id, name, contact) VALUES ($1, $2, $3)
			RETURNING id`, w.CaseID, w.Name, w.Contact).Scan(&w.ID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to save witness")
		}
		saved = append(saved, w)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to commit transaction")
	}
	return saved, nil
}

// FindByID finds a case by ID
func (r *PostgresRepository) FindByID(ctx context.Context, id types.ID, depth domain.LoadDepth) (*domain.Case, error) {
	c, err := scanSummary(r.pool.QueryRow(ctx, summarySelect+` WHERE c.id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("case", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find case")
	}

	if depth == domain.DepthFull {
		if err := r.loadRelations(ctx, c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (r *PostgresRepository) loadRelations(ctx context.Context, c *domain.Case) error {
	parties, err := collect(ctx, r.pool, `
		SELECT id, case_id, name, email, phone, address, notified, agreed_to_mediate, responded_at
		FROM opposite_parties WHERE case_id = $1 ORDER BY id`, c.ID,
		func(row pgx.CollectableRow) (domain.OppositeParty, error) {
			var p domain.OppositeParty
			err := row.Scan(&p.ID, &p.CaseID, &p.Name, &p.Email, &p.Phone, &p.Address,
				&p.Notified, &p.AgreedToMediate, &p.RespondedAt)
			return p, err
		})
	if err != nil {
		return errors.Wrap(err, "failed to load opposite parties")
	}
	c.OppositeParties = parties

	c.Evidence, err = collect(ctx, r.pool, `
		SELECT id, case_id, file_type, file_url, uploaded_at
		FROM evidence WHERE case_id = $1 ORDER BY id`, c.ID,
		func(row pgx.CollectableRow) (domain.Evidence, error) {
			var e domain.Evidence
			err := row.Scan(&e.ID, &e.CaseID, &e.FileType, &e.FileURL, &e.UploadedAt)
			return e, err
		})
	if err != nil {
		return errors.Wrap(err, "failed to load evidence")
	}

	c.PanelMembers, err = collect(ctx, r.pool, `
		SELECT id, case_id, name, type FROM panel_members WHERE case_id = $1 ORDER BY id`, c.ID,
		func(row pgx.CollectableRow) (domain.PanelMember, error) {
			var p domain.PanelMember
			err := row.Scan(&p.ID, &p.CaseID, &p.Name, &p.Type)
			return p, err
		})
	if err != nil {
		return errors.Wrap(err, "failed to load panel members")
	}

	c.Witnesses, err = collect(ctx, r.pool, `
		SELECT id, case_id, name, contact FROM witnesses WHERE case_id = $1 ORDER BY id`, c.ID,
		func(row pgx.CollectableRow) (domain.Witness, error) {
			var w domain.Witness
			err := row.Scan(&w.ID, &w.CaseID, &w.Name, &w.Contact)
			return w, err
		})
	if err != nil {
		return errors.Wrap(err, "failed to load witnesses")
	}

	return nil
}

// FindMany lists cases matching the filter, newest first
func (r *PostgresRepository) FindMany(ctx context.Context, filter domain.ListFilter) ([]domain.Case, error) {
	var conditions []string
	var args []any
	argNum := 1

	if filter.OwnerID != nil {
		conditions = append(conditions, fmt.Sprintf("c.user_id = $%d", argNum))
		args = append(args, *filter.OwnerID)
		argNum++
	}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("c.status = $%d", argNum))
		args = append(args, *filter.Status)
		argNum++
	}

	if filter.CaseType != nil {
		conditions = append(conditions, fmt.Sprintf("c.case_type = $%d", argNum))
		args = append(args, *filter.CaseType)
		argNum++
	}

	if start, end, ok := filter.DayRange(); ok {
		conditions = append(conditions, fmt.Sprintf("c.created_at >= $%d AND c.created_at < $%d", argNum, argNum+1))
		args = append(args, start, end)
		argNum += 2
	}

	if filter.Unnotified {
		conditions = append(conditions, "op.email IS NOT NULL AND op.notified = FALSE")
	}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf(`(c.description ILIKE $%d
			OR u.name ILIKE $%d
			OR EXISTS (SELECT 1 FROM opposite_parties p WHERE p.case_id = c.id AND p.name ILIKE $%d))`,
			argNum, argNum, argNum))
		args = append(args, likePattern(filter.Search))
		argNum++
	}

	query := summarySelect
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY c.created_at DESC, c.id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list cases")
	}
	defer rows.Close()

	cases := []domain.Case{}
	for rows.Next() {
		c, err := scanSummary(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan case")
		}
		cases = append(cases, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to list cases")
	}

	return cases, nil
}

// CountByStatus counts cases per status
func (r *PostgresRepository) CountByStatus(ctx context.Context) (map[domain.CaseStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM cases GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count cases")
	}
	defer rows.Close()

	counts := make(map[domain.CaseStatus]int)
	for rows.Next() {
		var status domain.CaseStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan count")
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to count cases")
	}
	return counts, nil
}

// StatusHistory returns the status changes of a case, oldest first
func (r *PostgresRepository) StatusHistory(ctx context.Context, caseID types.ID) ([]domain.StatusChange, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cases WHERE id = $1)`, caseID).Scan(&exists); err != nil {
		return nil, errors.Wrap(err, "failed to find case")
	}
	if !exists {
		return nil, errors.NotFound("case", caseID.String())
	}

	history, err := collect(ctx, r.pool, `
		SELECT id, case_id, from_status, to_status, trigger, actor_id, override, occurred_at
		FROM case_status_history WHERE case_id = $1
		ORDER BY occurred_at, id`, caseID,
		func(row pgx.CollectableRow) (domain.StatusChange, error) {
			var s domain.StatusChange
			err := row.Scan(&s.ID, &s.CaseID, &s.From, &s.To, &s.Trigger, &s.ActorID, &s.Override, &s.OccurredAt)
			return s, err
		})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load status history")
	}
	return history, nil
}

// FindUser finds an account by ID
func (r *PostgresRepository) FindUser(ctx context.Context, id types.ID) (*domain.User, error) {
	u := &domain.User{}
	err := r.pool.QueryRow(ctx, `SELECT id, name, email, role, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find user")
	}
	return u, nil
}

func lockCase(ctx context.Context, tx pgx.Tx, caseID types.ID) error {
	var id types.ID
	err := tx.QueryRow(ctx, `SELECT id FROM cases WHERE id = $1 FOR UPDATE`, caseID).Scan(&id)
	if err == pgx.ErrNoRows {
		return errors.NotFound("case", caseID.String())
	}
	if err != nil {
		return errors.Wrap(err, "failed to lock case")
	}
	return nil
}

func insertEvidence(ctx context.Context, tx pgx.Tx, caseID types.ID, evidence []domain.Evidence) ([]domain.Evidence, error) {
	saved := make([]domain.Evidence, 0, len(evidence))
	for _, e := range evidence {
		e.CaseID = caseID
		err := tx.QueryRow(ctx, `
			INSERT INTO evidence (case_id, file_type, file_url) VALUES ($1, $2, $3)
			RETURNING id, uploaded_at`, e.CaseID, e.FileType, e.FileURL).Scan(&e.ID, &e.UploadedAt)
		if err != nil {
			return nil, errors.Wrap(err, "failed to save evidence")
		}
		saved = append(saved, e)
	}
	return saved, nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, s domain.StatusChange) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO case_status_history (case_id, from_status, to_status, trigger, actor_id, override)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.CaseID, s.From, s.To, s.Trigger, s.ActorID, s.Override)
	if err != nil {
		return errors.Wrap(err, "failed to record status change")
	}
	return nil
}

func scanSummary(row pgx.Row) (*domain.Case, error) {
	c := &domain.Case{User: &domain.UserSummary{}}
	var (
		opID      *types.ID
		opName    *string
		opEmail   *string
		opPhone   *string
		opAddress *string
		opNotif   *bool
		opAgreed  *bool
		opAnswer  *time.Time
	)

	err := row.Scan(
		&c.ID, &c.UserID, &c.CaseType, &c.Description, &c.IsPendingInCourt,
		&c.CaseNumber, &c.InstitutionName, &c.Status, &c.CreatedAt, &c.UpdatedAt,
		&c.User.ID, &c.User.Name, &c.User.Email,
		&opID, &opName, &opEmail, &opPhone, &opAddress,
		&opNotif, &opAgreed, &opAnswer,
	)
	if err != nil {
		return nil, err
	}

	if opID != nil {
		c.OppositeParties = []domain.OppositeParty{{
			ID:              *opID,
			CaseID:          c.ID,
			Name:            *opName,
			Email:           opEmail,
			Phone:           opPhone,
			Address:         opAddress,
			Notified:        opNotif != nil && *opNotif,
			AgreedToMediate: opAgreed,
			RespondedAt:     opAnswer,
		}}
	}

	return c, nil
}

func collect[T any](ctx context.Context, q querier, sql string, caseID types.ID, scan pgx.RowToFunc[T]) ([]T, error) {
	rows, err := q.Query(ctx, sql, caseID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scan)
}

// likePattern escapes LIKE wildcards in user input
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

var _ domain.Repository = (*PostgresRepository)(nil)
