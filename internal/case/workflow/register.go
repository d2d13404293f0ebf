package workflow

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/resolveit/platform/internal/blob"
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
	// MaxFiles is the number of evidence files accepted per request
	MaxFiles = 5
	// MaxFileSize is the size limit of one evidence file
	MaxFileSize = 20 << 20
)

// File is one uploaded evidence file
type File struct {
	Name      string
	MediaType string
	Size      int64
	Body      io.Reader
}

// WitnessInput names one witness to nominate
type WitnessInput struct {
	Name    string  `json:"name"`
	Contact *string `json:"contact"`
}

// Registrar creates cases and attaches material to them
type Registrar struct {
	repo   domain.Repository
	blobs  blob.Store
	out    *broadcaster
	logger *zap.Logger
}

// NewRegistrar creates a registrar. bus may be nil.
func NewRegistrar(repo domain.Repository, blobs blob.Store, hub Publisher, bus events.EventBus, logger *zap.Logger) *Registrar {
	return &Registrar{
		repo:   repo,
		blobs:  blobs,
		out:    newBroadcaster(hub, bus, logger),
		logger: logger,
	}
}

// Validate records every problem with a registration in fields
func (r *Registrar) Validate(reg domain.Registration, files []File, fields errors.FieldErrors) {
	reg.Validate(fields)
	validateFiles(files, fields)
}

// Register validates and stores a new case with its evidence, then
// announces it on the global channel
func (r *Registrar) Register(ctx context.Context, owner *auth.User, reg domain.Registration, files []File) (*domain.Case, error) {
	if owner == nil {
		return nil, errors.Unauthorized("authentication required")
	}

	fields := errors.FieldErrors{}
	r.Validate(reg, files, fields)
	if err := fields.Err(); err != nil {
		return nil, err
	}

	c, party, err := domain.NewCase(owner.ID, reg)
	if err != nil {
		return nil, err
	}

	keys, evidence, err := r.upload(ctx, files)
	if err != nil {
		return nil, err
	}

	created, err := r.repo.CreateCase(ctx, c, party, evidence)
	if err != nil {
		r.discard(keys)
		return nil, err
	}

	metrics.RecordCaseRegistered(string(created.CaseType))
	for _, ev := range evidence {
		metrics.RecordEvidenceUploaded(string(ev.FileType))
	}
	r.logger.Info("Case registered",
		zap.String("case_id", created.ID.String()),
		zap.String("case_type", string(created.CaseType)),
		zap.Int("evidence", len(evidence)),
	)

	r.out.global(created.ID, realtime.NewCaseRegistered(created.ID, created))
	r.out.export(ctx, events.NewEvent(EventTypeRegistered, eventSource, created.ID.String(), map[string]any{
		"case_id":   created.ID,
		"case_type": created.CaseType,
		"owner_id":  created.UserID,
		"evidence":  len(evidence),
	}), owner)

	return created, nil
}

// AddEvidence uploads more files to an existing case
func (r *Registrar) AddEvidence(ctx context.Context, actor *auth.User, caseID types.ID, files []File) ([]domain.Evidence, error) {
	if err := r.authorize(ctx, actor, caseID); err != nil {
		return nil, err
	}

	fields := errors.FieldErrors{}
	if len(files) == 0 {
		fields.Add("evidence", "At least one file is required")
	}
	validateFiles(files, fields)
	if err := fields.Err(); err != nil {
		return nil, err
	}

	keys, evidence, err := r.upload(ctx, files)
	if err != nil {
		return nil, err
	}

	saved, err := r.repo.AddEvidence(ctx, caseID, evidence)
	if err != nil {
		r.discard(keys)
		return nil, err
	}

	for _, ev := range saved {
		metrics.RecordEvidenceUploaded(string(ev.FileType))
	}
	return saved, nil
}

// NominateWitnesses adds witnesses to an existing case
func (r *Registrar) NominateWitnesses(ctx context.Context, actor *auth.User, caseID types.ID, in []WitnessInput) ([]domain.Witness, error) {
	if err := r.authorize(ctx, actor, caseID); err != nil {
		return nil, err
	}

	fields := errors.FieldErrors{}
	if len(in) == 0 {
		fields.Add("witnesses", "Witnesses must be a non-empty list")
	}
	witnesses := make([]domain.Witness, 0, len(in))
	for i, w := range in {
		name := strings.TrimSpace(w.Name)
		if name == "" {
			fields.Add(fmt.Sprintf("witnesses[%d].name", i), "Name is required")
		}
		witness := domain.Witness{Name: name}
		if w.Contact != nil && strings.TrimSpace(*w.Contact) != "" {
			contact := strings.TrimSpace(*w.Contact)
			witness.Contact = &contact
		}
		witnesses = append(witnesses, witness)
	}
	if err := fields.Err(); err != nil {
		return nil, err
	}

	return r.repo.AddWitnesses(ctx, caseID, witnesses)
}

// authorize lets the owner of a case or an admin through
func (r *Registrar) authorize(ctx context.Context, actor *auth.User, caseID types.ID) error {
	if actor == nil {
		return errors.Unauthorized("authentication required")
	}
	c, err := r.repo.FindByID(ctx, caseID, domain.DepthSummary)
	if err != nil {
		return err
	}
	if !actor.CanAccess(c.UserID) {
		return errors.Forbidden("not authorized to modify this case")
	}
	return nil
}

// upload stores every file or none of them
func (r *Registrar) upload(ctx context.Context, files []File) ([]string, []domain.Evidence, error) {
	keys := make([]string, 0, len(files))
	evidence := make([]domain.Evidence, 0, len(files))

	for _, f := range files {
		obj, err := r.blobs.Put(ctx, blob.Upload{
			Name:      f.Name,
			MediaType: f.MediaType,
			Size:      f.Size,
			Body:      f.Body,
		})
		if err != nil {
			r.discard(keys)
			return nil, nil, errors.Internal(fmt.Errorf("failed to store %s: %w", f.Name, err))
		}
		keys = append(keys, obj.Key)
		evidence = append(evidence, domain.Evidence{
			FileType: domain.FileTypeFromMediaType(f.MediaType),
			FileURL:  obj.URL,
		})
	}
	return keys, evidence, nil
}

// discard removes uploads whose case was never written. It does not use
// the request context, which may already be cancelled.
func (r *Registrar) discard(keys []string) {
	if len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, key := range keys {
		if err := r.blobs.Delete(ctx, key); err != nil {
			r.logger.Error("Failed to remove orphaned upload",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
}

func validateFiles(files []File, fields errors.FieldErrors) {
	if len(files) > MaxFiles {
		fields.Add("evidence", fmt.Sprintf("At most %d files may be uploaded", MaxFiles))
	}
	for i, f := range files {
		key := fmt.Sprintf("evidence[%d]", i)
		if _, ok := blob.Extension(f.MediaType); !ok {
			fields.Add(key, "Invalid file type. Only images, videos, audio, and documents are allowed.")
		}
		if f.Size > MaxFileSize {
			fields.Add(key, "File exceeds the 20 MB limit")
		}
	}
}
