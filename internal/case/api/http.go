package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/resolveit/platform/internal/case/domain"
	"github.com/resolveit/platform/internal/case/query"
	"github.com/resolveit/platform/internal/case/workflow"
	"github.com/resolveit/platform/internal/shared/auth"
	"github.com/resolveit/platform/internal/shared/errors"
	"github.com/resolveit/platform/internal/shared/middleware"
	"github.com/resolveit/platform/internal/shared/types"
	"go.uber.org/zap"
)

const (
	multipartMemory = 32 << 20
	// maxUploadBytes covers a full set of evidence plus form fields
	maxUploadBytes = workflow.MaxFiles*workflow.MaxFileSize + 1<<20
	maxJSONBytes   = 1 << 20
)

// Handler provides HTTP handlers for the case module
type Handler struct {
	engine    *workflow.Engine
	registrar *workflow.Registrar
	query     *query.Service
	limiter   *middleware.IPRateLimiter
	logger    *zap.Logger
}

// NewHandler creates a new case handler. limiter guards the opposite party
// response endpoint and may be nil.
func NewHandler(engine *workflow.Engine, registrar *workflow.Registrar, q *query.Service, limiter *middleware.IPRateLimiter, logger *zap.Logger) *Handler {
	return &Handler{
		engine:    engine,
		registrar: registrar,
		query:     q,
		limiter:   limiter,
		logger:    logger,
	}
}

// Routes registers the routes available to every signed-in user
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(middleware.MaxBodyBytes(maxUploadBytes)).Post("/register", h.RegisterCase)
	r.Get("/mycases", h.MyCases)

	r.Route("/{caseID}", func(r chi.Router) {
		r.Get("/", h.GetCase)

		respond := r.With(middleware.MaxBodyBytes(maxJSONBytes))
		if h.limiter != nil {
			respond = respond.With(h.limiter.Middleware)
		}
		respond.Post("/submit-opposite-response", h.SubmitOppositeResponse)

		r.With(middleware.MaxBodyBytes(maxUploadBytes)).Post("/upload-evidence", h.UploadEvidence)
		r.With(middleware.MaxBodyBytes(maxJSONBytes)).Post("/nominate-witnesses", h.NominateWitnesses)
	})

	return r
}

// AdminRoutes registers the admin routes
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireRoles(auth.RoleAdmin))
	r.Use(middleware.MaxBodyBytes(maxJSONBytes))

	r.Get("/cases", h.ListCases)
	r.Get("/stats", h.DashboardStats)

	r.Route("/cases/{caseID}", func(r chi.Router) {
		r.Get("/", h.GetCaseAdmin)
		r.Get("/history", h.GetHistory)

		// Status transitions
		r.Post("/update-status", h.UpdateStatus)
		r.Post("/notify", h.MarkNotified)
		r.Post("/create-panel", h.CreatePanel)
		r.Post("/start-mediation", h.StartMediation)
		r.Post("/conclude", h.Conclude)
	})

	return r
}

// AuthorizeRoom lets the case owner and admins follow a case in realtime
func (h *Handler) AuthorizeRoom(ctx context.Context, user *auth.User, caseID types.ID) error {
	owner, err := h.query.CaseOwner(ctx, caseID)
	if errors.Is(err, errors.ErrNotFound) {
		return err
	}
	if err != nil {
		h.logger.Error("Failed to load case for room check", zap.String("case_id", caseID.String()), zap.Error(err))
		return fmt.Errorf("failed to load case")
	}
	if !user.CanAccess(owner) {
		return errors.Forbidden("not authorized to view this case")
	}
	return nil
}

// --- Request/Response types ---

type registerRequest struct {
	CaseType             string    `json:"case_type"`
	Description          string    `json:"description"`
	IsPendingInCourt     boolField `json:"is_pending_in_court"`
	CaseNumber           string    `json:"case_number"`
	InstitutionName      string    `json:"institution_name"`
	OppositePartyName    string    `json:"opposite_party_name"`
	OppositePartyEmail   string    `json:"opposite_party_email"`
	OppositePartyPhone   string    `json:"opposite_party_phone"`
	OppositePartyAddress string    `json:"opposite_party_address"`
}

func (req registerRequest) registration() domain.Registration {
	return domain.Registration{
		CaseType:             req.CaseType,
		Description:          req.Description,
		IsPendingInCourt:     req.IsPendingInCourt.value,
		CaseNumber:           req.CaseNumber,
		InstitutionName:      req.InstitutionName,
		OppositePartyName:    req.OppositePartyName,
		OppositePartyEmail:   req.OppositePartyEmail,
		OppositePartyPhone:   req.OppositePartyPhone,
		OppositePartyAddress: req.OppositePartyAddress,
	}
}

type oppositeResponseRequest struct {
	AgreedToMediate boolField `json:"agreed_to_mediate"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type createPanelRequest struct {
	PanelMembers []workflow.PanelMemberInput `json:"panel_members"`
}

type concludeRequest struct {
	Resolved boolField `json:"resolved"`
}

type nominateWitnessesRequest struct {
	Witnesses []workflow.WitnessInput `json:"witnesses"`
}

// boolField accepts true, false and their string forms, as sent by both
// JSON clients and HTML forms
type boolField struct {
	value bool
	valid bool
}

func (b *boolField) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*b = boolField{}
	switch t := v.(type) {
	case bool:
		b.value, b.valid = t, true
	case string:
		b.value, b.valid = parseBool(t)
	}
	return nil
}

func parseBool(s string) (bool, bool) {
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	return v, err == nil
}

// --- Case handlers ---

func (h *Handler) RegisterCase(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	var req registerRequest
	var files []workflow.File
	if isMultipart(r) {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			h.writeError(w, errors.BadRequest("invalid multipart form"))
			return
		}
		defer r.MultipartForm.RemoveAll()

		req = registerRequest{
			CaseType:             r.FormValue("case_type"),
			Description:          r.FormValue("description"),
			CaseNumber:           r.FormValue("case_number"),
			InstitutionName:      r.FormValue("institution_name"),
			OppositePartyName:    r.FormValue("opposite_party_name"),
			OppositePartyEmail:   r.FormValue("opposite_party_email"),
			OppositePartyPhone:   r.FormValue("opposite_party_phone"),
			OppositePartyAddress: r.FormValue("opposite_party_address"),
		}
		req.IsPendingInCourt.value, req.IsPendingInCourt.valid = parseBool(r.FormValue("is_pending_in_court"))

		opened, closeAll, err := openFiles(r.MultipartForm.File["evidence"])
		if err != nil {
			h.writeError(w, errors.BadRequest("invalid evidence upload"))
			return
		}
		defer closeAll()
		files = opened
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	reg := req.registration()
	fields := errors.FieldErrors{}
	if !req.IsPendingInCourt.valid {
		fields.Add("is_pending_in_court", "Judicial status must be a boolean")
	}
	h.registrar.Validate(reg, files, fields)
	if err := fields.Err(); err != nil {
		h.writeError(w, err)
		return
	}

	c, err := h.registrar.Register(r.Context(), user, reg, files)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) MyCases(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		h.writeError(w, errors.Unauthorized("authentication required"))
		return
	}

	cases, err := h.query.MyCases(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cases)
}

func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caseID(w, r)
	if !ok {
		return
	}

	c, err := h.query.CaseDetail(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if !auth.GetUser(r.Context()).CanAccess(c.UserID) {
		h.writeError(w, errors.Forbidden("not authorized to view this case"))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) SubmitOppositeResponse(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caseID(w, r)
	if !ok {
		return
	}

	var req oppositeResponseRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !req.AgreedToMediate.valid {
		h.writeError(w, errors.Validation("invalid fields: agreed_to_mediate",
			map[string]string{"agreed_to_mediate": "Response must be a boolean"}))
		return
	}

	c, err := h.engine.RespondToMediation(r.Context(), id, req.AgreedToMediate.value, auth.GetUser(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Response submitted successfully",
		"status":  c.Status,
	})
}

func (h *Handler) UploadEvidence(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caseID(w, r)
	if !ok {
		return
	}

	if !isMultipart(r) {
		h.writeError(w, errors.BadRequest("expected multipart/form-data"))
		return
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.writeError(w, errors.BadRequest("invalid multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	files, closeAll, err := openFiles(r.MultipartForm.File["evidence"])
	if err != nil {
		h.writeError(w, errors.BadRequest("invalid evidence upload"))
		return
	}
	defer closeAll()

	saved, err := h.registrar.AddEvidence(r.Context(), auth.GetUser(r.Context()), id, files)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"evidence": saved})
}

func (h *Handler) NominateWitnesses(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caseID(w, r)
	if !ok {
		return
	}

	var req nominateWitnessesRequest
	if !h.decode(w, r, &req) {
		return
	}

	saved, err := h.registrar.NominateWitnesses(r.Context(), auth.GetUser(r.Context()), id, req.Witnesses)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"witnesses": saved})
}

// --- Admin handlers ---

func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cases, err := h.query.ListCases(r.Context(), query.Params{
		Status: q.Get("status"),
		Type:   q.Get("type"),
		Date:   q.Get("date"),
		Search: q.Get("search"),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cases)
}

func (h *Handler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.query.DashboardStats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) GetCaseAdmin(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caseID(w, r)
	if !ok {
		return
	}

	c, err := h.query.CaseDetail(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caseID(w, r)
	if !ok {
		return
	}

	history, err := h.query.History(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  history,
		"total": len(history),
	})
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caseID(w, r)
	if !ok {
		return
	}

	var req updateStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.engine.Transition(r.Context(), id, req.Status, auth.GetUser(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Case status updated to %s", c.Status),
		"case":    c,
	})
}

func (h *Handler) MarkNotified(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caseID(w, r)
	if !ok {
		return
	}

	c, err := h.engine.MarkNotified(r.Context(), id, auth.GetUser(r.Context()))
	h.writeTransition(w, c, err)
}

func (h *Handler) CreatePanel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caseID(w, r)
	if !ok {
		return
	}

	var req createPanelRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.engine.AssemblePanel(r.Context(), id, req.PanelMembers, auth.GetUser(r.Context()))
	h.writeTransition(w, c, err)
}

func (h *Handler) StartMediation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caseID(w, r)
	if !ok {
		return
	}

	c, err := h.engine.BeginMediation(r.Context(), id, auth.GetUser(r.Context()))
	h.writeTransition(w, c, err)
}

func (h *Handler) Conclude(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caseID(w, r)
	if !ok {
		return
	}

	var req concludeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !req.Resolved.valid {
		h.writeError(w, errors.Validation("invalid fields: resolved",
			map[string]string{"resolved": "Outcome must be a boolean"}))
		return
	}

	c, err := h.engine.Conclude(r.Context(), id, req.Resolved.value, auth.GetUser(r.Context()))
	h.writeTransition(w, c, err)
}

// --- Helpers ---

func (h *Handler) caseID(w http.ResponseWriter, r *http.Request) (types.ID, bool) {
	id, err := types.ParseID(chi.URLParam(r, "caseID"))
	if err != nil {
		h.writeError(w, errors.BadRequest("invalid case ID"))
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, errors.BadRequest("invalid request body"))
		return false
	}
	return true
}

func (h *Handler) writeTransition(w http.ResponseWriter, c *domain.Case, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Case status updated to %s", c.Status),
		"case":    c,
	})
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

// openFiles opens every uploaded part. The returned func closes them.
func openFiles(headers []*multipart.FileHeader) ([]workflow.File, func(), error) {
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	files := make([]workflow.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		closers = append(closers, f)
		files = append(files, workflow.File{
			Name:      fh.Filename,
			MediaType: fh.Header.Get("Content-Type"),
			Size:      fh.Size,
			Body:      f,
		})
	}
	return files, closeAll, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps application errors to responses. Server-side failures are
// logged with their cause and answered with a generic message.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var appErr *errors.AppError
	if !errors.As(err, &appErr) {
		appErr = errors.Internal(err)
	}

	if appErr.HTTPStatus >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.Error(err))
		writeJSON(w, appErr.HTTPStatus, map[string]any{
			"error": "internal server error",
			"code":  appErr.Code,
		})
		return
	}

	writeJSON(w, appErr.HTTPStatus, map[string]any{
		"error":   appErr.Message,
		"code":    appErr.Code,
		"details": appErr.Details,
	})
}
