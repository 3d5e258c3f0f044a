package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"consentledger/internal/consent/models"
	"consentledger/internal/consent/ports"
	"consentledger/internal/platform/middleware"
	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
	"consentledger/pkg/platform/httputil"
	"consentledger/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks

const maxBodyBytes = 64 << 10

// Ledger is the consent ledger as the HTTP layer uses it.
type Ledger interface {
	Submit(ctx context.Context, req models.SubmitRequest) (*models.Event, error)
	States(ctx context.Context, subject id.SubjectID) ([]*models.State, error)
	ExplainState(ctx context.Context, subject id.SubjectID, purpose id.PurposeID) (*models.Explanation, error)
	History(ctx context.Context, subject id.SubjectID) ([]*models.Event, error)
	Gate(ctx context.Context, subject id.SubjectID) (*models.GateResult, error)
}

// Registry is the purpose registry as the HTTP layer uses it.
type Registry interface {
	Register(ctx context.Context, req *models.RegisterPurposeRequest) (*models.Purpose, error)
	List(ctx context.Context) ([]*models.Purpose, error)
	Update(ctx context.Context, purposeID id.PurposeID, req *models.UpdatePurposeRequest) (*models.Purpose, error)
	BumpVersion(ctx context.Context, purposeID id.PurposeID, reason string, actor id.ActorID) (int, error)
	VersionHistory(ctx context.Context, purposeID id.PurposeID) ([]models.VersionChange, error)
}

type Anonymizer interface {
	Anonymize(ctx context.Context, actor id.ActorID, subject id.SubjectID) (string, error)
}

// Handler serves the consent and privacy-admin endpoints.
type Handler struct {
	ledger     Ledger
	registry   Registry
	anonymizer Anonymizer
	identity   ports.IdentityProvider
	authorizer ports.Authorizer
	logger     *slog.Logger
}

func New(
	ledger Ledger,
	registry Registry,
	anonymizer Anonymizer,
	identity ports.IdentityProvider,
	authorizer ports.Authorizer,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		ledger:     ledger,
		registry:   registry,
		anonymizer: anonymizer,
		identity:   identity,
		authorizer: authorizer,
		logger:     logger,
	}
}

// Register mounts the routes on r. Callers put authentication in front.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/consent", func(r chi.Router) {
		r.Post("/", h.handleSubmit)
		r.Get("/", h.handleListStates)
		r.Get("/history", h.handleHistory)
		r.Get("/gate", h.handleGate)
		r.Get("/{purpose}", h.handleGetState)
	})
	r.Route("/v1/admin", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAction(h.authorizer, ports.ActionManagePurposes, h.logger))
			r.Post("/purposes", h.handleRegisterPurpose)
			r.Get("/purposes", h.handleListPurposes)
			r.Patch("/purposes/{id}", h.handleUpdatePurpose)
			r.Post("/purposes/{id}/bump", h.handleBumpVersion)
			r.Get("/purposes/{id}/versions", h.handleVersionHistory)
		})
		// The anonymizer authorizes itself so denied attempts reach the audit log.
		r.Post("/subjects/{subject}/anonymize", h.handleAnonymize)
	})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	var req models.SubmitConsentRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		h.writeError(ctx, w, err)
		return
	}

	event, err := h.ledger.Submit(ctx, models.SubmitRequest{
		SubjectID: subject,
		PurposeID: id.PurposeID(req.Purpose),
		Granted:   *req.Granted,
	})
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, event)
}

func (h *Handler) handleListStates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	states, err := h.ledger.States(ctx, subject)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"states": states})
}

func (h *Handler) handleGetState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	purposeID, err := id.ParsePurposeID(chi.URLParam(r, "purpose"))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	explanation, err := h.ledger.ExplainState(ctx, subject, purposeID)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, explanation)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	events, err := h.ledger.History(ctx, subject)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) handleGate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	result, err := h.ledger.Gate(ctx, subject)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRegisterPurpose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req models.RegisterPurposeRequest
	if !h.decode(w, r, &req) {
		return
	}
	purpose, err := h.registry.Register(ctx, &req)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, purpose)
}

func (h *Handler) handleListPurposes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	purposes, err := h.registry.List(ctx)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"purposes": purposes})
}

func (h *Handler) handleUpdatePurpose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	purposeID, err := id.ParsePurposeID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	var req models.UpdatePurposeRequest
	if !h.decode(w, r, &req) {
		return
	}
	purpose, err := h.registry.Update(ctx, purposeID, &req)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, purpose)
}

type bumpResponse struct {
	Purpose id.PurposeID `json:"purpose"`
	Version int          `json:"version"`
}

func (h *Handler) handleBumpVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	purposeID, err := id.ParsePurposeID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	var req models.BumpVersionRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := id.ActorID(requestcontext.SubjectID(ctx))
	version, err := h.registry.BumpVersion(ctx, purposeID, req.Reason, actor)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, bumpResponse{Purpose: purposeID, Version: version})
}

func (h *Handler) handleVersionHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	purposeID, err := id.ParsePurposeID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	changes, err := h.registry.VersionHistory(ctx, purposeID)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

func (h *Handler) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.subject(w, r)
	if !ok {
		return
	}
	raw, err := url.PathUnescape(chi.URLParam(r, "subject"))
	if err != nil {
		h.writeError(ctx, w, dErrors.New(dErrors.CodeBadRequest, "invalid subject"))
		return
	}
	subject, err := id.ParseSubjectID(raw)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	token, err := h.anonymizer.Anonymize(ctx, id.ActorID(actor), subject)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}

// subject resolves the authenticated subject, writing 401 when there is none.
func (h *Handler) subject(w http.ResponseWriter, r *http.Request) (id.SubjectID, bool) {
	subject, err := h.identity.CurrentSubjectID(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, err)
		return "", false
	}
	return subject, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.logger.WarnContext(r.Context(), "invalid request body",
			"error", err,
			"request_id", requestcontext.RequestID(r.Context()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return false
	}
	return true
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "request failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	httputil.WriteError(w, err)
}
