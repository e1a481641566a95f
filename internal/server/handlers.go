package server

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mobilize-crm/pipeline-service/internal/aggregate"
	"github.com/mobilize-crm/pipeline-service/internal/core/domain"
	"github.com/mobilize-crm/pipeline-service/internal/core/ports"
	"github.com/mobilize-crm/pipeline-service/internal/engine"
	"github.com/mobilize-crm/pipeline-service/internal/guard"
	"github.com/mobilize-crm/pipeline-service/internal/registry"
)

// Handlers wires the core services to the REST routes. The guard is
// checked here for every structural mutation; the registry trusts its
// callers.
type Handlers struct {
	registry *registry.Registry
	engine   *engine.Engine
	views    *aggregate.Service
	guard    *guard.PipelineGuard
	logger   *slog.Logger
}

func NewHandlers(reg *registry.Registry, eng *engine.Engine, views *aggregate.Service, g *guard.PipelineGuard, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{registry: reg, engine: eng, views: views, guard: g, logger: logger}
}

// Mount registers all routes on the router.
func (h *Handlers) Mount(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/pipelines", func(r chi.Router) {
			r.Post("/", h.handleCreatePipeline)
			r.Get("/", h.handleListPipelines)

			r.Route("/{pipelineID}", func(r chi.Router) {
				r.Get("/", h.handleGetPipeline)
				r.Put("/", h.handleUpdatePipeline)
				r.Delete("/", h.handleDeletePipeline)

				r.Get("/stages", h.handleListStages)
				r.Post("/stages", h.handleCreateStage)
				r.Put("/stages/order", h.handleReorderStages)

				r.Get("/summary", h.handleStageSummaries)

				r.Post("/contacts", h.handleAddContact)
				r.Get("/contacts/{contactID}", h.handleGetPlacement)
				r.Delete("/contacts/{contactID}", h.handleRemoveContact)

				r.Get("/memberships", h.handleListMemberships)
			})
		})

		r.Route("/stages/{stageID}", func(r chi.Router) {
			r.Get("/", h.handleGetStage)
			r.Put("/", h.handleUpdateStage)
			r.Delete("/", h.handleDeleteStage)
		})

		r.Route("/memberships/{membershipID}", func(r chi.Router) {
			r.Get("/", h.handleGetMembership)
			r.Post("/move", h.handleMove)
			r.Get("/history", h.handleHistory)
		})

		r.Route("/contacts", func(r chi.Router) {
			r.Get("/", h.handleListContacts)
			r.Get("/{contactID}", h.handleContactBundle)
		})
	})
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// checkGuard loads the pipeline and enforces the immutability rule for
// structural mutations.
func (h *Handlers) checkGuard(r *http.Request, pipelineID string) (*domain.Pipeline, error) {
	p, err := h.registry.GetPipeline(r.Context(), pipelineID)
	if err != nil {
		return nil, err
	}
	if err := h.guard.Check(p); err != nil {
		return nil, err
	}
	return p, nil
}

type createPipelineRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"pipeline_type"`
	OfficeID    string `json:"office_id"`
	ParentStage string `json:"parent_stage"`
}

func (h *Handlers) handleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	var req createPipelineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}

	// Main pipelines are created by bootstrap only; the API always
	// creates custom ones.
	p, err := h.registry.CreatePipeline(r.Context(), registry.CreatePipelineInput{
		Name:        req.Name,
		Description: req.Description,
		Type:        domain.PipelineType(req.Type),
		OfficeID:    req.OfficeID,
		ParentStage: req.ParentStage,
	})
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handlers) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := ports.PipelineListOptions{
		OfficeID:   q.Get("office_id"),
		Type:       domain.PipelineType(q.Get("pipeline_type")),
		MainOnly:   q.Get("main") == "true",
		CustomOnly: q.Get("custom") == "true",
	}
	pipelines, err := h.registry.ListPipelines(r.Context(), opts)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pipelines": pipelines})
}

func (h *Handlers) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	p, err := h.registry.GetPipeline(r.Context(), chi.URLParam(r, "pipelineID"))
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type updatePipelineRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ParentStage string `json:"parent_stage"`
}

func (h *Handlers) handleUpdatePipeline(w http.ResponseWriter, r *http.Request) {
	pipelineID := chi.URLParam(r, "pipelineID")
	if _, err := h.checkGuard(r, pipelineID); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}

	var req updatePipelineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}

	p, err := h.registry.UpdatePipeline(r.Context(), pipelineID, req.Name, req.Description, req.ParentStage)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) handleDeletePipeline(w http.ResponseWriter, r *http.Request) {
	pipelineID := chi.URLParam(r, "pipelineID")
	if _, err := h.checkGuard(r, pipelineID); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	if err := h.registry.DeletePipeline(r.Context(), pipelineID); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (h *Handlers) handleListStages(w http.ResponseWriter, r *http.Request) {
	stages, err := h.views.Stages(r.Context(), chi.URLParam(r, "pipelineID"))
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stages": stages})
}

type stageRequest struct {
	Name             string `json:"name"`
	Order            int    `json:"order"`
	Color            string `json:"color"`
	Description      string `json:"description"`
	AutoMoveDays     int    `json:"auto_move_days"`
	AutoReminder     bool   `json:"auto_reminder"`
	AutoTaskTemplate string `json:"auto_task_template"`
}

func (h *Handlers) handleCreateStage(w http.ResponseWriter, r *http.Request) {
	pipelineID := chi.URLParam(r, "pipelineID")
	if _, err := h.checkGuard(r, pipelineID); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}

	var req stageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}

	st, err := h.registry.CreateStage(r.Context(), registry.CreateStageInput{
		PipelineID:       pipelineID,
		Name:             req.Name,
		Order:            req.Order,
		Color:            req.Color,
		Description:      req.Description,
		AutoMoveDays:     req.AutoMoveDays,
		AutoReminder:     req.AutoReminder,
		AutoTaskTemplate: req.AutoTaskTemplate,
	})
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

type reorderRequest struct {
	StageIDs []string `json:"stage_ids"`
}

func (h *Handlers) handleReorderStages(w http.ResponseWriter, r *http.Request) {
	pipelineID := chi.URLParam(r, "pipelineID")
	if _, err := h.checkGuard(r, pipelineID); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}

	var req reorderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}

	if err := h.registry.ReorderStages(r.Context(), pipelineID, req.StageIDs); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	stages, err := h.registry.GetActiveStages(r.Context(), pipelineID)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stages": stages})
}

func (h *Handlers) handleStageSummaries(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.views.StageSummaries(r.Context(), chi.URLParam(r, "pipelineID"))
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stages": summaries})
}

func (h *Handlers) handleGetStage(w http.ResponseWriter, r *http.Request) {
	st, err := h.registry.GetStage(r.Context(), chi.URLParam(r, "stageID"))
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) handleUpdateStage(w http.ResponseWriter, r *http.Request) {
	stageID := chi.URLParam(r, "stageID")
	existing, err := h.registry.GetStage(r.Context(), stageID)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	if _, err := h.checkGuard(r, existing.PipelineID); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}

	var req stageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}

	st := &domain.Stage{
		ID:               stageID,
		PipelineID:       existing.PipelineID,
		Name:             req.Name,
		Order:            req.Order,
		Color:            req.Color,
		Description:      req.Description,
		AutoMoveDays:     req.AutoMoveDays,
		AutoReminder:     req.AutoReminder,
		AutoTaskTemplate: req.AutoTaskTemplate,
		CreatedAt:        existing.CreatedAt,
	}
	if st.Name == "" {
		st.Name = existing.Name
	}
	if st.Order == 0 {
		st.Order = existing.Order
	}
	if err := h.registry.UpdateStage(r.Context(), st); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) handleDeleteStage(w http.ResponseWriter, r *http.Request) {
	stageID := chi.URLParam(r, "stageID")
	existing, err := h.registry.GetStage(r.Context(), stageID)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	if _, err := h.checkGuard(r, existing.PipelineID); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}

	if err := h.registry.DeleteStage(r.Context(), stageID); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

type addContactRequest struct {
	ContactID   string `json:"contact_id"`
	ContactKind string `json:"contact_kind"`
	StageID     string `json:"stage_id"`
}

func (h *Handlers) handleAddContact(w http.ResponseWriter, r *http.Request) {
	var req addContactRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}

	m, err := h.engine.AddContactToPipeline(r.Context(), engine.AddContactInput{
		PipelineID:  chi.URLParam(r, "pipelineID"),
		ContactID:   req.ContactID,
		ContactKind: domain.ContactKind(req.ContactKind),
		StageID:     req.StageID,
		ActorID:     GetActorID(r.Context()),
	})
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handlers) handleGetPlacement(w http.ResponseWriter, r *http.Request) {
	m, err := h.engine.FindMembership(r.Context(), chi.URLParam(r, "pipelineID"), chi.URLParam(r, "contactID"))
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handlers) handleRemoveContact(w http.ResponseWriter, r *http.Request) {
	err := h.engine.RemoveContactFromPipeline(r.Context(), chi.URLParam(r, "pipelineID"), chi.URLParam(r, "contactID"))
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// membershipRow is a membership listing entry with its stage age attached.
type membershipRow struct {
	domain.Membership
	DaysInStage int `json:"days_in_stage"`
}

func (h *Handlers) handleListMemberships(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	memberships, err := h.engine.ListMemberships(r.Context(), ports.MembershipListOptions{
		PipelineID: chi.URLParam(r, "pipelineID"),
		StageID:    q.Get("stage_id"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}

	rows := make([]membershipRow, 0, len(memberships))
	for _, m := range memberships {
		rows = append(rows, membershipRow{Membership: *m, DaysInStage: h.engine.StageAge(m)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"memberships": rows})
}

func (h *Handlers) handleGetMembership(w http.ResponseWriter, r *http.Request) {
	m, err := h.engine.GetMembership(r.Context(), chi.URLParam(r, "membershipID"))
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type moveRequest struct {
	ToStageID string `json:"to_stage_id"`
	Notes     string `json:"notes"`
}

func (h *Handlers) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}

	m, err := h.engine.MoveToStage(r.Context(), engine.MoveInput{
		MembershipID: chi.URLParam(r, "membershipID"),
		ToStageID:    req.ToStageID,
		ActorID:      GetActorID(r.Context()),
		Notes:        req.Notes,
	})
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// historyEntry is a transition joined with stage names for display. Names
// are empty when the stage has since been deleted; the ids remain.
type historyEntry struct {
	domain.Transition
	FromStageName string `json:"from_stage_name,omitempty"`
	ToStageName   string `json:"to_stage_name,omitempty"`
}

func (h *Handlers) handleHistory(w http.ResponseWriter, r *http.Request) {
	membershipID := chi.URLParam(r, "membershipID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	m, err := h.engine.GetMembership(r.Context(), membershipID)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	transitions, err := h.engine.History(r.Context(), membershipID, limit)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}

	names := map[string]string{}
	if stages, err := h.registry.GetActiveStages(r.Context(), m.PipelineID); err == nil {
		for _, st := range stages {
			names[st.ID] = st.Name
		}
	}

	entries := make([]historyEntry, 0, len(transitions))
	for _, tr := range transitions {
		entries = append(entries, historyEntry{
			Transition:    *tr,
			FromStageName: names[tr.FromStageID],
			ToStageName:   names[tr.ToStageID],
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"transitions": entries})
}

func (h *Handlers) handleListContacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))

	result, err := h.views.ListContacts(r.Context(), ports.ContactListOptions{
		Kind:     domain.ContactKind(q.Get("kind")),
		OfficeID: q.Get("office_id"),
		Search:   q.Get("search"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) handleContactBundle(w http.ResponseWriter, r *http.Request) {
	bundle, err := h.views.Bundle(r.Context(), chi.URLParam(r, "contactID"))
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}
