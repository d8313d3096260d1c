// Package api exposes the lifecycle Service over HTTP. It is a thin adapter:
// every rule lives in the Service.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle"
)

// Handler handles HTTP requests for the content lifecycle
type Handler struct {
	service lifecycle.Service
	kinds   *lifecycle.KindRegistry
	jwt     *jwtauth.JWTAuth
	logger  *slog.Logger
}

// Option configures a Handler
type Option func(*Handler)

// WithJWTAuth requires a valid JWT on every route; its "sub" claim is the actor
func WithJWTAuth(ja *jwtauth.JWTAuth) Option {
	return func(h *Handler) {
		h.jwt = ja
	}
}

// WithLogger sets the handler logger
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler creates a new lifecycle handler
func NewHandler(service lifecycle.Service, kinds *lifecycle.KindRegistry, options ...Option) *Handler {
	h := &Handler{service: service, kinds: kinds, logger: slog.Default()}
	for _, option := range options {
		option(h)
	}
	return h
}

// Routes returns the routes for the lifecycle API
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	if h.jwt != nil {
		r.Use(jwtauth.Verifier(h.jwt))
		r.Use(jwtauth.Authenticator)
	}

	r.Get("/kinds", h.ListKinds)

	r.Route("/content/{kind}", func(r chi.Router) {
		r.Post("/", h.CreateItem)
		r.Get("/{id}", h.GetItem)
		r.Put("/{id}", h.UpdateItem)

		r.Post("/{id}/publish", h.Publish)
		r.Post("/{id}/unpublish", h.Unpublish)
		r.Post("/{id}/schedule", h.SchedulePublish)

		r.Post("/{id}/approval-requests", h.RequestApproval)
		r.Get("/{id}/approval-requests", h.ListApprovalRequests)

		r.Get("/{id}/versions", h.History)
		r.Get("/{id}/versions/latest", h.LatestVersion)
		r.Get("/{id}/versions/compare", h.CompareVersions)
		r.Post("/{id}/versions/prune", h.PruneVersions)
		r.Get("/{id}/versions/{number}", h.GetVersion)
		r.Post("/{id}/versions/{number}/rollback", h.Rollback)
	})

	r.Get("/approval-requests/{requestID}", h.GetApprovalRequest)
	r.Post("/approval-requests/{requestID}/approve", h.Approve)
	r.Post("/approval-requests/{requestID}/reject", h.Reject)

	r.Get("/sites/{siteID}/pending-approvals", h.PendingApprovals)

	return r
}

// CreateItemRequest is the request body for creating a content item
type CreateItemRequest struct {
	SiteID string                 `json:"site_id"`
	Fields map[string]interface{} `json:"fields"`
}

// UpdateItemRequest is the request body for editing a content item
type UpdateItemRequest struct {
	Fields        map[string]interface{} `json:"fields"`
	ChangeSummary string                 `json:"change_summary,omitempty"`
}

// ScheduleRequest is the request body for scheduling a publish
type ScheduleRequest struct {
	PublishAt time.Time `json:"publish_at"`
}

// ApprovalRequestBody is the request body for requesting approval
type ApprovalRequestBody struct {
	Message string `json:"message"`
}

// RejectRequest is the request body for rejecting a request
type RejectRequest struct {
	Reason string `json:"reason"`
}

// PruneRequest is the request body for pruning versions
type PruneRequest struct {
	KeepLast int `json:"keep_last"`
}

// PruneResponse reports how many versions were removed
type PruneResponse struct {
	Deleted int `json:"deleted"`
}

// ItemVersionResponse pairs an item with the version an operation created
type ItemVersionResponse struct {
	Item    lifecycle.Item     `json:"item"`
	Version *lifecycle.Version `json:"version"`
}

// ItemRequestResponse pairs an item with its approval request
type ItemRequestResponse struct {
	Item    lifecycle.Item             `json:"item"`
	Request *lifecycle.ApprovalRequest `json:"request"`
}

// helpers

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := actorID(r)
	if err != nil {
		if errors.Is(err, errNoActor) {
			h.writeError(w, r, err)
		} else {
			h.badRequest(w, r, err.Error())
		}
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) kind(w http.ResponseWriter, r *http.Request) (lifecycle.Kind, bool) {
	kind := lifecycle.Kind(chi.URLParam(r, "kind"))
	if !h.kinds.Has(kind) {
		h.writeError(w, r, lifecycle.ErrUnknownKind)
		return "", false
	}
	return kind, true
}

func (h *Handler) uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		h.badRequest(w, r, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) subject(w http.ResponseWriter, r *http.Request) (lifecycle.Subject, bool) {
	kind, ok := h.kind(w, r)
	if !ok {
		return lifecycle.Subject{}, false
	}
	id, ok := h.uuidParam(w, r, "id")
	if !ok {
		return lifecycle.Subject{}, false
	}
	return lifecycle.Subject{Kind: kind, ID: id}, true
}

// loadItem resolves the {kind}/{id} path to the stored item
func (h *Handler) loadItem(w http.ResponseWriter, r *http.Request) (lifecycle.Item, bool) {
	subject, ok := h.subject(w, r)
	if !ok {
		return nil, false
	}
	item, err := h.service.GetItem(r.Context(), subject.Kind, subject.ID)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return item, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.badRequest(w, r, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func versionNumber(r *http.Request, name string) (int, error) {
	return strconv.Atoi(chi.URLParam(r, name))
}

// Handlers

// ListKinds returns every registered content kind
func (h *Handler) ListKinds(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Kinds())
}

// CreateItem creates a draft item and its first version
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req CreateItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	siteID, err := uuid.Parse(req.SiteID)
	if err != nil {
		h.badRequest(w, r, "Invalid site ID")
		return
	}

	item, err := h.kinds.New(kind)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := lifecycle.ApplyFields(item, req.Fields); err != nil {
		h.badRequest(w, r, "Invalid fields: "+err.Error())
		return
	}
	item.Meta().SiteID = siteID

	version, err := h.service.CreateItem(r.Context(), item, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Content created", "kind", kind, "id", item.Meta().ID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, ItemVersionResponse{Item: item, Version: version})
}

// GetItem returns the stored item
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, item)
}

// UpdateItem applies field edits and records a version
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}

	var req UpdateItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := lifecycle.ApplyFields(item, req.Fields); err != nil {
		h.badRequest(w, r, "Invalid fields: "+err.Error())
		return
	}

	version, err := h.service.UpdateItem(r.Context(), item, actor, req.ChangeSummary)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, ItemVersionResponse{Item: item, Version: version})
}

// Publish publishes the item immediately
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}
	if err := h.service.Publish(r.Context(), item, actor); err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, item)
}

// Unpublish returns the item to draft
func (h *Handler) Unpublish(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}
	if err := h.service.Unpublish(r.Context(), item, actor); err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, item)
}

// SchedulePublish stages the item for publication at a future time
func (h *Handler) SchedulePublish(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}
	var req ScheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.SchedulePublish(r.Context(), item, req.PublishAt, actor); err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, item)
}

// RequestApproval opens (or returns the open) approval request
func (h *Handler) RequestApproval(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}
	var req ApprovalRequestBody
	if !h.decode(w, r, &req) {
		return
	}
	request, err := h.service.RequestApproval(r.Context(), item, actor, req.Message)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, ItemRequestResponse{Item: item, Request: request})
}

// ListApprovalRequests returns the item's approval history
func (h *Handler) ListApprovalRequests(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	requests, err := h.service.ListApprovalRequests(r.Context(), subject)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if requests == nil {
		requests = []*lifecycle.ApprovalRequest{}
	}
	render.JSON(w, r, requests)
}

// History returns every version, newest first
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	versions, err := h.service.History(r.Context(), subject)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if versions == nil {
		versions = []*lifecycle.Version{}
	}
	render.JSON(w, r, versions)
}

// LatestVersion returns the newest version
func (h *Handler) LatestVersion(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	version, err := h.service.LatestVersion(r.Context(), subject)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, version)
}

// GetVersion returns one version by number
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	number, err := versionNumber(r, "number")
	if err != nil {
		h.badRequest(w, r, "Invalid version number")
		return
	}
	version, err := h.service.GetVersion(r.Context(), subject, number)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, version)
}

// CompareVersions diffs versions ?a= and ?b=
func (h *Handler) CompareVersions(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	a, errA := strconv.Atoi(r.URL.Query().Get("a"))
	b, errB := strconv.Atoi(r.URL.Query().Get("b"))
	if errA != nil || errB != nil {
		h.badRequest(w, r, "Query parameters a and b must be version numbers")
		return
	}
	changes, err := h.service.CompareVersions(r.Context(), subject, a, b)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, changes)
}

// Rollback restores the item from a version
func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	number, err := versionNumber(r, "number")
	if err != nil {
		h.badRequest(w, r, "Invalid version number")
		return
	}
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}
	version, err := h.service.Rollback(r.Context(), item, number, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, ItemVersionResponse{Item: item, Version: version})
}

// PruneVersions drops all but the most recent versions
func (h *Handler) PruneVersions(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	var req PruneRequest
	if !h.decode(w, r, &req) {
		return
	}
	deleted, err := h.service.PruneVersions(r.Context(), subject, req.KeepLast)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, PruneResponse{Deleted: deleted})
}

// GetApprovalRequest returns one approval request
func (h *Handler) GetApprovalRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uuidParam(w, r, "requestID")
	if !ok {
		return
	}
	request, err := h.service.GetApprovalRequest(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, request)
}

// Approve approves a pending request and publishes its item
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.uuidParam(w, r, "requestID")
	if !ok {
		return
	}
	request, err := h.service.Approve(r.Context(), id, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, request)
}

// Reject rejects a pending request and returns its item to draft
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.uuidParam(w, r, "requestID")
	if !ok {
		return
	}
	var req RejectRequest
	if !h.decode(w, r, &req) {
		return
	}
	request, err := h.service.Reject(r.Context(), id, actor, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, request)
}

// PendingApprovals lists a site's pending items grouped by kind
func (h *Handler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	siteID, ok := h.uuidParam(w, r, "siteID")
	if !ok {
		return
	}
	pending, err := h.service.GetPendingApprovals(r.Context(), siteID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, pending)
}
