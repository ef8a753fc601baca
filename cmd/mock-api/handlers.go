package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Pkv562/UNITE/pkg/auth"
	"github.com/Pkv562/UNITE/pkg/capability"
	"github.com/Pkv562/UNITE/pkg/eventbus"
	"github.com/Pkv562/UNITE/pkg/httpx"
	"github.com/Pkv562/UNITE/pkg/models"
)

func viewerOf(r *http.Request) capability.Viewer {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return capability.Viewer{}
	}
	return p.Viewer()
}

// render adds the viewer's allowed actions to a record so clients can take
// the declared path of the action resolver.
func render(viewer capability.Viewer, rec models.EventRequest) map[string]any {
	rec.Raw = nil
	b, _ := json.Marshal(rec)
	out := map[string]any{}
	_ = json.Unmarshal(b, &out)
	res := capability.Resolve(viewer, rec)
	actions := res.Actions
	if actions == nil {
		actions = []string{}
	}
	out["allowedActions"] = actions
	return out
}

func (s *server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	if ae, ok := asAPIError(err); ok {
		httpx.Error(w, ae.status, ae.msg)
		return
	}
	s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	httpx.Error(w, http.StatusInternalServerError, "Internal server error")
}

func filtersOf(r *http.Request) models.Filters {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return models.Filters{
		Status:         q.Get("status"),
		OrganizationID: q.Get("organizationId"),
		CoverageAreaID: q.Get("coverageAreaId"),
		MunicipalityID: q.Get("municipalityId"),
		District:       q.Get("district"),
		Province:       q.Get("province"),
		Category:       q.Get("category"),
		Page:           page,
		Limit:          min(limit, 100),
	}
}

func (s *server) listRequests(w http.ResponseWriter, r *http.Request) {
	viewer := viewerOf(r)
	p := s.store.list(filtersOf(r))
	items := make([]map[string]any, 0, len(p.Items))
	for _, rec := range p.Items {
		items = append(items, render(viewer, rec))
	}
	pagination := map[string]int{"page": p.Page, "limit": p.Limit, "totalCount": p.TotalCount, "totalPages": p.TotalPages}
	httpx.WriteJSON(w, http.StatusOK, httpx.Envelope{
		Success:    true,
		Data:       map[string]any{"requests": items, "pagination": pagination},
		Pagination: pagination,
	})
}

func (s *server) getRequest(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, render(viewerOf(r), rec))
}

func (s *server) listReviewers(w http.ResponseWriter, r *http.Request) {
	reviewers, err := s.store.validReviewers(chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"validReviewers": reviewers})
}

func (s *server) availableActions(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	viewer := viewerOf(r)
	res := capability.Resolve(viewer, rec)
	httpx.OK(w, http.StatusOK, map[string]any{
		"allowedActions": res.Actions,
		"canDelete":      capability.CanDelete(viewer.Grants, rec.Status),
	})
}

func (s *server) createRequest(w http.ResponseWriter, r *http.Request) {
	var in createInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	viewer := viewerOf(r)
	if !capability.HasCapability(viewer.Grants, capability.Capability{Resource: "request", Action: "create"}) {
		httpx.Error(w, http.StatusForbidden, "You do not have permission to create requests")
		return
	}
	rec, err := s.store.create(viewer, in)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.announce(r, rec.ID, "create")
	httpx.WriteJSON(w, http.StatusCreated, httpx.Envelope{Success: true, Message: "Event request created", Data: render(viewer, rec)})
}

func (s *server) updateRequest(w http.ResponseWriter, r *http.Request) {
	var partial map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	viewer := viewerOf(r)
	if !capability.HasCapability(viewer.Grants, capability.Capability{Resource: "request", Action: "update"}) {
		httpx.Error(w, http.StatusForbidden, "You do not have permission to edit this request")
		return
	}
	id := chi.URLParam(r, "id")
	rec, err := s.store.update(id, partial)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.announce(r, id, "update")
	httpx.OK(w, http.StatusOK, render(viewer, rec))
}

func (s *server) deleteRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.remove(viewerOf(r), id); err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.announce(r, id, "delete")
	httpx.WriteJSON(w, http.StatusOK, httpx.Envelope{Success: true, Message: "Event request deleted"})
}

func (s *server) executeAction(w http.ResponseWriter, r *http.Request) {
	var in models.ActionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	viewer := viewerOf(r)
	id := chi.URLParam(r, "id")
	rec, err := s.store.act(viewer, id, in)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.announce(r, id, strings.ToLower(strings.TrimSpace(in.Action)))
	httpx.OK(w, http.StatusOK, render(viewer, rec))
}

func (s *server) listJurisdictions(w http.ResponseWriter, r *http.Request) {
	httpx.OK(w, http.StatusOK, map[string]any{"jurisdictions": s.store.allJurisdictions()})
}

func (s *server) validateJurisdiction(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Province       string `json:"province"`
		District       string `json:"district"`
		MunicipalityID string `json:"municipalityId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	valid, errs := s.store.validate(in.Province, in.District, in.MunicipalityID)
	msg := "Jurisdiction is valid"
	if !valid {
		msg = "Jurisdiction is invalid"
	}
	httpx.OK(w, http.StatusOK, map[string]any{"valid": valid, "message": msg, "errors": errs})
}

type tokenRequest struct {
	UserID     string   `json:"userId"`
	Name       string   `json:"name"`
	Perms      []string `json:"perms"`
	TTLSeconds int      `json:"ttlSeconds"`
}

func (s *server) issueToken(w http.ResponseWriter, r *http.Request) {
	var in tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	tok, err := s.auth.Issue(in.UserID, in.Name, in.Perms, time.Duration(in.TTLSeconds)*time.Second)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"token": tok})
}

// announce fans a requests-changed frame out to websocket subscribers and,
// when configured, to the kafka change topic.
func (s *server) announce(r *http.Request, id, action string) {
	detail := eventbus.RequestsChanged{
		RequestID:     id,
		Action:        action,
		Timestamp:     s.now().UnixMilli(),
		ShouldRefresh: true,
	}
	s.publish(r.Context(), eventbus.TopicRequestsChanged, id, detail)
}
