// Package eventrequests holds one function per event-request endpoint. Each
// builds its URL and payload, calls the gateway and unwraps the envelope.
// Nothing here caches or publishes events; that is the caller's job.
package eventrequests

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Pkv562/UNITE/pkg/apierrors"
	"github.com/Pkv562/UNITE/pkg/contract"
	"github.com/Pkv562/UNITE/pkg/gateway"
	"github.com/Pkv562/UNITE/pkg/models"
)

const (
	PathV1 = "/api/v1/event-requests"
	PathV2 = "/api/v2/event-requests"
)

const ActionReschedule = "reschedule"

// API is the subset of *gateway.Client the services need.
type API interface {
	RequestJSON(ctx context.Context, pathOrURL string, opts gateway.Options) (json.RawMessage, error)
}

type Service struct {
	api    API
	base   string
	logger *slog.Logger
}

type Option func(*Service)

// WithBasePath points the service at another endpoint family, e.g. PathV1.
func WithBasePath(p string) Option {
	return func(s *Service) {
		if p = strings.TrimRight(strings.TrimSpace(p), "/"); p != "" {
			s.base = p
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(api API, opts ...Option) *Service {
	s := &Service{api: api, base: PathV2, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) BasePath() string { return s.base }

type ListResult struct {
	Items      []models.EventRequest `json:"requests"`
	Pagination *contract.Pagination  `json:"pagination,omitempty"`
}

type DeleteResult struct {
	Message string `json:"message"`
}

// BuildQuery encodes the recognized filter keys. Empty strings and
// non-positive numbers are omitted entirely.
func BuildQuery(f models.Filters) url.Values {
	q := url.Values{}
	add := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			q.Set(k, v)
		}
	}
	add("status", f.Status)
	add("organizationId", f.OrganizationID)
	add("coverageAreaId", f.CoverageAreaID)
	add("municipalityId", f.MunicipalityID)
	add("district", f.District)
	add("province", f.Province)
	add("category", f.Category)
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	return q
}

func (s *Service) ListRequests(ctx context.Context, f models.Filters) (ListResult, error) {
	env, err := s.call(ctx, "list requests", s.base, gateway.Options{Query: BuildQuery(f)})
	if err != nil {
		return ListResult{}, err
	}
	data, err := s.unwrap("list requests", env)
	if err != nil {
		return ListResult{}, err
	}
	var wire struct {
		Requests   json.RawMessage      `json:"requests"`
		Pagination *contract.Pagination `json:"pagination"`
	}
	_ = json.Unmarshal(data, &wire)
	out := ListResult{Items: decodeRequests(wire.Requests), Pagination: wire.Pagination}
	if out.Pagination == nil {
		out.Pagination = env.Pagination
	}
	return out, nil
}

// decodeRequests tolerates a missing or non-array payload and skips
// elements that are not request objects.
func decodeRequests(raw json.RawMessage) []models.EventRequest {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return []models.EventRequest{}
	}
	items := make([]models.EventRequest, 0, len(elems))
	for _, e := range elems {
		var r models.EventRequest
		if err := json.Unmarshal(e, &r); err != nil {
			continue
		}
		items = append(items, r)
	}
	return items
}

func (s *Service) GetRequest(ctx context.Context, id string) (models.EventRequest, error) {
	path, err := s.itemPath("get request", id, "")
	if err != nil {
		return models.EventRequest{}, err
	}
	return s.requestRecord(ctx, "get request", path, gateway.Options{})
}

func (s *Service) ListValidReviewers(ctx context.Context, id string) ([]models.Reviewer, error) {
	path, err := s.itemPath("list reviewers", id, "/reviewers")
	if err != nil {
		return nil, err
	}
	env, err := s.call(ctx, "list reviewers", path, gateway.Options{})
	if err != nil {
		return nil, err
	}
	data, err := s.unwrap("list reviewers", env)
	if err != nil {
		return nil, err
	}
	var wire struct {
		ValidReviewers []models.Reviewer `json:"validReviewers"`
	}
	if err := json.Unmarshal(data, &wire); err != nil || wire.ValidReviewers == nil {
		return []models.Reviewer{}, nil
	}
	return wire.ValidReviewers, nil
}

// ExecuteAction posts a lifecycle action. A reschedule without a proposed
// date fails before any network call.
func (s *Service) ExecuteAction(ctx context.Context, id string, in models.ActionInput) (models.EventRequest, error) {
	const op = "execute action"
	in.Action = strings.TrimSpace(in.Action)
	if in.Action == "" {
		return models.EventRequest{}, apierrors.Validation(op, "action is required")
	}
	if strings.EqualFold(in.Action, ActionReschedule) && (in.ProposedDate == nil || in.ProposedDate.IsZero()) {
		return models.EventRequest{}, apierrors.Validation(op, "proposedDate is required to reschedule a request")
	}
	path, err := s.itemPath(op, id, "/actions")
	if err != nil {
		return models.EventRequest{}, err
	}
	return s.requestRecord(ctx, op, path, gateway.Options{Method: http.MethodPost, Body: in})
}

// CreateRequest posts a category-specific payload.
func (s *Service) CreateRequest(ctx context.Context, payload any) (models.EventRequest, error) {
	if payload == nil {
		return models.EventRequest{}, apierrors.Validation("create request", "payload is required")
	}
	return s.requestRecord(ctx, "create request", s.base, gateway.Options{Method: http.MethodPost, Body: payload})
}

func (s *Service) UpdateRequest(ctx context.Context, id string, partial any) (models.EventRequest, error) {
	path, err := s.itemPath("update request", id, "")
	if err != nil {
		return models.EventRequest{}, err
	}
	return s.requestRecord(ctx, "update request", path, gateway.Options{Method: http.MethodPut, Body: partial})
}

func (s *Service) DeleteRequest(ctx context.Context, id string) (DeleteResult, error) {
	const op = "delete request"
	path, err := s.itemPath(op, id, "")
	if err != nil {
		return DeleteResult{}, err
	}
	env, err := s.call(ctx, op, path, gateway.Options{Method: http.MethodDelete})
	if err != nil {
		return DeleteResult{}, err
	}
	data, err := s.unwrap(op, env)
	if err != nil {
		return DeleteResult{}, err
	}
	out := DeleteResult{Message: env.Message}
	var wire DeleteResult
	if json.Unmarshal(data, &wire) == nil && wire.Message != "" {
		out.Message = wire.Message
	}
	return out, nil
}

func (s *Service) requestRecord(ctx context.Context, op, path string, opts gateway.Options) (models.EventRequest, error) {
	env, err := s.call(ctx, op, path, opts)
	if err != nil {
		return models.EventRequest{}, err
	}
	var out models.EventRequest
	data, err := s.unwrap(op, env)
	if err != nil {
		return out, err
	}
	if data == nil {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		s.logger.Warn("event request decode failed", "op", op, "path", path, "error", err)
		return models.EventRequest{}, apierrors.Contract(op, "unexpected event request payload")
	}
	return out, nil
}

func (s *Service) call(ctx context.Context, op, path string, opts gateway.Options) (contract.Envelope, error) {
	raw, err := s.api.RequestJSON(ctx, path, opts)
	if err != nil {
		status := 0
		if e, ok := apierrors.As(err); ok {
			status = e.Status
		}
		s.logger.Warn("event request call failed", "op", op, "path", path, "status", status, "error", err)
		return contract.Envelope{}, err
	}
	return contract.Decode(raw), nil
}

func (s *Service) unwrap(op string, env contract.Envelope) (json.RawMessage, error) {
	data, err := contract.Unwrap(env)
	if err != nil {
		s.logger.Warn("event request rejected", "op", op, "message", err.Error())
		return nil, err
	}
	return data, nil
}

func (s *Service) itemPath(op, id, suffix string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", apierrors.Validation(op, "request id is required")
	}
	return s.base + "/" + url.PathEscape(id) + suffix, nil
}
