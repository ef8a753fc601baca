// Package jurisdictions reads the jurisdiction catalogue and asks the server
// to validate a proposed jurisdiction assignment. Matching itself is
// server-side.
package jurisdictions

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Pkv562/UNITE/pkg/contract"
	"github.com/Pkv562/UNITE/pkg/eventrequests"
	"github.com/Pkv562/UNITE/pkg/gateway"
	"github.com/Pkv562/UNITE/pkg/models"
)

const (
	PathV1 = "/api/v1/jurisdictions"
	PathV2 = "/api/v2/jurisdictions"
)

type Service struct {
	api    eventrequests.API
	base   string
	logger *slog.Logger
}

func New(api eventrequests.API, base string, logger *slog.Logger) *Service {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = PathV2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{api: api, base: base, logger: logger}
}

// ValidateInput names the jurisdiction a request or user is being placed in.
type ValidateInput struct {
	Province       string `json:"province,omitempty"`
	District       string `json:"district,omitempty"`
	MunicipalityID string `json:"municipalityId,omitempty"`
	CoverageAreaID string `json:"coverageAreaId,omitempty"`
	OrganizationID string `json:"organizationId,omitempty"`
}

type ValidateResult struct {
	Valid   bool     `json:"valid"`
	Message string   `json:"message,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// List accepts either a bare array or {jurisdictions: [...]} as data.
func (s *Service) List(ctx context.Context) ([]models.Jurisdiction, error) {
	data, err := s.call(ctx, "list jurisdictions", s.base, gateway.Options{})
	if err != nil {
		return nil, err
	}
	var items []models.Jurisdiction
	if json.Unmarshal(data, &items) == nil && items != nil {
		return items, nil
	}
	var wire struct {
		Jurisdictions []models.Jurisdiction `json:"jurisdictions"`
	}
	if json.Unmarshal(data, &wire) == nil && wire.Jurisdictions != nil {
		return wire.Jurisdictions, nil
	}
	return []models.Jurisdiction{}, nil
}

func (s *Service) Validate(ctx context.Context, in ValidateInput) (ValidateResult, error) {
	data, err := s.call(ctx, "validate jurisdiction", s.base+"/validate", gateway.Options{Method: http.MethodPost, Body: in})
	if err != nil {
		return ValidateResult{}, err
	}
	out := ValidateResult{Valid: true}
	if data != nil {
		_ = json.Unmarshal(data, &out)
	}
	return out, nil
}

func (s *Service) call(ctx context.Context, op, path string, opts gateway.Options) (json.RawMessage, error) {
	raw, err := s.api.RequestJSON(ctx, path, opts)
	if err != nil {
		s.logger.Warn("jurisdiction call failed", "op", op, "path", path, "error", err)
		return nil, err
	}
	data, err := contract.Unwrap(contract.Decode(raw))
	if err != nil {
		s.logger.Warn("jurisdiction call rejected", "op", op, "path", path, "message", err.Error())
		return nil, err
	}
	return data, nil
}
