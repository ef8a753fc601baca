package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is the server-authoritative lifecycle status of an event request.
// Values outside the known set are kept verbatim for display.
type Status string

const (
	StatusPendingReview     Status = "pending-review"
	StatusApproved          Status = "approved"
	StatusRejected          Status = "rejected"
	StatusReviewRescheduled Status = "review-rescheduled"
	StatusCancelled         Status = "cancelled"
	StatusCompleted         Status = "completed"
)

type Category string

const (
	CategoryTraining   Category = "Training"
	CategoryBloodDrive Category = "BloodDrive"
	CategoryAdvocacy   Category = "Advocacy"
)

// Responder roles in a reschedule negotiation.
const (
	ResponderRequester = "requester"
	ResponderReviewer  = "reviewer"
)

type Person struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
}

type Reviewer struct {
	UserID       string `json:"userId"`
	Name         string `json:"name,omitempty"`
	Role         string `json:"role,omitempty"`
	Email        string `json:"email,omitempty"`
	Municipality string `json:"municipality,omitempty"`
	District     string `json:"district,omitempty"`
	Province     string `json:"province,omitempty"`
}

type ActiveResponder struct {
	Role   string `json:"role"`
	UserID string `json:"userId,omitempty"`
}

type RescheduleProposal struct {
	ProposedBy   string    `json:"proposedBy"`
	ProposedDate time.Time `json:"proposedDate"`
	Note         string    `json:"note,omitempty"`
}

type HistoryEntry struct {
	Status    Status    `json:"status"`
	Actor     string    `json:"actor,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
}

// EventRequest is the central record read and mutated through the API.
// Raw keeps the undecoded payload so server-declared action hints nested in
// arbitrary fields stay available to the capability resolver.
type EventRequest struct {
	ID               string              `json:"id"`
	Title            string              `json:"title"`
	Location         string              `json:"location,omitempty"`
	Category         Category            `json:"category,omitempty"`
	Start            *time.Time          `json:"startDate,omitempty"`
	End              *time.Time          `json:"endDate,omitempty"`
	Description      string              `json:"description,omitempty"`
	Status           Status              `json:"status"`
	Province         string              `json:"province,omitempty"`
	District         string              `json:"district,omitempty"`
	Municipality     string              `json:"municipalityId,omitempty"`
	OrganizationType string              `json:"organizationType,omitempty"`
	OrganizationID   string              `json:"organizationId,omitempty"`
	Requester        *Person             `json:"requester,omitempty"`
	ValidReviewers   []Reviewer          `json:"validReviewers,omitempty"`
	ActiveResponder  *ActiveResponder    `json:"activeResponder,omitempty"`
	Reschedule       *RescheduleProposal `json:"rescheduleProposal,omitempty"`
	StatusHistory    []HistoryEntry      `json:"statusHistory,omitempty"`
	Details          map[string]any      `json:"categoryDetails,omitempty"`
	Raw              json.RawMessage     `json:"-"`
}

func (r *EventRequest) UnmarshalJSON(data []byte) error {
	type plain EventRequest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.ID == "" {
		var ids struct {
			MongoID   string `json:"_id"`
			RequestID string `json:"Request_ID"`
		}
		_ = json.Unmarshal(data, &ids)
		p.ID = ids.RequestID
		if p.ID == "" {
			p.ID = ids.MongoID
		}
	}
	*r = EventRequest(p)
	r.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON re-emits the original payload when the record came off the
// wire, so cached copies keep their server-declared hints.
func (r EventRequest) MarshalJSON() ([]byte, error) {
	if len(r.Raw) > 0 {
		return r.Raw, nil
	}
	type plain EventRequest
	return json.Marshal(plain(r))
}

// Payload decodes Raw into a generic tree for structural walks.
func (r EventRequest) Payload() any {
	if len(r.Raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(r.Raw, &v); err != nil {
		return nil
	}
	return v
}

// NormalizeStatus folds case, spacing, underscores and hyphens so that
// "Pending Review", "pending_review" and "PENDING-REVIEW" compare equal.
func NormalizeStatus(s Status) string {
	var b strings.Builder
	for _, r := range strings.ToLower(string(s)) {
		switch r {
		case ' ', '_', '-', '\t':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Filters are the recognized list query keys. Zero values are omitted from
// the query string.
type Filters struct {
	Status         string `json:"status,omitempty"`
	OrganizationID string `json:"organizationId,omitempty"`
	CoverageAreaID string `json:"coverageAreaId,omitempty"`
	MunicipalityID string `json:"municipalityId,omitempty"`
	District       string `json:"district,omitempty"`
	Province       string `json:"province,omitempty"`
	Category       string `json:"category,omitempty"`
	Page           int    `json:"page,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// ActionInput is the body of POST /event-requests/:id/actions.
type ActionInput struct {
	Action       string     `json:"action"`
	Note         string     `json:"note,omitempty"`
	ProposedDate *time.Time `json:"proposedDate,omitempty"`
}

type Jurisdiction struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Name         string `json:"name"`
	ParentID     string `json:"parentId,omitempty"`
	Province     string `json:"province,omitempty"`
	District     string `json:"district,omitempty"`
	Municipality string `json:"municipality,omitempty"`
}
