// Package contract interprets the {success, message, data, pagination}
// envelope returned by every UNITE API endpoint. Unwrap is the only place
// that reads Success.
package contract

import (
	"bytes"
	"encoding/json"

	"github.com/Pkv562/UNITE/pkg/apierrors"
)

type Envelope struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Pagination *Pagination     `json:"pagination,omitempty"`
}

// Pagination accepts both historical spellings of the totals.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalCount int `json:"totalCount"`
	TotalPages int `json:"totalPages"`
}

func (p *Pagination) UnmarshalJSON(raw []byte) error {
	var wire struct {
		Page       *int `json:"page"`
		Limit      *int `json:"limit"`
		TotalCount *int `json:"totalCount"`
		Total      *int `json:"total"`
		TotalPages *int `json:"totalPages"`
		Pages      *int `json:"pages"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return err
	}
	*p = Pagination{
		Page:       firstInt(wire.Page),
		Limit:      firstInt(wire.Limit),
		TotalCount: firstInt(wire.TotalCount, wire.Total),
		TotalPages: firstInt(wire.TotalPages, wire.Pages),
	}
	return nil
}

func firstInt(vals ...*int) int {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

// Decode parses a response body into an Envelope. Bodies that are not JSON
// objects decode to an unsuccessful envelope with no message.
func Decode(body []byte) Envelope {
	var env Envelope
	if len(bytes.TrimSpace(body)) == 0 {
		return env
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}
	}
	return env
}

// Unwrap returns env.Data when env.Success is true. A missing data field on
// success is a legitimate empty result and yields nil with no error.
func Unwrap(env Envelope) (json.RawMessage, error) {
	if !env.Success {
		return nil, apierrors.Contract("unwrap", env.Message)
	}
	if isNull(env.Data) {
		return nil, nil
	}
	return env.Data, nil
}

// UnwrapInto unwraps env and decodes data into T. Absent data yields the
// zero value of T.
func UnwrapInto[T any](env Envelope) (T, error) {
	var out T
	data, err := Unwrap(env)
	if err != nil {
		return out, err
	}
	if data == nil {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, &apierrors.Error{Kind: apierrors.KindContract, Op: "unwrap", Message: "Malformed response data", Err: err}
	}
	return out, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
