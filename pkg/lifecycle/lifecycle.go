// Package lifecycle is the event-request status machine. Statuses compare
// in normalized form, so "Pending Review" and "pending-review" are one state.
package lifecycle

import (
	"errors"
	"sort"
	"strings"

	"github.com/Pkv562/UNITE/pkg/models"
)

var ErrInvalidTransition = errors.New("invalid event request transition")

// transitions lists, per normalized status, the action that leaves it and
// the status it leads to.
var transitions = map[string]map[string]models.Status{
	"pendingreview": {
		"accept": models.StatusApproved,
		"reject": models.StatusRejected,
		"cancel": models.StatusCancelled,
	},
	"approved": {
		"reschedule": models.StatusReviewRescheduled,
		"cancel":     models.StatusCancelled,
	},
	"reviewrescheduled": {
		"confirm": models.StatusApproved,
		"decline": models.StatusApproved,
		"cancel":  models.StatusCancelled,
	},
}

// Next returns the status action leads to from status.
func Next(from models.Status, action string) (models.Status, error) {
	to, ok := transitions[models.NormalizeStatus(from)][strings.ToLower(strings.TrimSpace(action))]
	if !ok {
		return from, ErrInvalidTransition
	}
	return to, nil
}

func CanTransition(from, to models.Status) bool {
	want := models.NormalizeStatus(to)
	for _, next := range transitions[models.NormalizeStatus(from)] {
		if models.NormalizeStatus(next) == want {
			return true
		}
	}
	return false
}

// Actions lists the actions that leave status, sorted.
func Actions(status models.Status) []string {
	var out []string
	for action := range transitions[models.NormalizeStatus(status)] {
		out = append(out, action)
	}
	sort.Strings(out)
	return out
}

// IsTerminal reports statuses no action leaves.
func IsTerminal(status models.Status) bool {
	return len(transitions[models.NormalizeStatus(status)]) == 0
}
