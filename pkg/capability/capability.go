// Package capability decides which lifecycle actions a viewer may invoke on
// an event request. Server-declared hints win; otherwise the viewer's
// capability grants are intersected with the actions the status allows.
package capability

import (
	"sort"
	"strings"

	"github.com/Pkv562/UNITE/pkg/models"
)

const (
	SourceDeclared   = "declared"
	SourceCapability = "capability"
	SourceNone       = "none"
)

// Set is a deduplicated collection of normalized action names.
type Set map[string]struct{}

func (s Set) Add(name string) {
	if name = normalize(name); name != "" {
		s[name] = struct{}{}
	}
}

func (s Set) Has(name string) bool {
	_, ok := s[normalize(name)]
	return ok
}

func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Discover walks a decoded JSON payload and collects every action the
// server declared, through a declared-action key or a boolean flag, at
// depth MaxDepth or shallower. Arrays do not add depth.
func Discover(payload any) Set {
	found, _ := DiscoverHints(payload)
	return found
}

// DiscoverHints is Discover that also reports whether the payload carried
// any hint at all. An empty declared list or an all-false flag set is still
// a hint: the server decided, and it offered nothing.
func DiscoverHints(payload any) (Set, bool) {
	w := &walker{found: Set{}}
	w.walk(payload, 0)
	return w.found, w.declared
}

type walker struct {
	found    Set
	declared bool
}

func (w *walker) walk(node any, depth int) {
	switch v := node.(type) {
	case map[string]any:
		if depth > MaxDepth {
			return
		}
		w.collect(v)
		seen := map[string]bool{}
		for _, key := range Containers {
			if child, ok := v[key]; ok {
				seen[key] = true
				w.walk(child, depth+1)
			}
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			if !seen[k] {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			w.walk(v[k], depth+1)
		}
	case []any:
		for _, elem := range v {
			w.walk(elem, depth)
		}
	}
}

func (w *walker) collect(obj map[string]any) {
	for _, key := range DeclaredActionKeys {
		switch list := obj[key].(type) {
		case []any:
			w.declared = true
			for _, item := range list {
				if s, ok := item.(string); ok {
					w.found.Add(s)
				}
			}
		case string:
			w.declared = true
			for _, part := range strings.Split(list, ",") {
				w.found.Add(part)
			}
		}
	}
	for key, action := range BooleanFlags {
		if b, ok := obj[key].(bool); ok {
			w.declared = true
			if b {
				w.found.Add(action)
			}
		}
	}
}

// Matches reports whether action, or any of its synonyms, is in found.
func Matches(found Set, action string) bool {
	action = normalize(action)
	if found.Has(action) {
		return true
	}
	for _, syn := range Synonyms[action] {
		if found.Has(syn) {
			return true
		}
	}
	return false
}

// CandidateActions lists the actions a status permits before capabilities
// are considered. Unknown statuses permit nothing.
func CandidateActions(status models.Status) []string {
	s := models.NormalizeStatus(status)
	var out []string
	switch {
	case pendingReviewStatuses[s]:
		out = append(out, ActionAccept, ActionReject, ActionCancel)
	case rescheduleStatuses[s]:
		out = append(out, ActionConfirm, ActionDecline, ActionCancel)
	case approvedStatuses[s]:
		out = append(out, ActionReschedule, ActionCancel)
	}
	return out
}

// CanDelete reports whether an admin hard delete may be offered. It is
// separate from the lifecycle actions and limited to cancelled or rejected
// requests.
func CanDelete(grants []Grant, status models.Status) bool {
	return terminalDeletable[models.NormalizeStatus(status)] && HasCapability(grants, RequiredCapability[ActionDelete])
}

// IsTerminal reports statuses no lifecycle action can leave.
func IsTerminal(status models.Status) bool {
	return terminalStatuses[models.NormalizeStatus(status)]
}

// Available intersects the status candidates with the granted capabilities.
func Available(grants []Grant, status models.Status) []string {
	var out []string
	for _, action := range CandidateActions(status) {
		req, ok := RequiredCapability[action]
		if ok && HasCapability(grants, req) {
			out = append(out, action)
		}
	}
	return out
}

// Viewer is the person the actions are being computed for.
type Viewer struct {
	UserID string
	Grants []Grant
}

type Result struct {
	Actions []string
	Source  string
}

func (r Result) Allows(action string) bool {
	action = normalize(action)
	for _, a := range r.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Resolve computes the invocable actions for viewer on req. Declared hints
// are authoritative when present, even when they offer nothing; in reschedule negotiation only the
// active responder is offered confirm or decline.
func Resolve(viewer Viewer, req models.EventRequest) Result {
	if found, declared := DiscoverHints(req.Payload()); declared {
		actions := []string{}
		for _, action := range ActionOrder {
			if Matches(found, action) {
				actions = append(actions, action)
			}
		}
		return Result{Actions: actions, Source: SourceDeclared}
	}
	available := Available(viewer.Grants, req.Status)
	var actions []string
	for _, action := range available {
		if (action == ActionConfirm || action == ActionDecline) && !isActiveResponder(viewer, req) {
			continue
		}
		actions = append(actions, action)
	}
	if len(actions) == 0 {
		return Result{Source: SourceNone}
	}
	return Result{Actions: actions, Source: SourceCapability}
}

func isActiveResponder(viewer Viewer, req models.EventRequest) bool {
	ar := req.ActiveResponder
	if ar == nil {
		return true
	}
	if ar.UserID != "" {
		return viewer.UserID != "" && ar.UserID == viewer.UserID
	}
	isRequester := req.Requester != nil && viewer.UserID != "" && req.Requester.UserID == viewer.UserID
	switch normalize(ar.Role) {
	case models.ResponderRequester:
		return isRequester
	case models.ResponderReviewer:
		return !isRequester
	}
	return false
}
