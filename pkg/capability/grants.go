package capability

import "strings"

const Wildcard = "*"

// Capability is a single resource.action pair.
type Capability struct {
	Resource string
	Action   string
}

func (c Capability) String() string { return c.Resource + "." + c.Action }

// Grant is one permission entry held by a viewer. Either side may be "*".
type Grant struct {
	Resource string   `json:"resource"`
	Actions  []string `json:"actions"`
}

// ParseCapability splits "resource.action" (or "resource:action").
func ParseCapability(s string) (Capability, bool) {
	s = normalize(s)
	i := strings.IndexAny(s, ".:")
	if i <= 0 || i == len(s)-1 {
		return Capability{}, false
	}
	return Capability{Resource: s[:i], Action: s[i+1:]}, true
}

// ParseGrants turns flat capability strings into grants, merging actions
// that share a resource. Malformed entries are skipped.
func ParseGrants(perms []string) []Grant {
	var out []Grant
	index := map[string]int{}
	for _, p := range perms {
		c, ok := ParseCapability(p)
		if !ok {
			continue
		}
		if i, ok := index[c.Resource]; ok {
			out[i].Actions = append(out[i].Actions, c.Action)
			continue
		}
		index[c.Resource] = len(out)
		out = append(out, Grant{Resource: c.Resource, Actions: []string{c.Action}})
	}
	return out
}

// HasCapability reports whether any grant covers required: exact pair,
// wildcard resource with exact or wildcard action, or exact resource with
// wildcard action.
func HasCapability(grants []Grant, required Capability) bool {
	res := normalize(required.Resource)
	act := normalize(required.Action)
	for _, g := range grants {
		gr := normalize(g.Resource)
		if gr != Wildcard && gr != res {
			continue
		}
		for _, a := range g.Actions {
			if a = normalize(a); a == Wildcard || a == act {
				return true
			}
		}
	}
	return false
}
