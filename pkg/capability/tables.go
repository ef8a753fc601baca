package capability

// Every hardcoded name the resolver knows about lives in this file so that
// server field-name drift is fixed in one place.

// MaxDepth bounds the declared-action walk. The root object is depth 0.
const MaxDepth = 4

const (
	ActionAccept     = "accept"
	ActionReject     = "reject"
	ActionReschedule = "reschedule"
	ActionConfirm    = "confirm"
	ActionDecline    = "decline"
	ActionCancel     = "cancel"
	ActionDelete     = "delete"
	ActionEdit       = "edit"
	ActionView       = "view"
)

// ActionOrder is the display order of action buttons.
var ActionOrder = []string{
	ActionAccept,
	ActionReject,
	ActionReschedule,
	ActionConfirm,
	ActionDecline,
	ActionCancel,
	ActionDelete,
	ActionEdit,
	ActionView,
}

// DeclaredActionKeys are the historical names of the server's
// pre-computed action list.
var DeclaredActionKeys = []string{
	"allowedActions",
	"allowed_actions",
	"allowed_actions_list",
	"availableActions",
}

// BooleanFlags maps per-action boolean hints to action names.
var BooleanFlags = map[string]string{
	"canAccept":     ActionAccept,
	"canReject":     ActionReject,
	"canReschedule": ActionReschedule,
	"canConfirm":    ActionConfirm,
	"canDecline":    ActionDecline,
	"canCancel":     ActionCancel,
	"canDelete":     ActionDelete,
	"canEdit":       ActionEdit,
	"canView":       ActionView,
}

// Containers are walked before any other key, in this order.
var Containers = []string{
	"event",
	"reviewer",
	"decisionHistory",
	"request",
	"data",
}

// Synonyms lists the alternative spellings a declared action may use.
var Synonyms = map[string][]string{
	ActionAccept:     {"accepted", "approve", "approved", "accept_request"},
	ActionReject:     {"rejected", "reject_request"},
	ActionReschedule: {"rescheduled", "reschedule_request", "propose_reschedule"},
	ActionConfirm:    {"confirmed", "confirm_reschedule"},
	ActionDecline:    {"declined", "decline_reschedule"},
	ActionCancel:     {"cancelled", "canceled", "cancel_request"},
	ActionDelete:     {"deleted", "remove"},
}

// RequiredCapability is the capability each action needs when the server
// sends no per-request hints.
var RequiredCapability = map[string]Capability{
	ActionAccept:     {Resource: "request", Action: "review"},
	ActionReject:     {Resource: "request", Action: "review"},
	ActionReschedule: {Resource: "request", Action: "update"},
	ActionConfirm:    {Resource: "request", Action: "update"},
	ActionDecline:    {Resource: "request", Action: "update"},
	ActionCancel:     {Resource: "request", Action: "cancel"},
	ActionDelete:     {Resource: "request", Action: "delete"},
}

// Normalized status spellings (see models.NormalizeStatus).
var (
	pendingReviewStatuses = map[string]bool{"pendingreview": true, "pending": true}
	rescheduleStatuses    = map[string]bool{"reviewrescheduled": true, "pendingreschedule": true, "rescheduled": true}
	approvedStatuses      = map[string]bool{"approved": true}
	terminalDeletable     = map[string]bool{"cancelled": true, "canceled": true, "rejected": true}
	terminalStatuses      = map[string]bool{"cancelled": true, "canceled": true, "rejected": true, "completed": true}
)
