package approval

import (
	"fmt"

	"github.com/venue-app/pricingservice/internal/domain"
)

// Action is an approval workflow command.
type Action string

const (
	ActionSubmit    Action = "submit"
	ActionApprove   Action = "approve"
	ActionReject    Action = "reject"
	ActionSupersede Action = "supersede"
)

// transitions lists, per action, the states it may be applied to and the
// state it leads to. SUPERSEDED has no outgoing edges.
var transitions = map[Action]map[domain.ApprovalStatus]domain.ApprovalStatus{
	ActionSubmit: {
		domain.StatusDraft:    domain.StatusPendingApproval,
		domain.StatusRejected: domain.StatusPendingApproval,
	},
	ActionApprove: {
		domain.StatusPendingApproval: domain.StatusApproved,
	},
	ActionReject: {
		domain.StatusPendingApproval: domain.StatusRejected,
	},
	ActionSupersede: {
		domain.StatusDraft:    domain.StatusSuperseded,
		domain.StatusApproved: domain.StatusSuperseded,
	},
}

// Transition returns the state reached by applying action in state from.
// An illegal transition yields an INVALID_STATE domain error.
func Transition(from domain.ApprovalStatus, action Action) (domain.ApprovalStatus, error) {
	edges, ok := transitions[action]
	if !ok {
		return "", domain.NewInvalidInputError("unknown approval action", string(action))
	}
	to, ok := edges[from]
	if !ok {
		return "", domain.NewInvalidStateError(
			fmt.Sprintf("cannot %s a rule in state %s", action, from),
			fmt.Sprintf("allowed from: %s", allowedFrom(action)))
	}
	return to, nil
}

// Activation reports the isActive value an action sets, or nil when the
// action leaves it untouched.
func Activation(action Action) *bool {
	var active bool
	switch action {
	case ActionApprove:
		active = true
	case ActionReject, ActionSupersede:
		active = false
	default:
		return nil
	}
	return &active
}

func allowedFrom(action Action) string {
	// fixed order keeps error details stable
	order := []domain.ApprovalStatus{
		domain.StatusDraft,
		domain.StatusPendingApproval,
		domain.StatusApproved,
		domain.StatusRejected,
	}
	out := ""
	for _, s := range order {
		if _, ok := transitions[action][s]; !ok {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += string(s)
	}
	return out
}
