package gateway

import (
	"fmt"
	"strings"
)

type ActionKind string

const (
	ActionCreateJob          ActionKind = "create_job"
	ActionTakeJob            ActionKind = "take_job"
	ActionCancelJob          ActionKind = "cancel_job"
	ActionCompleteJob        ActionKind = "complete_job"
	ActionForceClose         ActionKind = "force_close"
	ActionTakePermanent      ActionKind = "permanent_job"
	ActionClosePermanent     ActionKind = "close_perm"
	ActionForceClosePerm     ActionKind = "force_close_perm"
	ActionCreateJobModal     ActionKind = "create_job_modal"
	ActionCompleteJobModal   ActionKind = "complete_job_modal"
	ActionAddPermanentModal  ActionKind = "add_perm_modal"
	ActionEditPermanentModal ActionKind = "edit_perm_modal"
	ActionEditPermanentPick  ActionKind = "edit_perm_pick"
	ActionRemovePermanent    ActionKind = "remove_perm_pick"
)

const actionSeparator = ":"

var knownActions = map[ActionKind]bool{
	ActionCreateJob:          false,
	ActionTakeJob:            true,
	ActionCancelJob:          true,
	ActionCompleteJob:        true,
	ActionForceClose:         true,
	ActionTakePermanent:      true,
	ActionClosePermanent:     true,
	ActionForceClosePerm:     true,
	ActionCreateJobModal:     false,
	ActionCompleteJobModal:   true,
	ActionAddPermanentModal:  false,
	ActionEditPermanentModal: true,
	ActionEditPermanentPick:  false,
	ActionRemovePermanent:    false,
}

// Action is the decoded form of a button or form identifier: an intent and,
// for most intents, the job it applies to.
type Action struct {
	Kind   ActionKind
	Target string
}

func NewAction(kind ActionKind, target string) Action {
	return Action{Kind: kind, Target: target}
}

func (a Action) String() string {
	if a.Target == "" {
		return string(a.Kind)
	}
	return string(a.Kind) + actionSeparator + a.Target
}

// ParseAction decodes an identifier produced by Action.String.
func ParseAction(id string) (Action, error) {
	kind, target, _ := strings.Cut(id, actionSeparator)

	needsTarget, ok := knownActions[ActionKind(kind)]
	if !ok {
		return Action{}, fmt.Errorf("unknown action %q", id)
	}
	if needsTarget && target == "" {
		return Action{}, fmt.Errorf("action %q is missing its target", id)
	}
	if !needsTarget && target != "" {
		return Action{}, fmt.Errorf("action %q does not take a target", id)
	}

	return Action{Kind: ActionKind(kind), Target: target}, nil
}
