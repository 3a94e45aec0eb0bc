package cases

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pmendyk-crypto/vetting-app/internal/platform/apperr"
)

// Action is a lifecycle trigger.
type Action string

const (
	ActionVet    Action = "vet"
	ActionReopen Action = "reopen"
)

// transitions lists the states each action may start from.
var transitions = map[Action][]Status{
	ActionVet:    {StatusPending, StatusReopened},
	ActionReopen: {StatusVetted, StatusRejected},
}

// CanApply reports whether a may be applied to a case in state from.
func CanApply(a Action, from Status) bool {
	for _, s := range transitions[a] {
		if s == from {
			return true
		}
	}
	return false
}

// Column limits of the cases table, in characters.
const (
	maxNameLen       = 255
	maxReferralIDLen = 100
	maxProtocolLen   = 255
)

func checkLen(field, v string, max int) error {
	if utf8.RuneCountInString(v) > max {
		return apperr.Validation("%s must be at most %d characters", field, max)
	}
	return nil
}

// VetInput is a radiologist's decision on a case.
type VetInput struct {
	Decision string `json:"decision"`
	Protocol string `json:"protocol"`
	Comment  string `json:"comment"`
}

// applyVet records the decision in c. The input is validated before the
// state check and c is untouched on any error.
func (c *Case) applyVet(in VetInput, now time.Time) error {
	d, err := ParseDecision(in.Decision)
	if err != nil {
		return err
	}
	protocol := strings.TrimSpace(in.Protocol)
	comment := strings.TrimSpace(in.Comment)

	next := StatusVetted
	if d == DecisionReject {
		if comment == "" {
			return apperr.Validation("a comment is required when rejecting a case")
		}
		protocol = ""
		next = StatusRejected
	} else if protocol == "" {
		return apperr.Validation("a protocol is required when approving a case")
	} else if err := checkLen("protocol", protocol, maxProtocolLen); err != nil {
		return err
	}

	if !CanApply(ActionVet, c.Status) {
		return apperr.Conflict("case is %s; only pending or reopened cases can be vetted", c.Status)
	}

	vettedAt := now.UTC()
	c.Status = next
	c.Decision = &d
	c.Protocol = protocol
	c.DecisionComment = comment
	c.VettedAt = &vettedAt
	return nil
}

// applyReopen returns c to the vetting queue and appends the reason to the
// admin notes. The protocol is kept as a starting point for the next vet.
func (c *Case) applyReopen(reason, username string, now time.Time) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return apperr.Validation("a reason is required to reopen a case")
	}
	if !CanApply(ActionReopen, c.Status) {
		return apperr.Conflict("case is %s; only vetted or rejected cases can be reopened", c.Status)
	}

	note := fmt.Sprintf("[reopened %s by %s] %s", now.UTC().Format(time.RFC3339), username, reason)
	if c.AdminNotes == "" {
		c.AdminNotes = note
	} else {
		c.AdminNotes = strings.TrimRight(c.AdminNotes, "\n") + "\n" + note
	}
	c.Status = StatusReopened
	c.Decision = nil
	c.DecisionComment = ""
	c.VettedAt = nil
	return nil
}
