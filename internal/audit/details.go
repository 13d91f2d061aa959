package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type Action string

const (
	ActionUpdateUser         Action = "update_user"
	ActionDeleteAccount      Action = "delete_account"
	ActionModifySubscription Action = "modify_subscription"
	ActionOther              Action = "other"
)

var (
	ErrUnknownAction   = errors.New("unknown audit action")
	ErrInvalidDetails  = errors.New("invalid audit details")
	ErrDetailsMismatch = errors.New("details do not match action")
)

// ParseAction accepts only the actions new entries may be written with.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.TrimSpace(s)); a {
	case ActionUpdateUser, ActionDeleteAccount, ActionModifySubscription, ActionOther:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
}

// Details is the payload of an audit entry. The set of implementations is
// closed; LegacyDetails carries rows written before a schema existed.
type Details interface {
	action() Action
}

type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

type UpdateUserDetails struct {
	Changes []FieldChange `json:"changes"`
}

type DeleteAccountDetails struct {
	Reason     string `json:"reason"`
	HardDelete bool   `json:"hard_delete"`
}

type ModifySubscriptionDetails struct {
	FromPlan string `json:"from_plan"`
	ToPlan   string `json:"to_plan"`
	Status   string `json:"status,omitempty"`
}

type OtherDetails struct {
	Fields map[string]string `json:"fields,omitempty"`
}

// LegacyDetails holds a stored payload verbatim. It is never written by
// Append.
type LegacyDetails struct {
	Raw string `json:"raw"`
}

func (UpdateUserDetails) action() Action         { return ActionUpdateUser }
func (DeleteAccountDetails) action() Action      { return ActionDeleteAccount }
func (ModifySubscriptionDetails) action() Action { return ActionModifySubscription }
func (OtherDetails) action() Action              { return ActionOther }
func (LegacyDetails) action() Action             { return "" }

func newDetails(a Action) (Details, bool) {
	switch a {
	case ActionUpdateUser:
		return &UpdateUserDetails{}, true
	case ActionDeleteAccount:
		return &DeleteAccountDetails{}, true
	case ActionModifySubscription:
		return &ModifySubscriptionDetails{}, true
	case ActionOther:
		return &OtherDetails{}, true
	default:
		return nil, false
	}
}

// ParseDetails strictly decodes raw as the payload of action. Unknown
// fields are rejected. An empty payload yields the zero value.
func ParseDetails(a Action, raw []byte) (Details, error) {
	target, ok := newDetails(a)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, a)
	}
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return deref(target), nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDetails, err)
	}
	return deref(target), nil
}

// DecodeDetails reads a stored payload. Anything that does not fit the
// schema of action comes back as LegacyDetails.
func DecodeDetails(a Action, raw string) Details {
	d, err := ParseDetails(a, []byte(raw))
	if err != nil {
		return LegacyDetails{Raw: raw}
	}
	return d
}

func encodeDetails(a Action, d Details) (string, error) {
	if d == nil {
		d, _ = newDetails(a)
		d = deref(d)
	}
	if _, legacy := d.(LegacyDetails); legacy {
		return "", fmt.Errorf("%w: legacy payloads are read-only", ErrInvalidDetails)
	}
	if d.action() != a {
		return "", fmt.Errorf("%w: %s payload for %s", ErrDetailsMismatch, d.action(), a)
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to encode details: %w", err)
	}
	return string(b), nil
}

func deref(d Details) Details {
	switch v := d.(type) {
	case *UpdateUserDetails:
		return *v
	case *DeleteAccountDetails:
		return *v
	case *ModifySubscriptionDetails:
		return *v
	case *OtherDetails:
		return *v
	default:
		return d
	}
}
