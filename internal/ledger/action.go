package ledger

import (
	"errors"
	"fmt"
)

// ActionKind is the closed set of actions that may be recorded.
type ActionKind string

const (
	// Authentication
	ActionLogin        ActionKind = "login"
	ActionLogout       ActionKind = "logout"
	ActionLoginFailed  ActionKind = "login_failed"
	ActionOTPRequested ActionKind = "otp_requested"
	ActionTokenRefresh ActionKind = "token_refresh"

	// Bills and payments
	ActionBillView             ActionKind = "bill_view"
	ActionBillPaymentInitiated ActionKind = "bill_payment_initiated"
	ActionBillPaymentSuccess   ActionKind = "bill_payment_success"
	ActionBillPaymentFailed    ActionKind = "bill_payment_failed"
	ActionPaymentReceipt       ActionKind = "payment_receipt"

	// Grievances
	ActionGrievanceCreated       ActionKind = "grievance_created"
	ActionGrievanceUpdated       ActionKind = "grievance_updated"
	ActionGrievanceStatusChanged ActionKind = "grievance_status_changed"

	// Connections
	ActionConnectionApplied       ActionKind = "connection_applied"
	ActionConnectionUpdated       ActionKind = "connection_updated"
	ActionConnectionStatusChanged ActionKind = "connection_status_changed"

	// Documents
	ActionDocumentUploaded ActionKind = "document_uploaded"
	ActionDocumentVerified ActionKind = "document_verified"
	ActionDocumentRejected ActionKind = "document_rejected"
	ActionDocumentDeleted  ActionKind = "document_deleted"

	// Admin
	ActionAdminLogin      ActionKind = "admin_login"
	ActionAdminAction     ActionKind = "admin_action"
	ActionSettingsChanged ActionKind = "settings_changed"

	// Kiosk sessions
	ActionSessionStart   ActionKind = "session_start"
	ActionSessionEnd     ActionKind = "session_end"
	ActionSessionTimeout ActionKind = "session_timeout"

	// Data access
	ActionPIIAccessed  ActionKind = "pii_accessed"
	ActionDataExported ActionKind = "data_exported"
)

var actionKinds = map[ActionKind]struct{}{
	ActionLogin: {}, ActionLogout: {}, ActionLoginFailed: {}, ActionOTPRequested: {}, ActionTokenRefresh: {},
	ActionBillView: {}, ActionBillPaymentInitiated: {}, ActionBillPaymentSuccess: {}, ActionBillPaymentFailed: {},
	ActionPaymentReceipt:    {},
	ActionGrievanceCreated:  {}, ActionGrievanceUpdated: {}, ActionGrievanceStatusChanged: {},
	ActionConnectionApplied: {}, ActionConnectionUpdated: {}, ActionConnectionStatusChanged: {},
	ActionDocumentUploaded: {}, ActionDocumentVerified: {}, ActionDocumentRejected: {}, ActionDocumentDeleted: {},
	ActionAdminLogin: {}, ActionAdminAction: {}, ActionSettingsChanged: {},
	ActionSessionStart: {}, ActionSessionEnd: {}, ActionSessionTimeout: {},
	ActionPIIAccessed: {}, ActionDataExported: {},
}

// ErrUnknownActionKind is returned for an action outside the closed set.
// Unknown kinds are rejected, never remapped.
var ErrUnknownActionKind = errors.New("unknown action kind")

// IsValid reports whether a is a member of the closed set.
func (a ActionKind) IsValid() bool {
	_, ok := actionKinds[a]
	return ok
}

// ParseActionKind converts s to an ActionKind, rejecting unknown values.
func ParseActionKind(s string) (ActionKind, error) {
	a := ActionKind(s)
	if !a.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownActionKind, s)
	}
	return a, nil
}

// ActorKind identifies who performed an action.
type ActorKind string

const (
	ActorUser   ActorKind = "user"
	ActorAdmin  ActorKind = "admin"
	ActorSystem ActorKind = "system"
)

// ErrInvalidReference is returned for an actor or resource reference with
// missing parts.
var ErrInvalidReference = errors.New("invalid actor or resource reference")

// IsValid reports whether k is a known actor kind.
func (k ActorKind) IsValid() bool {
	return k == ActorUser || k == ActorAdmin || k == ActorSystem
}

// ActorRef is supplied by the authentication layer.
type ActorRef struct {
	Kind ActorKind `json:"kind"`
	ID   string    `json:"id,omitempty"`
}

func (a ActorRef) validate() error {
	if !a.Kind.IsValid() {
		return fmt.Errorf("%w: unknown actor kind %q", ErrInvalidReference, a.Kind)
	}
	if a.ID == "" && a.Kind != ActorSystem {
		return fmt.Errorf("%w: %s actor needs an id", ErrInvalidReference, a.Kind)
	}
	return nil
}

// System is the actor used for unattended actions.
var System = ActorRef{Kind: ActorSystem}

// ResourceRef names the business record an entry refers to.
type ResourceRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (r *ResourceRef) validate() error {
	if r != nil && (r.Type == "" || r.ID == "") {
		return fmt.Errorf("%w: resource needs a type and an id", ErrInvalidReference)
	}
	return nil
}

// Resource is shorthand for &ResourceRef{Type: typ, ID: id}.
func Resource(typ, id string) *ResourceRef {
	return &ResourceRef{Type: typ, ID: id}
}
