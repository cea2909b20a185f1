package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActionRFID       = "rfid"
	ActionRemoteOpen = "remote_open"
	ActionAddUser    = "add_user"
	ActionRemoveUser = "remove_user"
)

const (
	ReasonCardAllowed    = "card_allowed"
	ReasonCardNotAllowed = "card_not_allowed"
	ReasonLookupFailed   = "lookup_failed"
	ReasonInvalidID      = "invalid_id"
	ReasonRemoteOpen     = "remote_open"
	ReasonUnlockFailed   = "unlock_failed"
)

// AuditRecord is one access decision. Pointer fields are absent when nil.
// Records are never mutated after Append.
type AuditRecord struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	CredentialID *string   `json:"credential_id,omitempty"`
	Authorized   *bool     `json:"authorized,omitempty"`
	Principal    *string   `json:"principal,omitempty"`
	Action       string    `json:"action"`
	Actor        *string   `json:"actor,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}

// NewAuditRecord returns a record with a fresh id stamped at ts.
func NewAuditRecord(ts time.Time, action string) AuditRecord {
	return AuditRecord{
		ID:        uuid.NewString(),
		Timestamp: ts.UTC(),
		Action:    action,
	}
}

// Ptr returns a pointer to v. Used for the optional audit fields.
func Ptr[T any](v T) *T { return &v }
