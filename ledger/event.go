package ledger

import (
	"encoding/json"
	"fmt"
)

// Event types recorded by the vault. The Auth chain carries account,
// session and recovery events; the Key chain carries key and capability
// events; the Business chain carries data events.
const (
	EventAccountCreated    = "account.created"
	EventSessionOpened     = "session.opened"
	EventSessionClosed     = "session.closed"
	EventRecoveryShare     = "recovery.share.issued"
	EventRecoveryRevoke    = "recovery.share.revoked"
	EventRecoveryRequest   = "recovery.request.created"
	EventRecoveryApproval  = "recovery.approval.added"
	EventRecoveryCompleted = "recovery.request.completed"
	EventRecoveryCanceled  = "recovery.request.canceled"

	EventRoleCreated    = "role.created"
	EventRoleDeleted    = "role.deleted"
	EventEdgeCreated    = "edge.created"
	EventEdgeDeleted    = "edge.deleted"
	EventShareCreated   = "share.created"
	EventShareAccepted  = "share.accepted"
	EventDataKeyCreated = "datakey.created"

	EventPersonCreated = "person.created"
	EventFieldSet      = "field.set"
	EventFieldDeleted  = "field.deleted"
)

// Payload encodes an event payload as a JSON object. Key material and
// plaintext must never be passed in.
func Payload(fields map[string]any) (string, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("%w: payload: %v", ErrInvalidEntry, err)
	}
	return string(raw), nil
}
