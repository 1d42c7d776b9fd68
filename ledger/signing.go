package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/bitfsorg/libpdv-go/envelope"
	"github.com/bitfsorg/libpdv-go/model"
)

// SigningContext is the private signing key of a role, recovered from its
// EncryptedRoleBlob. A nil *SigningContext means "append unsigned".
type SigningContext struct {
	RoleID     uuid.UUID
	SigningKey []byte
	SigningAlg string
}

// RoleSource looks up roles by id.
type RoleSource interface {
	Role(ctx context.Context, id uuid.UUID) (*model.Role, error)
}

// TryGetSigningContext opens the role's secret blob with writeKey. It
// returns nil when the role is missing, has no blob, or the blob does not
// open: signing is best effort.
func TryGetSigningContext(ctx context.Context, roles RoleSource, roleID uuid.UUID, writeKey []byte) *SigningContext {
	if roles == nil || len(writeKey) == 0 {
		return nil
	}
	role, err := roles.Role(ctx, roleID)
	if err != nil || len(role.EncryptedRoleBlob) == 0 {
		return nil
	}
	secrets, err := envelope.OpenRoleSecrets(writeKey, role.EncryptedRoleBlob, roleID)
	if err != nil || len(secrets.SigningKey) == 0 {
		return nil
	}
	return &SigningContext{
		RoleID:     roleID,
		SigningKey: secrets.SigningKey,
		SigningAlg: secrets.SigningAlg,
	}
}
