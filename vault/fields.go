package vault

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bitfsorg/libpdv-go/envelope"
	"github.com/bitfsorg/libpdv-go/ledger"
	"github.com/bitfsorg/libpdv-go/model"
)

// Field is a decrypted field value.
type Field struct {
	Type       string
	Value      string
	UpdatedUTC time.Time
}

// SetField encrypts value under a fresh data key and stores it as the
// role's field of the given type, replacing any previous value. The caller
// must hold the role's write key.
func (v *Vault) SetField(ctx context.Context, s Session, roleID uuid.UUID, fieldType, value string) (*model.RoleField, error) {
	ring, err := v.ring(ctx, s)
	if err != nil {
		return nil, err
	}
	read, ok := ring.TryGetReadKey(roleID)
	if !ok || !ring.CanWrite(roleID) {
		return nil, ErrMissingKeys
	}
	return v.putField(ctx, s, roleID, read, v.signer(ctx, ring, roleID), fieldType, value)
}

// putField writes one field. The data key is wrapped under the role's read
// key so every reader of the role can open it. The Key chain entry goes
// first because the key entry references it; a failed write leaves that
// entry on the chain and is logged with its id.
func (v *Vault) putField(ctx context.Context, s Session, roleID uuid.UUID, readKey []byte, signer *ledger.SigningContext, fieldType, value string) (*model.RoleField, error) {
	fieldType = model.NormalizeFieldType(fieldType)
	if fieldType == "" {
		return nil, ErrEmptyFieldType
	}

	dataKey, err := envelope.GenerateKey()
	if err != nil {
		return nil, err
	}
	defer clear(dataKey)

	keyID := uuid.New()
	wrapped, err := envelope.EncryptDataKey(readKey, dataKey, keyID)
	if err != nil {
		return nil, err
	}
	ciphertext, err := envelope.EncryptFieldValue(dataKey, value, roleID, fieldType)
	if err != nil {
		return nil, err
	}

	ref, err := v.record(ctx, ledger.CategoryKey, ledger.EventDataKeyCreated, s, signer, map[string]any{
		"role": roleID, "key": keyID, "field": fieldType,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	field, err := v.Store.Fields().Upsert(ctx, &model.RoleField{
		ID:             uuid.New(),
		RoleID:         roleID,
		FieldType:      fieldType,
		DataKeyID:      keyID,
		EncryptedValue: ciphertext,
		CreatedUTC:     now,
		UpdatedUTC:     now,
	}, &model.KeyEntry{
		ID:               keyID,
		KeyType:          model.KeyTypeDataKey,
		RoleID:           roleID,
		Version:          1,
		EncryptedKeyBlob: wrapped,
		LedgerRefID:      ref,
		CreatedUTC:       now,
	})
	if err != nil {
		v.logger.Error("vault: store field", "role", roleID, "field", fieldType, "ledger_entry", ref, "error", err)
		return nil, err
	}

	if _, err := v.record(ctx, ledger.CategoryBusiness, ledger.EventFieldSet, s, signer, map[string]any{
		"role": roleID, "field": fieldType,
	}); err != nil {
		return nil, err
	}
	return field, nil
}

// decryptField opens a field with the role's read key. It reports false
// when the data key or the value does not open.
func (v *Vault) decryptField(ctx context.Context, readKey []byte, f *model.RoleField) (string, bool) {
	entry, err := v.Store.Keys().Get(ctx, f.DataKeyID)
	if err != nil {
		return "", false
	}
	dataKey, err := envelope.DecryptDataKey(readKey, entry.EncryptedKeyBlob, entry.ID)
	if err != nil {
		return "", false
	}
	defer clear(dataKey)
	return envelope.TryDecryptFieldValue(dataKey, f.EncryptedValue, f.RoleID, f.FieldType)
}

// GetField returns one decrypted field. A field that exists but does not
// decrypt yields ErrFieldUnreadable.
func (v *Vault) GetField(ctx context.Context, s Session, roleID uuid.UUID, fieldType string) (*Field, error) {
	ring, err := v.ring(ctx, s)
	if err != nil {
		return nil, err
	}
	read, ok := ring.TryGetReadKey(roleID)
	if !ok {
		return nil, ErrMissingKeys
	}
	f, err := v.Store.Fields().Get(ctx, roleID, fieldType)
	if err != nil {
		return nil, err
	}
	value, ok := v.decryptField(ctx, read, f)
	if !ok {
		return nil, ErrFieldUnreadable
	}
	return &Field{Type: f.FieldType, Value: value, UpdatedUTC: f.UpdatedUTC}, nil
}

// ListFields returns the role's readable fields. Fields that do not
// decrypt are omitted.
func (v *Vault) ListFields(ctx context.Context, s Session, roleID uuid.UUID) ([]Field, error) {
	ring, err := v.ring(ctx, s)
	if err != nil {
		return nil, err
	}
	read, ok := ring.TryGetReadKey(roleID)
	if !ok {
		return nil, ErrMissingKeys
	}
	fields, err := v.Store.Fields().List(ctx, roleID)
	if err != nil {
		return nil, err
	}

	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		value, ok := v.decryptField(ctx, read, f)
		if !ok {
			v.logger.Debug("vault: unreadable field skipped", "role", roleID, "field", f.FieldType)
			continue
		}
		out = append(out, Field{Type: f.FieldType, Value: value, UpdatedUTC: f.UpdatedUTC})
	}
	return out, nil
}

// DeleteField removes a field and its data key. Reserved field types are
// rejected. The caller must hold the role's write key.
func (v *Vault) DeleteField(ctx context.Context, s Session, roleID uuid.UUID, fieldType string) error {
	fieldType = model.NormalizeFieldType(fieldType)
	if fieldType == "" {
		return ErrEmptyFieldType
	}
	if model.IsReservedFieldType(fieldType) {
		return ErrReservedField
	}
	ring, err := v.ring(ctx, s)
	if err != nil {
		return err
	}
	if !ring.CanWrite(roleID) {
		return ErrMissingKeys
	}
	if err := v.Store.Fields().Delete(ctx, roleID, fieldType); err != nil {
		return err
	}
	_, err = v.record(ctx, ledger.CategoryBusiness, ledger.EventFieldDeleted, s, v.signer(ctx, ring, roleID), map[string]any{
		"role": roleID, "field": fieldType,
	})
	return err
}
