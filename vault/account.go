package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bitfsorg/libpdv-go/account"
	"github.com/bitfsorg/libpdv-go/envelope"
	"github.com/bitfsorg/libpdv-go/keyring"
	"github.com/bitfsorg/libpdv-go/ledger"
	"github.com/bitfsorg/libpdv-go/model"
	"github.com/bitfsorg/libpdv-go/session"
	"github.com/bitfsorg/libpdv-go/store"
)

// AccountResult is returned by CreateAccount. The mnemonic is the only
// offline backup of the master secret and is not stored.
type AccountResult struct {
	Account    *model.UserAccount
	MasterRole *model.Role
	Mnemonic   string
}

// CreateAccount registers a user: it generates the master secret and its
// mnemonic, seals the secret under password, and creates the master role
// whose key is wrapped under the secret.
func (v *Vault) CreateAccount(ctx context.Context, name, password string) (*AccountResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	if password == "" {
		return nil, ErrWeakPassword
	}
	if _, err := v.Store.Accounts().ByName(ctx, name); err == nil {
		return nil, store.ErrAccountExists
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	mnemonic, err := account.GenerateMnemonic(account.Mnemonic12Words)
	if err != nil {
		return nil, err
	}
	secret, err := account.MasterSecretFromMnemonic(mnemonic)
	if err != nil {
		return nil, err
	}
	defer clear(secret)
	sealed, err := account.SealMasterSecret(secret, password)
	if err != nil {
		return nil, err
	}

	m, err := v.newRole(ctx, "account")
	if err != nil {
		return nil, err
	}
	wrapped, err := keyring.WrapRootKey(secret, m.roleKey, m.role.ID)
	if err != nil {
		return nil, err
	}

	acct := &model.UserAccount{
		ID:                     uuid.New(),
		Name:                   name,
		MasterRoleID:           m.role.ID,
		SealedMasterSecret:     sealed,
		EncryptedMasterRoleKey: wrapped,
		CreatedUTC:             time.Now().UTC(),
	}
	if err := v.Store.Accounts().Create(ctx, acct); err != nil {
		v.discardRole(ctx, m.role.ID)
		return nil, err
	}

	caller := Session{UserID: acct.ID}
	signer := v.signerFromKey(ctx, m.role.ID, m.write)
	if err := v.recordRoleKey(ctx, caller, signer, m, wrapped); err != nil {
		return nil, err
	}
	if _, err := v.record(ctx, ledger.CategoryAuth, ledger.EventAccountCreated, caller, signer, map[string]any{
		"account": acct.ID, "name": acct.Name, "masterRole": m.role.ID,
	}); err != nil {
		return nil, err
	}

	v.logger.Info("vault: account created", "account", acct.ID, "name", acct.Name)
	return &AccountResult{Account: acct, MasterRole: m.role, Mnemonic: mnemonic}, nil
}

// Login opens a session for the named account.
func (v *Vault) Login(ctx context.Context, name, password string) (Session, time.Time, error) {
	acct, err := v.Store.Accounts().ByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return Session{}, time.Time{}, err
	}
	sid, expires, err := v.Sessions.Open(ctx, acct.ID, password)
	if err != nil {
		return Session{}, time.Time{}, err
	}
	return v.finishLogin(ctx, Session{UserID: acct.ID, SessionID: sid}, expires, acct, "password")
}

// LoginWithMnemonic opens a session from the account's backup mnemonic.
func (v *Vault) LoginWithMnemonic(ctx context.Context, name, mnemonic string) (Session, time.Time, error) {
	acct, err := v.Store.Accounts().ByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return Session{}, time.Time{}, err
	}
	secret, err := account.MasterSecretFromMnemonic(mnemonic)
	if err != nil {
		return Session{}, time.Time{}, err
	}
	defer clear(secret)
	if _, err := envelope.UnwrapKeyCopy(secret, acct.EncryptedMasterRoleKey, acct.MasterRoleID); err != nil {
		return Session{}, time.Time{}, session.ErrInvalidCredentials
	}

	sid, expires, err := v.Sessions.OpenWithSecret(ctx, acct.ID, secret)
	if err != nil {
		return Session{}, time.Time{}, err
	}
	return v.finishLogin(ctx, Session{UserID: acct.ID, SessionID: sid}, expires, acct, "mnemonic")
}

// finishLogin warms the session's key ring and records the login. The
// session is closed again if either step fails.
func (v *Vault) finishLogin(ctx context.Context, s Session, expires time.Time, acct *model.UserAccount, method string) (Session, time.Time, error) {
	ring, err := v.ring(ctx, s)
	if err == nil {
		_, err = v.record(ctx, ledger.CategoryAuth, ledger.EventSessionOpened, s, v.signer(ctx, ring, acct.MasterRoleID), map[string]any{
			"account": acct.ID, "session": s.SessionID, "method": method,
		})
	}
	if err != nil {
		v.Sessions.Close(s.SessionID)
		v.Rings.InvalidateRoleKeyRing(s.SessionID)
		return Session{}, time.Time{}, err
	}
	return s, expires, nil
}

// Logout closes the session and drops its cached key ring.
func (v *Vault) Logout(ctx context.Context, s Session) error {
	v.Sessions.Close(s.SessionID)
	v.Rings.InvalidateRoleKeyRing(s.SessionID)
	_, err := v.record(ctx, ledger.CategoryAuth, ledger.EventSessionClosed, s, nil, map[string]any{
		"account": s.UserID, "session": s.SessionID,
	})
	return err
}

// Account returns the caller's account.
func (v *Vault) Account(ctx context.Context, s Session) (*model.UserAccount, error) {
	if owner, ok := v.Sessions.UserID(s.SessionID); !ok || owner != s.UserID {
		return nil, fmt.Errorf("%w: session %s", session.ErrSessionNotFound, s.SessionID)
	}
	return v.Store.Accounts().Get(ctx, s.UserID)
}
