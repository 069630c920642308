package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// webauthnUser adapts a credential record to the relying-party library's
// user model. The user handle is the stable vault user ID, never the
// email, so credentials survive address changes.
type webauthnUser struct {
	record      *CredentialRecord
	credentials []webauthn.Credential
}

func newWebauthnUser(record *CredentialRecord) (*webauthnUser, error) {
	u := &webauthnUser{record: record}
	if len(record.WebAuthnCredential) > 0 {
		var cred webauthn.Credential
		if err := json.Unmarshal(record.WebAuthnCredential, &cred); err != nil {
			return nil, fmt.Errorf("decode stored credential: %w", err)
		}
		u.credentials = []webauthn.Credential{cred}
	}
	return u, nil
}

func (u *webauthnUser) WebAuthnID() []byte {
	return []byte(u.record.UserID)
}

func (u *webauthnUser) WebAuthnName() string {
	return u.record.Email
}

func (u *webauthnUser) WebAuthnDisplayName() string {
	if u.record.Name != "" {
		return u.record.Name
	}
	return u.record.Email
}

func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

// BeginWebAuthnRegistration starts an attestation ceremony and returns
// the creation options for the client. The ceremony state is held on the
// record as the pending challenge; starting a new ceremony invalidates
// any previous one.
func (e *Engine) BeginWebAuthnRegistration(ctx context.Context, userID string) ([]byte, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	record, err := e.lookupByID(ctx, userID, ErrRecordNotFound)
	if err != nil {
		return nil, err
	}

	user, err := newWebauthnUser(record)
	if err != nil {
		return nil, err
	}

	options, session, err := e.webAuthn.BeginRegistration(user)
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", err)
	}

	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}

	if err := e.storeCeremony(ctx, record, ChallengeWebAuthnRegistration, session); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventWebAuthnRegisterBegin, true, record.UserID, nil, nil)
	return optionsJSON, nil
}

// FinishWebAuthnRegistration validates the authenticator's attestation
// response against the pending ceremony and stores the new credential.
// The pending challenge is consumed whether or not validation succeeds.
func (e *Engine) FinishWebAuthnRegistration(ctx context.Context, userID string, response []byte) error {
	if e == nil {
		return ErrEngineNotReady
	}

	record, err := e.lookupByID(ctx, userID, ErrRecordNotFound)
	if err != nil {
		return err
	}

	session, err := e.consumeCeremony(record, ChallengeWebAuthnRegistration)
	if err != nil {
		e.emitAudit(ctx, auditEventWebAuthnRegisterFailed, false, record.UserID, err, nil)
		return err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		e.failWebAuthnCeremony(ctx, record, auditEventWebAuthnRegisterFailed, ErrAttestationInvalid)
		return ErrAttestationInvalid
	}

	user, err := newWebauthnUser(record)
	if err != nil {
		return err
	}

	credential, err := e.webAuthn.CreateCredential(user, *session, parsed)
	if err != nil {
		e.failWebAuthnCeremony(ctx, record, auditEventWebAuthnRegisterFailed, ErrAttestationInvalid)
		return ErrAttestationInvalid
	}

	credentialJSON, err := json.Marshal(credential)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}

	record.WebAuthnCredential = credentialJSON
	record.SignCount = credential.Authenticator.SignCount
	record.Pending = nil

	if err := e.store.Update(ctx, record); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return ErrChallengeMismatch
		}
		return fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}

	e.metricInc(MetricWebAuthnRegistered)
	e.emitAudit(ctx, auditEventWebAuthnRegisterDone, true, record.UserID, nil, nil)
	return nil
}

// BeginWebAuthnLogin starts an assertion ceremony for the account and
// returns the request options for the client.
func (e *Engine) BeginWebAuthnLogin(ctx context.Context, email string) ([]byte, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	record, err := e.lookupByEmail(ctx, email, ErrNotEnrolled)
	if err != nil {
		return nil, err
	}
	return e.beginWebAuthnLogin(ctx, record)
}

func (e *Engine) beginWebAuthnLogin(ctx context.Context, record *CredentialRecord) ([]byte, error) {
	if len(record.WebAuthnCredential) == 0 {
		return nil, ErrNotEnrolled
	}

	user, err := newWebauthnUser(record)
	if err != nil {
		return nil, err
	}

	options, session, err := e.webAuthn.BeginLogin(user)
	if err != nil {
		return nil, fmt.Errorf("begin login: %w", err)
	}

	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}

	if err := e.storeCeremony(ctx, record, ChallengeWebAuthnLogin, session); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventWebAuthnLoginBegin, true, record.UserID, nil, nil)
	return optionsJSON, nil
}

// FinishWebAuthnLogin validates the authenticator's assertion response,
// enforces sign-count advancement, and issues a session token. A reported
// counter at or below the stored one is rejected as a replay before the
// signature is even checked.
func (e *Engine) FinishWebAuthnLogin(ctx context.Context, email string, response []byte) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}

	record, err := e.lookupByEmail(ctx, email, ErrNotEnrolled)
	if err != nil {
		return "", err
	}

	session, err := e.consumeCeremony(record, ChallengeWebAuthnLogin)
	if err != nil {
		e.webAuthnLoginFailed(ctx, record, err)
		return "", err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		e.failWebAuthnCeremony(ctx, record, auditEventWebAuthnLoginFailure, ErrSignatureInvalid)
		return "", ErrSignatureInvalid
	}

	reported := parsed.Response.AuthenticatorData.Counter
	if signCountRegressed(record.SignCount, reported) {
		e.metricInc(MetricWebAuthnReplay)
		e.emitAudit(ctx, auditEventWebAuthnReplay, false, record.UserID, ErrReplayDetected, func() map[string]string {
			return map[string]string{
				"reported_count": fmt.Sprintf("%d", reported),
				"stored_count":   fmt.Sprintf("%d", record.SignCount),
			}
		})
		e.failWebAuthnCeremony(ctx, record, auditEventWebAuthnLoginFailure, ErrReplayDetected)
		return "", ErrReplayDetected
	}

	user, err := newWebauthnUser(record)
	if err != nil {
		return "", err
	}

	credential, err := e.webAuthn.ValidateLogin(user, *session, parsed)
	if err != nil {
		e.failWebAuthnCeremony(ctx, record, auditEventWebAuthnLoginFailure, ErrSignatureInvalid)
		return "", ErrSignatureInvalid
	}

	credentialJSON, err := json.Marshal(credential)
	if err != nil {
		return "", fmt.Errorf("encode credential: %w", err)
	}

	record.WebAuthnCredential = credentialJSON
	record.SignCount = reported
	record.Pending = nil

	if err := e.store.Update(ctx, record); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			// A concurrent assertion advanced the record first.
			return "", ErrReplayDetected
		}
		return "", fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}

	tok, err := e.tokens.IssueSession(record.UserID)
	if err != nil {
		return "", fmt.Errorf("issue session: %w", err)
	}

	e.metricInc(MetricWebAuthnLoginSuccess)
	e.emitAudit(ctx, auditEventWebAuthnLoginSuccess, true, record.UserID, nil, nil)
	return tok, nil
}

// signCountRegressed reports whether an assertion's counter fails to
// advance past the stored one. Authenticators that never implement a
// counter report zero on every assertion; the zero/zero pair is the only
// non-advancing combination that is not treated as a cloned key.
func signCountRegressed(stored, reported uint32) bool {
	if stored == 0 && reported == 0 {
		return false
	}
	return reported <= stored
}

// storeCeremony persists relying-party session state as the record's
// pending challenge.
func (e *Engine) storeCeremony(ctx context.Context, record *CredentialRecord, kind ChallengeKind, session *webauthn.SessionData) error {
	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode ceremony state: %w", err)
	}

	now := time.Now()
	record.Pending = &PendingChallenge{
		Kind:      kind,
		Data:      sessionJSON,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(e.config.WebAuthn.ChallengeTTL).Unix(),
	}

	if err := e.store.Update(ctx, record); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return ErrChallengeMismatch
		}
		return fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}
	return nil
}

// consumeCeremony checks that a live ceremony of the expected kind is
// pending and decodes its session state. It does not persist the clear;
// callers write through the record's versioned update so consumption and
// outcome land atomically.
func (e *Engine) consumeCeremony(record *CredentialRecord, kind ChallengeKind) (*webauthn.SessionData, error) {
	pending := record.Pending
	if pending == nil || pending.Kind != kind {
		return nil, ErrChallengeMismatch
	}
	if time.Now().Unix() > pending.ExpiresAt {
		return nil, ErrChallengeMismatch
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(pending.Data, &session); err != nil {
		return nil, ErrChallengeMismatch
	}
	return &session, nil
}

// failWebAuthnCeremony clears the pending challenge after a failed
// completion so the response cannot be retried against the same
// challenge. Best-effort: a version conflict means another write already
// replaced it.
func (e *Engine) failWebAuthnCeremony(ctx context.Context, record *CredentialRecord, event string, cause error) {
	record.Pending = nil
	if err := e.store.Update(ctx, record); err != nil && !errors.Is(err, ErrVersionConflict) {
		e.warn("clearing failed ceremony for %s: %v", record.UserID, err)
	}
	e.webAuthnLoginFailedEvent(ctx, record, event, cause)
}

func (e *Engine) webAuthnLoginFailed(ctx context.Context, record *CredentialRecord, cause error) {
	e.webAuthnLoginFailedEvent(ctx, record, auditEventWebAuthnLoginFailure, cause)
}

func (e *Engine) webAuthnLoginFailedEvent(ctx context.Context, record *CredentialRecord, event string, cause error) {
	if event == auditEventWebAuthnLoginFailure {
		e.metricInc(MetricWebAuthnLoginFailure)
	}
	e.emitAudit(ctx, event, false, record.UserID, cause, nil)
}
