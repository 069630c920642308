// Package identity is the authentication engine behind the SafePassVault
// credential vault. It covers registration with email confirmation, password
// login, second-factor dispatch across email/SMS one-time codes, TOTP, and
// WebAuthn ceremonies, passwordless magic links, password reset, and the
// RSA key-escrow account recovery flow.
//
// # Architecture boundaries
//
// identity is the public surface. It exposes [Engine], [Builder], [Config],
// the [CredentialRecord] document, and the collaborator interfaces
// ([EntityStore], [NotificationService], [AuditSink]). The engine never owns
// persistence or delivery: callers inject a store and a notifier, and every
// authentication-relevant outcome is emitted to the audit sink.
//
// # What this package must NOT do
//
//   - Hold process-wide mutable clients (mail, SMS, storage). All
//     collaborators are constructor-injected through [Builder.Build].
//   - Return one-time secrets (OTP codes, recovery tokens) in operation
//     results. Delivery is out-of-band through [NotificationService].
//   - Retain escrow private keys. [Engine.EnrollRecoveryKeys] hands the
//     private key to the caller exactly once.
//
// # Concurrency contract
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build]. Challenge consumption and sign-count advancement are
// read-modify-write against the [CredentialRecord] version; a stale write
// fails with [ErrVersionConflict] and is surfaced as a replay, never
// silently overwritten.
package identity
