package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoginWithoutMFAIssuesSession(t *testing.T) {
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, newFakeStore(), notifier)
	ctx := context.Background()

	userID, _ := registerConfirmedUser(t, engine, notifier)

	result, err := engine.Login(ctx, testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.MFARequired {
		t.Fatal("no second factor is enrolled")
	}

	got, err := engine.ValidateSession(ctx, result.Token)
	if err != nil {
		t.Fatalf("ValidateSession failed: %v", err)
	}
	if got != userID {
		t.Fatalf("session for wrong user: got %q want %q", got, userID)
	}
}

func TestLoginWrongPasswordAndUnknownEmailAreUniform(t *testing.T) {
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, newFakeStore(), notifier)
	ctx := context.Background()

	registerConfirmedUser(t, engine, notifier)

	_, err1 := engine.Login(ctx, testEmail, "Wrong-Passw0rd!")
	_, err2 := engine.Login(ctx, "nobody@example.com", testPassword)

	if !errors.Is(err1, ErrInvalidCredentials) || !errors.Is(err2, ErrInvalidCredentials) {
		t.Fatalf("got %v / %v, want ErrInvalidCredentials for both", err1, err2)
	}
	if !errors.Is(err1, ErrAuthenticationFailed) {
		t.Fatal("credential failures must wrap ErrAuthenticationFailed")
	}
}

func TestLoginRequiresConfirmedEmail(t *testing.T) {
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, newFakeStore(), notifier)
	ctx := context.Background()

	if _, err := engine.Register(ctx, RegisterRequest{Email: testEmail, Password: testPassword}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, err := engine.Login(ctx, testEmail, testPassword); !errors.Is(err, ErrConfirmationInvalid) {
		t.Fatalf("got %v, want ErrConfirmationInvalid", err)
	}
}

func TestLoginEmailMFAFlow(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, store, notifier)
	ctx := context.Background()

	userID, _ := registerConfirmedUser(t, engine, notifier)

	if err := engine.UpdateMFASettings(ctx, userID, MFASettings{Enabled: true, Method: MFAEmail}); err != nil {
		t.Fatalf("UpdateMFASettings failed: %v", err)
	}

	result, err := engine.Login(ctx, testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !result.MFARequired || result.MFAMethod != MFAEmail {
		t.Fatalf("expected pending email MFA, got %+v", result)
	}
	if result.Token != "" {
		t.Fatal("no session token before the second factor")
	}

	code := notifier.lastCode(t)
	tok, err := engine.ConfirmMFA(ctx, testEmail, code)
	if err != nil {
		t.Fatalf("ConfirmMFA failed: %v", err)
	}
	if got, err := engine.ValidateSession(ctx, tok); err != nil || got != userID {
		t.Fatalf("session invalid after MFA: %q %v", got, err)
	}

	// The code is single-use.
	if _, err := engine.ConfirmMFA(ctx, testEmail, code); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("reused code: got %v, want ErrInvalidOrExpiredCode", err)
	}
}

func TestLoginSMSMFAUsesPhone(t *testing.T) {
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, newFakeStore(), notifier)
	ctx := context.Background()

	userID, _ := registerConfirmedUser(t, engine, notifier)

	if err := engine.UpdateMFASettings(ctx, userID, MFASettings{Enabled: true, Method: MFASMS}); err != nil {
		t.Fatalf("UpdateMFASettings failed: %v", err)
	}

	if _, err := engine.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	delivered := notifier.last(t)
	if delivered.channel != ChannelSMS || delivered.destination != "+15550100" {
		t.Fatalf("expected SMS to the enrolled phone, got %+v", delivered)
	}
}

func TestOTPChallengeExpires(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, store, notifier)
	ctx := context.Background()

	userID, _ := registerConfirmedUser(t, engine, notifier)
	if err := engine.UpdateMFASettings(ctx, userID, MFASettings{Enabled: true, Method: MFAEmail}); err != nil {
		t.Fatalf("UpdateMFASettings failed: %v", err)
	}
	if _, err := engine.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	record, err := store.GetByEmail(ctx, testEmail)
	if err != nil {
		t.Fatalf("GetByEmail failed: %v", err)
	}
	record.Pending.ExpiresAt = time.Now().Add(-time.Second).Unix()
	if err := store.Update(ctx, record); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if _, err := engine.ConfirmMFA(ctx, testEmail, notifier.lastCode(t)); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expired challenge: got %v, want ErrInvalidOrExpiredCode", err)
	}
}

func TestSecondLoginInvalidatesFirstChallenge(t *testing.T) {
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, newFakeStore(), notifier)
	ctx := context.Background()

	userID, _ := registerConfirmedUser(t, engine, notifier)
	if err := engine.UpdateMFASettings(ctx, userID, MFASettings{Enabled: true, Method: MFAEmail}); err != nil {
		t.Fatalf("UpdateMFASettings failed: %v", err)
	}

	if _, err := engine.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("first Login failed: %v", err)
	}
	firstCode := notifier.lastCode(t)

	if _, err := engine.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("second Login failed: %v", err)
	}
	secondCode := notifier.lastCode(t)

	if firstCode != secondCode {
		if _, err := engine.ConfirmMFA(ctx, testEmail, firstCode); !errors.Is(err, ErrInvalidOrExpiredCode) {
			t.Fatalf("stale challenge code: got %v, want ErrInvalidOrExpiredCode", err)
		}
	}
	if _, err := engine.ConfirmMFA(ctx, testEmail, secondCode); err != nil {
		t.Fatalf("live challenge code rejected: %v", err)
	}
}

func TestConfirmMFAGuessCapBurnsChallenge(t *testing.T) {
	notifier := &fakeNotifier{}
	cfg := testConfig()
	cfg.Security.MaxChallengeGuesses = 3
	engine := newTestEngineWithConfig(t, newFakeStore(), notifier, cfg)
	ctx := context.Background()

	userID, _ := registerConfirmedUser(t, engine, notifier)
	if err := engine.UpdateMFASettings(ctx, userID, MFASettings{Enabled: true, Method: MFAEmail}); err != nil {
		t.Fatalf("UpdateMFASettings failed: %v", err)
	}
	if _, err := engine.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	code := notifier.lastCode(t)
	wrong := "000000"
	if wrong == code {
		wrong = "111111"
	}

	for i := 0; i < 3; i++ {
		if _, err := engine.ConfirmMFA(ctx, testEmail, wrong); !errors.Is(err, ErrInvalidOrExpiredCode) {
			t.Fatalf("guess %d: got %v, want ErrInvalidOrExpiredCode", i+1, err)
		}
	}

	// The cap burns the challenge: even the delivered code is useless now.
	if _, err := engine.ConfirmMFA(ctx, testEmail, code); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("after cap: got %v, want ErrInvalidOrExpiredCode", err)
	}

	// A fresh login issues a fresh challenge with a fresh guess budget.
	if _, err := engine.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("second Login failed: %v", err)
	}
	if _, err := engine.ConfirmMFA(ctx, testEmail, notifier.lastCode(t)); err != nil {
		t.Fatalf("fresh challenge rejected: %v", err)
	}
}

func TestConfirmMFAWrongGuessBelowCapKeepsChallengeLive(t *testing.T) {
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, newFakeStore(), notifier)
	ctx := context.Background()

	userID, _ := registerConfirmedUser(t, engine, notifier)
	if err := engine.UpdateMFASettings(ctx, userID, MFASettings{Enabled: true, Method: MFAEmail}); err != nil {
		t.Fatalf("UpdateMFASettings failed: %v", err)
	}
	if _, err := engine.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	code := notifier.lastCode(t)
	wrong := "000000"
	if wrong == code {
		wrong = "111111"
	}

	if _, err := engine.ConfirmMFA(ctx, testEmail, wrong); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("wrong guess: got %v, want ErrInvalidOrExpiredCode", err)
	}
	if _, err := engine.ConfirmMFA(ctx, testEmail, code); err != nil {
		t.Fatalf("code rejected after a single wrong guess: %v", err)
	}
}

func TestUpdateMFASettingsInvariants(t *testing.T) {
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, newFakeStore(), notifier)
	ctx := context.Background()

	userID, _ := registerConfirmedUser(t, engine, notifier)

	if err := engine.UpdateMFASettings(ctx, userID, MFASettings{Enabled: true, Method: MFAEmail}); err != nil {
		t.Fatalf("enable email MFA: %v", err)
	}

	// Switching methods without disabling first is rejected.
	err := engine.UpdateMFASettings(ctx, userID, MFASettings{Enabled: true, Method: MFASMS})
	if !errors.Is(err, ErrMFAMethodAlreadySet) {
		t.Fatalf("got %v, want ErrMFAMethodAlreadySet", err)
	}

	if err := engine.UpdateMFASettings(ctx, userID, MFASettings{Enabled: false}); err != nil {
		t.Fatalf("disable MFA: %v", err)
	}
	if err := engine.UpdateMFASettings(ctx, userID, MFASettings{Enabled: true, Method: MFASMS}); err != nil {
		t.Fatalf("enable SMS MFA after disable: %v", err)
	}

	// TOTP and WebAuthn demand enrolled material.
	if err := engine.UpdateMFASettings(ctx, userID, MFASettings{Enabled: false}); err != nil {
		t.Fatalf("disable MFA: %v", err)
	}
	if err := engine.UpdateMFASettings(ctx, userID, MFASettings{Enabled: true, Method: MFATOTP}); !errors.Is(err, ErrNotEnrolled) {
		t.Fatalf("TOTP without secret: got %v, want ErrNotEnrolled", err)
	}
	if err := engine.UpdateMFASettings(ctx, userID, MFASettings{Enabled: true, Method: MFAWebAuthn}); !errors.Is(err, ErrNotEnrolled) {
		t.Fatalf("WebAuthn without credential: got %v, want ErrNotEnrolled", err)
	}
}

func TestLoginRateLimited(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	notifier := &fakeNotifier{}
	cfg := testConfig()
	cfg.Security.EnableIdentifierThrottle = true
	cfg.Security.MaxLoginAttempts = 2
	cfg.Security.LoginCooldown = time.Minute

	engine, err := New().
		WithConfig(cfg).
		WithStore(newFakeStore()).
		WithNotifier(notifier).
		WithRedis(rdb).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	ctx := context.Background()
	registerConfirmedUser(t, engine, notifier)

	if _, err := engine.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("attempt 1: %v", err)
	}
	if _, err := engine.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("attempt 2: %v", err)
	}
	if _, err := engine.Login(ctx, testEmail, testPassword); !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("attempt 3: got %v, want ErrLoginRateLimited", err)
	}
}
