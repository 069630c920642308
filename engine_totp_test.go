package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

func codeForOffset(t *testing.T, secret string, offset time.Duration) string {
	t.Helper()

	code, err := totp.GenerateCode(secret, time.Now().Add(offset))
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	return code
}

func enrollTOTPUser(t *testing.T, engine *Engine, notifier *fakeNotifier) (string, *TOTPEnrollment) {
	t.Helper()

	userID, _ := registerConfirmedUser(t, engine, notifier)
	enrollment, err := engine.EnrollTOTP(context.Background(), userID)
	if err != nil {
		t.Fatalf("EnrollTOTP failed: %v", err)
	}
	return userID, enrollment
}

func TestEnrollTOTPReturnsProvisioningURI(t *testing.T) {
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, newFakeStore(), notifier)

	_, enrollment := enrollTOTPUser(t, engine, notifier)

	if enrollment.Secret == "" {
		t.Fatal("expected a shared secret")
	}
	if !strings.HasPrefix(enrollment.URI, "otpauth://totp/") {
		t.Fatalf("unexpected provisioning URI: %q", enrollment.URI)
	}
	if !strings.Contains(enrollment.URI, "SafePassVault") {
		t.Fatalf("issuer missing from URI: %q", enrollment.URI)
	}
}

func TestTOTPLoginFlow(t *testing.T) {
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, newFakeStore(), notifier)
	ctx := context.Background()

	userID, enrollment := enrollTOTPUser(t, engine, notifier)

	err := engine.UpdateMFASettings(ctx, userID, MFASettings{
		Enabled:  true,
		Method:   MFATOTP,
		TOTPCode: codeForOffset(t, enrollment.Secret, 0),
	})
	if err != nil {
		t.Fatalf("UpdateMFASettings failed: %v", err)
	}

	result, err := engine.Login(ctx, testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !result.MFARequired || result.MFAMethod != MFATOTP {
		t.Fatalf("expected pending TOTP MFA, got %+v", result)
	}

	tok, err := engine.ConfirmMFA(ctx, testEmail, codeForOffset(t, enrollment.Secret, 0))
	if err != nil {
		t.Fatalf("ConfirmMFA failed: %v", err)
	}
	if got, err := engine.ValidateSession(ctx, tok); err != nil || got != userID {
		t.Fatalf("session invalid after TOTP: %q %v", got, err)
	}
}

func TestTOTPEnablingRequiresValidProof(t *testing.T) {
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, newFakeStore(), notifier)

	userID, _ := enrollTOTPUser(t, engine, notifier)

	err := engine.UpdateMFASettings(context.Background(), userID, MFASettings{
		Enabled:  true,
		Method:   MFATOTP,
		TOTPCode: "000000",
	})
	if !errors.Is(err, ErrTOTPInvalid) {
		t.Fatalf("got %v, want ErrTOTPInvalid", err)
	}
}

func TestTOTPRejectsAdjacentStepWithZeroSkew(t *testing.T) {
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, newFakeStore(), notifier)
	ctx := context.Background()

	userID, enrollment := enrollTOTPUser(t, engine, notifier)

	// A code from the previous 30-second window must fail: the default
	// tolerance is zero steps.
	stale := codeForOffset(t, enrollment.Secret, -31*time.Second)
	current := codeForOffset(t, enrollment.Secret, 0)
	if stale == current {
		t.Skip("windows collided at a step boundary")
	}

	if err := engine.VerifyTOTP(ctx, userID, stale); !errors.Is(err, ErrTOTPInvalid) {
		t.Fatalf("stale code: got %v, want ErrTOTPInvalid", err)
	}
	if err := engine.VerifyTOTP(ctx, userID, current); err != nil {
		t.Fatalf("current code rejected: %v", err)
	}
}

func TestTOTPSkewOneAcceptsAdjacentStep(t *testing.T) {
	notifier := &fakeNotifier{}
	cfg := testConfig()
	cfg.TOTP.Skew = 1
	engine := newTestEngineWithConfig(t, newFakeStore(), notifier, cfg)
	ctx := context.Background()

	userID, enrollment := enrollTOTPUser(t, engine, notifier)

	if err := engine.VerifyTOTP(ctx, userID, codeForOffset(t, enrollment.Secret, -30*time.Second)); err != nil {
		t.Fatalf("previous-step code rejected with skew 1: %v", err)
	}
	if err := engine.VerifyTOTP(ctx, userID, codeForOffset(t, enrollment.Secret, 30*time.Second)); err != nil {
		t.Fatalf("next-step code rejected with skew 1: %v", err)
	}
}

func TestTOTPReplayProtection(t *testing.T) {
	notifier := &fakeNotifier{}
	cfg := testConfig()
	cfg.TOTP.EnforceReplayProtection = true
	engine := newTestEngineWithConfig(t, newFakeStore(), notifier, cfg)
	ctx := context.Background()

	userID, enrollment := enrollTOTPUser(t, engine, notifier)
	code := codeForOffset(t, enrollment.Secret, 0)

	if err := engine.VerifyTOTP(ctx, userID, code); err != nil {
		t.Fatalf("first use rejected: %v", err)
	}
	if err := engine.VerifyTOTP(ctx, userID, code); !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("second use: got %v, want ErrReplayDetected", err)
	}
}

func TestVerifyTOTPWithoutEnrollment(t *testing.T) {
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, newFakeStore(), notifier)

	userID, _ := registerConfirmedUser(t, engine, notifier)

	if err := engine.VerifyTOTP(context.Background(), userID, "123456"); !errors.Is(err, ErrNotEnrolled) {
		t.Fatalf("got %v, want ErrNotEnrolled", err)
	}
}
