package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMagicLinkRoundTrip(t *testing.T) {
	notifier := &fakeNotifier{}
	cfg := testConfig()
	cfg.MagicLink.BaseURL = "https://vault.example.com/magic"
	engine := newTestEngineWithConfig(t, newFakeStore(), notifier, cfg)
	ctx := context.Background()

	userID, _ := registerConfirmedUser(t, engine, notifier)

	if err := engine.RequestMagicLink(ctx, testEmail); err != nil {
		t.Fatalf("RequestMagicLink failed: %v", err)
	}

	body := notifier.last(t).message.Body
	if !strings.Contains(body, "https://vault.example.com/magic?token=") {
		t.Fatalf("expected a link in the body, got %q", body)
	}

	sessionTok, err := engine.RedeemMagicLink(ctx, notifier.lastJWT(t))
	if err != nil {
		t.Fatalf("RedeemMagicLink failed: %v", err)
	}
	if got, err := engine.ValidateSession(ctx, sessionTok); err != nil || got != userID {
		t.Fatalf("session invalid after redeem: %q %v", got, err)
	}
}

func TestMagicLinkTokenIsNotASession(t *testing.T) {
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, newFakeStore(), notifier)
	ctx := context.Background()

	registerConfirmedUser(t, engine, notifier)

	if err := engine.RequestMagicLink(ctx, testEmail); err != nil {
		t.Fatalf("RequestMagicLink failed: %v", err)
	}
	linkTok := notifier.lastJWT(t)

	if _, err := engine.ValidateSession(ctx, linkTok); !errors.Is(err, ErrSessionTokenInvalid) {
		t.Fatalf("magic-link token as session: got %v, want ErrSessionTokenInvalid", err)
	}
}

func TestRedeemMagicLinkRejectsGarbageAndSessions(t *testing.T) {
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, newFakeStore(), notifier)
	ctx := context.Background()

	_, sessionTok := registerConfirmedUser(t, engine, notifier)

	if _, err := engine.RedeemMagicLink(ctx, "not-a-token"); !errors.Is(err, ErrMagicLinkInvalid) {
		t.Fatalf("garbage: got %v, want ErrMagicLinkInvalid", err)
	}
	// A session token is signed under the other key and must not redeem.
	if _, err := engine.RedeemMagicLink(ctx, sessionTok); !errors.Is(err, ErrMagicLinkInvalid) {
		t.Fatalf("session token: got %v, want ErrMagicLinkInvalid", err)
	}
}

func TestRequestMagicLinkUnknownEmailIsSilent(t *testing.T) {
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, newFakeStore(), notifier)

	if err := engine.RequestMagicLink(context.Background(), "nobody@example.com"); err != nil {
		t.Fatalf("got %v, want nil for unknown address", err)
	}
	if len(notifier.sent) != 0 {
		t.Fatal("nothing should be delivered for unknown addresses")
	}
}

func TestValidateSessionExpiry(t *testing.T) {
	notifier := &fakeNotifier{}
	cfg := testConfig()
	cfg.Token.SessionTTL = time.Millisecond
	engine := newTestEngineWithConfig(t, newFakeStore(), notifier, cfg)
	ctx := context.Background()

	_, tok := registerConfirmedUser(t, engine, notifier)

	time.Sleep(5 * time.Millisecond)

	if _, err := engine.ValidateSession(ctx, tok); !errors.Is(err, ErrSessionTokenExpired) {
		t.Fatalf("got %v, want ErrSessionTokenExpired", err)
	}
}
