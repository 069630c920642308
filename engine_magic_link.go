package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/safepassvault/identity/token"
)

// RequestMagicLink issues a short-lived signed login link and emails it
// to the account. Unknown addresses are treated as success so the
// operation does not reveal which emails have accounts.
func (e *Engine) RequestMagicLink(ctx context.Context, email string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	record, err := e.lookupByEmail(ctx, email, nil)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	tok, err := e.tokens.IssueMagicLink(record.Email)
	if err != nil {
		return fmt.Errorf("issue magic link: %w", err)
	}

	link := tok
	if e.config.MagicLink.BaseURL != "" {
		link = e.config.MagicLink.BaseURL + "?token=" + url.QueryEscape(tok)
	}

	err = e.notifier.Send(ctx, ChannelEmail, record.Email, Notification{
		Subject: "Your SafePassVault sign-in link",
		Body:    fmt.Sprintf("Sign in with this link: %s\nIt expires in %d minutes.", link, int(e.config.Token.MagicLinkTTL.Minutes())),
	})
	if err != nil {
		return ErrDeliveryFailed
	}

	e.metricInc(MetricMagicLinkIssued)
	e.emitAudit(ctx, auditEventMagicLinkRequested, true, record.UserID, nil, nil)
	return nil
}

// RedeemMagicLink exchanges a valid magic-link token for a full session
// token. Magic-link tokens are signed under their own key and can never
// be presented as sessions directly.
func (e *Engine) RedeemMagicLink(ctx context.Context, tokenStr string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}

	claims, err := e.tokens.ParseMagicLink(tokenStr)
	if err != nil {
		e.emitAudit(ctx, auditEventMagicLinkFailure, false, "", ErrMagicLinkInvalid, nil)
		return "", ErrMagicLinkInvalid
	}

	record, err := e.lookupByEmail(ctx, claims.Email, ErrMagicLinkInvalid)
	if err != nil {
		if errors.Is(err, ErrMagicLinkInvalid) {
			e.emitAudit(ctx, auditEventMagicLinkFailure, false, "", ErrMagicLinkInvalid, nil)
		}
		return "", err
	}

	sessionTok, err := e.tokens.IssueSession(record.UserID)
	if err != nil {
		return "", fmt.Errorf("issue session: %w", err)
	}

	e.metricInc(MetricMagicLinkRedeemed)
	e.emitAudit(ctx, auditEventMagicLinkRedeemed, true, record.UserID, nil, nil)
	return sessionTok, nil
}

// ValidateSession parses and verifies a session token and returns the
// authenticated user ID.
func (e *Engine) ValidateSession(ctx context.Context, tokenStr string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}

	claims, err := e.tokens.ParseSession(tokenStr)
	if err != nil {
		e.metricInc(MetricSessionRejected)
		if errors.Is(err, token.ErrExpired) {
			return "", ErrSessionTokenExpired
		}
		return "", ErrSessionTokenInvalid
	}

	e.metricInc(MetricSessionValidated)
	return claims.UID, nil
}
