package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/safepassvault/identity/internal"
)

// issueOTPChallenge generates a one-time code, stores only its digest on
// the record, and delivers the code over the given channel. Any previous
// pending challenge is overwritten.
func (e *Engine) issueOTPChallenge(ctx context.Context, record *CredentialRecord, channel Channel) error {
	code, err := internal.NewOTP(e.config.OTP.Digits)
	if err != nil {
		return err
	}

	now := time.Now()
	hash := internal.HashSecret(code)
	record.Pending = &PendingChallenge{
		Kind:       ChallengeOTP,
		SecretHash: hash,
		IssuedAt:   now.Unix(),
		ExpiresAt:  now.Add(e.config.OTP.TTL).Unix(),
	}

	if err := e.store.Update(ctx, record); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return ErrInvalidOrExpiredCode
		}
		return fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}

	destination := record.Email
	message := Notification{
		Subject: "Your SafePassVault verification code",
		Body:    fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(e.config.OTP.TTL.Minutes())),
	}
	if channel == ChannelSMS {
		destination = record.Phone
		message = Notification{
			Body: fmt.Sprintf("SafePassVault code: %s", code),
		}
	}

	if err := e.notifier.Send(ctx, channel, destination, message); err != nil {
		return ErrDeliveryFailed
	}
	return nil
}

// verifyOTPChallenge consumes the pending OTP on the record. The pending
// slot is cleared on success before the session is issued; a stale write
// means another verification raced this one and the code is treated as
// spent. Each wrong guess is written back to the record, and the
// challenge is burned once the guess cap is reached.
func (e *Engine) verifyOTPChallenge(ctx context.Context, record *CredentialRecord, code string) error {
	pending := record.Pending
	if pending == nil || pending.Kind != ChallengeOTP {
		return ErrInvalidOrExpiredCode
	}
	if time.Now().Unix() > pending.ExpiresAt {
		return ErrInvalidOrExpiredCode
	}
	if !internal.SecretMatches(pending.SecretHash, code) {
		pending.Guesses++
		if pending.Guesses >= e.config.Security.MaxChallengeGuesses {
			record.Pending = nil
		}
		if err := e.store.Update(ctx, record); err != nil && !errors.Is(err, ErrVersionConflict) {
			e.warn("recording failed guess for %s: %v", record.UserID, err)
		}
		return ErrInvalidOrExpiredCode
	}

	record.Pending = nil
	if err := e.store.Update(ctx, record); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return ErrInvalidOrExpiredCode
		}
		return fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}

	return nil
}
