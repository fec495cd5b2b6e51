package ratchet

import "errors"

var (
	// ErrNotYetAbleToSend is returned by Send when the session has not yet
	// derived a sending chain key (a responder before its first receive).
	ErrNotYetAbleToSend = errors.New("ratchet: session cannot send yet")

	// ErrHeaderDecryptFailed means every candidate header key failed to open
	// the envelope's encrypted header. Callers should drop the envelope
	// silently rather than treat it as an error.
	ErrHeaderDecryptFailed = errors.New("ratchet: header decryption failed")

	// ErrBodyDecryptFailed means the header decrypted but the AEAD body did
	// not authenticate. Session state advanced for the chain step is not
	// rolled back.
	ErrBodyDecryptFailed = errors.New("ratchet: body decryption failed")

	// ErrDuplicateSkippedEnvelope means no cached message key exists for the
	// envelope's (author, number) pair and either it matched a skipped header
	// key or its number lies behind the receiving chain's counter.
	ErrDuplicateSkippedEnvelope = errors.New("ratchet: duplicate or already-consumed envelope")

	// ErrTooManyMissedMessages is fatal to the session: a skip-ahead gap
	// exceeded MaxSkip in a single jump.
	ErrTooManyMissedMessages = errors.New("ratchet: too many missed messages")

	// ErrMalformedHeader covers header JSON/schema failures distinct from
	// AEAD failures.
	ErrMalformedHeader = errors.New("ratchet: malformed header")

	// ErrMalformedInviteData covers invite JSON/schema failures.
	ErrMalformedInviteData = errors.New("ratchet: malformed invite data")

	// ErrInviteExhausted is returned when an invite has already reached its
	// configured max_uses and cannot accept another acceptance envelope.
	ErrInviteExhausted = errors.New("ratchet: invite has reached its use limit")

	// ErrInviteDecryptFailed means the invite acceptance envelope failed its
	// signature check, or its outer or inner layer did not authenticate
	// under the expected keys.
	ErrInviteDecryptFailed = errors.New("ratchet: invite acceptance decryption failed")
)
