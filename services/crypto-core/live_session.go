package ratchet

import (
	"context"
	"errors"
	"sync"
)

// Session owns a SessionState together with the transport subscriptions
// that keep it fed: the pure, serializable ratchet math lives in
// SessionState, while Session wires that math to a concrete Transport and
// a caller-supplied delivery callback.
type Session struct {
	mu      sync.Mutex
	state   *SessionState
	subs    subscriptionSet
	onEvent func(plaintext []byte, envelope *Envelope)
	onError func(error)
}

// NewSession wraps a freshly-initialized or resumed SessionState with a
// transport. No subscriptions are opened until OnMessage is called, so a
// resumed session stays offline until the caller asks for delivery.
func NewSession(state *SessionState, transport Transport) *Session {
	return &Session{
		state: state,
		subs:  subscriptionSet{transport: transport},
	}
}

// OnMessage registers the delivery callback and lazily opens the session's
// live subscriptions.
func (s *Session) OnMessage(ctx context.Context, onEvent func(plaintext []byte, envelope *Envelope), onError func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = onEvent
	s.onError = onError
	return s.subs.sync(ctx, s.state, s.dispatch)
}

// dispatch is the Transport-facing event handler: it decrypts the inbound
// envelope, re-syncs subscriptions in case the ratchet stepped forward, and
// hands the plaintext to the registered callback.
func (s *Session) dispatch(envelope *Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !VerifyEnvelope(envelope) {
		if s.onError != nil {
			s.onError(ErrMalformedHeader)
		}
		return
	}

	plaintext, err := Receive(s.state, envelope)
	if err != nil {
		// Undecryptable headers and already-consumed envelopes are dropped
		// without a diagnostic: they are expected on a shared transport
		// (unrelated sessions, replays) and reporting them would let a peer
		// spam the other side's diagnostics.
		if errors.Is(err, ErrHeaderDecryptFailed) || errors.Is(err, ErrDuplicateSkippedEnvelope) {
			return
		}
		if s.onError != nil {
			s.onError(err)
		}
		return
	}

	if err := s.subs.sync(context.Background(), s.state, s.dispatch); err != nil && s.onError != nil {
		s.onError(err)
	}

	if s.onEvent != nil {
		s.onEvent(plaintext, envelope)
	}
}

// Send encrypts plaintext with the underlying ratchet and publishes the
// resulting envelope through the transport.
func (s *Session) Send(ctx context.Context, plaintext []byte) (*Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	envelope, err := Send(s.state, plaintext)
	if err != nil {
		return nil, err
	}
	if s.subs.transport != nil {
		if err := s.subs.transport.Publish(ctx, envelope); err != nil {
			return nil, err
		}
	}
	return envelope, nil
}

// Close cancels every live subscription. The underlying SessionState is
// left untouched and can still be exported via Export.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs.close()
}

// State returns the wrapped SessionState, e.g. for serialization.
func (s *Session) State() *SessionState {
	return s.state
}
