package ratchet

import (
	"context"
	"testing"
)

func (m *memoryTransport) liveSubCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, sub := range m.subs {
		if !sub.closed {
			n++
		}
	}
	return n
}

// establishLivePair runs the invite handshake over a shared in-memory
// transport and returns both ends wrapped as live Sessions.
func establishLivePair(t *testing.T, transport *memoryTransport) (invitee, inviter *Session) {
	t.Helper()

	inviterStatic, err := generateKeyPair()
	if err != nil {
		t.Fatalf("inviter static: %v", err)
	}
	inviteeStatic, err := generateKeyPair()
	if err != nil {
		t.Fatalf("invitee static: %v", err)
	}
	invite, err := CreateInvite(inviterStatic.Public, 1)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}

	cancel, err := ListenInvite(context.Background(), transport, invite, inviterStatic.Private, func(s *Session, _ [32]byte, err error) {
		if err != nil {
			t.Errorf("invite acceptance: %v", err)
			return
		}
		inviter = s
	})
	if err != nil {
		t.Fatalf("listen invite: %v", err)
	}
	defer cancel()

	invitee, err = AcceptInvite(context.Background(), transport, invite.Link, inviteeStatic.Private)
	if err != nil {
		t.Fatalf("accept invite: %v", err)
	}
	if inviter == nil {
		t.Fatalf("invite acceptance never reached the listener")
	}
	return invitee, inviter
}

func TestLiveSessionsConsecutiveMessages(t *testing.T) {
	restore := UseDeterministicRandom(deterministicReader(32768))
	defer restore()

	transport := &memoryTransport{}
	alice, bob := establishLivePair(t, transport)

	var bobGot, aliceGot []string
	if err := bob.OnMessage(context.Background(), func(plaintext []byte, _ *Envelope) {
		bobGot = append(bobGot, string(plaintext))
	}, nil); err != nil {
		t.Fatalf("bob OnMessage: %v", err)
	}
	if err := alice.OnMessage(context.Background(), func(plaintext []byte, _ *Envelope) {
		aliceGot = append(aliceGot, string(plaintext))
	}, nil); err != nil {
		t.Fatalf("alice OnMessage: %v", err)
	}

	// Three one-sided sends: the first triggers bob's DH step and a primary
	// re-subscription, which must keep covering the chain still in flight.
	for _, msg := range []string{"m1", "m2", "m3"} {
		if _, err := alice.Send(context.Background(), []byte(msg)); err != nil {
			t.Fatalf("alice send %q: %v", msg, err)
		}
	}
	if len(bobGot) != 3 || bobGot[0] != "m1" || bobGot[1] != "m2" || bobGot[2] != "m3" {
		t.Fatalf("bob deliveries mismatch: %v", bobGot)
	}

	for _, msg := range []string{"r1", "r2"} {
		if _, err := bob.Send(context.Background(), []byte(msg)); err != nil {
			t.Fatalf("bob send %q: %v", msg, err)
		}
	}
	if len(aliceGot) != 2 || aliceGot[0] != "r1" || aliceGot[1] != "r2" {
		t.Fatalf("alice deliveries mismatch: %v", aliceGot)
	}
}

func TestLiveSubscriptionInvariant(t *testing.T) {
	restore := UseDeterministicRandom(deterministicReader(32768))
	defer restore()

	transport := &memoryTransport{}
	alice, bob := establishLivePair(t, transport)

	if err := bob.OnMessage(context.Background(), nil, nil); err != nil {
		t.Fatalf("bob OnMessage: %v", err)
	}
	if got := transport.liveSubCount(); got != 1 {
		t.Fatalf("expected 1 live subscription (primary), got %d", got)
	}

	// An out-of-order delivery leaves a skipped entry behind, which must
	// open the skipped subscription alongside the primary.
	first, err := Send(alice.State(), []byte("first"))
	if err != nil {
		t.Fatalf("send first: %v", err)
	}
	second, err := Send(alice.State(), []byte("second"))
	if err != nil {
		t.Fatalf("send second: %v", err)
	}
	if err := transport.Publish(context.Background(), second); err != nil {
		t.Fatalf("publish second: %v", err)
	}
	if got := transport.liveSubCount(); got != 2 {
		t.Fatalf("expected primary + skipped subscriptions, got %d", got)
	}

	// Draining the skipped store closes the skipped subscription again.
	if err := transport.Publish(context.Background(), first); err != nil {
		t.Fatalf("publish first: %v", err)
	}
	if got := transport.liveSubCount(); got != 1 {
		t.Fatalf("expected skipped subscription closed after drain, got %d", got)
	}

	bob.Close()
	bob.Close() // close is idempotent
	if got := transport.liveSubCount(); got != 0 {
		t.Fatalf("expected no live subscriptions after close, got %d", got)
	}
}

func TestWaitForInviteTimesOut(t *testing.T) {
	restore := UseDeterministicRandom(deterministicReader(8192))
	defer restore()

	transport := &memoryTransport{}
	inviterStatic, err := generateKeyPair()
	if err != nil {
		t.Fatalf("inviter static: %v", err)
	}
	invite, err := CreateInvite(inviterStatic.Public, 1)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}

	_, _, err = WaitForInvite(context.Background(), transport, invite, inviterStatic.Private, 1)
	if err == nil {
		t.Fatalf("expected a timeout waiting on an unused invite")
	}
}
