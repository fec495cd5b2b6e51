package ratchet

import (
	"context"
	"sync"
	"testing"
)

// memoryTransport is an in-process Transport double: Publish delivers
// synchronously to every matching live subscription.
type memoryTransport struct {
	mu   sync.Mutex
	subs []*memorySub
}

type memorySub struct {
	filter  Filter
	onEvent func(*Envelope)
	closed  bool
}

func (m *memoryTransport) Subscribe(_ context.Context, filter Filter, onEvent func(*Envelope)) (Unsubscribe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := &memorySub{filter: filter, onEvent: onEvent}
	m.subs = append(m.subs, sub)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		sub.closed = true
	}, nil
}

func (m *memoryTransport) Publish(_ context.Context, envelope *Envelope) error {
	m.mu.Lock()
	subs := append([]*memorySub{}, m.subs...)
	m.mu.Unlock()

	for _, sub := range subs {
		if sub.closed || !filterMatches(sub.filter, envelope) {
			continue
		}
		sub.onEvent(envelope)
	}
	return nil
}

func filterMatches(f Filter, e *Envelope) bool {
	if len(f.Kinds) > 0 {
		match := false
		for _, k := range f.Kinds {
			if k == e.Kind {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if len(f.Authors) > 0 {
		match := false
		for _, a := range f.Authors {
			if a == e.Author {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if len(f.PTag) > 0 {
		match := false
		for _, p := range f.PTag {
			wanted := hexKey(p)
			for _, tag := range e.Tags {
				if tag[0] == "p" && tag[1] == wanted {
					match = true
					break
				}
			}
		}
		if !match {
			return false
		}
	}
	return true
}

func TestInviteHappyPath(t *testing.T) {
	restore := UseDeterministicRandom(deterministicReader(8192))
	defer restore()

	transport := &memoryTransport{}

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

	var accepted *Session
	var acceptErr error
	done := make(chan struct{})
	cancel, err := ListenInvite(context.Background(), transport, invite, inviterStatic.Private, func(s *Session, _ [32]byte, err error) {
		accepted, acceptErr = s, err
		close(done)
	})
	if err != nil {
		t.Fatalf("listen invite: %v", err)
	}
	defer cancel()

	inviteeSession, err := AcceptInvite(context.Background(), transport, invite.Link, inviteeStatic.Private)
	if err != nil {
		t.Fatalf("accept invite: %v", err)
	}

	<-done
	if acceptErr != nil {
		t.Fatalf("invite acceptance error: %v", acceptErr)
	}
	if accepted == nil {
		t.Fatalf("expected an accepted session")
	}

	env, err := inviteeSession.Send(context.Background(), []byte("hello from invitee"))
	if err != nil {
		t.Fatalf("invitee send: %v", err)
	}
	plaintext, err := Receive(accepted.State(), env)
	if err != nil {
		t.Fatalf("inviter receive: %v", err)
	}
	if string(plaintext) != "hello from invitee" {
		t.Fatalf("payload mismatch: got %q", plaintext)
	}
}

func TestInviteRejectsAfterMaxUses(t *testing.T) {
	restore := UseDeterministicRandom(deterministicReader(16384))
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

	var results []error
	cancel, err := ListenInvite(context.Background(), transport, invite, inviterStatic.Private, func(_ *Session, _ [32]byte, err error) {
		results = append(results, err)
	})
	if err != nil {
		t.Fatalf("listen invite: %v", err)
	}
	defer cancel()

	for i := 0; i < 2; i++ {
		inviteeStatic, err := generateKeyPair()
		if err != nil {
			t.Fatalf("invitee static %d: %v", i, err)
		}
		if _, err := AcceptInvite(context.Background(), transport, invite.Link, inviteeStatic.Private); err != nil {
			t.Fatalf("accept invite %d: %v", i, err)
		}
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 acceptance attempts observed, got %d", len(results))
	}
	if results[0] != nil {
		t.Fatalf("first acceptance should succeed, got %v", results[0])
	}
	if results[1] != ErrInviteExhausted {
		t.Fatalf("second acceptance should be rejected as exhausted, got %v", results[1])
	}
}
