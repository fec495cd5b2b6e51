package ratchet

import (
	"bytes"
	"testing"
)

func deterministicReader(size int) *bytes.Reader {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	return bytes.NewReader(buf)
}

// newTestPair builds a handshaken Alice/Bob SessionState pair the way an
// invite acceptance would: a shared secret plus each side's initial
// envelope keypair, without going through the invite wire format itself.
func newTestPair(t *testing.T) (alice, bob *SessionState) {
	t.Helper()
	aliceInitial, err := generateKeyPair()
	if err != nil {
		t.Fatalf("alice initial keypair: %v", err)
	}
	bobInitial, err := generateKeyPair()
	if err != nil {
		t.Fatalf("bob initial keypair: %v", err)
	}
	var sharedSecret [32]byte
	if err := readRandom(sharedSecret[:]); err != nil {
		t.Fatalf("shared secret: %v", err)
	}

	alice, err = Init(bobInitial.Public, aliceInitial.Private, true, sharedSecret)
	if err != nil {
		t.Fatalf("init alice: %v", err)
	}
	bob, err = Init(aliceInitial.Public, bobInitial.Private, false, sharedSecret)
	if err != nil {
		t.Fatalf("init bob: %v", err)
	}
	return alice, bob
}

func TestSendReceiveRoundTrip(t *testing.T) {
	restore := UseDeterministicRandom(deterministicReader(8192))
	defer restore()

	alice, bob := newTestPair(t)

	env, err := Send(alice, []byte("hello bob"))
	if err != nil {
		t.Fatalf("alice send: %v", err)
	}
	plaintext, err := Receive(bob, env)
	if err != nil {
		t.Fatalf("bob receive: %v", err)
	}
	if !bytes.Equal(plaintext, []byte("hello bob")) {
		t.Fatalf("plaintext mismatch: got %q", plaintext)
	}

	reply, err := Send(bob, []byte("hi alice"))
	if err != nil {
		t.Fatalf("bob send: %v", err)
	}
	plaintext2, err := Receive(alice, reply)
	if err != nil {
		t.Fatalf("alice receive: %v", err)
	}
	if !bytes.Equal(plaintext2, []byte("hi alice")) {
		t.Fatalf("reply mismatch: got %q", plaintext2)
	}
}

func TestConsecutiveOneSidedMessages(t *testing.T) {
	restore := UseDeterministicRandom(deterministicReader(8192))
	defer restore()

	alice, bob := newTestPair(t)

	for i := 0; i < 5; i++ {
		msg := []byte{byte(i)}
		env, err := Send(alice, msg)
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		got, err := Receive(bob, env)
		if err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		if !bytes.Equal(got, msg) {
			t.Fatalf("message %d mismatch: got %v want %v", i, got, msg)
		}
	}
}

func TestOutOfOrderTripleDelivery(t *testing.T) {
	restore := UseDeterministicRandom(deterministicReader(8192))
	defer restore()

	alice, bob := newTestPair(t)

	var envelopes []*Envelope
	for i := 0; i < 3; i++ {
		env, err := Send(alice, []byte{byte(i)})
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		envelopes = append(envelopes, env)
	}

	// Deliver out of order: 2, 0, 1.
	order := []int{2, 0, 1}
	for _, idx := range order {
		got, err := Receive(bob, envelopes[idx])
		if err != nil {
			t.Fatalf("receive index %d: %v", idx, err)
		}
		if len(got) != 1 || got[0] != byte(idx) {
			t.Fatalf("out-of-order payload mismatch at index %d: got %v", idx, got)
		}
	}
}

func TestSkipSpansDHRatchetStep(t *testing.T) {
	restore := UseDeterministicRandom(deterministicReader(16384))
	defer restore()

	alice, bob := newTestPair(t)

	// Alice sends two messages in her first generation; Bob only receives
	// the second, leaving one skipped key behind a later DH step.
	first, err := Send(alice, []byte("first"))
	if err != nil {
		t.Fatalf("send first: %v", err)
	}
	second, err := Send(alice, []byte("second"))
	if err != nil {
		t.Fatalf("send second: %v", err)
	}

	if _, err := Receive(bob, second); err != nil {
		t.Fatalf("receive second: %v", err)
	}

	// Bob replies, forcing a DH ratchet step on both sides.
	reply, err := Send(bob, []byte("reply"))
	if err != nil {
		t.Fatalf("bob send reply: %v", err)
	}
	if _, err := Receive(alice, reply); err != nil {
		t.Fatalf("alice receive reply: %v", err)
	}

	// The skipped "first" envelope, from a now-superseded generation,
	// must still decrypt via its stored skipped header key.
	got, err := Receive(bob, first)
	if err != nil {
		t.Fatalf("receive skipped first: %v", err)
	}
	if !bytes.Equal(got, []byte("first")) {
		t.Fatalf("skipped payload mismatch: got %q", got)
	}
}

func TestSkippedChainSurvivesLaterGenerations(t *testing.T) {
	restore := UseDeterministicRandom(deterministicReader(32768))
	defer restore()

	alice, bob := newTestPair(t)

	// Establish the conversation: one delivered message each way.
	m0, err := Send(alice, []byte("m0"))
	if err != nil {
		t.Fatalf("send m0: %v", err)
	}
	if _, err := Receive(bob, m0); err != nil {
		t.Fatalf("receive m0: %v", err)
	}

	// A1 and A2 stay in flight while the conversation ratchets past them.
	a1, err := Send(alice, []byte("A1"))
	if err != nil {
		t.Fatalf("send A1: %v", err)
	}
	a2, err := Send(alice, []byte("A2"))
	if err != nil {
		t.Fatalf("send A2: %v", err)
	}

	b1, err := Send(bob, []byte("B1"))
	if err != nil {
		t.Fatalf("send B1: %v", err)
	}
	if _, err := Receive(alice, b1); err != nil {
		t.Fatalf("receive B1: %v", err)
	}

	// A3/A4 open Alice's next generation; processing A3 makes Bob skip the
	// undelivered tail of the previous chain across his own DH step.
	a3, err := Send(alice, []byte("A3"))
	if err != nil {
		t.Fatalf("send A3: %v", err)
	}
	a4, err := Send(alice, []byte("A4"))
	if err != nil {
		t.Fatalf("send A4: %v", err)
	}
	for _, tc := range []struct {
		env  *Envelope
		want string
	}{{a3, "A3"}, {a4, "A4"}, {a1, "A1"}, {a2, "A2"}} {
		got, err := Receive(bob, tc.env)
		if err != nil {
			t.Fatalf("receive %s: %v", tc.want, err)
		}
		if string(got) != tc.want {
			t.Fatalf("payload mismatch: got %q want %q", got, tc.want)
		}
	}

	if len(bob.skipped) != 0 {
		t.Fatalf("expected drained skipped store, got %d entries", len(bob.skipped))
	}
}

func TestEnvelopeKeyCorrelationAfterFirstExchange(t *testing.T) {
	restore := UseDeterministicRandom(deterministicReader(8192))
	defer restore()

	alice, bob := newTestPair(t)

	env, err := Send(alice, []byte("hello"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := Receive(bob, env); err != nil {
		t.Fatalf("receive: %v", err)
	}

	if bob.ourCurrent.Public != alice.theirEnvelopePub {
		t.Fatalf("bob's current envelope key should be what alice addresses")
	}
	if bob.theirCurrentAuthor != alice.ourCurrent.Public {
		t.Fatalf("bob should track alice's current envelope key as chain author")
	}
	if bob.theirEnvelopePub != alice.ourNext.Public {
		t.Fatalf("bob should have adopted alice's advertised next key")
	}
}

func TestSendAdvancesChainKey(t *testing.T) {
	restore := UseDeterministicRandom(deterministicReader(8192))
	defer restore()

	alice, _ := newTestPair(t)

	before := alice.sendChain.key
	if _, err := Send(alice, []byte("x")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if alice.sendChain.key == before {
		t.Fatalf("sending chain key must advance on every send")
	}
}

func TestResponderCannotSendFirst(t *testing.T) {
	restore := UseDeterministicRandom(deterministicReader(8192))
	defer restore()

	_, bob := newTestPair(t)

	if _, err := Send(bob, []byte("too early")); err != ErrNotYetAbleToSend {
		t.Fatalf("expected ErrNotYetAbleToSend, got %v", err)
	}
}

func TestSkipOverflowIsFatal(t *testing.T) {
	restore := UseDeterministicRandom(deterministicReader(1 << 20))
	defer restore()

	alice, bob := newTestPair(t)

	var last *Envelope
	for i := 0; i < MaxSkip+2; i++ {
		env, err := Send(alice, []byte("x"))
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		last = env
	}

	if _, err := Receive(bob, last); err != ErrTooManyMissedMessages {
		t.Fatalf("expected ErrTooManyMissedMessages, got %v", err)
	}
}

func TestDuplicateSkippedEnvelopeRejected(t *testing.T) {
	restore := UseDeterministicRandom(deterministicReader(8192))
	defer restore()

	alice, bob := newTestPair(t)

	first, err := Send(alice, []byte("first"))
	if err != nil {
		t.Fatalf("send first: %v", err)
	}
	second, err := Send(alice, []byte("second"))
	if err != nil {
		t.Fatalf("send second: %v", err)
	}

	if _, err := Receive(bob, second); err != nil {
		t.Fatalf("receive second: %v", err)
	}
	if _, err := Receive(bob, first); err != nil {
		t.Fatalf("receive skipped first: %v", err)
	}
	if _, err := Receive(bob, first); err == nil {
		t.Fatalf("expected error replaying a consumed skipped envelope")
	}
}

func TestReceiveRejectsUndecryptableHeader(t *testing.T) {
	restore := UseDeterministicRandom(deterministicReader(8192))
	defer restore()

	alice, bob := newTestPair(t)

	env, err := Send(alice, []byte("hello"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	env.Content = append([]byte{0xff}, env.Content...)
	for i, tag := range env.Tags {
		if tag[0] == "header" {
			env.Tags[i][1] = "not-base64!!"
		}
	}
	if _, err := Receive(bob, env); err == nil {
		t.Fatalf("expected error for malformed header")
	}
}
