package ratchet

import (
	"bytes"
	"testing"
)

// FuzzReceiveEnvelopeMutation checks that Receive never panics when handed
// an envelope whose body ciphertext (first byte XORed with n) or created_at
// (shifted by pn) has been tampered with, regardless of whether the mutated
// body still authenticates.
func FuzzReceiveEnvelopeMutation(f *testing.F) {
	f.Add(uint32(0), uint32(0), []byte("payload"))
	f.Add(uint32(5), uint32(1), []byte{})
	f.Fuzz(func(t *testing.T, n, pn uint32, payload []byte) {
		restore := UseDeterministicRandom(bytes.NewReader(bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 1024)))
		defer restore()

		alice, bob := newTestPair(t)

		seed, err := Send(alice, []byte("seed"))
		if err != nil {
			t.Fatalf("seed send: %v", err)
		}
		if _, err := Receive(bob, seed); err != nil {
			t.Fatalf("seed receive: %v", err)
		}

		env, err := Send(alice, payload)
		if err != nil {
			t.Fatalf("send payload: %v", err)
		}
		if len(env.Content) > 0 {
			env.Content[0] ^= byte(n)
		}
		env.CreatedAt += int64(pn)

		// Must not panic; errors are expected and fine.
		_, _ = Receive(bob, env)
	})
}
