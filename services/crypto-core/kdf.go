package ratchet

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	hkdfInfoKDF = "relaykit-ratchet-kdf"

	// MaxSkip is the most skipped keys a single missing-gap jump may
	// produce before the session fails fatally.
	MaxSkip = 1000
)

var (
	randMu    sync.RWMutex
	randomSrc io.Reader = rand.Reader
)

// UseDeterministicRandom swaps the randomness source used for keypair and
// nonce generation, returning a restore func. Intended for deterministic
// protocol tests only.
func UseDeterministicRandom(r io.Reader) func() {
	randMu.Lock()
	prev := randomSrc
	randomSrc = r
	randMu.Unlock()
	return func() {
		randMu.Lock()
		randomSrc = prev
		randMu.Unlock()
	}
}

func readRandom(b []byte) error {
	randMu.RLock()
	src := randomSrc
	randMu.RUnlock()
	_, err := io.ReadFull(src, b)
	return err
}

// generateKeyPair produces a fresh clamped X25519 keypair.
func generateKeyPair() (KeyPair, error) {
	var priv [32]byte
	if err := readRandom(priv[:]); err != nil {
		return KeyPair{}, err
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, err
	}
	var kp KeyPair
	kp.Private = priv
	copy(kp.Public[:], pub)
	return kp, nil
}

// dh performs the X25519 Diffie-Hellman conversation-key function.
func dh(priv, pub [32]byte) ([32]byte, error) {
	out, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return [32]byte{}, err
	}
	var result [32]byte
	copy(result[:], out)
	return result, nil
}

// KDF performs HKDF-extract with salt as the salt and ikm as the input
// key material, then HKDF-expand to 64 bytes, split into two 32-byte
// outputs. Every root and chain derivation goes through here.
func KDF(ikm, salt []byte) (out1, out2 [32]byte, err error) {
	hk := hkdf.New(sha256.New, ikm, salt, []byte(hkdfInfoKDF))
	if _, err = io.ReadFull(hk, out1[:]); err != nil {
		return [32]byte{}, [32]byte{}, err
	}
	if _, err = io.ReadFull(hk, out2[:]); err != nil {
		return [32]byte{}, [32]byte{}, err
	}
	return out1, out2, nil
}

// rootStep advances the root: (new_root, chain_key) =
// KDF(root_key, DH(our_priv, their_pub)).
func rootStep(rootKey [32]byte, ourPriv, theirPub [32]byte) (newRoot, chainKey [32]byte, err error) {
	shared, err := dh(ourPriv, theirPub)
	if err != nil {
		return [32]byte{}, [32]byte{}, err
	}
	return KDF(rootKey[:], shared[:])
}

// symmetricStep advances a chain: (new_chain_key, message_key) =
// KDF(chain_key, 0x01).
func symmetricStep(chainKey [32]byte) (newChainKey, messageKey [32]byte, err error) {
	return KDF(chainKey[:], []byte{0x01})
}

// deriveCipherParams expands a message key into an AEAD key and nonce.
func deriveCipherParams(mk [32]byte) (key [32]byte, nonce [12]byte, err error) {
	hk := hkdf.New(sha256.New, mk[:], nil, []byte("relaykit-ratchet-aead"))
	if _, err = io.ReadFull(hk, key[:]); err != nil {
		return [32]byte{}, [12]byte{}, err
	}
	if _, err = io.ReadFull(hk, nonce[:]); err != nil {
		return [32]byte{}, [12]byte{}, err
	}
	return key, nonce, nil
}

func aeadSeal(key [32]byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if err := readRandom(nonce); err != nil {
		return nil, err
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

func aeadOpen(key [32]byte, data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	if len(data) < aead.NonceSize() {
		return nil, errors.New("ratchet: ciphertext too short")
	}
	nonce, sealed := data[:aead.NonceSize()], data[aead.NonceSize():]
	return aead.Open(nil, nonce, sealed, nil)
}
