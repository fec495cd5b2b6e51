package ratchet

// KeyPair is an X25519 keypair used either as a long-lived static identity
// or as a rotating envelope/ratchet keypair.
type KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// Header is the per-message metadata, transmitted encrypted with the
// per-direction header key. Field order is the canonical JSON key order.
type Header struct {
	Number              uint32     `json:"number"`
	NextPublicKey       hexBytes32 `json:"nextPublicKey"`
	Time                uint64     `json:"time"`
	PreviousChainLength uint32     `json:"previousChainLength"`
}

// chainState is the symmetric-ratchet half of a SessionState.
type chainState struct {
	key [32]byte
	set bool
}

// skippedEntry is one bounded (envelope author, message number) -> message
// key mapping, plus the header keys that could still unlock a matching
// envelope from that author.
type skippedEntry struct {
	messageKeys map[uint32][32]byte
	headerKeys  [][32]byte
}

// SessionState is the exclusively-owned, serializable state of one Double
// Ratchet session.
type SessionState struct {
	role SessionRole

	rootKey [32]byte

	// theirEnvelopePub is the peer's most recently advertised ratchet
	// public key: the DH input for the next ratchet step and the author
	// of the peer's next sending chain. theirCurrentAuthor trails it by
	// one generation and is the author of the chain currently feeding
	// the receiving ratchet; both are needed so the transport filter
	// covers the in-flight chain as well as the upcoming one.
	theirEnvelopePub   [32]byte
	theirCurrentAuthor [32]byte

	ourCurrent    KeyPair
	ourCurrentSet bool
	ourNext       KeyPair

	sendChain chainState
	recvChain chainState

	sendCounter       uint32
	recvCounter       uint32
	previousSendCount uint32

	// skipped is keyed by the envelope author's public key, hex-encoded,
	// with per-sender message keys and header keys nested underneath.
	skipped map[string]*skippedEntry
}

// SessionRole distinguishes the initiator (who derives a sending chain key
// first) from the responder (who can only send after its first receive).
type SessionRole int

const (
	RoleInitiator SessionRole = iota
	RoleResponder
)

// Envelope is the opaque transport event produced by Send and consumed by
// a Transport subscription.
type Envelope struct {
	Kind      int
	Author    [32]byte
	Tags      [][2]string
	Content   []byte
	CreatedAt int64
	Sig       []byte
}
