package ratchet

// GenerateIdentityKeyPair produces a fresh X25519 static identity keypair,
// exported for callers outside this module (msgclient, directory) that
// need to mint a long-lived identity rather than a per-session envelope
// key. It is the same generator Init and the invite handshake use
// internally for ephemeral keys.
func GenerateIdentityKeyPair() (KeyPair, error) {
	return generateKeyPair()
}

// EncodeKey renders a public or private key as lowercase hex, the wire
// form used for pubkeys and tag values throughout.
func EncodeKey(k [32]byte) string {
	return hexKey(k)
}

// DecodeKey parses the lowercase hex form produced by EncodeKey.
func DecodeKey(s string) ([32]byte, error) {
	return decodeHexKey(s)
}

// TheirEnvelopePub exposes the envelope public key the peer most recently
// advertised as its next key (before the first receive, the key the session
// was initialized with), e.g. so a caller can label a freshly-accepted
// session by its counterpart. It
// rotates on every DH ratchet step; callers that need a stable peer
// identifier should track it separately (the invite flow's
// invitee_static_pub, for instance).
func (s *SessionState) TheirEnvelopePub() [32]byte {
	return s.theirEnvelopePub
}
