package ratchet

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"time"
)

// Send advances the sending chain, builds and encrypts the header,
// AEAD-encrypts the plaintext, and returns the envelope to publish. The
// caller is responsible for actually publishing it.
func Send(session *SessionState, plaintext []byte) (*Envelope, error) {
	if session == nil {
		return nil, ErrNotYetAbleToSend
	}
	if !session.sendChain.set || !session.ourCurrentSet {
		return nil, ErrNotYetAbleToSend
	}

	newSendChainKey, messageKey, err := symmetricStep(session.sendChain.key)
	if err != nil {
		return nil, err
	}
	session.sendChain.key = newSendChainKey

	header := Header{
		Number:              session.sendCounter,
		NextPublicKey:       hexBytes32(session.ourNext.Public),
		Time:                uint64(time.Now().UnixMilli()),
		PreviousChainLength: session.previousSendCount,
	}
	session.sendCounter++

	headerKey, err := dh(session.ourCurrent.Private, session.theirEnvelopePub)
	if err != nil {
		return nil, err
	}
	encryptedHeader, err := encryptHeader(headerKey, header)
	if err != nil {
		return nil, err
	}

	cipherKey, _, err := deriveCipherParams(messageKey)
	if err != nil {
		return nil, err
	}
	body, err := aeadSeal(cipherKey, plaintext)
	if err != nil {
		return nil, err
	}

	envelope := &Envelope{
		Kind:   MessageEventKind,
		Author: session.ourCurrent.Public,
		Tags: [][2]string{
			{"header", base64.StdEncoding.EncodeToString(encryptedHeader)},
		},
		Content:   body,
		CreatedAt: time.Now().Unix(),
	}
	signEnvelope(envelope, session.ourCurrent)
	return envelope, nil
}

// Receive trial-decrypts the header, performs a DH ratchet step if the
// header announces a new generation, resolves the message key (skipped-key
// path or skip-ahead + symmetric step), and AEAD-decrypts the body.
func Receive(session *SessionState, envelope *Envelope) ([]byte, error) {
	if session == nil || envelope == nil {
		return nil, ErrMalformedHeader
	}
	encryptedHeader, ok := headerTag(envelope)
	if !ok {
		return nil, ErrMalformedHeader
	}

	result, found, err := tryDecryptHeader(session, envelope.Author, encryptedHeader)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrHeaderDecryptFailed
	}

	if result.shouldRatchet {
		// The tail of the current receiving chain is skipped under that
		// chain's author, before the peer's new generation is adopted:
		// any of its messages still in flight will arrive authored by
		// theirCurrentAuthor, not by the envelope that triggered the step.
		if err := skipAhead(session, session.theirCurrentAuthor, result.header.PreviousChainLength); err != nil {
			return nil, err
		}
		session.theirCurrentAuthor = envelope.Author
		session.theirEnvelopePub = [32]byte(result.header.NextPublicKey)
		if err := dhRatchetStep(session); err != nil {
			return nil, err
		}
	}

	// A cached key for this exact (sender, number) takes priority over
	// deriving forward, regardless of which header key the trial
	// decryption matched: an earlier out-of-order arrival within the same
	// generation may already have skipped past this message's index.
	if mk, ok := consumeSkippedMessageKey(session, envelope.Author, result.header.Number); ok {
		return openBody(mk, envelope.Content)
	}
	// No cached key, and the index lies at or behind where the receiving
	// chain already stands: this is a duplicate or replayed envelope, not
	// a new one worth deriving forward from. Reject without mutating the
	// receive chain.
	if result.isFromSkipped || result.header.Number < session.recvCounter {
		return nil, ErrDuplicateSkippedEnvelope
	}

	if err := skipAhead(session, envelope.Author, result.header.Number); err != nil {
		return nil, err
	}

	newRecvChainKey, messageKey, err := symmetricStep(session.recvChain.key)
	if err != nil {
		return nil, err
	}
	session.recvChain.key = newRecvChainKey
	session.recvChain.set = true
	session.recvCounter++

	return openBody(messageKey, envelope.Content)
}

// dhRatchetStep promotes our next envelope keypair to current, generates
// a fresh next, and derives new root, receiving, and sending chain keys.
func dhRatchetStep(session *SessionState) error {
	session.previousSendCount = session.sendCounter
	session.sendCounter = 0
	session.recvCounter = 0

	rootTmp, recvChainKey, err := rootStep(session.rootKey, session.ourNext.Private, session.theirEnvelopePub)
	if err != nil {
		return err
	}
	session.recvChain = chainState{key: recvChainKey, set: true}

	session.ourCurrent = session.ourNext
	session.ourCurrentSet = true
	fresh, err := generateKeyPair()
	if err != nil {
		return err
	}
	session.ourNext = fresh

	newRoot, sendChainKey, err := rootStep(rootTmp, session.ourNext.Private, session.theirEnvelopePub)
	if err != nil {
		return err
	}
	session.rootKey = newRoot
	session.sendChain = chainState{key: sendChainKey, set: true}

	return nil
}

// skipAhead advances the receiving chain up to until, storing a message
// key for every skipped index, and failing fatally if the gap exceeds
// MaxSkip.
func skipAhead(session *SessionState, senderAuthor [32]byte, until uint32) error {
	if !session.recvChain.set {
		return nil
	}
	if session.recvCounter+MaxSkip < until {
		return ErrTooManyMissedMessages
	}

	for session.recvCounter < until {
		newChainKey, messageKey, err := symmetricStep(session.recvChain.key)
		if err != nil {
			return err
		}
		storeSkippedMessageKey(session, senderAuthor, session.recvCounter, messageKey)
		session.recvChain.key = newChainKey
		session.recvCounter++
	}
	return nil
}

func storeSkippedMessageKey(session *SessionState, senderAuthor [32]byte, index uint32, key [32]byte) {
	name := hexKey(senderAuthor)
	entry, ok := session.skipped[name]
	if !ok {
		entry = &skippedEntry{messageKeys: make(map[uint32][32]byte)}
		session.skipped[name] = entry
	}
	entry.messageKeys[index] = key

	if len(entry.headerKeys) == 0 {
		var headerKeys [][32]byte
		if session.ourCurrentSet {
			if k, err := dh(session.ourCurrent.Private, senderAuthor); err == nil {
				headerKeys = append(headerKeys, k)
			}
		}
		if k, err := dh(session.ourNext.Private, senderAuthor); err == nil {
			headerKeys = append(headerKeys, k)
		}
		entry.headerKeys = headerKeys
	}
}

func consumeSkippedMessageKey(session *SessionState, senderAuthor [32]byte, index uint32) ([32]byte, bool) {
	name := hexKey(senderAuthor)
	entry, ok := session.skipped[name]
	if !ok {
		return [32]byte{}, false
	}
	key, ok := entry.messageKeys[index]
	if !ok {
		return [32]byte{}, false
	}
	delete(entry.messageKeys, index)
	if len(entry.messageKeys) == 0 {
		delete(session.skipped, name)
	}
	return key, true
}

func openBody(messageKey [32]byte, ciphertext []byte) ([]byte, error) {
	cipherKey, _, err := deriveCipherParams(messageKey)
	if err != nil {
		return nil, err
	}
	plaintext, err := aeadOpen(cipherKey, ciphertext)
	if err != nil {
		return nil, ErrBodyDecryptFailed
	}
	return plaintext, nil
}

func headerTag(envelope *Envelope) ([]byte, bool) {
	for _, tag := range envelope.Tags {
		if tag[0] == "header" {
			data, err := base64.StdEncoding.DecodeString(tag[1])
			if err != nil {
				return nil, false
			}
			return data, true
		}
	}
	return nil, false
}

// signEnvelope signs the envelope with an Ed25519 keypair deterministically
// derived from the envelope keypair's X25519 private scalar (used as an
// Ed25519 seed). The corresponding verification key travels with the
// envelope as a tag, since it cannot be recomputed from the X25519 public
// key alone; anyone holding the X25519 private scalar can reproduce it.
func signEnvelope(envelope *Envelope, keyPair KeyPair) {
	signingKey := ed25519.NewKeyFromSeed(keyPair.Private[:])
	verifyKey := signingKey.Public().(ed25519.PublicKey)
	payload := signingPayload(envelope)
	envelope.Sig = ed25519.Sign(signingKey, payload)
	envelope.Tags = append(envelope.Tags, [2]string{"sig_pubkey", base64.StdEncoding.EncodeToString(verifyKey)})
}

// VerifyEnvelope checks an envelope's detached signature against the
// sig_pubkey tag it carries. Session.dispatch and ListenInvite reject every
// inbound envelope that fails this check before trying to decrypt it; the
// relay stores envelopes without calling it.
func VerifyEnvelope(envelope *Envelope) bool {
	var verifyKeyB64 string
	for _, tag := range envelope.Tags {
		if tag[0] == "sig_pubkey" {
			verifyKeyB64 = tag[1]
		}
	}
	if verifyKeyB64 == "" {
		return false
	}
	verifyKey, err := base64.StdEncoding.DecodeString(verifyKeyB64)
	if err != nil || len(verifyKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(verifyKey, signingPayload(envelope), envelope.Sig)
}

func signingPayload(envelope *Envelope) []byte {
	buf := make([]byte, 0, 32+8+len(envelope.Content)+64)
	buf = append(buf, envelope.Author[:]...)
	var kindBuf [8]byte
	binary.BigEndian.PutUint64(kindBuf[:], uint64(envelope.Kind))
	buf = append(buf, kindBuf[:]...)
	for _, tag := range envelope.Tags {
		if tag[0] == "sig_pubkey" {
			continue
		}
		buf = append(buf, tag[0]...)
		buf = append(buf, tag[1]...)
	}
	buf = append(buf, envelope.Content...)
	return buf
}
