package ratchet

import "encoding/json"

// encryptHeader serializes header as canonical JSON and seals it under
// headerKey. headerKey is used directly as the AEAD key: it is itself a
// DH output, not put through a further KDF step.
func encryptHeader(headerKey [32]byte, header Header) ([]byte, error) {
	data, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	return aeadSeal(headerKey, data)
}

// decryptHeader opens an encrypted header under the given candidate key.
func decryptHeader(headerKey [32]byte, encrypted []byte) (Header, error) {
	data, err := aeadOpen(headerKey, encrypted)
	if err != nil {
		return Header{}, ErrHeaderDecryptFailed
	}
	var header Header
	if err := json.Unmarshal(data, &header); err != nil {
		return Header{}, ErrMalformedHeader
	}
	return header, nil
}

// headerDecryptResult is the outcome of trial decryption across current,
// next, and skipped-generation header keys.
type headerDecryptResult struct {
	header        Header
	shouldRatchet bool
	isFromSkipped bool
}

// tryDecryptHeader attempts, in order: (a) the current envelope keypair's
// DH with the sender, (b) the next envelope keypair's DH with the sender,
// (c) every header key recorded against this sender in skippedHeaderKeys.
func tryDecryptHeader(session *SessionState, senderAuthor [32]byte, encryptedHeader []byte) (headerDecryptResult, bool, error) {
	if session.ourCurrentSet {
		key, err := dh(session.ourCurrent.Private, senderAuthor)
		if err != nil {
			return headerDecryptResult{}, false, err
		}
		if header, err := decryptHeader(key, encryptedHeader); err == nil {
			return headerDecryptResult{header: header, shouldRatchet: false, isFromSkipped: false}, true, nil
		}
	}

	nextKey, err := dh(session.ourNext.Private, senderAuthor)
	if err != nil {
		return headerDecryptResult{}, false, err
	}
	if header, err := decryptHeader(nextKey, encryptedHeader); err == nil {
		return headerDecryptResult{header: header, shouldRatchet: true, isFromSkipped: false}, true, nil
	}

	entry, ok := session.skipped[hexKey(senderAuthor)]
	if ok {
		for _, candidate := range entry.headerKeys {
			if header, err := decryptHeader(candidate, encryptedHeader); err == nil {
				return headerDecryptResult{header: header, shouldRatchet: false, isFromSkipped: true}, true, nil
			}
		}
	}

	return headerDecryptResult{}, false, nil
}
