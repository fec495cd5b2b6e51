package ratchet

import (
	"context"
	"sort"
)

// subscriptionSet tracks the at-most-two live transport subscriptions a
// session holds: a primary subscription on the peer's current chain author
// and advertised next envelope key, and a skipped subscription on every
// sender that still has unconsumed skipped-header keys.
type subscriptionSet struct {
	transport Transport

	primaryAuthors [][32]byte
	primaryOpen    bool
	primaryCancel  Unsubscribe

	skippedAuthors []string
	skippedCancel  Unsubscribe
}

// sync reconciles the live subscriptions against the session's current
// envelope keys and skipped_header_keys: live subscriptions == {primary if
// initialized} ∪ {skipped if non-empty skipped-header set}. The primary
// filter carries both the current chain's author and the peer's advertised
// next key, so the in-flight chain keeps arriving while the first envelope
// of the peer's next generation is already catchable.
func (s *subscriptionSet) sync(ctx context.Context, session *SessionState, onEvent func(*Envelope)) error {
	if s.transport == nil {
		return nil
	}

	desired := primaryAuthorList(session)
	primaryRotated := false
	if !s.primaryOpen || !authorSlicesEqual(desired, s.primaryAuthors) {
		primaryRotated = true
		if s.primaryCancel != nil {
			s.primaryCancel()
		}
		cancel, err := s.transport.Subscribe(ctx, Filter{
			Authors: desired,
			Kinds:   []int{MessageEventKind},
		}, onEvent)
		if err != nil {
			return err
		}
		s.primaryCancel = cancel
		s.primaryAuthors = desired
		s.primaryOpen = true
	}

	// A primary rotation always cancels the previous skipped subscription;
	// it is reopened fresh below if skipped-header keys remain.
	desiredSkipped := skippedAuthorList(session)
	if primaryRotated || !stringSlicesEqual(desiredSkipped, s.skippedAuthors) {
		if s.skippedCancel != nil {
			s.skippedCancel()
			s.skippedCancel = nil
		}
		s.skippedAuthors = desiredSkipped
		if len(desiredSkipped) > 0 {
			authors := make([][32]byte, 0, len(desiredSkipped))
			for _, hexAuthor := range desiredSkipped {
				pub, err := decodeHexKey(hexAuthor)
				if err != nil {
					continue
				}
				authors = append(authors, pub)
			}
			cancel, err := s.transport.Subscribe(ctx, Filter{
				Authors: authors,
				Kinds:   []int{MessageEventKind},
			}, onEvent)
			if err != nil {
				return err
			}
			s.skippedCancel = cancel
		}
	}

	return nil
}

func (s *subscriptionSet) close() {
	if s.primaryCancel != nil {
		s.primaryCancel()
		s.primaryCancel = nil
	}
	if s.skippedCancel != nil {
		s.skippedCancel()
		s.skippedCancel = nil
	}
	s.primaryOpen = false
	s.skippedAuthors = nil
}

func primaryAuthorList(session *SessionState) [][32]byte {
	authors := [][32]byte{session.theirCurrentAuthor}
	if session.theirEnvelopePub != session.theirCurrentAuthor {
		authors = append(authors, session.theirEnvelopePub)
	}
	return authors
}

func authorSlicesEqual(a, b [][32]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func skippedAuthorList(session *SessionState) []string {
	authors := make([]string, 0, len(session.skipped))
	for author := range session.skipped {
		authors = append(authors, author)
	}
	sort.Strings(authors)
	return authors
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
