package framecrypt

import (
	"crypto/rand"
	"io"
)

// SenderTransform seals outgoing frames. It owns its nonce counter, which
// starts at zero when the transform is created and is never reset. An
// instance serves one stream and must not be used from several goroutines.
type SenderTransform struct {
	key    *MediaKey
	nonces nonceSource
}

// NewSenderTransform returns a sender transform for key.
func NewSenderTransform(key *MediaKey) *SenderTransform {
	return newSenderTransform(key, rand.Reader)
}

func newSenderTransform(key *MediaKey, random io.Reader) *SenderTransform {
	return &SenderTransform{key: key, nonces: nonceSource{rand: random}}
}

// Transform replaces the frame payload with nonce||ciphertext||tag.
// On error the frame is untouched and must not be forwarded.
func (s *SenderTransform) Transform(frame EncodedFrame) error {
	if frame == nil {
		return &EncryptionError{Err: ErrNilFrame}
	}
	plaintext := frame.Payload()

	var nonce [NonceSize]byte
	if err := s.nonces.fill(nonce[:]); err != nil {
		return &EncryptionError{Err: err}
	}
	sealed := s.key.aead.Seal(nil, nonce[:], plaintext, nil)

	frame.SetPayload(AppendWirePayload(make([]byte, 0, NonceSize+len(sealed)), nonce[:], sealed))
	return nil
}

// FramesSealed returns how many frames this instance has encrypted.
func (s *SenderTransform) FramesSealed() uint64 { return s.nonces.next }

// KeyID returns the ID of the key frames are sealed under.
func (s *SenderTransform) KeyID() uint32 { return s.key.KeyID() }
