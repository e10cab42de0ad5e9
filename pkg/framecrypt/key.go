package framecrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the length of a MediaKey in bytes (AES-256).
	KeySize = 32

	mediaKeySalt = "chatr-media-e2ee-salt-v1"
	mediaKeyInfo = "media-encryption"
	keyIDInfo    = "media-encryption-key-id"
)

// newBlockCipher is swapped in tests to simulate a missing primitive.
var newBlockCipher = aes.NewCipher

// MediaKey is the symmetric AEAD key shared by every participant of one voice
// session. It is safe for concurrent use and must never be persisted.
type MediaKey struct {
	aead cipher.AEAD
	id   uint32
}

// DeriveMediaKey derives the session MediaKey from a room key with
// HKDF-SHA-256. Every participant holding the same room key derives the same
// MediaKey, so no key transport is needed.
func DeriveMediaKey(roomKey string) (*MediaKey, error) {
	if roomKey == "" {
		return nil, &KeyDerivationError{Op: "validate", Err: ErrEmptyRoomKey}
	}

	material := make([]byte, KeySize)
	defer clear(material)
	if err := expand(roomKey, mediaKeyInfo, material); err != nil {
		return nil, &KeyDerivationError{Op: "hkdf", Err: err}
	}

	block, err := newBlockCipher(material)
	if err != nil {
		return nil, &KeyDerivationError{Op: "aes", Err: err}
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &KeyDerivationError{Op: "gcm", Err: err}
	}
	if aead.NonceSize() != NonceSize || aead.Overhead() != TagSize {
		return nil, &KeyDerivationError{
			Op:  "gcm",
			Err: fmt.Errorf("unexpected nonce/tag size %d/%d", aead.NonceSize(), aead.Overhead()),
		}
	}

	var id [4]byte
	if err := expand(roomKey, keyIDInfo, id[:]); err != nil {
		return nil, &KeyDerivationError{Op: "key id", Err: err}
	}

	return &MediaKey{aead: aead, id: binary.BigEndian.Uint32(id[:])}, nil
}

// KeyID identifies the key without revealing it. Peers advertise it so a
// mismatch can be spotted before frames start failing to authenticate.
func (k *MediaKey) KeyID() uint32 { return k.id }

func expand(roomKey, info string, out []byte) error {
	r := hkdf.New(sha256.New, []byte(roomKey), []byte(mediaKeySalt), []byte(info))
	_, err := io.ReadFull(r, out)
	return err
}
