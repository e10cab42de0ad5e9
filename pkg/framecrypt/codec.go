package framecrypt

import "encoding/binary"

// Wire format sizes.
const (
	NonceSize        = 12
	NonceRandomSize  = 8
	NonceCounterSize = 4
	TagSize          = 16

	// Overhead is the number of bytes encryption adds to a frame payload.
	Overhead = NonceSize + TagSize
)

// SplitWirePayload splits an encrypted frame payload into its nonce and the
// sealed ciphertext-with-tag. It reports false for payloads shorter than a
// nonce, which this package never produces.
func SplitWirePayload(payload []byte) (nonce, sealed []byte, ok bool) {
	if len(payload) < NonceSize {
		return nil, nil, false
	}
	return payload[:NonceSize], payload[NonceSize:], true
}

// AppendWirePayload appends nonce||sealed to dst.
func AppendWirePayload(dst, nonce, sealed []byte) []byte {
	dst = append(dst, nonce...)
	return append(dst, sealed...)
}

// NonceCounter returns the counter suffix of a nonce.
func NonceCounter(nonce []byte) uint32 {
	return binary.BigEndian.Uint32(nonce[NonceRandomSize:NonceSize])
}
