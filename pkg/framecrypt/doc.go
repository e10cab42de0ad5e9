// Package framecrypt implements end-to-end encryption of individual encoded
// media frames.
//
// A sender seals every outgoing audio or video frame with AES-256-GCM under a
// MediaKey derived from the room's shared secret. A receiver opens incoming
// frames under the same key. The wire payload of an encrypted frame is
//
//	[0..12)    nonce (8 random bytes || 4-byte big-endian counter)
//	[12..N-16) ciphertext (same length as the plaintext)
//	[N-16..N)  GCM authentication tag
//
// Send failures are loud: the frame is left untouched and an error is
// returned so the caller drops it. Receive failures are silent: a frame that
// does not authenticate is passed through with its original bytes, because a
// receiver cannot tell a foreign key from a peer that never encrypted. The
// transport's own encryption (DTLS-SRTP) remains the primary confidentiality
// guarantee; this layer protects media relayed through an SFU.
package framecrypt
