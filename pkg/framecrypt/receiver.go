package framecrypt

import "sync/atomic"

// ReceiverStats counts what a receiver did with incoming frames.
type ReceiverStats struct {
	Decrypted uint64 // authenticated and replaced with plaintext
	Failed    uint64 // failed authentication, passed through unchanged
	Short     uint64 // shorter than a nonce, passed through unchanged
}

// Add returns the element-wise sum of s and o.
func (s ReceiverStats) Add(o ReceiverStats) ReceiverStats {
	return ReceiverStats{
		Decrypted: s.Decrypted + o.Decrypted,
		Failed:    s.Failed + o.Failed,
		Short:     s.Short + o.Short,
	}
}

// FailureObserver is told about every frame that failed authentication.
// It runs on the frame's processing goroutine and must return quickly.
type FailureObserver func(frame EncodedFrame)

// ReceiverTransform opens incoming frames. Frames that cannot be opened keep
// their original bytes. It is safe for concurrent use.
type ReceiverTransform struct {
	key       *MediaKey
	onFailure FailureObserver

	decrypted atomic.Uint64
	failed    atomic.Uint64
	short     atomic.Uint64
}

// NewReceiverTransform returns a receiver transform for key. onFailure may be nil.
func NewReceiverTransform(key *MediaKey, onFailure FailureObserver) *ReceiverTransform {
	return &ReceiverTransform{key: key, onFailure: onFailure}
}

// Transform replaces an authenticated payload with its plaintext.
// It always returns nil.
func (r *ReceiverTransform) Transform(frame EncodedFrame) error {
	if frame == nil {
		return nil
	}

	nonce, sealed, ok := SplitWirePayload(frame.Payload())
	if !ok {
		r.short.Add(1)
		return nil
	}

	plaintext, err := r.key.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		r.failed.Add(1)
		if r.onFailure != nil {
			r.onFailure(frame)
		}
		return nil
	}

	r.decrypted.Add(1)
	frame.SetPayload(plaintext)
	return nil
}

// Stats returns a snapshot of the receiver's counters.
func (r *ReceiverTransform) Stats() ReceiverStats {
	return ReceiverStats{
		Decrypted: r.decrypted.Load(),
		Failed:    r.failed.Load(),
		Short:     r.short.Load(),
	}
}
