package framecrypt

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// nonceSource hands out nonces for one sender transform. Each nonce carries
// fresh random bytes followed by a per-instance counter that never wraps.
type nonceSource struct {
	rand io.Reader
	next uint64
}

func (s *nonceSource) fill(dst []byte) error {
	if s.next > math.MaxUint32 {
		return ErrCounterExhausted
	}
	if _, err := io.ReadFull(s.rand, dst[:NonceRandomSize]); err != nil {
		return fmt.Errorf("read nonce prefix: %w", err)
	}
	binary.BigEndian.PutUint32(dst[NonceRandomSize:NonceSize], uint32(s.next))
	s.next++
	return nil
}
