package framecrypt

import (
	"crypto/cipher"
	"sync"
)

// Capability reports whether per-frame interception is available.
type Capability interface {
	FrameInterception() bool
}

// StaticCapability is a fixed capability, typically from configuration or tests.
type StaticCapability bool

func (c StaticCapability) FrameInterception() bool { return bool(c) }

// Probe resolves the capability once: interception must be enabled by
// configuration and the AEAD primitives must construct. The result is
// memoised, so FrameInterception is cheap to call on every attach.
type Probe struct {
	enabled bool
	check   func() bool

	once      sync.Once
	supported bool
}

// NewProbe returns a probe gated by the enabled flag.
func NewProbe(enabled bool) *Probe {
	return &Probe{enabled: enabled, check: primitivesAvailable}
}

func (p *Probe) FrameInterception() bool {
	p.once.Do(func() {
		p.supported = p.enabled && p.check()
	})
	return p.supported
}

func primitivesAvailable() bool {
	var zero [KeySize]byte
	block, err := newBlockCipher(zero[:])
	if err != nil {
		return false
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return false
	}
	return aead.NonceSize() == NonceSize && aead.Overhead() == TagSize
}
