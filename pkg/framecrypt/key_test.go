package framecrypt

import (
	"crypto/cipher"
	"errors"
	"testing"
)

func TestDeriveMediaKeyEmpty(t *testing.T) {
	_, err := DeriveMediaKey("")
	if err == nil {
		t.Fatal("expected error for empty room key")
	}
	var kde *KeyDerivationError
	if !errors.As(err, &kde) {
		t.Fatalf("got %T, want *KeyDerivationError", err)
	}
	if !errors.Is(err, ErrEmptyRoomKey) {
		t.Errorf("expected ErrEmptyRoomKey in chain, got %v", err)
	}
}

func TestDeriveMediaKeyPrimitiveFailure(t *testing.T) {
	orig := newBlockCipher
	newBlockCipher = func([]byte) (cipher.Block, error) {
		return nil, errors.New("aes unavailable")
	}
	defer func() { newBlockCipher = orig }()

	_, err := DeriveMediaKey("room")
	var kde *KeyDerivationError
	if !errors.As(err, &kde) {
		t.Fatalf("got %v, want *KeyDerivationError", err)
	}
	if kde.Op != "aes" {
		t.Errorf("op = %q, want %q", kde.Op, "aes")
	}
}

func TestDeriveMediaKeyDeterministic(t *testing.T) {
	a, err := DeriveMediaKey("shared-secret")
	if err != nil {
		t.Fatalf("DeriveMediaKey: %v", err)
	}
	b, err := DeriveMediaKey("shared-secret")
	if err != nil {
		t.Fatalf("DeriveMediaKey: %v", err)
	}
	if a.KeyID() != b.KeyID() {
		t.Errorf("key IDs differ: %d vs %d", a.KeyID(), b.KeyID())
	}

	// Each key opens what the other sealed.
	for _, pair := range [][2]*MediaKey{{a, b}, {b, a}} {
		frame := NewFrame(KindAudio, 0, []byte("opus-packet"))
		if err := NewSenderTransform(pair[0]).Transform(frame); err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		rx := NewReceiverTransform(pair[1], nil)
		_ = rx.Transform(frame)
		if string(frame.Payload()) != "opus-packet" {
			t.Fatalf("got %q, want %q", frame.Payload(), "opus-packet")
		}
		if rx.Stats().Decrypted != 1 {
			t.Errorf("decrypted = %d, want 1", rx.Stats().Decrypted)
		}
	}
}

func TestDeriveMediaKeyDistinctRooms(t *testing.T) {
	a, _ := DeriveMediaKey("room-a")
	b, _ := DeriveMediaKey("room-b")
	if a.KeyID() == b.KeyID() {
		t.Error("different room keys produced the same key ID")
	}
}
