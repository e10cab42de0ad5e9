package voice

import "fmt"

// FrameEncryptionAlgorithm names the per-frame AEAD scheme peers advertise.
const FrameEncryptionAlgorithm = "AES_256_GCM_HKDF_SHA256"

// EncryptionInfo is the frame encryption a peer advertises during signaling.
// KeyID identifies the derived media key without revealing it.
type EncryptionInfo struct {
	Algorithm string
	KeyID     uint32
}

// CheckPeerEncryption compares what the remote peer advertised with the local
// session. A nil remote means the peer advertised nothing. Mismatches are
// reported so the caller can log them; media still flows, and frames that
// fail to open are passed through by the receiver.
func CheckPeerEncryption(local, remote *EncryptionInfo) error {
	switch {
	case local == nil && remote == nil:
		return nil
	case local == nil:
		return fmt.Errorf("peer encrypts with key %d but the local session is unencrypted: %w", remote.KeyID, ErrKeyMismatch)
	case remote == nil:
		return fmt.Errorf("local key %d but peer advertised none: %w", local.KeyID, ErrKeyMismatch)
	case remote.Algorithm != local.Algorithm:
		return fmt.Errorf("peer uses %q, local %q: %w", remote.Algorithm, local.Algorithm, ErrAlgorithmMismatch)
	case remote.KeyID != local.KeyID:
		return fmt.Errorf("peer key %d, local key %d: %w", remote.KeyID, local.KeyID, ErrKeyMismatch)
	}
	return nil
}

// advertisedEncryption turns a signaled key ID into EncryptionInfo. On the
// wire zero means the peer did not advertise frame encryption.
func advertisedEncryption(keyID uint32) *EncryptionInfo {
	return encryptionInfo(keyID != 0, keyID)
}

// encryptionInfo describes the local session. Whether frames are encrypted
// comes from the attached transforms, so a key whose ID is zero still counts.
func encryptionInfo(encrypted bool, keyID uint32) *EncryptionInfo {
	if !encrypted {
		return nil
	}
	return &EncryptionInfo{Algorithm: FrameEncryptionAlgorithm, KeyID: keyID}
}
