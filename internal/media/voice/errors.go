package voice

var (
	ErrInvalidArgument       = &VoiceError{"room, channel and peer identifiers must be non-empty"}
	ErrNotInVoice            = &VoiceError{"not in a voice session"}
	ErrPeerNotFound          = &VoiceError{"peer not found"}
	ErrPeerExists            = &VoiceError{"peer connection already exists"}
	ErrEncryptionUnavailable = &VoiceError{"frame encryption required but unavailable"}
	ErrKeyMismatch           = &VoiceError{"peer advertises a different media key"}
	ErrAlgorithmMismatch     = &VoiceError{"peer advertises a different frame encryption algorithm"}
	ErrVideoDisabled         = &VoiceError{"video is disabled for this engine"}
	ErrUnknownSource         = &VoiceError{"unknown media source"}
)

// VoiceError is a simple error type for voice session operations.
type VoiceError struct {
	msg string
}

func (e *VoiceError) Error() string { return e.msg }
