package framecrypt

// MediaKind distinguishes audio from video frames.
type MediaKind uint8

const (
	KindAudio MediaKind = iota + 1
	KindVideo
)

func (k MediaKind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// EncodedFrame is one compressed audio or video frame at the network-facing
// edge of the media pipeline. Transforms replace its payload in place.
type EncodedFrame interface {
	Payload() []byte
	SetPayload(p []byte)
}

// Frame is the EncodedFrame used by the voice pipeline.
type Frame struct {
	Kind      MediaKind
	Timestamp uint32
	data      []byte
}

// NewFrame wraps payload without copying it.
func NewFrame(kind MediaKind, timestamp uint32, payload []byte) *Frame {
	return &Frame{Kind: kind, Timestamp: timestamp, data: payload}
}

func (f *Frame) Payload() []byte { return f.data }
func (f *Frame) SetPayload(p []byte) { f.data = p }

// FrameTransform rewrites the payload of a frame.
type FrameTransform interface {
	Transform(frame EncodedFrame) error
}

// TransformFunc adapts a function to FrameTransform.
type TransformFunc func(frame EncodedFrame) error

func (f TransformFunc) Transform(frame EncodedFrame) error { return f(frame) }

// Interceptable is a media stream that accepts a per-frame transform.
// Setting nil removes the transform.
type Interceptable interface {
	SetFrameTransform(t FrameTransform)
}
