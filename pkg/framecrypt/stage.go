package framecrypt

import "context"

// DropFunc is told about a frame the stage refused to forward.
type DropFunc func(frame EncodedFrame, err error)

// Run drives one stream through t: frames are read from in, transformed and
// written to out in arrival order. A frame whose transform fails is dropped
// (reported to onDrop when non-nil) and the stream continues. Run closes out
// when it returns, which happens when in is closed (nil error) or ctx is
// done (ctx.Err()). Frames still queued in in are not processed after
// cancellation.
func Run(ctx context.Context, t FrameTransform, in <-chan EncodedFrame, out chan<- EncodedFrame, onDrop DropFunc) error {
	defer close(out)
	for {
		var frame EncodedFrame
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-in:
			if !ok {
				return nil
			}
			frame = f
		}

		if err := t.Transform(frame); err != nil {
			if onDrop != nil {
				onDrop(frame, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- frame:
		}
	}
}
