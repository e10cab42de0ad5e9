package framecrypt

// AttachSender installs a fresh SenderTransform on target. When interception
// is unsupported it declines silently: target is left alone and (nil, false)
// is returned, so media flows protected by the transport only.
func AttachSender(c Capability, target Interceptable, key *MediaKey) (*SenderTransform, bool) {
	if !canAttach(c, target, key) {
		return nil, false
	}
	t := NewSenderTransform(key)
	target.SetFrameTransform(t)
	return t, true
}

// AttachReceiver installs a fresh ReceiverTransform on target with the same
// degrade-gracefully policy as AttachSender.
func AttachReceiver(c Capability, target Interceptable, key *MediaKey, onFailure FailureObserver) (*ReceiverTransform, bool) {
	if !canAttach(c, target, key) {
		return nil, false
	}
	t := NewReceiverTransform(key, onFailure)
	target.SetFrameTransform(t)
	return t, true
}

func canAttach(c Capability, target Interceptable, key *MediaKey) bool {
	return c != nil && c.FrameInterception() && target != nil && key != nil
}
