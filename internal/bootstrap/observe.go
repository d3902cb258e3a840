package bootstrap

// Observer receives every state and Init event as plain strings, so sinks
// such as the journal or the NATS bridge need not import this package.
type Observer interface {
	StateChanged(state string, err error)
	InitChanged(state string, err error)
}

// Observe feeds o from fresh subscriptions until stop is called or the
// machine closes. Events already queued are delivered before stop returns.
func (m *Machine) Observe(o Observer) (stop func()) {
	states, cancelStates := m.SubscribeState()
	inits, cancelInits := m.SubscribeInit()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for states != nil || inits != nil {
			select {
			case ev, ok := <-states:
				if !ok {
					states = nil
					continue
				}
				o.StateChanged(string(ev.State), ev.Err)
			case ev, ok := <-inits:
				if !ok {
					inits = nil
					continue
				}
				o.InitChanged(string(ev.State), ev.Err)
			}
		}
	}()

	return func() {
		cancelStates()
		cancelInits()
		<-done
	}
}
