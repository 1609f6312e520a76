package detector

// ListenerFuncs adapts plain functions to the Listener interface. Nil
// fields are skipped.
type ListenerFuncs struct {
	Error   func(err error)
	Results func(res Result)
}

// OnError implements Listener.
func (l ListenerFuncs) OnError(err error) {
	if l.Error != nil {
		l.Error(err)
	}
}

// OnResults implements Listener.
func (l ListenerFuncs) OnResults(res Result) {
	if l.Results != nil {
		l.Results(res)
	}
}

// MultiListener fans callbacks out to several listeners in order.
type MultiListener []Listener

// OnError implements Listener.
func (m MultiListener) OnError(err error) {
	for _, l := range m {
		if l != nil {
			l.OnError(err)
		}
	}
}

// OnResults implements Listener.
func (m MultiListener) OnResults(res Result) {
	for _, l := range m {
		if l != nil {
			l.OnResults(res)
		}
	}
}
