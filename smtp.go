package mailer

// Hooks observe a session's lifecycle. All hooks are optional; nil hooks are
// simply not invoked. They run synchronously on the calling goroutine, so they
// should return quickly. Panics are not recovered.
type Hooks struct {
	// OnConnect is called once the session is ready to send.
	OnConnect func()

	// OnSent is called after the server accepted a message. response is the
	// text of the final reply.
	OnSent func(email EmailOptions, response string)

	// OnError is called when a send or the session setup fails. email is nil
	// for setup failures.
	OnError func(email *EmailOptions, err error)

	// OnClose is called exactly once when the session ends. err is the
	// failure that ended it, or nil for an orderly Close.
	OnClose func(err error)
}

func (h Hooks) connected() {
	if h.OnConnect != nil {
		h.OnConnect()
	}
}

func (h Hooks) sent(email EmailOptions, response string) {
	if h.OnSent != nil {
		h.OnSent(email, response)
	}
}

func (h Hooks) failed(email *EmailOptions, err error) {
	if h.OnError != nil {
		h.OnError(email, err)
	}
}

func (h Hooks) closed(err error) {
	if h.OnClose != nil {
		h.OnClose(err)
	}
}
