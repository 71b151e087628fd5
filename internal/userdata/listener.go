package userdata

import "log"

// Listener receives user data stream callbacks. Implementations must not
// block; the simulator calls them on the pushing goroutine.
type Listener interface {
	OnOpen()
	OnMessage(payload []byte)
	OnClose(code int, reason string)
}

// Handler adapts typed callbacks to Listener. Nil callbacks are skipped.
type Handler struct {
	Connected       func()
	AccountUpdate   func(AccountUpdateEvent)
	ExecutionReport func(OrderExecutionEvent)
	Closed          func(code int, reason string)
	Error           func(error)
}

func (h Handler) OnOpen() {
	if h.Connected != nil {
		h.Connected()
	}
}

func (h Handler) OnMessage(payload []byte) {
	ev, err := Decode(payload)
	if err != nil {
		if h.Error != nil {
			h.Error(err)
			return
		}
		log.Printf("level=WARN event=user_data_decode_failed err=%q", err.Error())
		return
	}
	switch e := ev.(type) {
	case AccountUpdateEvent:
		if h.AccountUpdate != nil {
			h.AccountUpdate(e)
		}
	case OrderExecutionEvent:
		if h.ExecutionReport != nil {
			h.ExecutionReport(e)
		}
	}
}

func (h Handler) OnClose(code int, reason string) {
	if h.Closed != nil {
		h.Closed(code, reason)
	}
}
