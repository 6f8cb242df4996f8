package sandbox

import (
	"fmt"
	"io"
	"net/http"
	"sync"
)

// GuestResponse is what the guest delivers through the response outparam:
// status and headers immediately, the body streaming behind them.
type GuestResponse struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
}

type outcome struct {
	resp *GuestResponse
	err  error
}

// Outparam is the one-shot rendezvous between the host task awaiting a
// response and the guest task producing one. The guest side sets it at
// most once; dropping it without a set tells the host the guest finished
// without responding. Decoupling the set from the guest task's lifetime is
// the point: headers travel as soon as they are known while the body keeps
// streaming from the still-running guest.
type Outparam struct {
	once sync.Once
	ch   chan outcome
}

func NewOutparam() *Outparam {
	return &Outparam{ch: make(chan outcome, 1)}
}

func (o *Outparam) set(oc outcome) bool {
	delivered := false
	o.once.Do(func() {
		o.ch <- oc
		delivered = true
	})
	return delivered
}

// Set delivers a response. Reports false if the outparam was already
// fulfilled or dropped; the extra set is discarded.
func (o *Outparam) Set(resp *GuestResponse) bool {
	return o.set(outcome{resp: resp})
}

// SetErr delivers the guest's error arm.
func (o *Outparam) SetErr(err error) bool {
	return o.set(outcome{err: err})
}

// Drop releases the host side when the guest task ends without setting.
func (o *Outparam) Drop() {
	o.once.Do(func() {
		close(o.ch)
	})
}

// receive blocks until the outparam is fulfilled or dropped. set is false
// on drop.
func (o *Outparam) receive() (oc outcome, set bool) {
	oc, set = <-o.ch
	return oc, set
}

// responseState accumulates the guest's outgoing response: headers staged
// before the set, then a pipe carrying the streamed body. Host calls
// arrive from the single guest task, but the mutex keeps the state safe
// against a misbehaving multi-call guest.
type responseState struct {
	mu     sync.Mutex
	header http.Header
	set    bool
	out    *Outparam
	bodyR  *io.PipeReader
	bodyW  *io.PipeWriter
}

func newResponseState(out *Outparam) *responseState {
	r, w := io.Pipe()
	return &responseState{
		header: make(http.Header),
		out:    out,
		bodyR:  r,
		bodyW:  w,
	}
}

func (rs *responseState) setHeader(name, value string) int32 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.set {
		return errAlreadySet
	}
	rs.header.Add(name, value)
	return errOK
}

func (rs *responseState) setResponse(status int32) int32 {
	if status < 100 || status > 999 {
		return errInvalid
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.set {
		return errAlreadySet
	}
	rs.set = true
	if !rs.out.Set(&GuestResponse{
		Status: int(status),
		Header: rs.header.Clone(),
		Body:   rs.bodyR,
	}) {
		return errAlreadySet
	}
	return errOK
}

func (rs *responseState) abort(message string) int32 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.set {
		return errAlreadySet
	}
	rs.set = true
	err := fmt.Errorf("%w: %s", ErrGuestAbort, message)
	// Nobody will read the body pipe after an abort; fail later writes
	// instead of blocking the guest on them.
	rs.bodyW.CloseWithError(err)
	if !rs.out.SetErr(err) {
		return errAlreadySet
	}
	return errOK
}

func (rs *responseState) writeBody(data []byte) int32 {
	rs.mu.Lock()
	set := rs.set
	rs.mu.Unlock()
	if !set {
		return errNotSet
	}
	n, err := rs.bodyW.Write(data)
	if err != nil {
		return errIO
	}
	return int32(n)
}

// finish ends the body stream once the guest task is done. A guest error
// propagates to the reader so a half-sent body surfaces as a stream error
// rather than a clean EOF.
func (rs *responseState) finish(err error) {
	if err != nil {
		rs.bodyW.CloseWithError(err)
	} else {
		rs.bodyW.Close()
	}
	rs.out.Drop()
}
