package wire

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var ErrWritePumpClosed = errors.New("wire: write pump closed")
var ErrWritePumpBackpressure = errors.New("wire: write pump backpressure")

const (
	defaultHighEnqueueTimeout = 2 * time.Second
	defaultLowEnqueueTimeout  = 500 * time.Millisecond
)

type writeRequest struct {
	frame []byte
	done  chan error
}

// WritePump serializes websocket writes for one socket while prioritizing
// small control-shaped frames (awareness withdrawals, sync step-1 queries)
// ahead of bulk sync/file-op traffic queued on the same connection.
type WritePump struct {
	writeFn     func([]byte) error
	closeFn     func()
	high        chan writeRequest
	low         chan writeRequest
	stop        chan struct{}
	done        chan struct{}
	closed      atomic.Bool
	stopOnce    sync.Once
	highTimeout time.Duration
	lowTimeout  time.Duration
}

// NewWritePump starts a pump writing binary frames to conn.
func NewWritePump(conn *websocket.Conn, writeTimeout time.Duration, highCap, lowCap int) *WritePump {
	writeFn := func(frame []byte) error {
		if conn == nil {
			return ErrWritePumpClosed
		}
		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			_ = conn.Close()
			return err
		}
		defer func() { _ = conn.SetWriteDeadline(time.Time{}) }()
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			_ = conn.Close()
			return err
		}
		return nil
	}
	closeFn := func() {
		if conn != nil {
			_ = conn.Close()
		}
	}
	return newWritePump(writeFn, closeFn, highCap, lowCap, defaultHighEnqueueTimeout, defaultLowEnqueueTimeout)
}

func newWritePump(writeFn func([]byte) error, closeFn func(), highCap, lowCap int, highTimeout, lowTimeout time.Duration) *WritePump {
	if highCap <= 0 {
		highCap = 1
	}
	if lowCap <= 0 {
		lowCap = 1
	}
	p := &WritePump{
		writeFn:     writeFn,
		closeFn:     closeFn,
		high:        make(chan writeRequest, highCap),
		low:         make(chan writeRequest, lowCap),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		highTimeout: highTimeout,
		lowTimeout:  lowTimeout,
	}
	go p.run()
	return p
}

// WriteHighPriority enqueues a frame ahead of any pending bulk traffic.
func (p *WritePump) WriteHighPriority(frame []byte) error {
	return p.enqueue(frame, true)
}

// WriteBulk enqueues a frame behind any pending high-priority traffic.
func (p *WritePump) WriteBulk(frame []byte) error {
	return p.enqueue(frame, false)
}

// Close stops the pump and closes the underlying connection.
func (p *WritePump) Close() {
	if !p.closed.Swap(true) && p.closeFn != nil {
		p.closeFn()
	}
	p.signalStop()
	<-p.done
}

func (p *WritePump) enqueue(frame []byte, high bool) error {
	if p.closed.Load() {
		return ErrWritePumpClosed
	}
	req := writeRequest{frame: frame, done: make(chan error, 1)}

	target, wait := p.low, p.lowTimeout
	if high {
		target, wait = p.high, p.highTimeout
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-p.stop:
		return ErrWritePumpClosed
	case target <- req:
	case <-timer.C:
		p.triggerBackpressure()
		return ErrWritePumpBackpressure
	}

	return <-req.done
}

func (p *WritePump) run() {
	defer close(p.done)
	for {
		req, ok := p.next()
		if !ok {
			p.failPending(ErrWritePumpClosed)
			return
		}
		err := p.writeFn(req.frame)
		req.done <- err
		if err != nil {
			if !p.closed.Swap(true) && p.closeFn != nil {
				p.closeFn()
			}
			p.signalStop()
			p.failPending(err)
			return
		}
		if p.closed.Load() {
			p.signalStop()
			p.failPending(ErrWritePumpClosed)
			return
		}
	}
}

func (p *WritePump) next() (writeRequest, bool) {
	select {
	case req := <-p.high:
		return req, true
	default:
	}
	select {
	case <-p.stop:
		return writeRequest{}, false
	case req := <-p.high:
		return req, true
	case req := <-p.low:
		return req, true
	}
}

func (p *WritePump) failPending(err error) {
	for {
		select {
		case req := <-p.high:
			req.done <- err
		case req := <-p.low:
			req.done <- err
		default:
			return
		}
	}
}

func (p *WritePump) signalStop() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
}

func (p *WritePump) triggerBackpressure() {
	if p.closed.Swap(true) {
		return
	}
	if p.closeFn != nil {
		p.closeFn()
	}
	p.signalStop()
}
