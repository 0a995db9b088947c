package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/floegence/sptps"
	"github.com/floegence/sptps/internal/contextutil"
	"github.com/floegence/sptps/internal/defaults"
	"github.com/floegence/sptps/transport"
)

// sessionRunner drives one SPTPS session over one BinaryTransport: it wires
// Session.SendData to blocking transport writes, pumps inbound bytes from
// the transport into Session.ReceiveData, and once established sends a
// periodic encrypted keepalive and one greeting record.
type sessionRunner struct {
	name string
	sess *sptps.Session
	bt   transport.BinaryTransport
	log  *log.Logger

	// mu serializes every call into sess: Session is not safe for
	// concurrent use, but run's receive loop and an external goroutine
	// driving greetings/keepalives both call into it.
	mu sync.Mutex

	writeTimeout time.Duration
	established  chan struct{}
	closed       bool

	// onData handles an inbound application record that isn't a keepalive.
	// Nil means "log and drop".
	onData func(data []byte) error
}

func newSessionRunner(name string, bt transport.BinaryTransport, logger *log.Logger) *sessionRunner {
	return &sessionRunner{
		name:         name,
		bt:           bt,
		log:          logger,
		writeTimeout: defaults.HandshakeTimeout,
		established:  make(chan struct{}),
	}
}

// sendData implements sptps.SendDataFunc: every outbound SPTPS record,
// handshake or application, becomes one blocking transport write.
func (r *sessionRunner) sendData(_ any, _ uint8, b []byte) error {
	ctx, cancel := contextutil.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()
	return r.bt.WriteBinary(ctx, b)
}

// receiveRecord implements sptps.ReceiveRecordFunc. The handshake-complete
// notification arrives here as an empty RecordTypeHandshake record.
func (r *sessionRunner) receiveRecord(_ any, typ uint8, data []byte) error {
	if typ == sptps.RecordTypeHandshake {
		r.log.Printf("%s: handshake established", r.name)
		if !r.closed {
			close(r.established)
			r.closed = true
		}
		return nil
	}
	if typ == recordTypeKeepalive {
		r.log.Printf("%s: keepalive received", r.name)
		return nil
	}
	r.log.Printf("%s: received record type=%d %q", r.name, typ, data)
	if r.onData == nil {
		return nil
	}
	return r.onData(data)
}

// run starts the handshake and blocks draining the transport until it
// closes or the session dies. The caller runs it in its own goroutine.
func (r *sessionRunner) run() error {
	r.mu.Lock()
	err := r.sess.Start()
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%s: start: %w", r.name, err)
	}
	for {
		b, err := r.bt.ReadBinary(context.Background())
		if err != nil {
			return fmt.Errorf("%s: read: %w", r.name, err)
		}
		r.mu.Lock()
		_, err = r.sess.ReceiveData(b)
		r.mu.Unlock()
		if err != nil {
			return fmt.Errorf("%s: receive: %w", r.name, err)
		}
	}
}

// sendRecord sends an application record from outside run's own goroutine
// (a greeting or keepalive), serialized against the receive loop's calls
// into the same Session.
func (r *sessionRunner) sendRecord(typ uint8, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess.SendRecord(typ, data)
}

// waitEstablished blocks until the handshake completes or ctx is done.
func (r *sessionRunner) waitEstablished(ctx context.Context) error {
	select {
	case <-r.established:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// keepaliveLoop sends an empty application record on the given interval
// until ctx is canceled. A non-positive interval disables it, matching
// defaults.KeepaliveInterval's own "0 means off" convention.
func (r *sessionRunner) keepaliveLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.sendRecord(recordTypeKeepalive, nil); err != nil {
				r.log.Printf("%s: keepalive failed: %v", r.name, err)
				return
			}
		}
	}
}
