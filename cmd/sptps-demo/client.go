package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"

	"github.com/floegence/sptps"
	"github.com/floegence/sptps/internal/contextutil"
	"github.com/floegence/sptps/internal/defaults"
	"github.com/floegence/sptps/transport"

	"github.com/gorilla/websocket"
)

// newInitiatorSession builds a Session for the initiator side of one demo
// connection or multiplexed stream, wired to run through runner.
func (d *demo) newInitiatorSession(name string, bt transport.BinaryTransport) (*sptps.Session, *sessionRunner) {
	r := newSessionRunner(name, bt, d.log)
	sess := sptps.NewSession(sptps.Params{
		Initiator:      true,
		MyKey:          d.id.Private(),
		HisKey:         d.peerPub,
		Label:          []byte(d.cfg.label),
		PreferredSuite: d.cfg.preferred,
		Observer:       d.observer,
		SendData:       r.sendData,
		ReceiveRecord:  r.receiveRecord,
	})
	r.sess = sess
	return sess, r
}

// greetAndKeepalive runs r in the background, waits for the handshake, sends
// one greeting, and keeps the session alive on the configured interval.
func (d *demo) greetAndKeepalive(ctx context.Context, r *sessionRunner) {
	go func() {
		if err := r.run(); err != nil {
			d.log.Printf("%s", err)
		}
	}()

	waitCtx, cancel := contextutil.WithTimeout(ctx, defaults.HandshakeTimeout)
	defer cancel()
	if err := r.waitEstablished(waitCtx); err != nil {
		d.log.Printf("%s: handshake did not complete: %v", r.name, err)
		return
	}
	if err := r.sendRecord(recordTypeGreeting, []byte("hello from "+r.name)); err != nil {
		d.log.Printf("%s: greeting failed: %v", r.name, err)
		return
	}
	r.keepaliveLoop(ctx, defaults.KeepaliveInterval(int32(d.cfg.idleTimeoutSec)))
}

func (d *demo) dialWS(ctx context.Context, stdout io.Writer, metricsURL string) error {
	u := fmt.Sprintf("ws://%s%s", d.cfg.dial, d.cfg.wsPath)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u, err)
	}
	bt := transport.NewWebSocketBinaryTransport(conn)
	_, r := d.newInitiatorSession(d.cfg.dial, bt)

	_ = json.NewEncoder(stdout).Encode(ready{
		Version:    buildVersion,
		Commit:     commit,
		Date:       date,
		Mode:       "client",
		Transport:  "ws",
		MetricsURL: metricsURL,
		Sessions:   1,
	})

	go d.greetAndKeepalive(ctx, r)
	<-ctx.Done()
	return nil
}

func (d *demo) dialYamux(ctx context.Context, stdout io.Writer, metricsURL string) error {
	conn, err := net.Dial("tcp", d.cfg.dial)
	if err != nil {
		return fmt.Errorf("dial %s: %w", d.cfg.dial, err)
	}
	ysess, err := transport.NewMuxClient(conn, nil)
	if err != nil {
		return fmt.Errorf("yamux client handshake: %w", err)
	}

	_ = json.NewEncoder(stdout).Encode(ready{
		Version:    buildVersion,
		Commit:     commit,
		Date:       date,
		Mode:       "client",
		Transport:  "yamux",
		MetricsURL: metricsURL,
		Sessions:   d.cfg.sessions,
	})

	for i := 0; i < d.cfg.sessions; i++ {
		st, err := transport.OpenSPTPSStream(ysess)
		if err != nil {
			return fmt.Errorf("open sptps stream %d: %w", i, err)
		}
		name := fmt.Sprintf("session-%d", i)
		_, r := d.newInitiatorSession(name, st)
		go d.greetAndKeepalive(ctx, r)
	}

	<-ctx.Done()
	_ = ysess.Close()
	return nil
}
