package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/floegence/sptps"
	"github.com/floegence/sptps/transport"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	// Demo only: a real deployment needs an Origin allowlist, the way
	// cmd/flowersec-tunnel enforces one for its own websocket upgrade.
	CheckOrigin: func(*http.Request) bool { return true },
}

// newResponderSession builds a Session for the responder side of one demo
// connection or multiplexed stream, wired to run through runner.
func (d *demo) newResponderSession(name string, bt transport.BinaryTransport) (*sptps.Session, *sessionRunner) {
	r := newSessionRunner(name, bt, d.log)
	sess := sptps.NewSession(sptps.Params{
		Initiator:      false,
		MyKey:          d.id.Private(),
		HisKey:         d.peerPub,
		Label:          []byte(d.cfg.label),
		PreferredSuite: d.cfg.preferred,
		Observer:       d.observer,
		SendData:       r.sendData,
		ReceiveRecord:  r.receiveRecord,
	})
	r.sess = sess
	r.onData = upperEcho(sess)
	return sess, r
}

func (d *demo) serveWS(ctx context.Context, stdout io.Writer, metricsURL string) error {
	mux := http.NewServeMux()
	mux.HandleFunc(d.cfg.wsPath, func(w http.ResponseWriter, req *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, req, nil)
		if err != nil {
			d.log.Printf("websocket upgrade failed: %v", err)
			return
		}
		bt := transport.NewWebSocketBinaryTransport(conn)
		_, r := d.newResponderSession(req.RemoteAddr, bt)
		if err := r.run(); err != nil {
			d.log.Printf("%s", err)
		}
	})

	ln, err := net.Listen("tcp", d.cfg.listen)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	_ = json.NewEncoder(stdout).Encode(ready{
		Version:    buildVersion,
		Commit:     commit,
		Date:       date,
		Mode:       "server",
		Transport:  "ws",
		Listen:     ln.Addr().String(),
		MetricsURL: metricsURL,
		Sessions:   1,
	})

	err = srv.Serve(ln)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (d *demo) serveYamux(ctx context.Context, stdout io.Writer, metricsURL string) error {
	ln, err := net.Listen("tcp", d.cfg.listen)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	_ = json.NewEncoder(stdout).Encode(ready{
		Version:    buildVersion,
		Commit:     commit,
		Date:       date,
		Mode:       "server",
		Transport:  "yamux",
		Listen:     ln.Addr().String(),
		MetricsURL: metricsURL,
		Sessions:   d.cfg.sessions,
	})

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go d.serveYamuxConn(conn)
	}
}

func (d *demo) serveYamuxConn(conn net.Conn) {
	ysess, err := transport.NewMuxServer(conn, nil)
	if err != nil {
		d.log.Printf("yamux server handshake failed: %v", err)
		return
	}
	defer ysess.Close()
	for i := 0; i < d.cfg.sessions; i++ {
		st, err := transport.AcceptSPTPSStream(ysess)
		if err != nil {
			d.log.Printf("accept sptps stream %d: %v", i, err)
			return
		}
		name := fmt.Sprintf("%s/session-%d", conn.RemoteAddr(), i)
		_, r := d.newResponderSession(name, st)
		go func() {
			if err := r.run(); err != nil {
				d.log.Printf("%s", err)
			}
		}()
	}
}
