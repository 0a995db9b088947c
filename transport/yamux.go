package transport

import (
	"net"

	"github.com/hashicorp/yamux"
)

// NewMuxClient wraps conn as a yamux client session, falling back to
// yamux.DefaultConfig() when cfg is nil.
func NewMuxClient(conn net.Conn, cfg *yamux.Config) (*yamux.Session, error) {
	if cfg == nil {
		cfg = yamux.DefaultConfig()
	}
	return yamux.Client(conn, cfg)
}

// NewMuxServer wraps conn as a yamux server session, falling back to
// yamux.DefaultConfig() when cfg is nil.
func NewMuxServer(conn net.Conn, cfg *yamux.Config) (*yamux.Session, error) {
	if cfg == nil {
		cfg = yamux.DefaultConfig()
	}
	return yamux.Server(conn, cfg)
}

// OpenSPTPSStream opens one yamux stream and wraps it as a BinaryTransport
// for a single SPTPS session's stream-mode traffic. Each SPTPS session gets
// its own yamux stream, so renegotiating one session's keys never disturbs
// any other session multiplexed over the same underlying connection.
func OpenSPTPSStream(sess *yamux.Session) (*StreamBinaryTransport, error) {
	s, err := sess.OpenStream()
	if err != nil {
		return nil, err
	}
	return NewStreamBinaryTransport(s), nil
}

// AcceptSPTPSStream accepts one yamux stream and wraps it as a
// BinaryTransport for a single SPTPS session's stream-mode traffic.
func AcceptSPTPSStream(sess *yamux.Session) (*StreamBinaryTransport, error) {
	s, err := sess.AcceptStream()
	if err != nil {
		return nil, err
	}
	return NewStreamBinaryTransport(s), nil
}
