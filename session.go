// Package sptps implements the Simple Peer-to-Peer Security transport
// protocol core: a handshake state machine, authenticated record framing
// for both stream and datagram transports, and a sliding-window
// anti-replay scheme. It never touches a socket; callers supply a
// SendData callback for outbound bytes and a ReceiveRecord callback for
// decrypted inbound records.
package sptps

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"fmt"
	"log"

	"github.com/floegence/sptps/observability"
	"github.com/floegence/sptps/sptpserr"
)

// SendDataFunc writes an outbound SPTPS record to the transport.
type SendDataFunc func(handle any, recordType uint8, data []byte) error

// ReceiveRecordFunc delivers a decrypted inbound record to the caller. It is
// also invoked once with an empty RecordTypeHandshake record each time the
// handshake (initial or renegotiated) completes.
type ReceiveRecordFunc func(handle any, recordType uint8, data []byte) error

// Logger receives diagnostic events. The default Params.Logger is nil,
// meaning events are discarded.
type Logger func(role Role, kind sptpserr.Kind, format string, args ...any)

// StderrLogger is a Logger that writes each event to standard error through
// the standard log package, prefixed with the session role and error kind.
func StderrLogger(role Role, kind sptpserr.Kind, format string, args ...any) {
	log.Printf("sptps %s [%s]: %s", role, kind, fmt.Sprintf(format, args...))
}

// Params configures a new Session. Zero value fields fall back to the
// documented defaults.
type Params struct {
	// Handle is forwarded verbatim to SendData and ReceiveRecord.
	Handle any
	// Initiator selects which side drives the handshake first.
	Initiator bool
	// Datagram selects datagram framing; the zero value is stream framing.
	Datagram bool

	// MyKey signs this side's SIG message. HisKey verifies the peer's.
	// Both are borrowed: the caller must keep them alive for the life of
	// the session.
	MyKey  ed25519.PrivateKey
	HisKey ed25519.PublicKey

	// Label domain-separates the PRF; typically a channel or tunnel name.
	Label []byte

	// CipherSuites enables suites for negotiation; the zero value means
	// "all suites this build supports" (AllSuites).
	CipherSuites SuiteMask
	// PreferredSuite is this side's tiebreak preference.
	PreferredSuite Suite

	// ReplayWindow is the replay window size in bytes. Zero (unset) uses
	// DefaultReplayWindowBytes; a negative value explicitly disables
	// replay protection. This departs from the literal "0 disables"
	// wording of the reference so that Go's zero value means "default"
	// rather than "off" — see DESIGN.md.
	ReplayWindow int

	SendData      SendDataFunc
	ReceiveRecord ReceiveRecordFunc

	// Observer receives lifecycle and traffic events. Nil uses
	// observability.NoopSessionObserver.
	Observer observability.SessionObserver
	// Logger receives diagnostic events. Nil discards them.
	Logger Logger
}

// Session is one SPTPS peer endpoint. It is not safe for concurrent use:
// the caller must serialize all calls into a given session, and callbacks
// invoked by a session must not re-enter it.
type Session struct {
	handle        any
	role          Role
	transport     TransportKind
	myKey         ed25519.PrivateKey
	hisKey        ed25519.PublicKey
	label         []byte
	sendData      SendDataFunc
	receiveRecord ReceiveRecordFunc
	observer      observability.SessionObserver
	logger        Logger

	state State

	ownMask       SuiteMask
	peerMask      SuiteMask
	ownPreferred  Suite
	peerPreferred Suite
	suite         Suite
	suiteSelected bool

	ephPriv  *ecdh.PrivateKey
	ownNonce [NonceSize32]byte
	ownKex   []byte
	peerKex  []byte

	keyMaterial     [128]byte
	haveKeyMaterial bool

	outCipher *aeadCipher
	inCipher  *aeadCipher
	outstate  bool
	instate   bool
	outSeqno  uint32

	replay *replayWindow

	streamBuf []byte

	stopped bool
}

// NewSession constructs a session in StateStart. Start must be called
// before any other operation.
func NewSession(p Params) *Session {
	transport := TransportStream
	if p.Datagram {
		transport = TransportDatagram
	}
	role := RoleResponder
	if p.Initiator {
		role = RoleInitiator
	}
	mask := p.CipherSuites
	if mask == 0 {
		mask = AllSuites
	}
	observer := p.Observer
	if observer == nil {
		observer = observability.NoopSessionObserver
	}

	label := append([]byte(nil), p.Label...)

	return &Session{
		handle:        p.Handle,
		role:          role,
		transport:     transport,
		myKey:         p.MyKey,
		hisKey:        p.HisKey,
		label:         label,
		sendData:      p.SendData,
		receiveRecord: p.ReceiveRecord,
		observer:      observer,
		logger:        p.Logger,
		state:         StateStart,
		ownMask:       mask,
		ownPreferred:  p.PreferredSuite,
		replay:        newReplayWindow(replayWindowBytes(p.ReplayWindow)),
	}
}

func replayWindowBytes(configured int) int {
	switch {
	case configured == 0:
		return DefaultReplayWindowBytes
	case configured < 0:
		return 0
	default:
		return configured
	}
}

func (s *Session) log(kind sptpserr.Kind, format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger(s.role, kind, format, args...)
}

// State reports the session's current handshake state.
func (s *Session) State() State { return s.state }

// fail transitions the session to StateDead and returns a wrapped error.
// Every illegal transition and fatal protocol error in the handshake path
// routes through here.
func (s *Session) fail(stage sptpserr.Stage, kind sptpserr.Kind, err error) error {
	s.state = StateDead
	wrapped := sptpserr.Wrap(stage, kind, err)
	s.log(kind, "session fatal: %v", wrapped)
	s.observer.HandshakeFinished(s.role.String(), observability.HandshakeResultFailed, uint8(s.suite))
	return wrapped
}

// Stop destroys all session state and zeroes secret material. It is valid
// from any state; a second call changes nothing and returns a MisuseError.
func (s *Session) Stop() error {
	if s.stopped {
		return sptpserr.Wrap(sptpserr.StageSession, sptpserr.MisuseError, errSessionStopped)
	}
	s.stopped = true
	zero(s.keyMaterial[:])
	s.haveKeyMaterial = false
	if s.outCipher != nil {
		s.outCipher.destroy()
		s.outCipher = nil
	}
	if s.inCipher != nil {
		s.inCipher.destroy()
		s.inCipher = nil
	}
	s.ownKex = nil
	s.peerKex = nil
	s.ephPriv = nil
	s.streamBuf = nil
	s.outstate = false
	s.instate = false
	s.state = StateDead
	s.observer.SessionStopped(s.role.String())
	return nil
}
