package sptps

import (
	"crypto/ecdh"

	"github.com/floegence/sptps/internal/bin"
	"github.com/floegence/sptps/observability"
	"github.com/floegence/sptps/sptpserr"
)

// kexBodyLen is the fixed wire size of a KEX message:
// version(1) + preferred_suite(1) + suite_mask(2) + nonce(32) + ephemeral_pub(32).
const kexBodyLen = 1 + 1 + 2 + NonceSize32 + ECDHSize

const kexVersion uint8 = 0

func buildKex(preferred Suite, mask SuiteMask, nonce [NonceSize32]byte, ephPub []byte) []byte {
	b := make([]byte, kexBodyLen)
	b[0] = kexVersion
	b[1] = uint8(preferred)
	bin.PutU16LE(b[2:4], uint16(mask))
	copy(b[4:4+NonceSize32], nonce[:])
	copy(b[4+NonceSize32:], ephPub)
	return b
}

func parseKex(b []byte) (version uint8, preferred Suite, mask SuiteMask, nonce [NonceSize32]byte, ephPub []byte, err error) {
	if len(b) != kexBodyLen {
		return 0, 0, 0, nonce, nil, errBadRecordLength
	}
	version = b[0]
	preferred = Suite(b[1])
	mask = SuiteMask(bin.U16LE(b[2:4]))
	copy(nonce[:], b[4:4+NonceSize32])
	ephPub = append([]byte(nil), b[4+NonceSize32:]...)
	return version, preferred, mask, nonce, ephPub, nil
}

// buildSigInput reconstructs the exact byte string each side's SIG
// signature covers: the originator flag, then both sides' raw KEX wire
// bytes in initiator-then-responder order, then the label.
func buildSigInput(originatorFlag uint8, initiatorKex, responderKex, label []byte) []byte {
	out := make([]byte, 0, 1+len(initiatorKex)+len(responderKex)+len(label))
	out = append(out, originatorFlag)
	out = append(out, initiatorKex...)
	out = append(out, responderKex...)
	out = append(out, label...)
	return out
}

// nonceFromKex extracts the nonce field out of a raw KEX body, used when
// only the nonce (not the full parse) is needed.
func nonceFromKex(kex []byte) [NonceSize32]byte {
	var n [NonceSize32]byte
	copy(n[:], kex[4:4+NonceSize32])
	return n
}

// Start sends this side's initial KEX record and enters StateKex. Both
// sides call Start unsolicited; neither waits for the other.
func (s *Session) Start() error {
	if s.state != StateStart {
		return s.fail(sptpserr.StageHandshake, sptpserr.MisuseError, errUnexpectedState)
	}
	s.observer.HandshakeStarted(s.role.String())
	if err := s.sendOwnKex(); err != nil {
		return err
	}
	s.state = StateKex
	return nil
}

// ForceKex triggers a renegotiation (the spec's SECONDARY_KEX). It is only
// valid from StateEstablished with an already-initialized outbound
// direction; the old outbound key remains valid until the new one replaces
// it after SIG completes.
func (s *Session) ForceKex() error {
	if s.state != StateEstablished || !s.outstate {
		return sptpserr.Wrap(sptpserr.StageHandshake, sptpserr.MisuseError, errForceKexState)
	}
	s.observer.Renegotiated(s.role.String())
	if err := s.sendOwnKex(); err != nil {
		return err
	}
	s.state = StateKex
	return nil
}

// sendOwnKex generates a fresh ephemeral keypair and nonce, builds this
// side's KEX body, and sends it as a HANDSHAKE record.
func (s *Session) sendOwnKex() error {
	priv, err := generateEphemeral()
	if err != nil {
		return s.fail(sptpserr.StageHandshake, sptpserr.ResourceFailure, err)
	}
	var nonce [NonceSize32]byte
	if err := randNonce(nonce[:]); err != nil {
		return s.fail(sptpserr.StageHandshake, sptpserr.ResourceFailure, err)
	}

	s.ephPriv = priv
	s.ownNonce = nonce
	s.ownKex = buildKex(s.ownPreferred, s.ownMask, nonce, priv.PublicKey().Bytes())

	if err := s.frameAndSend(RecordTypeHandshake, s.ownKex); err != nil {
		return s.fail(sptpserr.StageHandshake, sptpserr.ResourceFailure, err)
	}
	return nil
}

// handleHandshakeRecord dispatches an inbound HANDSHAKE-type record by the
// session's current state. An empty payload in StateAck/StateEstablished is
// an ACK; a kexBodyLen payload in StateKex/StateEstablished is a KEX; any
// other payload in StateSig is a SIG. Anything else is an illegal
// transition and kills the session.
func (s *Session) handleHandshakeRecord(payload []byte) error {
	switch s.state {
	case StateKex:
		return s.handlePeerKex(payload)
	case StateSig:
		return s.handlePeerSig(payload)
	case StateAck:
		return s.handlePeerAck(payload)
	case StateEstablished:
		// A peer-initiated renegotiation: treat an inbound KEX the same as
		// the SECONDARY_KEX -> SIG edge, after first sending our own KEX.
		if len(payload) == kexBodyLen {
			if err := s.sendOwnKex(); err != nil {
				return err
			}
			return s.handlePeerKex(payload)
		}
		// An empty payload here is the peer's own confirmation ACK from a
		// first handshake that this side already completed locally (both
		// directions come up together once SIG verifies); nothing left to
		// do on receipt.
		if len(payload) == 0 {
			return nil
		}
		return s.fail(sptpserr.StageHandshake, sptpserr.ProtocolViolation, errUnexpectedState)
	default:
		return s.fail(sptpserr.StageHandshake, sptpserr.ProtocolViolation, errUnexpectedState)
	}
}

func (s *Session) handlePeerKex(payload []byte) error {
	version, preferred, mask, _, ephPub, err := parseKex(payload)
	if err != nil {
		return s.fail(sptpserr.StageHandshake, sptpserr.ProtocolViolation, err)
	}
	if version != kexVersion {
		return s.fail(sptpserr.StageHandshake, sptpserr.ProtocolViolation, errUnknownVersion)
	}

	suite, err := negotiateSuite(s.ownMask, mask, s.ownPreferred, preferred)
	if err != nil {
		return s.fail(sptpserr.StageHandshake, sptpserr.ProtocolViolation, err)
	}
	s.peerMask = mask
	s.peerPreferred = preferred
	s.suite = suite
	s.suiteSelected = true
	s.peerKex = payload

	if _, err := parseEphemeralPublic(ephPub); err != nil {
		return s.fail(sptpserr.StageHandshake, sptpserr.CryptoFailure, err)
	}

	if s.role == RoleInitiator {
		if err := s.sendOwnSig(); err != nil {
			return err
		}
	}
	s.state = StateSig
	return nil
}

func (s *Session) initiatorResponderKex() (initiatorKex, responderKex []byte) {
	if s.role == RoleInitiator {
		return s.ownKex, s.peerKex
	}
	return s.peerKex, s.ownKex
}

func (s *Session) sendOwnSig() error {
	initiatorKex, responderKex := s.initiatorResponderKex()
	var originatorFlag uint8
	if s.role == RoleInitiator {
		originatorFlag = 1
	}
	msg := buildSigInput(originatorFlag, initiatorKex, responderKex, s.label)
	sig := signKex(s.myKey, msg)
	if err := s.frameAndSend(RecordTypeHandshake, sig); err != nil {
		return s.fail(sptpserr.StageHandshake, sptpserr.ResourceFailure, err)
	}
	return nil
}

func (s *Session) handlePeerSig(sig []byte) error {
	initiatorKex, responderKex := s.initiatorResponderKex()
	var peerOriginatorFlag uint8
	if s.role == RoleResponder {
		// The peer is the initiator: their signature carries flag=1.
		peerOriginatorFlag = 1
	}
	msg := buildSigInput(peerOriginatorFlag, initiatorKex, responderKex, s.label)
	if err := verifyKexSig(s.hisKey, msg, sig); err != nil {
		return s.fail(sptpserr.StageHandshake, sptpserr.CryptoFailure, err)
	}

	peerEphPub, err := parseEphemeralPublicFromKex(s.peerKex)
	if err != nil {
		return s.fail(sptpserr.StageHandshake, sptpserr.CryptoFailure, err)
	}
	secret, err := computeSharedSecret(s.ephPriv, peerEphPub)
	if err != nil {
		return s.fail(sptpserr.StageHandshake, sptpserr.CryptoFailure, err)
	}

	initiatorNonce, responderNonce := s.initiatorResponderNonce()
	material, err := prf(secret, initiatorNonce, responderNonce, s.label)
	if err != nil {
		return s.fail(sptpserr.StageHandshake, sptpserr.CryptoFailure, err)
	}
	s.keyMaterial = material
	s.haveKeyMaterial = true

	wasOutstate := s.outstate

	if s.role == RoleResponder {
		if err := s.sendOwnSig(); err != nil {
			return err
		}
	}

	outHalf := outboundKeyHalf(s.keyMaterial, s.role)
	newOutCipher, err := newAEADCipher(s.suite, keyFromHalf(outHalf))
	if err != nil {
		return s.fail(sptpserr.StageCipher, sptpserr.CryptoFailure, err)
	}

	s.ownKex = nil
	s.peerKex = nil
	s.ephPriv = nil

	// The ACK itself is sent under whatever outbound cipher (or lack of
	// one) was already active: the peer's inbound direction hasn't cut
	// over yet either, so the ACK must still be decodable under the old
	// key. Only once it is flushed do both the cipher and outstate cut
	// over, so the first record after the ACK is the first to use it.
	if wasOutstate {
		if err := s.sendAck(); err != nil {
			return err
		}
		s.outCipher.destroy()
		s.outCipher = newOutCipher
		s.outSeqno = 0
		s.state = StateAck
		return nil
	}

	// First handshake: there is no old key to protect, so both directions
	// come up together as soon as SIG verifies. This side reaches
	// ESTABLISHED on its own; the ACK it still sends is a courtesy to a
	// peer that may not yet have finished its own SIG processing.
	inHalf := inboundKeyHalf(s.keyMaterial, s.role)
	newInCipher, err := newAEADCipher(s.suite, keyFromHalf(inHalf))
	if err != nil {
		return s.fail(sptpserr.StageCipher, sptpserr.CryptoFailure, err)
	}

	s.outCipher = newOutCipher
	s.inCipher = newInCipher
	s.outstate = true
	s.instate = true
	s.outSeqno = 0
	s.replay = newReplayWindow(s.replay.w)
	zero(s.keyMaterial[:])
	s.haveKeyMaterial = false

	if err := s.notifyHandshakeDone(); err != nil {
		return err
	}
	if err := s.sendAck(); err != nil {
		return err
	}
	s.state = StateEstablished
	s.observer.HandshakeFinished(s.role.String(), observability.HandshakeResultEstablished, uint8(s.suite))
	return nil
}

func (s *Session) sendAck() error {
	if err := s.frameAndSend(RecordTypeHandshake, nil); err != nil {
		return s.fail(sptpserr.StageHandshake, sptpserr.ResourceFailure, err)
	}
	return nil
}

func (s *Session) handlePeerAck(payload []byte) error {
	if len(payload) != 0 {
		return s.fail(sptpserr.StageHandshake, sptpserr.ProtocolViolation, errBadRecordLength)
	}
	if !s.haveKeyMaterial {
		return s.fail(sptpserr.StageHandshake, sptpserr.ProtocolViolation, errUnexpectedState)
	}

	inHalf := inboundKeyHalf(s.keyMaterial, s.role)
	inCipher, err := newAEADCipher(s.suite, keyFromHalf(inHalf))
	if err != nil {
		return s.fail(sptpserr.StageCipher, sptpserr.CryptoFailure, err)
	}
	if s.inCipher != nil {
		s.inCipher.destroy()
	}
	s.inCipher = inCipher
	s.replay = newReplayWindow(s.replay.w)

	zero(s.keyMaterial[:])
	s.haveKeyMaterial = false
	s.instate = true

	if err := s.notifyHandshakeDone(); err != nil {
		return err
	}
	s.state = StateEstablished
	s.observer.HandshakeFinished(s.role.String(), observability.HandshakeResultEstablished, uint8(s.suite))
	return nil
}

func (s *Session) notifyHandshakeDone() error {
	if err := s.receiveRecord(s.handle, RecordTypeHandshake, nil); err != nil {
		return s.fail(sptpserr.StageHandshake, sptpserr.ResourceFailure, err)
	}
	return nil
}

func (s *Session) initiatorResponderNonce() (initiatorNonce, responderNonce [NonceSize32]byte) {
	peerNonce := nonceFromKex(s.peerKex)
	if s.role == RoleInitiator {
		return s.ownNonce, peerNonce
	}
	return peerNonce, s.ownNonce
}

func parseEphemeralPublicFromKex(kex []byte) (*ecdh.PublicKey, error) {
	_, _, _, _, ephPub, err := parseKex(kex)
	if err != nil {
		return nil, err
	}
	return parseEphemeralPublic(ephPub)
}
