package sptps

import (
	"errors"

	"github.com/floegence/sptps/observability"
	"github.com/floegence/sptps/sptpserr"
)

// frameAndSend builds the wire record for typ/payload under whatever
// cipher state is currently active for the outbound direction, hands it to
// the caller's SendData callback, and advances the outbound sequence
// number — but only when the record was actually encrypted. A cleartext
// handshake record (sent before outstate first flips) consumes no nonce and
// leaves outSeqno untouched.
func (s *Session) frameAndSend(typ uint8, payload []byte) error {
	var c *aeadCipher
	if s.outstate {
		c = s.outCipher
	}
	seqno := s.outSeqno

	var record []byte
	if s.transport == TransportDatagram {
		record = encodeDatagram(typ, payload, seqno, c)
	} else {
		record = encodeStream(typ, payload, seqno, c)
	}

	if err := s.sendData(s.handle, typ, record); err != nil {
		return sptpserr.Wrap(sptpserr.StageRecord, sptpserr.ResourceFailure, err)
	}
	if c != nil {
		s.outSeqno++
	}
	return nil
}

// SendRecord frames and encrypts an application record. It fails unless
// the outbound direction is established and typ names an application type.
func (s *Session) SendRecord(typ uint8, data []byte) error {
	if s.state == StateDead {
		return sptpserr.Wrap(sptpserr.StageSession, sptpserr.MisuseError, errSessionDead)
	}
	if typ >= RecordTypeHandshake {
		return sptpserr.Wrap(sptpserr.StageSession, sptpserr.MisuseError, errApplicationType)
	}
	if !s.outstate {
		return sptpserr.Wrap(sptpserr.StageSession, sptpserr.MisuseError, errNotEstablished)
	}
	if err := s.frameAndSend(typ, data); err != nil {
		return err
	}
	s.observer.RecordSent(typ, len(data))
	return nil
}

// ReceiveData feeds inbound bytes into the session. For a stream transport
// it returns the number of bytes consumed from data; bytes of a record that
// is not yet complete are kept in the reassembly buffer for the next call
// and count as consumed, so on success the result is len(data). For a
// datagram transport data is treated as exactly one packet; the return
// value is len(data) on success.
func (s *Session) ReceiveData(data []byte) (int, error) {
	if s.state == StateDead {
		return 0, sptpserr.Wrap(sptpserr.StageSession, sptpserr.MisuseError, errSessionDead)
	}
	if s.transport == TransportDatagram {
		if err := s.receiveDatagramPacket(data); err != nil {
			return 0, err
		}
		return len(data), nil
	}
	return s.receiveStreamBytes(data)
}

func (s *Session) receiveStreamBytes(data []byte) (int, error) {
	consumed := 0
	for {
		if len(s.streamBuf) < StreamHeaderLen-1 { // need the 2-byte length prefix
			n := min(StreamHeaderLen-1-len(s.streamBuf), len(data)-consumed)
			if n <= 0 {
				break
			}
			s.streamBuf = append(s.streamBuf, data[consumed:consumed+n]...)
			consumed += n
			if len(s.streamBuf) < StreamHeaderLen-1 {
				break
			}
		}

		payloadLen, _ := streamPayloadLen(s.streamBuf)
		total := streamRecordTotalLen(payloadLen, s.instate)

		if len(s.streamBuf) < total {
			n := min(total-len(s.streamBuf), len(data)-consumed)
			if n <= 0 {
				break
			}
			s.streamBuf = append(s.streamBuf, data[consumed:consumed+n]...)
			consumed += n
			if len(s.streamBuf) < total {
				break
			}
		}

		record := s.streamBuf
		s.streamBuf = nil
		if err := s.processStreamRecord(record); err != nil {
			return consumed, err
		}
	}
	return consumed, nil
}

func (s *Session) processStreamRecord(record []byte) error {
	var c *aeadCipher
	if s.instate {
		c = s.inCipher
	}
	seqno := s.replay.inseqno

	typ, payload, err := decodeStream(record, seqno, c)
	if err != nil {
		if c != nil {
			// Stream mode has no out-of-band resync: once the cipher
			// stream desynchronizes, every later record also fails.
			return s.fail(sptpserr.StageRecord, sptpserr.CryptoFailure, err)
		}
		return sptpserr.Wrap(sptpserr.StageRecord, sptpserr.ProtocolViolation, err)
	}
	if c != nil {
		if err := s.replay.check(seqno, true); err != nil {
			s.observer.ReplayDropped(replayObservabilityReason(err))
			return err
		}
	}
	return s.dispatchRecord(typ, payload)
}

func (s *Session) receiveDatagramPacket(packet []byte) error {
	var c *aeadCipher
	if s.instate {
		c = s.inCipher
	}

	seqno, typ, payload, err := decodeDatagram(packet, c)
	if err != nil {
		return sptpserr.Wrap(sptpserr.StageRecord, sptpserr.CryptoFailure, err)
	}
	if c != nil {
		if err := s.replay.check(seqno, true); err != nil {
			s.observer.ReplayDropped(replayObservabilityReason(err))
			return err
		}
	}
	return s.dispatchRecord(typ, payload)
}

// VerifyDatagram reports whether packet's sequence number is admissible and
// its AEAD tag verifies, without mutating any session state. A true result
// guarantees the next ReceiveData call with the same bytes will succeed.
func (s *Session) VerifyDatagram(packet []byte) bool {
	if s.transport != TransportDatagram || s.state == StateDead {
		return false
	}
	var c *aeadCipher
	if s.instate {
		c = s.inCipher
	}
	seqno, _, _, err := decodeDatagram(packet, c)
	if err != nil {
		return false
	}
	if c != nil {
		if err := s.replay.check(seqno, false); err != nil {
			return false
		}
	}
	return true
}

func (s *Session) dispatchRecord(typ uint8, payload []byte) error {
	if typ == RecordTypeHandshake {
		return s.handleHandshakeRecord(payload)
	}
	if !s.instate {
		return s.fail(sptpserr.StageRecord, sptpserr.ProtocolViolation, errUnknownRecordType)
	}
	s.observer.RecordReceived(typ, len(payload))
	if err := s.receiveRecord(s.handle, typ, payload); err != nil {
		return sptpserr.Wrap(sptpserr.StageRecord, sptpserr.ResourceFailure, err)
	}
	return nil
}

func replayObservabilityReason(err error) observability.ReplayReason {
	switch {
	case errors.Is(err, errReplayFarFuture):
		return observability.ReplayReasonFarFuture
	case errors.Is(err, errReplayAlreadySeen):
		return observability.ReplayReasonAlreadySeen
	default:
		return observability.ReplayReasonOutsideWindow
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
