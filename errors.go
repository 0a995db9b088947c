package sptps

import "errors"

var (
	errNoCommonSuite     = errors.New("sptps: no common cipher suite")
	errUnknownVersion    = errors.New("sptps: unknown handshake version")
	errUnexpectedState   = errors.New("sptps: unexpected handshake state")
	errUnknownRecordType = errors.New("sptps: unknown record type")
	errShortRecord       = errors.New("sptps: record too short")
	errBadRecordLength   = errors.New("sptps: record length mismatch")
	errSignatureInvalid  = errors.New("sptps: signature verification failed")
	errAEADOpenFailed    = errors.New("sptps: AEAD verification failed")
	errNotEstablished    = errors.New("sptps: send_record before outbound handshake completion")
	errApplicationType   = errors.New("sptps: record type is not an application type")
	errForceKexState     = errors.New("sptps: force_kex called outside SECONDARY_KEX")
	errSessionDead       = errors.New("sptps: session is dead after a fatal error")
	errSessionStopped    = errors.New("sptps: session already stopped")

	errReplayFarFuture     = errors.New("sptps: sequence number far in the future, not yet resynced")
	errReplayOutsideWindow = errors.New("sptps: sequence number outside replay window")
	errReplayAlreadySeen   = errors.New("sptps: sequence number already observed")
)
