package common

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers (HTTP handlers, metrics, logs) can
// react without string-matching error text.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidPacket
	KindReplayDetected
	KindHMACFailed
	KindRoutingDecryptFailed
	KindPayloadDecryptFailed
	KindPacketExpired
	KindDuplicate
	KindExpired
	KindQuotaExceeded
	KindInsufficientReplicas
	KindRateLimited
	KindUpstreamTimeout
	KindUpstreamUnavailable
	KindProofOfWorkInvalid
)

func (k Kind) String() string {
	switch k {
	case KindInvalidPacket:
		return "invalid_packet"
	case KindReplayDetected:
		return "replay_detected"
	case KindHMACFailed:
		return "hmac_failed"
	case KindRoutingDecryptFailed:
		return "routing_decrypt_failed"
	case KindPayloadDecryptFailed:
		return "payload_decrypt_failed"
	case KindPacketExpired:
		return "packet_expired"
	case KindDuplicate:
		return "duplicate"
	case KindExpired:
		return "expired"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindInsufficientReplicas:
		return "insufficient_replicas"
	case KindRateLimited:
		return "rate_limited"
	case KindUpstreamTimeout:
		return "upstream_timeout"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindProofOfWorkInvalid:
		return "proof_of_work_invalid"
	default:
		return "internal"
	}
}

// Status returns the HTTP status code a dispatcher should surface for this
// kind. Several onion-router kinds collapse to invalid_packet externally;
// the caller passing a router-internal kind to a handler is a caller bug,
// but Status still returns a sane default rather than panicking.
func (k Kind) Status() int {
	switch k {
	case KindInvalidPacket, KindHMACFailed, KindRoutingDecryptFailed,
		KindPayloadDecryptFailed, KindPacketExpired, KindProofOfWorkInvalid:
		return 400
	case KindReplayDetected, KindDuplicate:
		return 409
	case KindExpired:
		return 410
	case KindQuotaExceeded:
		return 507
	case KindInsufficientReplicas, KindUpstreamUnavailable:
		return 503
	case KindRateLimited:
		return 429
	case KindUpstreamTimeout:
		return 504
	default:
		return 500
	}
}

// Error wraps an underlying cause with a Kind the dispatcher layer can
// switch on. It implements errors.Unwrap so errors.Is/As still work across
// package boundaries.
type Error struct {
	Kind Kind
	Op   string // package/function that produced the error, e.g. "onion.ProcessPacket"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error, the normal constructor for package-internal
// failures that need to carry a Kind through to the dispatcher.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, otherwise KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
