package olyslide

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure per the taxonomy in spec §7. Callers
// switch on Kind (via KindOf) rather than matching error strings.
type ErrorKind int

const (
	// KindUnknown is never returned by this package; it is the zero value
	// guarding against an un-set Kind slipping through.
	KindUnknown ErrorKind = iota

	// KindNotFound: file or sidecar missing. Fails open.
	KindNotFound
	// KindBadMagic: header magic mismatch. Fails open.
	KindBadMagic
	// KindCorruptHeader: header invariant violated. Fails open.
	KindCorruptHeader
	// KindInconsistentPyramid: tile-directory inference failed. Fails open,
	// or fails opening a DeepZoom adapter or resolving its native tile size.
	KindInconsistentPyramid
	// KindUnsupportedCodec: unknown/unimplemented compression. Fails open
	// or fails a single tile read.
	KindUnsupportedCodec
	// KindDecodeFailed: codec returned an error. Fails the tile read only.
	KindDecodeFailed
	// KindMissingTile: no tile-directory entry for the requested key.
	// Fails the tile read only.
	KindMissingTile
	// KindIOError: underlying I/O failure. Retriable by the caller.
	KindIOError
	// KindOutOfRange: a DeepZoom coordinate fell outside derived bounds.
	KindOutOfRange
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindBadMagic:
		return "BadMagic"
	case KindCorruptHeader:
		return "CorruptHeader"
	case KindInconsistentPyramid:
		return "InconsistentPyramid"
	case KindUnsupportedCodec:
		return "UnsupportedCodec"
	case KindDecodeFailed:
		return "DecodeFailed"
	case KindMissingTile:
		return "MissingTile"
	case KindIOError:
		return "IOError"
	case KindOutOfRange:
		return "OutOfRange"
	default:
		return "Unknown"
	}
}

// Error is the error type every exported olyslide operation returns on
// failure. It carries a machine-checkable Kind alongside the human message,
// since spec §7 requires callers to pick a recovery strategy (fail-open vs.
// fail-tile-and-continue) rather than just log text.
type Error struct {
	Kind    ErrorKind
	Op      string // the operation that failed, e.g. "Open", "ReadTile"
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("olyslide: %s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("olyslide: %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newErr(op string, kind ErrorKind, msg string, cause error) *Error {
	return &Error{Op: op, Kind: kind, Message: msg, Cause: cause}
}

// KindOf returns the Kind carried by err if it is (or wraps) an *Error,
// and KindUnknown otherwise.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
