package hypervisor

import (
	"errors"
	"fmt"

	"github.com/digitalocean/go-libvirt"
)

// Kind classifies a failure of a façade operation.
type Kind int

const (
	// KindUnknown is reported for errors that did not come from this package.
	KindUnknown Kind = iota
	// KindConnect means the backend endpoint was unreachable or rejected us.
	KindConnect
	// KindLookup means a named domain, pool, volume, network or interface
	// does not exist.
	KindLookup
	// KindTransition means a state-changing backend call failed.
	KindTransition
	// KindSerialization means a DTO or XML description could not be projected.
	KindSerialization
	// KindDisconnect means releasing the connection failed. It is only ever
	// logged, never returned from an operation.
	KindDisconnect
	// KindTimeout means a backend call or the wait for a connection slot
	// exceeded its deadline.
	KindTimeout
	// KindBackend is any other backend failure, e.g. a failed enumeration.
	KindBackend
	// KindInvalid means the caller supplied malformed input.
	KindInvalid
)

var kindNames = map[Kind]string{
	KindUnknown:       "unknown",
	KindConnect:       "connect",
	KindLookup:        "lookup",
	KindTransition:    "transition",
	KindSerialization: "serialization",
	KindDisconnect:    "disconnect",
	KindTimeout:       "timeout",
	KindBackend:       "backend",
	KindInvalid:       "invalid",
}

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the typed error returned by every façade operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failure", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind
	}
	return KindUnknown
}

// Wrap attaches kind and op to err. An err that already carries a Kind keeps
// it, so a timeout deep inside an operation is still reported as a timeout.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var he *Error
	if errors.As(err, &he) {
		return &Error{Kind: he.Kind, Op: op, Err: err}
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Classify wraps err like Wrap but first recognises libvirt's "no such
// object" codes, which always map to KindLookup.
func Classify(fallback Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) == KindUnknown && IsNotFound(err) {
		return &Error{Kind: KindLookup, Op: op, Err: err}
	}
	return Wrap(fallback, op, err)
}

// Errorf builds an *Error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func timeoutError(op string, err error) error {
	return &Error{Kind: KindTimeout, Op: op, Err: fmt.Errorf("backend call timed out: %w", err)}
}

// libvirtCode extracts the libvirt error number from err, if any.
func libvirtCode(err error) (libvirt.ErrorNumber, bool) {
	var lv libvirt.Error
	if errors.As(err, &lv) {
		return libvirt.ErrorNumber(lv.Code), true
	}
	var lvp *libvirt.Error
	if errors.As(err, &lvp) && lvp != nil {
		return libvirt.ErrorNumber(lvp.Code), true
	}
	return 0, false
}

// IsNotFound reports whether err is a libvirt "no such object" error for any
// of the entity kinds this service exposes.
func IsNotFound(err error) bool {
	code, ok := libvirtCode(err)
	if !ok {
		return false
	}
	switch code {
	case libvirt.ErrNoDomain,
		libvirt.ErrNoStoragePool,
		libvirt.ErrNoStorageVol,
		libvirt.ErrNoNetwork,
		libvirt.ErrNoInterface:
		return true
	}
	return false
}

// IsInvalidState reports whether err is libvirt's "operation invalid" error,
// returned when a domain is already in (or cannot leave) the requested state.
func IsInvalidState(err error) bool {
	code, ok := libvirtCode(err)
	return ok && code == libvirt.ErrOperationInvalid
}
