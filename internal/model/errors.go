package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for the operation surface. Callers match with errors.Is;
// HTTP handlers map them to status codes via Kind.
var (
	// Conflicts.
	ErrDomainConflict   = errors.New("domain already registered")
	ErrAlreadyStaged    = errors.New("a staging site already exists for this domain")
	ErrServerInUse      = errors.New("server is still referenced by one or more sites")
	ErrServerConflict   = errors.New("server id already registered")
	ErrResourceConflict = errors.New("required port or volume is already claimed by another site")

	// Not found.
	ErrUnknownDomain = errors.New("unknown domain")
	ErrUnknownServer = errors.New("unknown server")
	ErrUnknownBackup = errors.New("unknown backup")

	// Validation.
	ErrInvalidDomain         = errors.New("malformed domain name")
	ErrUnsupportedPHPVersion = errors.New("unsupported php version")
	ErrInvalidSSLMode        = errors.New("invalid ssl mode")
	ErrNotStaging            = errors.New("site has no staging link")
	ErrIncompatibleBackup    = errors.New("backup version markers do not match the live stack")
	ErrConfirmationRequired  = errors.New("deletion requires a confirmation token")

	// External.
	ErrServerUnreachable = errors.New("server is unreachable")
)

// StateError reports an operation that halted mid-sequence and left the site
// degraded with the failing stage recorded. It is retryable via Rebuild.
type StateError struct {
	Domain string
	Stage  string
	Err    error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("site %s degraded at stage %q: %v", e.Domain, e.Stage, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

// ErrorKind buckets errors for propagation policy and HTTP mapping.
type ErrorKind int

const (
	KindExternal ErrorKind = iota // remote command failure, unreachable host
	KindConflict
	KindNotFound
	KindValidation
	KindState
)

// Kind classifies an error into the taxonomy. Unknown errors are treated as
// external failures, which are reported as retryable.
func Kind(err error) ErrorKind {
	var se *StateError
	switch {
	case errors.As(err, &se):
		return KindState
	case errors.Is(err, ErrDomainConflict),
		errors.Is(err, ErrAlreadyStaged),
		errors.Is(err, ErrServerInUse),
		errors.Is(err, ErrServerConflict),
		errors.Is(err, ErrResourceConflict):
		return KindConflict
	case errors.Is(err, ErrUnknownDomain),
		errors.Is(err, ErrUnknownServer),
		errors.Is(err, ErrUnknownBackup):
		return KindNotFound
	case errors.Is(err, ErrInvalidDomain),
		errors.Is(err, ErrUnsupportedPHPVersion),
		errors.Is(err, ErrInvalidSSLMode),
		errors.Is(err, ErrNotStaging),
		errors.Is(err, ErrIncompatibleBackup),
		errors.Is(err, ErrConfirmationRequired):
		return KindValidation
	default:
		return KindExternal
	}
}
