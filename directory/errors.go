package directory

import "fmt"

// ErrCode represents the collection of errors the directory layer's public
// API may return (§7).
type ErrCode int

const (
	// InternalErr indicates an unknown, internal error has occurred.
	InternalErr ErrCode = iota

	// NotFoundErr indicates the directory at the given path does not exist.
	NotFoundErr

	// AlreadyExistsErr indicates Create was called on an existing path, or
	// Move's destination is occupied.
	AlreadyExistsErr

	// LayerMismatchErr indicates a caller-supplied layer id did not match
	// the one recorded on disk.
	LayerMismatchErr

	// InvalidPathErr indicates a path was empty, relative where an absolute
	// path was required, or outside the current Directory Layer.
	InvalidPathErr

	// RootNotModifiableErr indicates an operation targeted the root path.
	RootNotModifiableErr

	// PrefixCollisionErr indicates a caller-supplied prefix overlaps an
	// existing allocated prefix.
	PrefixCollisionErr

	// IncompatibleLayerVersionErr indicates the partition's on-disk
	// major/minor version exceeds what this library can read or write.
	IncompatibleLayerVersionErr

	// CacheMisuseErr indicates a cache mode transition violated the
	// transaction state machine, or a cached subspace was used after its
	// transaction ended.
	CacheMisuseErr
)

// Error is the error type returned by the directory layer's public API.
type Error struct {
	Code    ErrCode
	Message string
	Path    string // formatted path the error concerns, if any
}

func (err *Error) Error() string {
	if err.Path != "" {
		return fmt.Sprintf("directory error (code: %d) at %q: %v", err.Code, err.Path, err.Message)
	}
	return fmt.Sprintf("directory error (code: %d): %v", err.Code, err.Message)
}

// IsNotFound returns true if err is a NotFoundErr.
func IsNotFound(err error) bool { return hasCode(err, NotFoundErr) }

// IsAlreadyExists returns true if err is an AlreadyExistsErr.
func IsAlreadyExists(err error) bool { return hasCode(err, AlreadyExistsErr) }

// IsLayerMismatch returns true if err is a LayerMismatchErr.
func IsLayerMismatch(err error) bool { return hasCode(err, LayerMismatchErr) }

// IsInvalidPath returns true if err is an InvalidPathErr.
func IsInvalidPath(err error) bool { return hasCode(err, InvalidPathErr) }

// IsRootNotModifiable returns true if err is a RootNotModifiableErr.
func IsRootNotModifiable(err error) bool { return hasCode(err, RootNotModifiableErr) }

// IsPrefixCollision returns true if err is a PrefixCollisionErr.
func IsPrefixCollision(err error) bool { return hasCode(err, PrefixCollisionErr) }

// IsIncompatibleLayerVersion returns true if err is an
// IncompatibleLayerVersionErr.
func IsIncompatibleLayerVersion(err error) bool { return hasCode(err, IncompatibleLayerVersionErr) }

// IsCacheMisuse returns true if err is a CacheMisuseErr.
func IsCacheMisuse(err error) bool { return hasCode(err, CacheMisuseErr) }

func hasCode(err error, code ErrCode) bool {
	if e, ok := err.(*Error); ok {
		return e.Code == code
	}
	return false
}

// errCodeName renders code as the short name metrics labels use.
func errCodeName(code ErrCode) string {
	switch code {
	case NotFoundErr:
		return "not_found"
	case AlreadyExistsErr:
		return "already_exists"
	case LayerMismatchErr:
		return "layer_mismatch"
	case InvalidPathErr:
		return "invalid_path"
	case RootNotModifiableErr:
		return "root_not_modifiable"
	case PrefixCollisionErr:
		return "prefix_collision"
	case IncompatibleLayerVersionErr:
		return "incompatible_layer_version"
	case CacheMisuseErr:
		return "cache_misuse"
	default:
		return "internal"
	}
}

func notFoundError(path string) *Error {
	return &Error{Code: NotFoundErr, Message: "directory does not exist", Path: path}
}

func alreadyExistsError(path string) *Error {
	return &Error{Code: AlreadyExistsErr, Message: "directory already exists", Path: path}
}

func layerMismatchError(path, wanted, got string) *Error {
	return &Error{Code: LayerMismatchErr, Message: fmt.Sprintf("wanted layer %q, got %q", wanted, got), Path: path}
}

func invalidPathError(path, reason string) *Error {
	return &Error{Code: InvalidPathErr, Message: reason, Path: path}
}

func rootNotModifiableError() *Error {
	return &Error{Code: RootNotModifiableErr, Message: "the root directory cannot be opened, moved, renamed, or removed"}
}

func prefixCollisionError(path string) *Error {
	return &Error{Code: PrefixCollisionErr, Message: "supplied prefix overlaps an existing allocated prefix", Path: path}
}

func incompatibleLayerVersionError(major, minor, patch uint32) *Error {
	return &Error{Code: IncompatibleLayerVersionErr, Message: fmt.Sprintf("partition on-disk version %d.%d.%d exceeds library capability", major, minor, patch)}
}

func cacheMisuseError(reason string) *Error {
	return &Error{Code: CacheMisuseErr, Message: reason}
}
