package traverse

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrorKind classifies a traversal failure.
type ErrorKind int

const (
	// KindHandleExhausted means the directory handle budget could not be
	// satisfied even after evicting idle handles.
	KindHandleExhausted ErrorKind = iota
	// KindRootUnreachable means a traversal root could not be opened.
	// This is the only fatal kind.
	KindRootUnreachable
	// KindEnumeration means a directory could not be opened or listed.
	KindEnumeration
	// KindStatus means a status fetch failed for an existing entry.
	KindStatus
	// KindVanished means the entry disappeared between discovery and use.
	KindVanished
	// KindSymlinkLoop means a symlink cycle was detected on the current
	// descent chain.
	KindSymlinkLoop
)

// String returns a human-readable name for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindHandleExhausted:
		return "handle budget exhausted"
	case KindRootUnreachable:
		return "root unreachable"
	case KindEnumeration:
		return "enumeration failed"
	case KindStatus:
		return "status fetch failed"
	case KindVanished:
		return "entry vanished"
	case KindSymlinkLoop:
		return "symlink loop detected"
	default:
		return "unknown error"
	}
}

// Error is the typed, entry-scoped error delivered to visitors. It carries
// the entry's best-known path and the underlying cause.
type Error struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, path string, cause error) *Error {
	return &Error{Kind: kind, Path: path, Err: cause}
}

// isVanished reports whether an underlying system error indicates the entry
// disappeared between discovery and use.
func isVanished(err error) bool {
	return errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ENOTDIR)
}

// wrapEntryErr types a status or readlink failure for n. Errors already
// typed, such as budget exhaustion from a handle reacquire, pass through
// untouched.
func wrapEntryErr(n *node, err error) error {
	var terr *Error
	if errors.As(err, &terr) {
		return err
	}
	if isVanished(err) {
		return newError(KindVanished, n.path, err)
	}
	return newError(KindStatus, n.path, err)
}
