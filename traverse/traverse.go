// Package traverse provides breadth-first filesystem traversal with a
// bounded budget of open directory handles.
//
// This package is the public surface over the internal traversal engine.
// The engine visits shallow entries before deep ones by default, reopens
// evicted directory handles through their nearest open ancestor, memoizes
// stat results per entry, and reports per-entry failures through the visit
// callback instead of aborting the walk.
package traverse

import (
	"context"

	internal "github.com/openwalk/bfind/internal/traverse"
)

// Re-export the types from the internal package
type (
	// Visit is a read-only view of one delivered entry.
	Visit = internal.Visit

	// VisitFunc is invoked synchronously once per delivered entry.
	VisitFunc = internal.VisitFunc

	// Action tells the traversal what to do after a delivery.
	Action = internal.Action

	// Options configures a traversal.
	Options = internal.Options

	// Order selects the visit order.
	Order = internal.Order

	// Stats holds counters updated during the walk.
	Stats = internal.Stats

	// Status is the metadata snapshot of one entry.
	Status = internal.Status

	// Type classifies an entry the way find's -type letters do.
	Type = internal.Type

	// Error is the typed error delivered for per-entry failures.
	Error = internal.Error

	// ErrorKind discriminates the failure classes of Error.
	ErrorKind = internal.ErrorKind
)

// Re-export the constants
const (
	// Visit orders
	OrderBFS       = internal.OrderBFS
	OrderDFS       = internal.OrderDFS
	OrderPostOrder = internal.OrderPostOrder

	// Callback actions
	Continue = internal.Continue
	Prune    = internal.Prune
	Stop     = internal.Stop

	// Entry types
	TypeUnknown  = internal.TypeUnknown
	TypeRegular  = internal.TypeRegular
	TypeDir      = internal.TypeDir
	TypeSymlink  = internal.TypeSymlink
	TypeBlockDev = internal.TypeBlockDev
	TypeCharDev  = internal.TypeCharDev
	TypeFIFO     = internal.TypeFIFO
	TypeSocket   = internal.TypeSocket

	// Error kinds
	KindHandleExhausted = internal.KindHandleExhausted
	KindRootUnreachable = internal.KindRootUnreachable
	KindEnumeration     = internal.KindEnumeration
	KindStatus          = internal.KindStatus
	KindVanished        = internal.KindVanished
	KindSymlinkLoop     = internal.KindSymlinkLoop
)

// Walk traverses the tree rooted at root in breadth-first order with
// default options, calling fn for each entry.
func Walk(root string, fn VisitFunc) error {
	return internal.Walk(root, fn)
}

// WalkWithOptions traverses each root in turn with full configuration.
// The context cancels the traversal between deliveries.
func WalkWithOptions(ctx context.Context, roots []string, opts Options, fn VisitFunc) error {
	return internal.WalkWithOptions(ctx, roots, opts, fn)
}
