// Package buffer provides a generic, thread-safe circular buffer with
// configurable overflow policies.
//
// The ingestion/presentation boundary is one-directional and possibly
// lossy: when a consumer falls behind, old items are dropped in favor of
// new ones. DropOldest is therefore the default policy: display
// freshness is prioritized over completeness. Statistics are always
// collected; Prometheus export is optional via WithMetrics().
package buffer

// Buffer is a generic bounded buffer. All implementations are safe for
// concurrent use.
type Buffer[T any] interface {
	// Write adds an item to the buffer. Behavior when full depends on
	// the overflow policy.
	Write(item T) error

	// Read retrieves and removes one item from the buffer.
	// Returns the zero value and false if the buffer is empty.
	Read() (T, bool)

	// ReadBatch retrieves and removes up to max items from the buffer.
	ReadBatch(max int) []T

	// Peek retrieves one item without removing it.
	Peek() (T, bool)

	// Size returns the current number of items in the buffer.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// IsEmpty returns true if the buffer contains no items.
	IsEmpty() bool

	// Clear removes all items from the buffer.
	Clear()

	// Stats returns buffer statistics (always available).
	Stats() *Statistics

	// Close shuts down the buffer. Writes after Close fail.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item dropped due to the overflow policy.
type DropCallback[T any] func(item T)

// NewCircular creates a new circular buffer with the specified capacity.
// Returns an error if metrics registration fails when metrics are requested.
func NewCircular[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
