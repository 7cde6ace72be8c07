// Package ordering keeps the members of a container densely ranked.
//
// A container is the ordered set of lists on a board or the ordered set of tasks in a
// list. After every structural change the member at position i has order i. Functions in
// this package never modify their inputs; they return fresh slices.
package ordering

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidIndex     = errors.New("index out of range")
	ErrUnknownContainer = errors.New("unknown container")
	ErrUnknownItem      = errors.New("unknown item")
	ErrSameContainer    = errors.New("source and destination are the same container")
)

// Rankable is implemented by records that carry an order within a container.
// Ranked returns a copy of the record with its order replaced.
type Rankable[T any] interface {
	RankKey() string
	Ranked(order int) T
}

// Movable records can additionally change the container they belong to.
type Movable[T any] interface {
	Rankable[T]
	Rehomed(containerID string) T
}

// Container is an ordered sequence of items sharing one parent.
type Container[T Rankable[T]] struct {
	ID    string
	Items []T
}

// NewContainer builds a container from items that are already in position order.
func NewContainer[T Rankable[T]](id string, items []T) Container[T] {
	return Container[T]{ID: id, Items: items}
}

func (c Container[T]) Len() int {
	return len(c.Items)
}

// IndexOf returns the position of the item with the given key, or -1.
func (c Container[T]) IndexOf(key string) int {
	for i, item := range c.Items {
		if item.RankKey() == key {
			return i
		}
	}
	return -1
}

// Renumber returns a copy of items with order set to each item's position.
func Renumber[T Rankable[T]](items []T) []T {
	out := make([]T, len(items))
	for i, item := range items {
		out[i] = item.Ranked(i)
	}
	return out
}

// Reorder moves the item at sourceIndex to destIndex within the same container.
// destIndex addresses the sequence after the item has been removed.
func Reorder[T Rankable[T]](c Container[T], sourceIndex, destIndex int) (Container[T], error) {
	n := len(c.Items)
	if sourceIndex < 0 || sourceIndex >= n {
		return c, fmt.Errorf("reorder %s: source %d of %d: %w", c.ID, sourceIndex, n, ErrInvalidIndex)
	}
	if destIndex < 0 || destIndex > n-1 {
		return c, fmt.Errorf("reorder %s: destination %d of %d: %w", c.ID, destIndex, n, ErrInvalidIndex)
	}
	if sourceIndex == destIndex {
		return c, nil
	}

	items := make([]T, 0, n)
	items = append(items, c.Items[:sourceIndex]...)
	items = append(items, c.Items[sourceIndex+1:]...)
	items = insert(items, destIndex, c.Items[sourceIndex])

	return Container[T]{ID: c.ID, Items: Renumber(items)}, nil
}

// Move transfers the item at sourceIndex of src into dst at destIndex. Both containers
// are renumbered independently and the moved item is rehomed to dst.
func Move[T Movable[T]](src, dst Container[T], sourceIndex, destIndex int) (Container[T], Container[T], error) {
	if src.ID == dst.ID {
		return src, dst, fmt.Errorf("move %s: %w", src.ID, ErrSameContainer)
	}
	if sourceIndex < 0 || sourceIndex >= len(src.Items) {
		return src, dst, fmt.Errorf("move from %s: source %d of %d: %w", src.ID, sourceIndex, len(src.Items), ErrInvalidIndex)
	}
	if destIndex < 0 || destIndex > len(dst.Items) {
		return src, dst, fmt.Errorf("move to %s: destination %d of %d: %w", dst.ID, destIndex, len(dst.Items), ErrInvalidIndex)
	}

	moved := src.Items[sourceIndex].Rehomed(dst.ID)

	remaining := make([]T, 0, len(src.Items)-1)
	remaining = append(remaining, src.Items[:sourceIndex]...)
	remaining = append(remaining, src.Items[sourceIndex+1:]...)

	grown := make([]T, 0, len(dst.Items)+1)
	grown = append(grown, dst.Items...)
	grown = insert(grown, destIndex, moved)

	return Container[T]{ID: src.ID, Items: Renumber(remaining)},
		Container[T]{ID: dst.ID, Items: Renumber(grown)},
		nil
}

// Append ranks item after the current last member. Existing ranks are untouched.
func Append[T Rankable[T]](c Container[T], item T) Container[T] {
	items := make([]T, 0, len(c.Items)+1)
	items = append(items, c.Items...)
	items = append(items, item.Ranked(len(c.Items)))
	return Container[T]{ID: c.ID, Items: items}
}

// Remove drops the item with the given key and closes the gap. An unknown key returns
// the container unchanged and false.
func Remove[T Rankable[T]](c Container[T], key string) (Container[T], bool) {
	idx := c.IndexOf(key)
	if idx < 0 {
		return c, false
	}
	items := make([]T, 0, len(c.Items)-1)
	items = append(items, c.Items[:idx]...)
	items = append(items, c.Items[idx+1:]...)
	return Container[T]{ID: c.ID, Items: Renumber(items)}, true
}

// Ordered records expose their current rank.
type Ordered[T any] interface {
	Rankable[T]
	Rank() int
}

// Dense reports whether every item's order matches its position.
func Dense[T Ordered[T]](items []T) bool {
	for i, item := range items {
		if item.Rank() != i {
			return false
		}
	}
	return true
}

func insert[T any](items []T, at int, item T) []T {
	var zero T
	items = append(items, zero)
	copy(items[at+1:], items[at:])
	items[at] = item
	return items
}
