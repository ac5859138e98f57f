package types

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a status change is not allowed by
// the transition table of the entity.
var ErrInvalidTransition = errors.New("invalid status transition")

// FileStatus is the write status of a page (FileRecord).
type FileStatus string

// File status values.
const (
	// FileEmpty means the page name is allocated but nothing was uploaded yet.
	FileEmpty FileStatus = "empty"
	// FileWritten means the blob holds every item the metadata store assigns to it.
	FileWritten FileStatus = "written"
	// FileDirty means an owned item changed after the page was last flushed.
	FileDirty FileStatus = "dirty"
	// FileMalformed means the blob could not be parsed back. Terminal.
	FileMalformed FileStatus = "malformed"
)

// Valid reports whether s is a known file status.
func (s FileStatus) Valid() bool {
	switch s {
	case FileEmpty, FileWritten, FileDirty, FileMalformed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s FileStatus) Terminal() bool {
	return s == FileMalformed
}

// CanTransition reports whether s may move to next.
func (s FileStatus) CanTransition(next FileStatus) bool {
	switch s {
	case FileEmpty:
		return next == FileEmpty || next == FileWritten || next == FileMalformed
	case FileWritten:
		return next == FileWritten || next == FileDirty || next == FileMalformed
	case FileDirty:
		return next == FileDirty || next == FileWritten || next == FileMalformed
	case FileMalformed:
		return next == FileMalformed
	default:
		return false
	}
}

// ItemStatus is the desired state of an item relative to its page.
type ItemStatus string

// Item status values.
const (
	// ItemWritten means the item is present in its page with current content.
	ItemWritten ItemStatus = "written"
	// ItemToWrite means the item content changed and must be re-emitted.
	ItemToWrite ItemStatus = "towrite"
	// ItemToRemove means the item must no longer appear in its page.
	ItemToRemove ItemStatus = "toremove"
	// ItemRemoved means the item was removed from its page.
	ItemRemoved ItemStatus = "removed"
)

// Valid reports whether s is a known item status.
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemWritten, ItemToWrite, ItemToRemove, ItemRemoved:
		return true
	}
	return false
}

// Visible reports whether an item in this status belongs in a rewritten page.
func (s ItemStatus) Visible() bool {
	return s == ItemWritten || s == ItemToWrite
}

// CanTransition reports whether s may move to next.
func (s ItemStatus) CanTransition(next ItemStatus) bool {
	switch s {
	case ItemWritten:
		return next == ItemWritten || next == ItemToWrite || next == ItemToRemove
	case ItemToWrite:
		return next == ItemToWrite || next == ItemWritten || next == ItemToRemove
	case ItemToRemove:
		return next == ItemToRemove || next == ItemRemoved
	case ItemRemoved:
		// A removed item may come back through a later upsert or a repair.
		return next == ItemRemoved || next == ItemToWrite || next == ItemWritten
	default:
		return false
	}
}

func transitionError(entity, from, to string) error {
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, entity, from, to)
}
