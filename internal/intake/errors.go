package intake

import (
	"fmt"
	"strings"
)

// ValidationError rejects malformed input before any mutation happens.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// NotFoundError reports a missing session, item, card, or box.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ConflictError reports a uniqueness invariant that would be violated, e.g.
// recording a mapping that contradicts an existing one under the strict policy.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string {
	return e.Msg
}

// DuplicateImportError means the uploaded file hash matches an existing
// non-cancelled session; the import is refused to keep intake idempotent.
type DuplicateImportError struct {
	SessionID string
}

func (e *DuplicateImportError) Error() string {
	return fmt.Sprintf("file already imported in session %s", e.SessionID)
}

// UnresolvedItemsError means finalize was attempted while items still lack a
// TCGplayer mapping. Carries the offending item IDs so the caller can resolve
// them and retry.
type UnresolvedItemsError struct {
	ItemIDs []string
	Names   []string
}

func (e *UnresolvedItemsError) Error() string {
	return fmt.Sprintf("%d items still need tcgplayer_id mapping: %s",
		len(e.ItemIDs), strings.Join(e.Names, ", "))
}

// IllegalTransitionError reports a raw card state change not permitted from
// the current state.
type IllegalTransitionError struct {
	From string
	To   string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// ImmutableSessionError reports a write against a finalized or cancelled session.
type ImmutableSessionError struct {
	SessionID string
	Status    string
}

func (e *ImmutableSessionError) Error() string {
	return fmt.Sprintf("session %s is %s and cannot be modified", e.SessionID, e.Status)
}

// StorageFailure wraps a storage error that survived the bounded retry loop.
// The operation had no partial effect.
type StorageFailure struct {
	Op  string
	Err error
}

func (e *StorageFailure) Error() string {
	return fmt.Sprintf("storage failure in %s: %v", e.Op, e.Err)
}

func (e *StorageFailure) Unwrap() error {
	return e.Err
}
