package book

import (
	"github.com/quantcore/tradengine/internal/xerrors"
)

// RawDelta is the generic shape of an exchange delta message before its
// levels are applied to a book.
type RawDelta struct {
	FirstUpdateID   uint64
	LastUpdateID    uint64
	PrevLastUpdateID uint64
	HasPrevID       bool
	IsSnapshot      bool
	Bids            []Delta
	Asks            []Delta
}

// SequenceValidator captures the per-exchange rules for accepting a delta
// onto a book. Exchanges differ in the shape of identifiers on a delta and
// the exact boundary of the first-update check, so this is modelled as an
// interface with one implementation per family rather than a single
// inheritance hierarchy.
type SequenceValidator interface {
	// FirstUpdate checks the first delta accepted after initialisation.
	// It returns (accept=false, err=nil) for a delta that arrived before
	// the snapshot and should be silently dropped.
	FirstUpdate(snapshotLastUpdateID uint64, delta RawDelta) (accept bool, err error)
	// Continuity checks a delta against the previously accepted one.
	Continuity(priorLastUpdateID uint64, delta RawDelta) error
}

// NextExpectedValidator is the "last_update_id + 1" first-update boundary
// rule, paired with the contiguous continuity style.
type NextExpectedValidator struct{}

func (NextExpectedValidator) FirstUpdate(snapshotLastUpdateID uint64, delta RawDelta) (bool, error) {
	return firstUpdate(snapshotLastUpdateID+1, delta)
}

func (NextExpectedValidator) Continuity(priorLastUpdateID uint64, delta RawDelta) error {
	return contiguousContinuity(priorLastUpdateID, delta)
}

// SameAsSnapshotValidator is the "last_update_id" (not +1) first-update boundary
// rule, paired with the previous-update-id continuity style.
type SameAsSnapshotValidator struct{}

func (SameAsSnapshotValidator) FirstUpdate(snapshotLastUpdateID uint64, delta RawDelta) (bool, error) {
	return firstUpdate(snapshotLastUpdateID, delta)
}

func (SameAsSnapshotValidator) Continuity(priorLastUpdateID uint64, delta RawDelta) error {
	return prevIDContinuity(priorLastUpdateID, delta)
}

func firstUpdate(expected uint64, delta RawDelta) (bool, error) {
	if delta.LastUpdateID < expected {
		// Entirely older than the snapshot: drop silently.
		return false, nil
	}
	if delta.FirstUpdateID > expected {
		return false, xerrors.Newf(xerrors.CodeInvalidSequence,
			"first update %d does not cover expected %d (last %d)",
			delta.FirstUpdateID, expected, delta.LastUpdateID).
			WithField("prev", expected).WithField("first", delta.FirstUpdateID)
	}
	return true, nil
}

func prevIDContinuity(priorLastUpdateID uint64, delta RawDelta) error {
	if !delta.HasPrevID || delta.PrevLastUpdateID != priorLastUpdateID {
		return xerrors.Newf(xerrors.CodeInvalidSequence,
			"prev_last_update_id mismatch: want %d", priorLastUpdateID).
			WithField("prev", priorLastUpdateID).WithField("first", delta.FirstUpdateID)
	}
	return nil
}

func contiguousContinuity(priorLastUpdateID uint64, delta RawDelta) error {
	if delta.FirstUpdateID != priorLastUpdateID+1 {
		return xerrors.Newf(xerrors.CodeInvalidSequence,
			"first_update_id %d is not contiguous with prior last_update_id %d",
			delta.FirstUpdateID, priorLastUpdateID).
			WithField("prev", priorLastUpdateID).WithField("first", delta.FirstUpdateID)
	}
	return nil
}
