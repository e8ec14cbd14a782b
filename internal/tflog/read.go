package tflog

import (
	"github.com/cockroachdb/pebble"
)

// StreamSlice is the result of a stream read.
type StreamSlice struct {
	Events []ResolvedEvent
	// NextEventNumber is the number the next forward read should start from
	// (for backward reads, the number the next backward read should start from).
	NextEventNumber int32
	// LastEventNumber is the stream's last event number at read time.
	LastEventNumber int32
	IsEndOfStream   bool
}

// AllSlice is the result of a TF-log read.
type AllSlice struct {
	Events []ResolvedEvent
	// NextPos is where the next forward read should start. When no events
	// were returned it is the requested position, with negative offsets
	// clamped to 0.
	NextPos TfPos
	// TfEofPosition is the commit offset of the last event in the log.
	TfEofPosition int64
}

// ReadStreamForward returns up to max events from stream starting at
// from (inclusive). Returns ErrNoStream when the stream was never written.
func (s *Store) ReadStreamForward(stream string, from int32, max int, resolveLinks bool) (StreamSlice, error) {
	s.mu.Lock()
	lastNum, err := s.lastEventNumber(stream)
	s.mu.Unlock()
	if err != nil {
		return StreamSlice{}, err
	}
	if from < 0 {
		from = 0
	}

	low := KeyStreamEntry(stream, from)
	hi := KeyStreamEntry(stream, int32(^uint32(0)>>1)) // max int32
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return StreamSlice{}, err
	}
	defer iter.Close()

	out := StreamSlice{LastEventNumber: lastNum}
	for ok := iter.First(); ok && len(out.Events) < max; ok = iter.Next() {
		rec, valid := DecodeRecord(iter.Value())
		if !valid {
			continue
		}
		out.Events = append(out.Events, s.resolve(rec, resolveLinks))
	}
	if n := len(out.Events); n > 0 {
		out.NextEventNumber = out.Events[n-1].PositionEvent().EventNumber + 1
	} else {
		out.NextEventNumber = from
	}
	out.IsEndOfStream = out.NextEventNumber > lastNum
	return out, nil
}

// ReadStreamBackward returns up to max events from stream ending at from
// (inclusive), newest first. from == -1 starts at the stream's end.
func (s *Store) ReadStreamBackward(stream string, from int32, max int, resolveLinks bool) (StreamSlice, error) {
	s.mu.Lock()
	lastNum, err := s.lastEventNumber(stream)
	s.mu.Unlock()
	if err != nil {
		return StreamSlice{}, err
	}
	if from < 0 || from > lastNum {
		from = lastNum
	}

	out := StreamSlice{LastEventNumber: lastNum}
	for num := from; num >= 0 && len(out.Events) < max; num-- {
		val, err := s.db.Get(KeyStreamEntry(stream, num))
		if err != nil {
			break
		}
		rec, valid := DecodeRecord(val)
		if !valid {
			continue
		}
		out.Events = append(out.Events, s.resolve(rec, resolveLinks))
	}
	if n := len(out.Events); n > 0 {
		out.NextEventNumber = out.Events[n-1].PositionEvent().EventNumber - 1
	} else {
		out.NextEventNumber = from
	}
	out.IsEndOfStream = out.NextEventNumber < 0
	return out, nil
}

// ReadAllForward returns up to max TF-log events starting at pos (inclusive).
// Negative offsets in pos are clamped to 0 so the before-any-event sentinel
// reads from the log's start.
func (s *Store) ReadAllForward(pos TfPos, max int) (AllSlice, error) {
	if pos.Commit < 0 {
		pos.Commit = 0
	}
	if pos.Prepare < 0 {
		pos.Prepare = 0
	}

	s.mu.Lock()
	last := s.last
	s.mu.Unlock()

	out := AllSlice{NextPos: pos}
	if last != PosBeforeAll {
		out.TfEofPosition = last.Commit
	}

	low := KeyTfEntry(pos)
	hi := KeyTfEntry(TfPos{Commit: int64(^uint64(0) >> 1), Prepare: int64(^uint64(0) >> 1)})
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return out, err
	}
	defer iter.Close()

	for ok := iter.First(); ok && len(out.Events) < max; ok = iter.Next() {
		rec, valid := DecodeRecord(iter.Value())
		if !valid {
			continue
		}
		at := PosFromTfEntryKey(iter.Key())
		out.Events = append(out.Events, ResolvedEvent{Event: rec, OriginalPosition: at})
	}
	if n := len(out.Events); n > 0 {
		lastRead := out.Events[n-1].OriginalPosition
		out.NextPos = TfPos{Commit: lastRead.Commit, Prepare: lastRead.Prepare + 1}
	}
	return out, nil
}

// resolve follows a link event to its original when requested. An unresolvable
// link is returned with a nil Event and the link preserved.
func (s *Store) resolve(rec *EventRecord, resolveLinks bool) ResolvedEvent {
	if !resolveLinks || !rec.IsLink() {
		return ResolvedEvent{Event: rec}
	}
	target, num, err := rec.LinkTarget()
	if err != nil {
		return ResolvedEvent{Link: rec}
	}
	val, err := s.db.Get(KeyStreamEntry(target, num))
	if err != nil {
		return ResolvedEvent{Link: rec}
	}
	orig, valid := DecodeRecord(val)
	if !valid {
		return ResolvedEvent{Link: rec}
	}
	return ResolvedEvent{Event: orig, Link: rec}
}
