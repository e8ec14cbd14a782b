package tflog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	pebblestore "github.com/rzbill/faro/internal/storage/pebble"
	"github.com/rzbill/faro/pkg/id"
)

// ErrNoStream is returned by stream reads when the stream has never been
// written to.
var ErrNoStream = errors.New("tflog: no such stream")

// Store provides append and read operations over the TF log and its streams.
type Store struct {
	db  *pebblestore.DB
	ids *id.Generator

	mu   sync.Mutex
	last TfPos // last assigned TF position; PosBeforeAll when the log is empty
}

// Open initializes a Store and loads the last assigned position from metadata.
func Open(db *pebblestore.DB) (*Store, error) {
	s := &Store{db: db, ids: id.NewGenerator(), last: PosBeforeAll}
	meta, err := db.Get(KeyTfMeta())
	if err == nil && len(meta) >= 16 {
		s.last = TfPos{
			Commit:  int64(binary.BigEndian.Uint64(meta[0:8])),
			Prepare: int64(binary.BigEndian.Uint64(meta[8:16])),
		}
	} else if err != nil && !errors.Is(err, pebblestore.ErrNotFound) {
		return nil, err
	}
	return s, nil
}

// LastPosition returns the last assigned TF position (PosBeforeAll when empty).
func (s *Store) LastPosition() TfPos {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Append writes one event to the TF log and its origin stream atomically.
// The store assigns commit == prepare, giving a dense total order while
// keeping the pair shape of positions.
func (s *Store) Append(ctx context.Context, stream, eventType string, data, metadata []byte, isJSON bool) (*EventRecord, TfPos, error) {
	if stream == "" {
		return nil, TfPos{}, errors.New("tflog: empty stream id")
	}
	if eventType == "" {
		return nil, TfPos{}, errors.New("tflog: empty event type")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.last.Prepare + 1
	if s.last == PosBeforeAll {
		next = 1
	}
	pos := TfPos{Commit: next, Prepare: next}

	num, err := s.lastEventNumber(stream)
	if err != nil && !errors.Is(err, ErrNoStream) {
		return nil, TfPos{}, err
	}
	eventNumber := int32(0)
	if err == nil {
		eventNumber = num + 1
	}

	rec := &EventRecord{
		StreamID:    stream,
		EventNumber: eventNumber,
		EventID:     s.ids.Next().String(),
		EventType:   eventType,
		Data:        data,
		Metadata:    metadata,
		TimestampMs: time.Now().UnixMilli(),
		LogPosition: pos.Prepare,
		IsJSON:      isJSON,
	}
	val := EncodeRecord(rec)

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(KeyTfEntry(pos), val, nil); err != nil {
		return nil, TfPos{}, err
	}
	if err := b.Set(KeyStreamEntry(stream, eventNumber), val, nil); err != nil {
		return nil, TfPos{}, err
	}
	var numBuf [4]byte
	binary.BigEndian.PutUint32(numBuf[:], uint32(eventNumber))
	if err := b.Set(KeyStreamMeta(stream), numBuf[:], nil); err != nil {
		return nil, TfPos{}, err
	}
	var meta [16]byte
	binary.BigEndian.PutUint64(meta[0:8], uint64(pos.Commit))
	binary.BigEndian.PutUint64(meta[8:16], uint64(pos.Prepare))
	if err := b.Set(KeyTfMeta(), meta[:], nil); err != nil {
		return nil, TfPos{}, err
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return nil, TfPos{}, err
	}
	s.last = pos
	return rec, pos, nil
}

// appendStreamOnly writes a record to a stream without a TF entry. Used for
// link events (logPosition points at the original) and checkpoint entries
// (logPosition -1), which exist only in their stream.
func (s *Store) appendStreamOnly(ctx context.Context, stream, eventType string, data, metadata []byte, logPosition int64) (*EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	num, err := s.lastEventNumber(stream)
	if err != nil && !errors.Is(err, ErrNoStream) {
		return nil, err
	}
	eventNumber := int32(0)
	if err == nil {
		eventNumber = num + 1
	}

	rec := &EventRecord{
		StreamID:    stream,
		EventNumber: eventNumber,
		EventID:     s.ids.Next().String(),
		EventType:   eventType,
		Data:        data,
		Metadata:    metadata,
		TimestampMs: time.Now().UnixMilli(),
		LogPosition: logPosition,
	}
	val := EncodeRecord(rec)

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(KeyStreamEntry(stream, eventNumber), val, nil); err != nil {
		return nil, err
	}
	var numBuf [4]byte
	binary.BigEndian.PutUint32(numBuf[:], uint32(eventNumber))
	if err := b.Set(KeyStreamMeta(stream), numBuf[:], nil); err != nil {
		return nil, err
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return nil, err
	}
	return rec, nil
}

// lastEventNumber loads the stream's last event number. Callers hold s.mu.
func (s *Store) lastEventNumber(stream string) (int32, error) {
	meta, err := s.db.Get(KeyStreamMeta(stream))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return 0, ErrNoStream
		}
		return 0, err
	}
	if len(meta) < 4 {
		return 0, fmt.Errorf("tflog: corrupt stream meta for %q", stream)
	}
	return int32(binary.BigEndian.Uint32(meta[:4])), nil
}
