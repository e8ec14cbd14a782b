package tflog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
)

// LinkEventType marks link events whose payload references another event as
// "<eventNumber>@<streamId>".
const LinkEventType = "$>"

// EventRecord is a single stored event.
type EventRecord struct {
	StreamID    string
	EventNumber int32
	EventID     string
	EventType   string
	Data        []byte
	Metadata    []byte
	TimestampMs int64
	// LogPosition is the prepare offset of the event in the TF log. Link
	// events live only in their stream and carry the prepare offset of the
	// event they reference; checkpoint entries carry -1.
	LogPosition int64
	IsJSON      bool
}

// IsLink reports whether the record is a link event.
func (r *EventRecord) IsLink() bool { return r.EventType == LinkEventType }

// LinkTarget parses the "<eventNumber>@<streamId>" payload of a link event.
func (r *EventRecord) LinkTarget() (string, int32, error) {
	idx := strings.IndexByte(string(r.Data), '@')
	if idx <= 0 || idx == len(r.Data)-1 {
		return "", 0, fmt.Errorf("tflog: malformed link payload %q", r.Data)
	}
	n, err := strconv.ParseInt(string(r.Data[:idx]), 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("tflog: malformed link number %q: %w", r.Data[:idx], err)
	}
	return string(r.Data[idx+1:]), int32(n), nil
}

// ResolvedEvent is an EventRecord optionally accompanied by the link that
// referenced it. OriginalPosition is set on TF-log reads.
type ResolvedEvent struct {
	Event            *EventRecord
	Link             *EventRecord
	OriginalPosition TfPos
}

// PositionEvent returns the link when present, else the event. The position
// event's metadata carries the checkpoint tag for index-stream reads.
func (r ResolvedEvent) PositionEvent() *EventRecord {
	if r.Link != nil {
		return r.Link
	}
	return r.Event
}

// recordHeader is the JSON envelope persisted ahead of the payload.
type recordHeader struct {
	StreamID    string `json:"s"`
	EventNumber int32  `json:"n"`
	EventID     string `json:"id"`
	EventType   string `json:"t"`
	Metadata    []byte `json:"m,omitempty"`
	TimestampMs int64  `json:"ts"`
	LogPosition int64  `json:"p"`
	IsJSON      bool   `json:"j,omitempty"`
}

// Record encoding: varint headerLen | header | payload | crc32c(header|payload)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// EncodeRecord serializes the record for storage.
func EncodeRecord(rec *EventRecord) []byte {
	header, _ := json.Marshal(recordHeader{
		StreamID:    rec.StreamID,
		EventNumber: rec.EventNumber,
		EventID:     rec.EventID,
		EventType:   rec.EventType,
		Metadata:    rec.Metadata,
		TimestampMs: rec.TimestampMs,
		LogPosition: rec.LogPosition,
		IsJSON:      rec.IsJSON,
	})
	payload := rec.Data

	out := make([]byte, 0, 10+len(header)+len(payload)+4)
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], uint64(len(header)))
	out = append(out, tmp[:n]...)
	out = append(out, header...)
	out = append(out, payload...)

	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	out = append(out, crcb[:]...)
	return out
}

// DecodeRecord deserializes a stored record, verifying the checksum.
func DecodeRecord(b []byte) (*EventRecord, bool) {
	if len(b) < 1+4 {
		return nil, false
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, false
	}
	if int(n)+int(hlen)+4 > len(b) {
		return nil, false
	}
	header := b[n : n+int(hlen)]
	payload := b[n+int(hlen) : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != expect {
		return nil, false
	}
	var h recordHeader
	if err := json.Unmarshal(header, &h); err != nil {
		return nil, false
	}
	return &EventRecord{
		StreamID:    h.StreamID,
		EventNumber: h.EventNumber,
		EventID:     h.EventID,
		EventType:   h.EventType,
		Data:        append([]byte(nil), payload...),
		Metadata:    h.Metadata,
		TimestampMs: h.TimestampMs,
		LogPosition: h.LogPosition,
		IsJSON:      h.IsJSON,
	}, true
}
