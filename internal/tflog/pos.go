package tflog

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TfPos is a (commit, prepare) pair of offsets in the transaction log,
// totally ordered lexicographically by (commit, prepare).
type TfPos struct {
	Commit  int64
	Prepare int64
}

// PosBeforeAll sorts before any position the log ever assigns.
var PosBeforeAll = TfPos{Commit: 0, Prepare: -10}

// Compare returns -1, 0, 1 ordering by (commit, prepare).
func (p TfPos) Compare(o TfPos) int {
	if p.Commit != o.Commit {
		if p.Commit < o.Commit {
			return -1
		}
		return 1
	}
	if p.Prepare != o.Prepare {
		if p.Prepare < o.Prepare {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports p < o.
func (p TfPos) Less(o TfPos) bool { return p.Compare(o) < 0 }

// String renders the position as "C/P".
func (p TfPos) String() string { return fmt.Sprintf("%d/%d", p.Commit, p.Prepare) }

// CheckpointTag is the JSON envelope carried in link metadata and in "$et"
// entries. Only Position is required by the reader; Streams records per-stream
// sequence numbers for diagnostics.
type CheckpointTag struct {
	Version  string           `json:"$v,omitempty"`
	Streams  map[string]int32 `json:"$s,omitempty"`
	Position *TagPosition     `json:"$p,omitempty"`
}

// TagPosition is the "$p" member of a checkpoint tag.
type TagPosition struct {
	Commit  int64 `json:"commit"`
	Prepare int64 `json:"prepare"`
}

// TagVersion identifies the tag layout written by this store.
const TagVersion = "faro:1"

// ErrNoTagPosition is returned when a tag decodes but carries no "$p" member.
var ErrNoTagPosition = errors.New("tflog: checkpoint tag has no position")

// EncodeTag builds checkpoint-tag JSON for the given position and optional
// per-stream sequence numbers.
func EncodeTag(pos TfPos, streams map[string]int32) []byte {
	tag := CheckpointTag{
		Version:  TagVersion,
		Streams:  streams,
		Position: &TagPosition{Commit: pos.Commit, Prepare: pos.Prepare},
	}
	b, _ := json.Marshal(tag)
	return b
}

// ParseTagPosition extracts the TfPos from checkpoint-tag JSON.
func ParseTagPosition(b []byte) (TfPos, error) {
	var tag CheckpointTag
	if err := json.Unmarshal(b, &tag); err != nil {
		return TfPos{}, fmt.Errorf("tflog: decode checkpoint tag: %w", err)
	}
	if tag.Position == nil {
		return TfPos{}, ErrNoTagPosition
	}
	return TfPos{Commit: tag.Position.Commit, Prepare: tag.Position.Prepare}, nil
}
