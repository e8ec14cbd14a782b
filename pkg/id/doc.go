// Package id provides a 128-bit, lexicographically sortable identifier used
// for read correlation and event IDs.
//
// The ID is 16 bytes big-endian: [8 bytes ms_timestamp][8 bytes sequence],
// so byte-wise comparison preserves chronological order and IDs generated
// within the same millisecond remain strictly increasing by sequence.
//
// The Generator ensures per-process monotonicity: if the system clock
// regresses, it pins to the last seen millisecond and increments the
// sequence; if the sequence would overflow within a millisecond, it waits
// for the next millisecond.
package id
