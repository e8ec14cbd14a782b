package tflog

import (
	"encoding/binary"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - tf/m
// - tf/e/{commit_be8}{prepare_be8}
// - st/{stream}/m
// - st/{stream}/e/{num_be4}

var (
	tfMetaKeyBytes = []byte("tf/m")
	tfEntryPrefix  = []byte("tf/e/")
	streamPrefix   = []byte("st/")
	metaSuffix     = []byte("/m")
	entrySeg       = []byte("/e/")
)

func appendBE4(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// KeyTfMeta is the TF-log metadata key (last assigned position).
func KeyTfMeta() []byte { return tfMetaKeyBytes }

// KeyTfEntry builds the TF entry key. Offsets are shifted to unsigned so that
// big-endian byte order matches numeric order for all int64 values.
func KeyTfEntry(pos TfPos) []byte {
	k := make([]byte, 0, len(tfEntryPrefix)+16)
	k = append(k, tfEntryPrefix...)
	k = appendBE8(k, uint64(pos.Commit)+1<<63)
	k = appendBE8(k, uint64(pos.Prepare)+1<<63)
	return k
}

// PosFromTfEntryKey recovers the position from a TF entry key.
func PosFromTfEntryKey(key []byte) TfPos {
	off := len(tfEntryPrefix)
	return TfPos{
		Commit:  int64(binary.BigEndian.Uint64(key[off:off+8]) - 1<<63),
		Prepare: int64(binary.BigEndian.Uint64(key[off+8:off+16]) - 1<<63),
	}
}

// KeyStreamMeta builds the stream metadata key (last event number).
func KeyStreamMeta(stream string) []byte {
	k := make([]byte, 0, len(streamPrefix)+len(stream)+len(metaSuffix))
	k = append(k, streamPrefix...)
	k = append(k, stream...)
	k = append(k, metaSuffix...)
	return k
}

// KeyStreamEntry builds the stream entry key with a big-endian event number.
func KeyStreamEntry(stream string, num int32) []byte {
	k := make([]byte, 0, len(streamPrefix)+len(stream)+len(entrySeg)+4)
	k = append(k, streamPrefix...)
	k = append(k, stream...)
	k = append(k, entrySeg...)
	k = appendBE4(k, uint32(num))
	return k
}
