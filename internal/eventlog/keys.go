package eventlog

import (
	"encoding/binary"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - log/m                              (global metadata: lastSeq)
// - log/e/{seq_be8}                    (entries in global order)
// - log/s/{stream}                     (stream metadata: last version)
// - log/x/{stream}/{version_be8}       (stream index: version -> seq)

var (
	sep         = byte('/')
	metaKey     = []byte("log/m")
	entryPrefix = []byte("log/e/")
	streamSeg   = []byte("log/s/")
	indexSeg    = []byte("log/x/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// KeyMeta returns the global metadata key.
func KeyMeta() []byte { return append([]byte(nil), metaKey...) }

// KeyEntry builds the entry key with a big-endian sequence for proper ordering.
func KeyEntry(seq uint64) []byte {
	k := make([]byte, 0, len(entryPrefix)+8)
	k = append(k, entryPrefix...)
	return appendBE8(k, seq)
}

// seqFromEntryKey extracts the sequence from an entry key.
func seqFromEntryKey(k []byte) uint64 {
	return binary.BigEndian.Uint64(k[len(entryPrefix):])
}

// KeyStreamMeta builds the per-stream metadata key.
func KeyStreamMeta(stream string) []byte {
	k := make([]byte, 0, len(streamSeg)+len(stream))
	k = append(k, streamSeg...)
	return append(k, stream...)
}

// KeyStreamIndexPrefix returns the prefix of all index keys of a stream.
func KeyStreamIndexPrefix(stream string) []byte {
	k := make([]byte, 0, len(indexSeg)+len(stream)+1)
	k = append(k, indexSeg...)
	k = append(k, stream...)
	return append(k, sep)
}

// KeyStreamIndex maps a stream version to its global entry.
func KeyStreamIndex(stream string, version uint64) []byte {
	return appendBE8(KeyStreamIndexPrefix(stream), version)
}
