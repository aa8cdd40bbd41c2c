// Package kvstorage implements an embedded, file-backed key-value store
// following the Bitcask storage model:
//   - All writes are appended to a single log file
//   - An in-memory hash index maps each key to its latest record's offset
//   - Reads are one index lookup plus one ranged file read
//   - Compaction rewrites the log to reclaim space from stale records
//
// Layout of the backing file:
//
//	+--------------+---------+---------+-----+---------+
//	| file header  | frame 1 | frame 2 | ... | frame n |
//	+--------------+---------+---------+-----+---------+
//
//	File header:
//	+----------------+-------------------+----------------------+
//	| magic (8 bytes)| version (1 byte)  | compression (1 byte) |
//	+----------------+-------------------+----------------------+
//
//	Frame:
//	+------------------+--------------------+-----+-------+---------------+
//	| key len (4 bytes)| value len (4 bytes)| key | value | CRC (4 bytes) |
//	+------------------+--------------------+-----+-------+---------------+
//
// Updates and removals never modify bytes in place: an update appends a new
// frame and a removal appends a tombstone frame (value len 0xFFFFFFFF). On
// open the file is replayed in order to rebuild the index, so the last write
// for each key wins. A torn frame at the tail (from a crash mid-append) is
// detected by its checksum and truncated away; everything before it is kept.
package kvstorage
