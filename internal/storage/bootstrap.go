package storage

import (
	"bytes"
	"encoding/binary"
)

// emptyMappingClassRef identifies an empty persistent mapping; the
// project's canonical object-graph serialization (pickling proper) is an
// external collaborator, so this is a minimal, deterministic stand-in
// for it that still honors the project's two-record pickle shape.
const emptyMappingClassRef = "objdb.EmptyMapping"

// EmptyMappingPickle builds the bootstrap pickle written to ZeroOID: a
// two-record stream, first record the class reference, second the empty
// object state, both length-prefixed ("protocol 1").
func EmptyMappingPickle() []byte {
	var buf bytes.Buffer
	writeRecord(&buf, []byte(emptyMappingClassRef))
	writeRecord(&buf, []byte("{}"))
	return buf.Bytes()
}

func writeRecord(buf *bytes.Buffer, data []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	buf.Write(length[:])
	buf.Write(data)
}
