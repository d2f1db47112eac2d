package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

const entryFormatVersion = 1

var errCorruptEntry = errors.New("corrupt session entry")

// Encode serializes e (minus its SessionID, which is the storage key) as:
// version, len-prefixed user id, len-prefixed login history id, created and
// expires as big-endian unix milliseconds.
func Encode(e Entry) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(entryFormatVersion)

	for _, field := range []string{e.UserID, e.LoginHistoryID} {
		if len(field) > 255 {
			return nil, errors.New("session field too long")
		}
		buf.WriteByte(byte(len(field)))
		buf.WriteString(field)
	}

	if err := binary.Write(&buf, binary.BigEndian, e.CreatedAt.UnixMilli()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, e.ExpiresAt.UnixMilli()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses the output of Encode. The caller fills SessionID.
func Decode(data []byte) (Entry, error) {
	var e Entry
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil || version != entryFormatVersion {
		return e, errCorruptEntry
	}

	fields := [2]string{}
	for i := range fields {
		n, err := reader.ReadByte()
		if err != nil {
			return e, errCorruptEntry
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return e, errCorruptEntry
		}
		fields[i] = string(raw)
	}
	e.UserID, e.LoginHistoryID = fields[0], fields[1]

	var created, expires int64
	if err := binary.Read(reader, binary.BigEndian, &created); err != nil {
		return e, errCorruptEntry
	}
	if err := binary.Read(reader, binary.BigEndian, &expires); err != nil {
		return e, errCorruptEntry
	}
	if reader.Len() != 0 || e.UserID == "" {
		return e, errCorruptEntry
	}

	e.CreatedAt = time.UnixMilli(created).UTC()
	e.ExpiresAt = time.UnixMilli(expires).UTC()
	return e, nil
}
