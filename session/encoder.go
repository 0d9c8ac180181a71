package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	recordFormatVersionCurrent = 1

	flagRevoked byte = 1 << 0
)

// Encode serializes rec into the compact binary form stored in Redis:
//
//	version(1) | flags(1) | len(subject)(1) subject | len(family)(1) family |
//	issuedAt unix-ms (be64) | expiresAt unix-ms (be64)
//
// The token id is the Redis key and is not repeated in the blob. The flags byte
// sits at a fixed offset so Lua scripts can flip the revoked bit in place.
func Encode(rec *Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordFormatVersionCurrent)

	var flags byte
	if rec.Revoked {
		flags |= flagRevoked
	}
	buf.WriteByte(flags)

	if len(rec.Subject) > 255 {
		return nil, errors.New("subject too long")
	}
	buf.WriteByte(byte(len(rec.Subject)))
	buf.WriteString(rec.Subject)

	if len(rec.Family) > 255 {
		return nil, errors.New("family too long")
	}
	buf.WriteByte(byte(len(rec.Family)))
	buf.WriteString(rec.Family)

	if err := binary.Write(&buf, binary.BigEndian, rec.IssuedAt.UnixMilli()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.ExpiresAt.UnixMilli()); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a blob produced by [Encode]. The returned record has an empty
// TokenID; callers set it from the key.
func Decode(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordFormatVersionCurrent {
		return nil, fmt.Errorf("unsupported record format version %d", version)
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	rec := &Record{Revoked: flags&flagRevoked != 0}

	if rec.Subject, err = readShortString(reader); err != nil {
		return nil, err
	}
	if rec.Family, err = readShortString(reader); err != nil {
		return nil, err
	}

	var issuedAt, expiresAt int64
	if err := binary.Read(reader, binary.BigEndian, &issuedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
		return nil, err
	}
	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes after record")
	}
	rec.IssuedAt = time.UnixMilli(issuedAt)
	rec.ExpiresAt = time.UnixMilli(expiresAt)

	return rec, nil
}

func readShortString(reader *bytes.Reader) (string, error) {
	n, err := reader.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(reader, b); err != nil {
		return "", err
	}
	return string(b), nil
}
