package session

import (
	"testing"
	"time"
)

func TestEncodeDecodeKeepsMillisecondPrecision(t *testing.T) {
	issued := time.UnixMilli(1700000000123)
	in := &Record{
		Subject:   "user-1",
		Family:    "fam-1",
		IssuedAt:  issued,
		ExpiresAt: issued.Add(7 * 24 * time.Hour),
		Revoked:   true,
	}
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if data[1]&flagRevoked == 0 {
		t.Fatalf("revoked flag must live at offset 1, got %x", data[:2])
	}

	out, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.IssuedAt.Equal(in.IssuedAt) || !out.ExpiresAt.Equal(in.ExpiresAt) {
		t.Fatalf("timestamps changed: %+v", out)
	}
	if out.Subject != in.Subject || out.Family != in.Family || !out.Revoked {
		t.Fatalf("fields changed: %+v", out)
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	if _, err := Decode([]byte{99, 0}); err == nil {
		t.Fatal("expected unknown version to be rejected")
	}
}

func TestEncodeRejectsLongIdentifiers(t *testing.T) {
	long := make([]byte, 256)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := Encode(&Record{Subject: string(long), Family: "f"}); err == nil {
		t.Fatal("expected long subject to be rejected")
	}
}
