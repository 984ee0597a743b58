package content

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/yungbote/samplegrid/internal/domain"
)

func writeTemp(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestHashIgnoresFilename(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("identical sample bytes")
	a := writeTemp(t, dir, "kick-01.wav", payload)
	b := writeTemp(t, dir, "copy of kick.wav", payload)

	h := NewHasher(nil)
	fpA, err := h.Hash(a)
	if err != nil {
		t.Fatalf("Hash a: %v", err)
	}
	fpB, err := h.Hash(b)
	if err != nil {
		t.Fatalf("Hash b: %v", err)
	}

	if fpA != fpB {
		t.Fatalf("identical bytes under different names must share a fingerprint: %s vs %s", fpA, fpB)
	}
	if !fpA.Valid() {
		t.Fatalf("fingerprint %q is not 64 lowercase hex chars", fpA)
	}
}

func TestHashDistinguishesContent(t *testing.T) {
	dir := t.TempDir()
	a := writeTemp(t, dir, "a.wav", []byte("one"))
	b := writeTemp(t, dir, "b.wav", []byte("two"))

	h := NewHasher(nil)
	fpA, _ := h.Hash(a)
	fpB, _ := h.Hash(b)
	if fpA == fpB {
		t.Fatalf("different bytes produced the same fingerprint")
	}
}

func TestHashMatchesHashBytes(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("some audio payload")
	path := writeTemp(t, dir, "x.wav", payload)

	h := NewHasher(nil)
	fromFile, err := h.Hash(path)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if fromFile != HashBytes(payload) {
		t.Fatalf("streaming and in-memory digests differ")
	}
	if fromFile != h.HashBytes(payload) {
		t.Fatalf("method and package-level HashBytes differ")
	}
}

func TestHashMissingFile(t *testing.T) {
	h := NewHasher(nil)
	_, err := h.Hash(filepath.Join(t.TempDir(), "absent.wav"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
	var ioErr *domain.IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected IOError, got %T: %v", err, err)
	}
}
