package content

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/yungbote/samplegrid/internal/domain"
	"github.com/yungbote/samplegrid/internal/platform/logger"
)

// Hasher produces content-only fingerprints: the digest depends on file bytes
// alone, never on path, name, or timestamps, so duplicate content under
// different filenames collapses to one cache entry.
type Hasher interface {
	Hash(path string) (domain.Fingerprint, error)
	HashBytes(b []byte) domain.Fingerprint
}

type hasher struct {
	log *logger.Logger
}

func NewHasher(log *logger.Logger) Hasher {
	if log == nil {
		log = logger.Nop()
	}
	return &hasher{log: log.With("service", "ContentHasher")}
}

func (h *hasher) Hash(path string) (domain.Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &domain.IOError{Path: path, Err: err}
	}
	defer f.Close()

	sum := sha256.New()
	if _, err := io.Copy(sum, f); err != nil {
		return "", &domain.IOError{Path: path, Err: err}
	}
	fp := domain.Fingerprint(hex.EncodeToString(sum.Sum(nil)))
	h.log.Debug("hashed file", "path", path, "fingerprint", fp.Short())
	return fp, nil
}

func (h *hasher) HashBytes(b []byte) domain.Fingerprint {
	return HashBytes(b)
}

// HashBytes is the package-level form for callers that do not need the
// service wrapper.
func HashBytes(b []byte) domain.Fingerprint {
	sum := sha256.Sum256(b)
	return domain.Fingerprint(hex.EncodeToString(sum[:]))
}
