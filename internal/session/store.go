package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yungbote/samplegrid/internal/domain"
	"github.com/yungbote/samplegrid/internal/platform/logger"
)

const (
	filePrefix = "session-"
	fileSuffix = ".json"
)

// Store persists session documents as one JSON file each under a sessions
// directory. Saves are atomic; a document that fails validation on load is
// preserved under a recovery name, never repaired or silently replaced.
type Store interface {
	Load(name string) (*domain.SessionDocument, error)
	Save(doc *domain.SessionDocument) error
	List() ([]string, error)
	Create(name string, velocityLayers int) (*domain.SessionDocument, error)
	Delete(name string) error
	Exists(name string) bool
	Path(name string) string
}

type store struct {
	log *logger.Logger
	dir string
}

func NewStore(dir string, log *logger.Logger) (Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("NewStore: sessions directory required")
	}
	if log == nil {
		log = logger.Nop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("NewStore: create sessions directory: %w", err)
	}
	return &store{
		log: log.With("service", "SessionStore"),
		dir: dir,
	}, nil
}

func (s *store) Path(name string) string {
	return filepath.Join(s.dir, filePrefix+name+fileSuffix)
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("session name required")
	}
	if strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return fmt.Errorf("session name %q must not contain path separators", name)
	}
	return nil
}

func (s *store) Load(name string) (*domain.SessionDocument, error) {
	if err := validName(name); err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	path := s.Path(name)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &domain.NotFoundError{Name: name}
	}
	if err != nil {
		return nil, &domain.IOError{Path: path, Err: err}
	}

	var doc domain.SessionDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		recovery := s.preserveCorrupt(path)
		return nil, &domain.CorruptError{
			Path:         path,
			Reason:       "invalid json: " + err.Error(),
			RecoveryPath: recovery,
			Err:          err,
		}
	}
	if msg := doc.Validate(); msg != "" {
		recovery := s.preserveCorrupt(path)
		return nil, &domain.CorruptError{
			Path:         path,
			Reason:       msg,
			RecoveryPath: recovery,
		}
	}

	s.log.Debug("session loaded", "session", name, "cache_entries", len(doc.Cache), "mapping_entries", len(doc.Mapping))
	return &doc, nil
}

// preserveCorrupt moves an unreadable document aside so nothing overwrites
// it. Returns the recovery path, or "" when the move failed and the file was
// left where it was.
func (s *store) preserveCorrupt(path string) string {
	recovery := fmt.Sprintf("%s.corrupt-%d", path, time.Now().UTC().UnixNano())
	if err := os.Rename(path, recovery); err != nil {
		s.log.Warn("could not move corrupt session file aside", "path", path, "error", err)
		return ""
	}
	s.log.Warn("corrupt session file preserved", "path", path, "recovery_path", recovery)
	return recovery
}

func (s *store) Save(doc *domain.SessionDocument) error {
	if doc == nil {
		return fmt.Errorf("Save: document required")
	}
	if err := validName(doc.Name); err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	if doc.SchemaVersion == "" {
		doc.SchemaVersion = domain.SessionSchemaVersion
	}
	doc.UpdatedAt = time.Now().UTC()
	if msg := doc.Validate(); msg != "" {
		return fmt.Errorf("Save: document failed validation: %s", msg)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("Save: marshal document: %w", err)
	}
	path := s.Path(doc.Name)
	if err := atomicWriteFile(path, data, 0o644); err != nil {
		return &domain.IOError{Path: path, Err: err}
	}
	s.log.Debug("session saved", "session", doc.Name, "bytes", len(data))
	return nil
}

func (s *store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &domain.IOError{Path: s.dir, Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		base := entry.Name()
		if !strings.HasPrefix(base, filePrefix) || !strings.HasSuffix(base, fileSuffix) {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(base, filePrefix), fileSuffix)
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *store) Create(name string, velocityLayers int) (*domain.SessionDocument, error) {
	if err := validName(name); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}
	if s.Exists(name) {
		return nil, fmt.Errorf("Create: session %q already exists", name)
	}
	doc, err := domain.NewSessionDocument(name, velocityLayers)
	if err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}
	if err := s.Save(doc); err != nil {
		return nil, err
	}
	s.log.Info("session created", "session", name, "velocity_layers", velocityLayers)
	return doc, nil
}

func (s *store) Delete(name string) error {
	if err := validName(name); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	path := s.Path(name)
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &domain.NotFoundError{Name: name}
	}
	if err != nil {
		return &domain.IOError{Path: path, Err: err}
	}
	s.log.Info("session deleted", "session", name)
	return nil
}

func (s *store) Exists(name string) bool {
	if validName(name) != nil {
		return false
	}
	_, err := os.Stat(s.Path(name))
	return err == nil
}
