package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/samplegrid/internal/domain"
	"github.com/yungbote/samplegrid/internal/platform/logger"
)

// EngineVersion tags archived rows with the analyzer generation that
// produced them. Bump it when detection changes enough that old rows should
// stop prefilling caches.
const EngineVersion = "hps-1"

// AnalyzedSample is one archived analysis, keyed by content fingerprint and
// shared across sessions: a library analyzed once prefills every later
// session that scans the same files.
type AnalyzedSample struct {
	ID             uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	Fingerprint    string         `gorm:"column:fingerprint;uniqueIndex;not null" json:"fingerprint"`
	SourceFilename string         `gorm:"column:source_filename" json:"source_filename"`
	DetectedMIDI   int            `gorm:"column:detected_midi;index" json:"detected_midi"`
	FrequencyHz    float64        `gorm:"column:frequency_hz" json:"frequency_hz"`
	Amplitude      float64        `gorm:"column:amplitude" json:"amplitude"`
	AmplitudeDB    float64        `gorm:"column:amplitude_db" json:"amplitude_db"`
	Confidence     float64        `gorm:"column:confidence" json:"confidence"`
	LowConfidence  bool           `gorm:"column:low_confidence" json:"low_confidence"`
	AnalyzedAt     time.Time      `gorm:"column:analyzed_at;not null" json:"analyzed_at"`
	EngineVersion  string         `gorm:"column:engine_version;index" json:"engine_version"`
	Extras         datatypes.JSON `gorm:"column:extras" json:"extras,omitempty"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
}

func (AnalyzedSample) TableName() string { return "analyzed_samples" }

// Extra measurements that ride along without their own columns.
type sampleExtras struct {
	FullRMS float64 `json:"full_rms,omitempty"`
	Peak    float64 `json:"peak,omitempty"`
}

// Archive is the persistent cross-session analysis store.
type Archive interface {
	Lookup(fp domain.Fingerprint) (*domain.CacheRecord, bool, error)
	Store(rec domain.CacheRecord, fullRMS, peak float64) error
	Prefill(seed func(records map[domain.Fingerprint]domain.CacheRecord), limit int) (int, error)
	Close() error
}

type sqliteArchive struct {
	db  *gorm.DB
	log *logger.Logger
}

// Open connects to (or creates) the sqlite archive at path and migrates the
// schema.
func Open(path string, log *logger.Logger) (Archive, error) {
	if log == nil {
		log = logger.Nop()
	}
	serviceLog := log.With("service", "AnalysisArchive")

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("Open: create archive dir %s: %w", dir, err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("Open: connect sqlite archive %s: %w", path, err)
	}
	if err := db.AutoMigrate(&AnalyzedSample{}); err != nil {
		return nil, fmt.Errorf("Open: migrate archive schema: %w", err)
	}
	serviceLog.Debug("archive opened", "path", path)
	return &sqliteArchive{db: db, log: serviceLog}, nil
}

func (a *sqliteArchive) Lookup(fp domain.Fingerprint) (*domain.CacheRecord, bool, error) {
	var row AnalyzedSample
	err := a.db.Where("fingerprint = ? AND engine_version = ?", string(fp), EngineVersion).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("Lookup: query fingerprint %s: %w", fp.Short(), err)
	}
	rec := rowToRecord(row)
	return &rec, true, nil
}

func (a *sqliteArchive) Store(rec domain.CacheRecord, fullRMS, peak float64) error {
	extras, err := json.Marshal(sampleExtras{FullRMS: fullRMS, Peak: peak})
	if err != nil {
		return fmt.Errorf("Store: marshal extras: %w", err)
	}
	row := AnalyzedSample{
		Fingerprint:    string(rec.Fingerprint),
		SourceFilename: rec.SourceFilename,
		DetectedMIDI:   rec.DetectedMIDI,
		FrequencyHz:    rec.FrequencyHz,
		Amplitude:      rec.Amplitude,
		AmplitudeDB:    rec.AmplitudeDB,
		Confidence:     rec.Confidence,
		LowConfidence:  rec.LowConfidence,
		AnalyzedAt:     rec.AnalyzedAt,
		EngineVersion:  EngineVersion,
		Extras:         datatypes.JSON(extras),
	}
	// Re-analysis of known content replaces the row wholesale, mirroring the
	// in-memory cache's overwrite semantics.
	err = a.db.Where("fingerprint = ?", row.Fingerprint).
		Assign(map[string]any{
			"source_filename": row.SourceFilename,
			"detected_midi":   row.DetectedMIDI,
			"frequency_hz":    row.FrequencyHz,
			"amplitude":       row.Amplitude,
			"amplitude_db":    row.AmplitudeDB,
			"confidence":      row.Confidence,
			"low_confidence":  row.LowConfidence,
			"analyzed_at":     row.AnalyzedAt,
			"engine_version":  row.EngineVersion,
			"extras":          row.Extras,
		}).
		FirstOrCreate(&AnalyzedSample{}).Error
	if err != nil {
		return fmt.Errorf("Store: upsert fingerprint %s: %w", rec.Fingerprint.Short(), err)
	}
	a.log.Debug("archived analysis", "fingerprint", rec.Fingerprint.Short(), "midi", rec.DetectedMIDI)
	return nil
}

// Prefill streams archived rows of the current engine version into seed,
// newest first. limit <= 0 means everything.
func (a *sqliteArchive) Prefill(seed func(records map[domain.Fingerprint]domain.CacheRecord), limit int) (int, error) {
	query := a.db.Where("engine_version = ?", EngineVersion).Order("analyzed_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []AnalyzedSample
	if err := query.Find(&rows).Error; err != nil {
		return 0, fmt.Errorf("Prefill: query archive: %w", err)
	}
	records := make(map[domain.Fingerprint]domain.CacheRecord, len(rows))
	for _, row := range rows {
		fp := domain.Fingerprint(row.Fingerprint)
		if !fp.Valid() {
			continue
		}
		records[fp] = rowToRecord(row)
	}
	seed(records)
	a.log.Debug("archive prefill", "records", len(records))
	return len(records), nil
}

func (a *sqliteArchive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return fmt.Errorf("Close: unwrap sql db: %w", err)
	}
	return sqlDB.Close()
}

func rowToRecord(row AnalyzedSample) domain.CacheRecord {
	return domain.CacheRecord{
		AnalysisResult: domain.AnalysisResult{
			Fingerprint:   domain.Fingerprint(row.Fingerprint),
			DetectedMIDI:  row.DetectedMIDI,
			FrequencyHz:   row.FrequencyHz,
			Amplitude:     row.Amplitude,
			AmplitudeDB:   row.AmplitudeDB,
			Confidence:    row.Confidence,
			LowConfidence: row.LowConfidence,
			AnalyzedAt:    row.AnalyzedAt,
		},
		SourceFilename: row.SourceFilename,
	}
}
