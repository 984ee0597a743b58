package app

import (
	"fmt"
	"os"

	"github.com/yungbote/samplegrid/internal/analysis"
	"github.com/yungbote/samplegrid/internal/archive"
	"github.com/yungbote/samplegrid/internal/assign"
	"github.com/yungbote/samplegrid/internal/audio"
	"github.com/yungbote/samplegrid/internal/cache"
	"github.com/yungbote/samplegrid/internal/config"
	"github.com/yungbote/samplegrid/internal/content"
	"github.com/yungbote/samplegrid/internal/export"
	"github.com/yungbote/samplegrid/internal/platform/logger"
	"github.com/yungbote/samplegrid/internal/session"
)

// App wires the whole toolchain once: every command works through these
// handles instead of constructing its own.
type App struct {
	Log          *logger.Logger
	Cfg          config.Config
	Store        session.Store
	Cache        cache.SampleCache
	Archive      archive.Archive
	Orchestrator analysis.Orchestrator
	Assigner     assign.AutoAssigner
	Planner      export.Planner
}

func New() (*App, error) {
	logMode := os.Getenv("SAMPLEGRID_LOG_MODE")
	if logMode == "" {
		logMode = config.Current(nil).LogMode
	}
	if logMode == "" {
		logMode = "prod"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := config.Current(log)

	store, err := session.NewStore(cfg.ResolvedSessionsDir(), log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init session store: %w", err)
	}

	sampleCache := cache.New(log)

	// The archive is an accelerator. When it cannot open, analysis still
	// works, just without cross-session reuse.
	var arc archive.Archive
	if path := cfg.ResolvedArchivePath(); path != "" {
		arc, err = archive.Open(path, log)
		if err != nil {
			log.Warn("archive init failed; continuing without", "path", path, "error", err)
			arc = nil
		}
	}

	orch, err := analysis.NewOrchestrator(analysis.Deps{
		Log:       log,
		Hasher:    content.NewHasher(log),
		Cache:     sampleCache,
		Store:     store,
		Decoder:   audio.NewWAVDecoder(log),
		Pitch:     audio.NewHPSAnalyzer(log),
		Amplitude: audio.NewRMSAnalyzer(float64(cfg.VelocityWindowMS), log),
		Archive:   arc,
	})
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}

	return &App{
		Log:          log,
		Cfg:          cfg,
		Store:        store,
		Cache:        sampleCache,
		Archive:      arc,
		Orchestrator: orch,
		Assigner:     assign.New(log),
		Planner:      export.NewPlanner(log),
	}, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Archive != nil {
		if err := a.Archive.Close(); err != nil {
			a.Log.Warn("archive close failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
