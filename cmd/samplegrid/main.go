package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/yungbote/samplegrid/internal/analysis"
	"github.com/yungbote/samplegrid/internal/app"
	"github.com/yungbote/samplegrid/internal/domain"
	"github.com/yungbote/samplegrid/internal/midiutil"
	"github.com/yungbote/samplegrid/internal/platform/shutdown"
)

func usage() {
	fmt.Print(`samplegrid - session-aware sample analysis for sampler instruments

Usage:
  samplegrid sessions list
  samplegrid sessions create [-layers N] <name>
  samplegrid sessions show <name>
  samplegrid sessions delete <name>
  samplegrid analyze [-workers N] [-no-progress] <session> <folder>
  samplegrid assign <session>
  samplegrid export-plan [-rate HZ] [-json] <session>
  samplegrid cache stats <session>
  samplegrid cache prune <session>
  samplegrid cache prefill [-limit N] <session>
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "help", "-h", "--help":
		usage()
		return
	}

	a, err := app.New()
	if err != nil {
		fmt.Printf("failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	var runErr error
	switch os.Args[1] {
	case "sessions":
		runErr = runSessions(a, os.Args[2:])
	case "analyze":
		runErr = runAnalyze(ctx, a, os.Args[2:])
	case "assign":
		runErr = runAssign(a, os.Args[2:])
	case "export-plan":
		runErr = runExportPlan(a, os.Args[2:])
	case "cache":
		runErr = runCache(a, os.Args[2:])
	default:
		fmt.Printf("unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if runErr != nil {
		fmt.Printf("%v\n", runErr)
		os.Exit(1)
	}
}

func runSessions(a *app.App, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: samplegrid sessions <list|create|show|delete>")
	}
	switch args[0] {
	case "list":
		names, err := a.Store.List()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("no sessions")
			return nil
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil

	case "create":
		fs := flag.NewFlagSet("sessions create", flag.ExitOnError)
		layers := fs.Int("layers", 4, "velocity layers (1-8)")
		fs.Parse(args[1:])
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: samplegrid sessions create [-layers N] <name>")
		}
		doc, err := a.Store.Create(fs.Arg(0), *layers)
		if err != nil {
			return err
		}
		fmt.Printf("created %s (%d velocity layers)\n", doc.Name, doc.VelocityLayerCount)
		return nil

	case "show":
		if len(args) != 2 {
			return fmt.Errorf("usage: samplegrid sessions show <name>")
		}
		doc, err := a.Store.Load(args[1])
		if err != nil {
			return err
		}
		lowConf := 0
		for _, rec := range doc.Cache {
			if rec.LowConfidence {
				lowConf++
			}
		}
		fmt.Printf("session:         %s\n", doc.Name)
		fmt.Printf("velocity layers: %d\n", doc.VelocityLayerCount)
		fmt.Printf("key range:       %s (%d) .. %s (%d)\n",
			midiutil.NoteName(doc.LowestKey), doc.LowestKey,
			midiutil.NoteName(doc.HighestKey), doc.HighestKey)
		fmt.Printf("input folder:    %s\n", doc.InputFolder)
		fmt.Printf("cached samples:  %d (%d low confidence)\n", len(doc.Cache), lowConf)
		fmt.Printf("mapped slots:    %d\n", len(doc.Mapping))
		fmt.Printf("updated:         %s\n", doc.UpdatedAt.Format("2006-01-02 15:04:05"))
		return nil

	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("usage: samplegrid sessions delete <name>")
		}
		if err := a.Store.Delete(args[1]); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[1])
		return nil

	default:
		return fmt.Errorf("unknown sessions command: %s", args[0])
	}
}

func runAnalyze(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	workers := fs.Int("workers", a.Cfg.Workers, "analysis pool size (0 = auto)")
	noBar := fs.Bool("no-progress", false, "disable the progress bar")
	fs.Parse(args)
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: samplegrid analyze [-workers N] <session> <folder>")
	}
	name, folder := fs.Arg(0), fs.Arg(1)

	doc, err := a.Store.Load(name)
	if err != nil {
		return err
	}
	a.Cache.Seed(doc.Cache)

	opts := analysis.Options{
		Workers:             *workers,
		FileTimeout:         a.Cfg.FileTimeout(),
		ConfidenceThreshold: a.Cfg.ConfidenceThreshold,
		Extensions:          a.Cfg.Extensions,
	}

	var p *mpb.Progress
	var bar *mpb.Bar
	if !*noBar {
		p = mpb.New(mpb.WithWidth(64))
		// Callbacks arrive serialized; the bar is created on the first one,
		// once the total is known.
		opts.OnProgress = func(done, total int) {
			if bar == nil {
				bar = p.AddBar(int64(total),
					mpb.PrependDecorators(
						decor.Name("Analyzing: "),
						decor.CountersNoUnit("%d / %d"),
					),
					mpb.AppendDecorators(
						decor.Percentage(),
						decor.EwmaETA(decor.ET_STYLE_GO, 60),
					),
				)
			}
			bar.Increment()
		}
	}

	summary, runErr := a.Orchestrator.AnalyzeFolder(ctx, folder, doc, opts)
	if p != nil {
		if bar != nil && runErr != nil {
			bar.Abort(true)
		}
		p.Wait()
	}
	if summary == nil {
		return runErr
	}

	fmt.Printf("%d files: %d cache hits, %d newly analyzed, %d failed\n",
		summary.Total, summary.CacheHits, summary.NewlyAnalyzed, summary.Failed)
	for _, f := range summary.Failures {
		fmt.Printf("  failed: %s: %s\n", f.Path, f.Reason)
	}
	for _, e := range summary.Entries {
		if e.Result != nil && e.Result.LowConfidence {
			fmt.Printf("  low confidence: %s -> %s (%.2f)\n",
				e.DisplayName, midiutil.NoteName(e.Result.DetectedMIDI), e.Result.Confidence)
		}
	}
	return runErr
}

func runAssign(a *app.App, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: samplegrid assign <session>")
	}
	doc, err := a.Store.Load(args[0])
	if err != nil {
		return err
	}

	result, err := a.Assigner.AssignAll(doc, entriesFromCache(doc))
	if err != nil {
		return err
	}
	if err := a.Store.Save(doc); err != nil {
		return err
	}

	fmt.Printf("assigned %d slots across %d notes\n", result.TotalAssigned, len(result.Notes))
	for _, note := range result.Notes {
		fmt.Printf("  %-4s (%3d): %d of %d layers filled\n",
			midiutil.NoteName(note.MIDI), note.MIDI, len(note.Assigned), doc.VelocityLayerCount)
	}
	return nil
}

// entriesFromCache rebuilds the candidate set from what the session already
// knows, so assignment works without rescanning the folder.
func entriesFromCache(doc *domain.SessionDocument) []domain.SampleEntry {
	entries := make([]domain.SampleEntry, 0, len(doc.Cache))
	for fp, rec := range doc.Cache {
		result := rec.AnalysisResult
		entries = append(entries, domain.SampleEntry{
			DisplayName:   rec.SourceFilename,
			Fingerprint:   fp,
			Result:        &result,
			UserTranspose: doc.TransposeFor(fp),
			Disabled:      doc.IsDisabled(fp),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].DisplayName != entries[j].DisplayName {
			return entries[i].DisplayName < entries[j].DisplayName
		}
		return entries[i].Fingerprint < entries[j].Fingerprint
	})
	return entries
}

func runExportPlan(a *app.App, args []string) error {
	fs := flag.NewFlagSet("export-plan", flag.ExitOnError)
	rate := fs.Int("rate", 0, "target sample rate (44100, 48000, 96000)")
	asJSON := fs.Bool("json", false, "emit the plan as JSON")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: samplegrid export-plan [-rate HZ] [-json] <session>")
	}

	doc, err := a.Store.Load(fs.Arg(0))
	if err != nil {
		return err
	}
	sampleRate := *rate
	if sampleRate == 0 {
		sampleRate = a.Cfg.ExportSampleRate
	}
	plan, err := a.Planner.BuildPlan(doc, sampleRate)
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	}
	for _, item := range plan.Items {
		fmt.Printf("%s  <-  %s\n", item.TargetName, item.SourceFilename)
	}
	fmt.Printf("%d slots planned at %d Hz\n", len(plan.Items), plan.SampleRate)
	return nil
}

func runCache(a *app.App, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: samplegrid cache <stats|prune|prefill> <session>")
	}
	switch args[0] {
	case "stats":
		if len(args) != 2 {
			return fmt.Errorf("usage: samplegrid cache stats <session>")
		}
		doc, err := a.Store.Load(args[1])
		if err != nil {
			return err
		}
		mapped := map[domain.Fingerprint]bool{}
		for _, fp := range doc.Mapping {
			mapped[fp] = true
		}
		lowConf := 0
		for _, rec := range doc.Cache {
			if rec.LowConfidence {
				lowConf++
			}
		}
		fmt.Printf("cached analyses: %d\n", len(doc.Cache))
		fmt.Printf("mapped:          %d\n", len(mapped))
		fmt.Printf("unmapped:        %d\n", len(doc.Cache)-len(mapped))
		fmt.Printf("low confidence:  %d\n", lowConf)
		return nil

	case "prune":
		if len(args) != 2 {
			return fmt.Errorf("usage: samplegrid cache prune <session>")
		}
		doc, err := a.Store.Load(args[1])
		if err != nil {
			return err
		}
		a.Cache.Seed(doc.Cache)
		keep := map[domain.Fingerprint]bool{}
		for _, fp := range doc.Mapping {
			keep[fp] = true
		}
		removed := a.Cache.Prune(keep)
		doc.Cache = a.Cache.Snapshot()
		if err := a.Store.Save(doc); err != nil {
			return err
		}
		fmt.Printf("pruned %d unmapped analyses, %d kept\n", removed, len(doc.Cache))
		return nil

	case "prefill":
		fs := flag.NewFlagSet("cache prefill", flag.ExitOnError)
		limit := fs.Int("limit", 0, "max archived analyses to pull (0 = all)")
		fs.Parse(args[1:])
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: samplegrid cache prefill [-limit N] <session>")
		}
		if a.Archive == nil {
			return fmt.Errorf("the analysis archive is disabled; enable it to prefill")
		}
		doc, err := a.Store.Load(fs.Arg(0))
		if err != nil {
			return err
		}
		count, err := a.Archive.Prefill(doc.MergeCache, *limit)
		if err != nil {
			return err
		}
		if err := a.Store.Save(doc); err != nil {
			return err
		}
		fmt.Printf("prefilled %d archived analyses into %s\n", count, fs.Arg(0))
		return nil

	default:
		return fmt.Errorf("unknown cache command: %s", args[0])
	}
}
