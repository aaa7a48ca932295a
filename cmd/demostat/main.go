// demostat - утилита командной строки: разбирает демо-файл и печатает
// метаданные, статистику матча и таблицу игроков.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	demcore "github.com/annel0/cs2-demo-core"
	"github.com/annel0/cs2-demo-core/events"
	"github.com/annel0/cs2-demo-core/internal/config"
	"github.com/annel0/cs2-demo-core/internal/logging"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file (or DEMOSTAT_CONFIG env)")
		timeoutSec = flag.Int("timeout", 0, "Time budget in seconds (0 = unlimited)")
		maxSize    = flag.Int64("max-size", 0, "Maximum demo size in bytes (0 = unlimited)")
		schemaPath = flag.String("schema", "", "Path to external format schema catalog (YAML)")
		asJSON     = flag.Bool("json", false, "Print full DemoEvents as JSON")
		rounds     = flag.Bool("rounds", false, "Print per-round table")
		top        = flag.Int("top", 5, "Number of top fraggers to print")
		pipelined  = flag.Bool("pipelined", false, "Use pipelined demultiplexer")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <demo.dem>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	opts := demcore.DefaultOptions()
	if cfg != nil {
		opts.TimeoutSeconds = cfg.Parse.GetTimeoutSeconds()
		opts.MaxFileSize = cfg.Parse.GetMaxFileSize()
		opts.SchemaPath = cfg.Parse.GetSchemaPath()
		opts.PipelinedDemux = cfg.Parse.Pipelined
		opts.DemuxQueueSize = cfg.Parse.QueueSize
		opts.ExtractKills = config.Enabled(cfg.Parse.ExtractKills)
		opts.ExtractHeadshots = config.Enabled(cfg.Parse.ExtractHeadshots)
		opts.ExtractClutches = config.Enabled(cfg.Parse.ExtractClutches)
		opts.ExtractRounds = config.Enabled(cfg.Parse.ExtractRounds)
		opts.ExtractPlayers = config.Enabled(cfg.Parse.ExtractPlayers)
		*asJSON = *asJSON || cfg.Output.JSON
		*rounds = *rounds || cfg.Output.Rounds
		if cfg.Output.TopPlayers > 0 {
			*top = cfg.Output.TopPlayers
		}
		if cfg.Logging.Dir != "" {
			if err := logging.InitLogger(cfg.Logging.Dir); err != nil {
				log.Fatalf("❌ Failed to init logging: %v", err)
			}
			defer logging.CloseLogger()
		}
	}
	// Флаги перекрывают значения из конфига.
	if *timeoutSec > 0 {
		opts.TimeoutSeconds = *timeoutSec
	}
	if *maxSize > 0 {
		opts.MaxFileSize = *maxSize
	}
	if *schemaPath != "" {
		opts.SchemaPath = *schemaPath
	}
	if *pipelined {
		opts.PipelinedDemux = true
	}

	parser, err := demcore.NewWithOptions(opts)
	if err != nil {
		log.Fatalf("❌ Failed to create parser: %v", err)
	}

	evs, err := parser.ParseFile(flag.Arg(0))
	if err != nil {
		log.Fatalf("❌ Parse failed: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(evs); err != nil {
			log.Fatalf("❌ JSON encode failed: %v", err)
		}
		return
	}

	printSummary(evs, *rounds, *top)
}

func printSummary(evs *events.DemoEvents, withRounds bool, top int) {
	m := evs.Metadata
	fmt.Printf("Demo:     %s (version %s)\n", m.Filename, m.Version)
	fmt.Printf("Map:      %s\n", m.Map)
	fmt.Printf("Server:   %s\n", m.Server)
	fmt.Printf("Duration: %.2f min (%d ticks)\n", evs.Stats.DurationMinutes, m.Ticks)
	if m.Incomplete {
		fmt.Println("Note:     demo is incomplete, results are best-effort")
	}

	s := evs.Stats
	fmt.Printf("\nScore:    T %d - %d CT (%d rounds)\n", s.FinalTScore, s.FinalCTScore, s.TotalRounds)
	fmt.Printf("Kills:    %d (%d headshots, %.1f%%)\n", s.TotalKills, s.TotalHeadshots, s.HeadshotPct)
	fmt.Printf("Avg K/R:  %.2f\n", s.AvgKillsPerRound)
	fmt.Printf("Clutches: %d\n", len(evs.Clutches))

	if top > 0 {
		fmt.Println("\nTop fraggers:")
		for i, p := range evs.TopFraggers(top) {
			fmt.Printf("  %d. %-20s %3d K / %3d D  (KDR %.2f, HS %.1f%%)\n",
				i+1, p.Name, p.Kills, p.Deaths, p.KDR, p.HeadshotPct)
		}
	}

	if withRounds {
		fmt.Println("\nRounds:")
		for _, r := range evs.Rounds {
			fmt.Printf("  #%-3d winner=%-2s score=%d:%d kills=%d %.0fs (%s)\n",
				r.Number, r.Winner, r.TScore, r.CTScore, r.TotalKills, r.Duration, r.WinCondition)
		}
	}

	if len(evs.Warnings) > 0 {
		fmt.Printf("\nWarnings (%d):\n", len(evs.Warnings))
		for _, w := range evs.Warnings {
			fmt.Printf("  - %s\n", w)
		}
	}
}
