// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/spectrum-engine/internal/batchfile"
	"github.com/pdiddy/spectrum-engine/internal/dispatch"
	"github.com/pdiddy/spectrum-engine/internal/scoring"
	"github.com/pdiddy/spectrum-engine/internal/solution"
	"github.com/pdiddy/spectrum-engine/pkg/types"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Score a batch manifest across the worker pool",
	Long: `Batch loads a YAML manifest of scans, modifications, and candidate hits,
distributes the scoring work across the configured worker pool, and prints a
ranked match summary per scan. Results can also be persisted to a SQLite
database and emitted as JSON.`,
	RunE: runBatch,
}

func runBatch(cmd *cobra.Command, args []string) error {
	manifestPath, _ := cmd.Flags().GetString("manifest")
	if manifestPath == "" {
		return fmt.Errorf("a batch manifest is required: use --manifest")
	}

	batch, err := batchfile.Load(manifestPath)
	if err != nil {
		return err
	}

	cfg := dispatchConfig(cmd)
	scorer := scoring.NewPeakScorer(scoringConfig(cmd))
	evalArgs := types.EvalArgs{}

	d := dispatch.New(scorer, batch.Modifications, evalArgs, cfg)
	start := time.Now()
	solutions, err := d.Process(batch.ScanMap, batch.HitMap, batch.HitToScan, batch.ScanHitTypeMap)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	dbPath, _ := cmd.Flags().GetString("db")
	if dbPath == "" {
		dbPath = viper.GetString("output.database_path")
	}
	if dbPath != "" {
		store, err := solution.Open(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		batchID := batchIDFromPath(manifestPath)
		if err := store.Write(context.Background(), batchID, solutions); err != nil {
			return fmt.Errorf("persisting batch %q: %w", batchID, err)
		}
		fmt.Fprintf(os.Stderr, "Persisted %d matches to %s (batch %s)\n",
			solutions.TotalMatches(), dbPath, batchID)
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		return writeJSONSummary(solutions)
	}
	writeTableSummary(solutions, elapsed)
	return nil
}

// matchRecord is the flat JSON shape of one match.
type matchRecord struct {
	ScanID       string  `json:"scan_id"`
	HitID        int64   `json:"hit_id"`
	HitName      string  `json:"hit_name,omitempty"`
	Score        float64 `json:"score"`
	Modification string  `json:"modification"`
}

func flattenSolutions(solutions types.SolutionSet) []matchRecord {
	records := make([]matchRecord, 0, solutions.TotalMatches())
	for scanID, matches := range solutions {
		for _, m := range matches {
			rec := matchRecord{
				ScanID:       scanID,
				HitID:        m.Target.ID(),
				Score:        m.Score,
				Modification: m.Modification.Name,
			}
			if c, ok := m.Target.(*types.Candidate); ok {
				rec.HitName = c.Name
			}
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].ScanID != records[j].ScanID {
			return records[i].ScanID < records[j].ScanID
		}
		if records[i].Score != records[j].Score {
			return records[i].Score > records[j].Score
		}
		return records[i].HitID < records[j].HitID
	})
	return records
}

func writeJSONSummary(solutions types.SolutionSet) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(flattenSolutions(solutions))
}

func writeTableSummary(solutions types.SolutionSet, elapsed time.Duration) {
	records := flattenSolutions(solutions)
	if len(records) == 0 {
		fmt.Println("No matches.")
		return
	}

	fmt.Fprintf(os.Stdout, "%-20s  %-8s  %-24s  %-10s  %s\n",
		"Scan", "Hit", "Name", "Score", "Modification")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 78))
	for _, rec := range records {
		name := rec.HitName
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		fmt.Fprintf(os.Stdout, "%-20s  %-8d  %-24s  %-10.3f  %s\n",
			rec.ScanID, rec.HitID, name, rec.Score, rec.Modification)
	}
	fmt.Fprintf(os.Stdout, "\n%d matches across %d scans in %v\n",
		len(records), len(solutions), elapsed.Round(time.Millisecond))
}

func batchIDFromPath(path string) string {
	base := path
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		base = base[idx+1:]
	}
	return strings.TrimSuffix(base, ".yaml")
}

// dispatchConfig merges config-file settings with command flags; a
// flag the user set wins.
func dispatchConfig(cmd *cobra.Command) types.DispatchConfig {
	cfg := types.DispatchConfig{
		Workers:                   viper.GetInt("dispatch.workers"),
		InputQueueSize:            viper.GetInt("dispatch.input_queue_size"),
		OutputQueueSize:           viper.GetInt("dispatch.output_queue_size"),
		PollInterval:              viper.GetDuration("dispatch.poll_interval"),
		WorkerPollInterval:        viper.GetDuration("dispatch.worker_poll_interval"),
		PostSearchTrailingTimeout: viper.GetInt("dispatch.post_search_trailing_timeout"),
		ChildFailureTimeout:       viper.GetInt("dispatch.child_failure_timeout"),
		JoinTimeout:               viper.GetDuration("dispatch.join_timeout"),
	}
	if cmd.Flags().Changed("workers") || cfg.Workers == 0 {
		if workers, err := cmd.Flags().GetInt("workers"); err == nil {
			cfg.Workers = workers
		}
	}
	return cfg
}

func scoringConfig(cmd *cobra.Command) types.ScoringConfig {
	cfg := types.ScoringConfig{
		Tolerance: viper.GetFloat64("scoring.tolerance"),
	}
	if cmd.Flags().Changed("tolerance") {
		if tol, err := cmd.Flags().GetFloat64("tolerance"); err == nil {
			cfg.Tolerance = tol
		}
	}
	return cfg
}

func init() {
	batchCmd.Flags().String("manifest", "", "path to the batch manifest YAML")
	batchCmd.Flags().Int("workers", 3, "number of worker goroutines (0 forces the synchronous fallback path)")
	batchCmd.Flags().Float64("tolerance", 0, "fragment matching tolerance in m/z (0 = configured default)")
	batchCmd.Flags().String("db", "", "SQLite database to persist matches to")
	batchCmd.Flags().Bool("json", false, "emit the match summary as JSON")

	rootCmd.AddCommand(batchCmd)
}
