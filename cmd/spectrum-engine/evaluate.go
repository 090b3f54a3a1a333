// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/spectrum-engine/internal/batchfile"
	"github.com/pdiddy/spectrum-engine/internal/dispatch"
	"github.com/pdiddy/spectrum-engine/internal/scoring"
	"github.com/pdiddy/spectrum-engine/pkg/types"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score a single (hit, scan) pairing from a manifest",
	Long: `Evaluate scores one candidate hit against one scan through the same
scoring entry point batch workers use, without running a full batch. The
pairing is looked up in the manifest; the modification defaults to the one
the manifest assigns, or Unmodified.`,
	RunE: runEvaluate,
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	manifestPath, _ := cmd.Flags().GetString("manifest")
	if manifestPath == "" {
		return fmt.Errorf("a batch manifest is required: use --manifest")
	}
	hitID, _ := cmd.Flags().GetInt64("hit")
	scanID, _ := cmd.Flags().GetString("scan")
	if scanID == "" {
		return fmt.Errorf("a scan id is required: use --scan")
	}

	batch, err := batchfile.Load(manifestPath)
	if err != nil {
		return err
	}
	target, ok := batch.HitMap[hitID]
	if !ok {
		return fmt.Errorf("hit %d not found in manifest", hitID)
	}
	scan, ok := batch.ScanMap[scanID]
	if !ok {
		return fmt.Errorf("scan %q not found in manifest", scanID)
	}

	modName, _ := cmd.Flags().GetString("modification")
	if modName == "" {
		modName = batch.ScanHitTypeMap[dispatch.HitScanKey{HitID: hitID, ScanID: scanID}]
	}
	if modName == "" {
		modName = types.Unmodified.Name
	}
	mod, ok := batch.Modifications[modName]
	if !ok {
		return fmt.Errorf("modification %q not found in manifest", modName)
	}

	cfg := dispatchConfig(cmd)
	cfg.Workers = 1
	scorer := scoring.NewPeakScorer(scoringConfig(cmd))

	d := dispatch.New(scorer, batch.Modifications, types.EvalArgs{}, cfg)
	d.SpawnPool(batch.ScanMap)
	defer d.ClearPool()

	result, err := d.Evaluate(scan, target, mod, types.EvalArgs{})
	if err != nil {
		return err
	}
	fmt.Printf("%s vs %s (%s): %.3f\n", scanID, describeTarget(result.Target), modName, result.Score)
	return nil
}

func describeTarget(target types.Structure) string {
	if c, ok := target.(*types.Candidate); ok {
		return c.Name
	}
	return fmt.Sprintf("hit %d", target.ID())
}

func init() {
	evaluateCmd.Flags().String("manifest", "", "path to the batch manifest YAML")
	evaluateCmd.Flags().Int64("hit", 0, "hit id to score")
	evaluateCmd.Flags().String("scan", "", "scan id to score against")
	evaluateCmd.Flags().String("modification", "", "modification name (default: the manifest's assignment)")
	evaluateCmd.Flags().Float64("tolerance", 0, "fragment matching tolerance in m/z (0 = configured default)")

	rootCmd.AddCommand(evaluateCmd)
}
