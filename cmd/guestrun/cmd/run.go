package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/pumpkinos/guestcore"
	"github.com/spf13/cobra"
)

var runOpts struct {
	heap      uint32
	stack     uint32
	batch     int
	strict    bool
	zeroWords bool
	traps     string
	parallel  int
	timeout   time.Duration
	stats     bool
	snapshot  string
	fbWidth   int
	fbHeight  int
}

func init() {
	f := runCmd.Flags()
	f.Uint32Var(&runOpts.heap, "heap", guestcore.DEFAULT_HEAP_SIZE, "guest heap size in bytes")
	f.Uint32Var(&runOpts.stack, "stack", guestcore.DEFAULT_STACK_SIZE, "guest stack size in bytes")
	f.IntVar(&runOpts.batch, "batch", guestcore.DEFAULT_BATCH_SIZE, "instructions per batch between termination checks")
	f.BoolVar(&runOpts.strict, "strict", false, "fail the load when a relocation chain is not fully applied")
	f.BoolVar(&runOpts.zeroWords, "zero-word-xrefs", false, "store zero for 16-bit data xrefs")
	f.StringVarP(&runOpts.traps, "traps", "t", "", "Lua script implementing system traps")
	f.IntVarP(&runOpts.parallel, "parallel", "j", 0, "maximum concurrent launches (0 = all)")
	f.DurationVar(&runOpts.timeout, "timeout", 0, "stop every launch after this long")
	f.BoolVar(&runOpts.stats, "stats", false, "print runtime counters as JSON when done")
	f.StringVar(&runOpts.snapshot, "snapshot", "", "write a PNG of the framebuffer of the first application")
	f.IntVar(&runOpts.fbWidth, "fb-width", guestcore.DEFAULT_SCREEN_WIDTH, "framebuffer width")
	f.IntVar(&runOpts.fbHeight, "fb-height", guestcore.DEFAULT_SCREEN_HEIGHT, "framebuffer height")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run <app.prc>...",
	Short: "Launch one or more applications concurrently",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := baseConfig()
	if err != nil {
		return err
	}
	cfg.HeapSize = runOpts.heap
	cfg.StackSize = runOpts.stack
	cfg.BatchSize = runOpts.batch
	cfg.StrictRelocations = runOpts.strict
	cfg.ZeroWordXrefs = runOpts.zeroWords
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := guestcore.NewLogger(os.Stderr, cfg.LogLevel)

	table := guestcore.NewTrapTable()
	if runOpts.traps != "" {
		lt, err := guestcore.LoadLuaTraps(table, runOpts.traps, log)
		if err != nil {
			return err
		}
		defer lt.Close()
	}

	store, err := openCrashDB()
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}
	sup := guestcore.NewSupervisor(store, guestcore.NewTerminalAlerter(), log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if runOpts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runOpts.timeout)
		defer cancel()
	}

	var mustEnd atomic.Bool
	// The framebuffer sits just below the top of the heap.
	fbSize := runOpts.fbWidth * runOpts.fbHeight * guestcore.SURFACE_BPP
	fbStart := guestcore.GuestAddr(cfg.HeapSize) - guestcore.GuestAddr(fbSize)
	var first *guestcore.FramebufferSurface

	reqs := make([]guestcore.LaunchRequest, 0, len(args))
	for i, path := range args {
		prc, err := guestcore.OpenPRC(path)
		if err != nil {
			return err
		}
		if !prc.IsApplication() {
			log.Infof("guestrun", "%s is type %s, launching anyway", path, guestcore.FourCC(prc.Type))
		}
		surface := guestcore.NewFramebufferSurface(fbStart, runOpts.fbWidth, runOpts.fbHeight)
		if i == 0 {
			first = surface
		}
		reqs = append(reqs, guestcore.LaunchRequest{
			Resources:  prc,
			App:        prc.Identity(),
			LaunchCode: guestcore.SysAppLaunchCmdNormalLaunch,
			State: guestcore.StateOptions{
				Config:  cfg,
				Logger:  log,
				Traps:   table,
				Display: surface,
				MustEnd: &mustEnd,
			},
		})
	}

	go func() {
		<-ctx.Done()
		mustEnd.Store(true)
	}()
	go func() {
		for n := range sup.Notices() {
			log.Errorf("guestrun", "%s crashed with code %d at %s", n.App, n.Code, n.Time.Format(time.RFC3339))
		}
	}()

	results, err := sup.RunAll(ctx, reqs, runOpts.parallel)
	for i, res := range results {
		if res == nil {
			continue
		}
		printResult(cmd, args[i], res)
	}

	if runOpts.snapshot != "" && first != nil && results[0] != nil {
		banner := ""
		if results[0].Crashed {
			banner = results[0].PanicMessage
		}
		if err := writeSnapshot(runOpts.snapshot, first, banner); err != nil {
			return err
		}
	}
	if runOpts.stats {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(guestcore.GetMetrics()); err != nil {
			return err
		}
	}
	return err
}

func printResult(cmd *cobra.Command, path string, res *guestcore.LaunchResult) {
	out := cmd.OutOrStdout()
	if !res.Ran {
		fmt.Fprintf(out, "%s: no entry segment\n", path)
		return
	}
	status := "exited"
	if res.Crashed {
		status = fmt.Sprintf("crashed (%s): %s", res.FaultCode, res.PanicMessage)
	}
	fmt.Fprintf(out, "%s: %s after %d instructions in %s\n", path, status, res.Instructions, res.Duration.Round(time.Microsecond))
	for _, c := range res.Report.Problems() {
		fmt.Fprintf(out, "  relocation: %s\n", c)
	}
	if len(res.Leaks) > 0 {
		fmt.Fprintf(out, "  leaked heap blocks: %v\n", res.Leaks)
	}
}

func writeSnapshot(path string, fb *guestcore.FramebufferSurface, banner string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fb.WritePNG(f, 2, banner); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
