package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/san-kum/ilqgmpc/internal/config"
	"github.com/san-kum/ilqgmpc/internal/experiment"
	"github.com/san-kum/ilqgmpc/internal/logging"
	"github.com/san-kum/ilqgmpc/internal/mpc"
	"github.com/san-kum/ilqgmpc/internal/storage"
	"github.com/san-kum/ilqgmpc/internal/viz"
)

var (
	dataDir     string
	logLevel    string
	development bool

	configFile  string
	preset      string
	model       string
	seed        int64
	maxCycles   int
	noise       float64
	mode        string
	coldStart   bool
	plot        bool
	noSave      bool
	metricsFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "ilqgmpc",
		Short:         "iLQG trajectory optimization and receding-horizon MPC",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".ilqgmpc", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")
	rootCmd.PersistentFlags().BoolVar(&development, "dev", false, "development logging")

	solveCmd := &cobra.Command{
		Use:   "solve",
		Short: "solve the full-horizon problem offline",
		Args:  cobra.NoArgs,
		RunE:  runSolve,
	}
	mpcCmd := &cobra.Command{
		Use:   "mpc",
		Short: "solve offline, then run the noisy MPC loop",
		Args:  cobra.NoArgs,
		RunE:  runMPC,
	}
	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "simulate the plant under the offline policy",
		Args:  cobra.NoArgs,
		RunE:  runSimulate,
	}
	for _, c := range []*cobra.Command{solveCmd, mpcCmd, simulateCmd} {
		addExperimentFlags(c)
	}
	mpcCmd.Flags().IntVar(&maxCycles, "max-cycles", config.DefaultMaxCycles, "maximum MPC cycles")
	mpcCmd.Flags().Float64Var(&noise, "noise", config.DefaultNoise, "measurement noise scale")
	mpcCmd.Flags().StringVar(&mode, "mode", "", "mpc mode (fixed_final_time, fixed_final_time_with_min_horizon, constant_receding_horizon, receding_horizon_with_fixed_final_time)")
	mpcCmd.Flags().BoolVar(&coldStart, "cold-start", false, "solve every cycle from a zero policy")
	mpcCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write prometheus metrics to this file")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list saved runs",
		RunE:  listRuns,
	}
	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot the state trajectory of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "export run trajectory to CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCSV,
	}
	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run data to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}
	presetsCmd := &cobra.Command{
		Use:   "presets [model]",
		Short: "list available presets",
		Args:  cobra.MaximumNArgs(1),
		RunE:  listPresets,
	}

	rootCmd.AddCommand(solveCmd, mpcCmd, simulateCmd, listCmd, plotCmd, exportCSVCmd, exportJSONCmd, presetsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addExperimentFlags(c *cobra.Command) {
	c.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	c.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	c.Flags().StringVar(&model, "model", config.DefaultModel, "model")
	c.Flags().Int64Var(&seed, "seed", 1, "random seed")
	c.Flags().BoolVar(&plot, "plot", false, "plot the resulting trajectory")
	c.Flags().BoolVar(&noSave, "no-save", false, "do not save the run")
}

// loadConfig applies, in order: defaults, preset, config file, flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(model, preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(model))
		}
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("model") {
		cfg.Model = model
	}
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("max-cycles") {
		cfg.Loop.MaxCycles = maxCycles
	}
	if flags.Changed("noise") {
		cfg.Loop.Noise = noise
	}
	if flags.Changed("mode") {
		m, err := mpc.ParseMode(mode)
		if err != nil {
			return nil, err
		}
		cfg.MPC.Mode = m
	}
	if flags.Changed("cold-start") {
		cfg.MPC.ColdStart = coldStart
	}
	return cfg, cfg.Validate()
}

func newExperiment(cmd *cobra.Command, opts ...experiment.Option) (*experiment.Experiment, *config.Config, *zap.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := logging.New(logLevel, development)
	if err != nil {
		return nil, nil, nil, err
	}
	exp, err := experiment.New(cfg, append(opts, experiment.WithLogger(logger))...)
	if err != nil {
		logger.Sync()
		return nil, nil, nil, err
	}
	return exp, cfg, logger, nil
}

func saveRun(meta storage.RunMetadata, trace storage.Trace, cycles []storage.CycleRecord) error {
	if noSave {
		return nil
	}
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	runID, err := st.Save(meta, trace, cycles)
	if err != nil {
		return err
	}
	fmt.Printf("run id: %s\n", runID)
	return nil
}

func baseMetadata(kind string, cfg *config.Config) storage.RunMetadata {
	return storage.RunMetadata{
		Kind:        kind,
		Model:       cfg.Model,
		Seed:        cfg.Seed,
		Dt:          cfg.ILQG.Dt,
		TimeHorizon: cfg.TimeHorizon,
		Integrator:  cfg.ILQG.Integrator,
	}
}

func runSolve(cmd *cobra.Command, args []string) error {
	exp, cfg, logger, err := newExperiment(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	res, err := exp.Solve()
	if err != nil {
		return err
	}

	fmt.Println(solvePanel(cfg, res))
	if plot {
		fmt.Print(viz.PlotStates(cfg.Model, statesOf(res.States)))
	}

	meta := baseMetadata(storage.KindSolve, cfg)
	meta.Status = res.Status.String()
	meta.Iterations = res.Iterations
	meta.Cost = res.Cost
	return saveRun(meta, storage.Trace{Times: res.Times, States: res.States, Controls: res.Controls}, nil)
}

func solvePanel(cfg *config.Config, res *experiment.SolveResult) string {
	return viz.SummaryPanel("iLQG "+cfg.Model, []viz.Row{
		{Label: "status", Value: viz.Status(res.Status.String(), res.Status.Success())},
		viz.R("x0", "%.4f", []float64(res.X0)),
		viz.R("horizon", "%.3fs (%d steps)", cfg.TimeHorizon, res.Policy.Len()),
		viz.R("iterations", "%d", res.Iterations),
		viz.R("cost", "%.6g", res.Cost),
		viz.R("cost history", "%s", viz.Sparkline(res.CostHistory, 30)),
	})
}

func runMPC(cmd *cobra.Command, args []string) error {
	reg := prometheus.NewRegistry()
	exp, cfg, logger, err := newExperiment(cmd, experiment.WithRegisterer(reg))
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := exp.RunMPC(ctx)
	if err != nil {
		return err
	}

	fmt.Println(solvePanel(cfg, res.Offline))
	if err := res.Summary.Print(os.Stdout); err != nil {
		return err
	}
	outcome := viz.Status("horizon reached", res.Failure == nil)
	if res.Failure != nil {
		outcome = viz.Status(res.Failure.Error(), false)
	}
	fmt.Println(viz.SummaryPanel("MPC "+cfg.Model, []viz.Row{
		{Label: "outcome", Value: outcome},
		viz.R("mode", "%s", cfg.MPC.Mode),
		viz.R("cycles", "%d in %v", len(res.Cycles), res.Elapsed),
		viz.R("mean solve", "%v", res.Summary.MeanSolve()),
	}))

	if metricsFile != "" {
		if err := prometheus.WriteToTextfile(metricsFile, reg); err != nil {
			return err
		}
	}

	cycles := make([]storage.CycleRecord, len(res.Cycles))
	trace := storage.Trace{}
	for i, c := range res.Cycles {
		cycles[i] = storage.CycleRecord{
			Index:      c.Index,
			Time:       c.Time,
			PolicyTime: c.PolicyTime,
			State:      c.State,
			Iterations: c.Iterations,
			Success:    c.Success(),
		}
		trace.Times = append(trace.Times, c.Time)
		trace.States = append(trace.States, c.State)
	}
	if plot {
		fmt.Print(viz.PlotStates(cfg.Model, statesOf(trace.States)))
	}

	meta := baseMetadata(storage.KindMPC, cfg)
	meta.Mode = cfg.MPC.Mode.String()
	meta.Status = res.Offline.Status.String()
	meta.Iterations = res.Summary.Iterations
	meta.Summary = &res.Summary
	return saveRun(meta, trace, cycles)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	exp, cfg, logger, err := newExperiment(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	res, err := exp.Solve()
	if err != nil {
		return err
	}
	simRes, simErr := exp.Simulate(context.Background(), res.Policy)
	if simRes == nil {
		return simErr
	}

	rows := []viz.Row{
		{Label: "status", Value: viz.Status("completed", simErr == nil)},
		viz.R("steps", "%d", simRes.StepsTaken),
		viz.R("final state", "%.4f", []float64(simRes.States[len(simRes.States)-1])),
	}
	for _, name := range sortedKeys(simRes.Metrics) {
		rows = append(rows, viz.R(name, "%.6f", simRes.Metrics[name]))
	}
	fmt.Println(viz.SummaryPanel("simulate "+cfg.Model, rows))
	if plot {
		fmt.Print(viz.PlotStates(cfg.Model, statesOf(simRes.States)))
	}

	meta := baseMetadata(storage.KindSimulate, cfg)
	meta.Metrics = simRes.Metrics
	if err := saveRun(meta, storage.TraceFromResult(simRes), nil); err != nil {
		return err
	}
	return simErr
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tMODEL\tTIME\tHORIZON\tDT\tSTATUS")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2fs\t%.4fs\t%s\n",
			run.ID,
			run.Kind,
			run.Model,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.TimeHorizon,
			run.Dt,
			run.Status,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	trace, err := st.LoadTrace(runID)
	if err != nil {
		return err
	}
	if len(trace.States) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("model: %s\n", meta.Model)
	fmt.Printf("samples: %d\n\n", len(trace.States))
	fmt.Print(viz.PlotStates(meta.Model, statesOf(trace.States)))

	if len(trace.Controls) > 0 {
		controls := make([][]float64, len(trace.Controls))
		for i, u := range trace.Controls {
			controls[i] = u
		}
		fmt.Println(viz.PlotSeries(viz.Column(controls, 0), "u0 (control)"))
	}
	return nil
}

func exportCSV(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	trace, err := st.LoadTrace(args[0])
	if err != nil {
		return err
	}
	if len(trace.States) == 0 {
		return fmt.Errorf("no data to export")
	}
	return storage.WriteTraceCSV(os.Stdout, *trace)
}

func exportJSON(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	trace, err := st.LoadTrace(runID)
	if err != nil {
		return err
	}
	cycles, err := st.LoadCycles(runID)
	if err != nil {
		return err
	}
	return storage.ExportJSON(os.Stdout, meta, trace, cycles)
}

func listPresets(cmd *cobra.Command, args []string) error {
	models := config.ListModels()
	if len(args) > 0 {
		models = args
	}
	for _, m := range models {
		presets := config.ListPresets(m)
		if len(presets) == 0 {
			fmt.Printf("no presets for model: %s\n", m)
			continue
		}
		fmt.Printf("presets for %s:\n", m)
		for _, p := range presets {
			fmt.Printf("  %s\n", p)
		}
	}
	return nil
}
