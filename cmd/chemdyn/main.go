package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/san-kum/chemdyn/internal/config"
	"github.com/san-kum/chemdyn/internal/dynamo"
	"github.com/san-kum/chemdyn/internal/experiment"
	"github.com/san-kum/chemdyn/internal/logging"
	"github.com/san-kum/chemdyn/internal/schedule"
	"github.com/san-kum/chemdyn/internal/sim"
	"github.com/san-kum/chemdyn/internal/storage"
	"github.com/san-kum/chemdyn/internal/trajectory"
	"github.com/san-kum/chemdyn/internal/viz"
)

var (
	dataDir  string
	logLevel string
	theme    string

	configFile   string
	preset       string
	systems      int
	engine       string
	strategy     string
	rtol         float64
	atol         float64
	scheduleFile string
	timeUnit     string
	tag          string
	policy       string
	backend      string
	workers      int
	noText       bool
	live         bool

	plotSystem  int
	plotSpecies []string
	plotLinear  bool
	plotHeight  int
	plotWidth   int

	exportOut string
	showJSON  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "chemdyn",
		Short:        "batched stiff integration of chemical networks",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".chemdyn", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "error, warn, info, debug or trace")
	rootCmd.PersistentFlags().StringVar(&theme, "theme", "nebula", "color theme ("+strings.Join(viz.ThemeNames(), ", ")+")")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if !viz.SetTheme(theme) {
			return fmt.Errorf("unknown theme %q", theme)
		}
		return nil
	}

	runCmd := &cobra.Command{
		Use:   "run [network]",
		Short: "integrate a batch of systems over an output schedule",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runBatch,
	}
	runCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml or toml)")
	runCmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	runCmd.Flags().IntVar(&systems, "systems", config.DefaultSystems, "number of systems")
	runCmd.Flags().StringVar(&engine, "engine", "bdf", "engine (bdf, rk45)")
	runCmd.Flags().StringVar(&strategy, "strategy", "auto", "linear solver (auto, dense, sparse, krylov)")
	runCmd.Flags().Float64Var(&rtol, "rtol", sim.DefaultRTol, "relative tolerance")
	runCmd.Flags().Float64Var(&atol, "atol", sim.DefaultATol, "absolute tolerance")
	runCmd.Flags().StringVar(&scheduleFile, "schedule", "", "file of output times, one per line")
	runCmd.Flags().StringVar(&timeUnit, "unit", "yr", "schedule time unit (yr, s)")
	runCmd.Flags().StringVar(&tag, "tag", "", "output file tag")
	runCmd.Flags().StringVar(&policy, "on-failure", "abort", "failure policy (abort, continue, subdivide)")
	runCmd.Flags().StringVar(&backend, "backend", "auto", "compute backend (auto, cpu, serial, cuda)")
	runCmd.Flags().IntVar(&workers, "workers", 0, "worker count, 0 for one per CPU")
	runCmd.Flags().BoolVar(&noText, "no-text", false, "skip the text trajectory")
	runCmd.Flags().BoolVar(&live, "live", false, "show live progress")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	showCmd := &cobra.Command{
		Use:   "show [run_id]",
		Short: "show run metadata and metrics",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}
	showCmd.Flags().BoolVar(&showJSON, "json", false, "print metadata.json")

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot abundances of one system",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().IntVar(&plotSystem, "system", 0, "system index")
	plotCmd.Flags().StringSliceVar(&plotSpecies, "species", nil, "species to plot (default: first six)")
	plotCmd.Flags().BoolVar(&plotLinear, "linear", false, "plot values instead of log10")
	plotCmd.Flags().IntVar(&plotHeight, "height", 12, "chart height")
	plotCmd.Flags().IntVar(&plotWidth, "width", 80, "chart width")

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run trajectory to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}
	exportJSONCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")

	networksCmd := &cobra.Command{
		Use:   "networks",
		Short: "list built-in networks and engines",
		RunE:  listNetworks,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets [network]",
		Short: "list available presets for a network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			presets := config.ListPresets(args[0])
			if len(presets) == 0 {
				fmt.Printf("no presets for network: %s\n", args[0])
				return nil
			}
			fmt.Printf("presets for %s:\n", args[0])
			for _, p := range presets {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, listCmd, showCmd, plotCmd, exportJSONCmd, networksCmd, presetsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig merges preset, config file, positional network and changed
// flags, in that order.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	network := ""
	if len(args) > 0 {
		network = args[0]
	}

	if preset != "" {
		if network == "" {
			return nil, fmt.Errorf("--preset needs a network")
		}
		cfg = config.GetPreset(network, preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(network))
		}
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	if network != "" {
		cfg.Network = network
	}

	flags := cmd.Flags()
	if flags.Changed("systems") {
		cfg.Systems = systems
	}
	if flags.Changed("engine") {
		cfg.Engine = engine
	}
	if flags.Changed("strategy") {
		cfg.Strategy = strategy
	}
	if flags.Changed("rtol") {
		cfg.RTol = rtol
	}
	if flags.Changed("atol") {
		cfg.ATol = atol
	}
	if flags.Changed("schedule") {
		cfg.Schedule.Kind = "external"
		cfg.Schedule.File = scheduleFile
	}
	if flags.Changed("unit") {
		cfg.Schedule.Unit = timeUnit
	}
	if flags.Changed("tag") {
		cfg.Output.Tag = tag
	}
	if flags.Changed("on-failure") {
		cfg.FailurePolicy = policy
	}
	if flags.Changed("backend") {
		cfg.Backend = backend
	}
	if flags.Changed("workers") {
		cfg.Workers = workers
	}
	if noText {
		cfg.Output.Text = false
	}
	if cmd.Flags().Changed("log-level") || cfg.LogLevel == "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	if cfg.Network == "" {
		return fmt.Errorf("no network given")
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	defer st.Close()

	runID, dir, err := st.NewRun(cfg.Network)
	if err != nil {
		return err
	}
	if err := config.Save(filepath.Join(dir, "config.yaml"), cfg); err != nil {
		return err
	}

	var logOut io.Writer = os.Stderr
	if live {
		f, err := os.Create(filepath.Join(dir, "chemdyn.log"))
		if err != nil {
			return err
		}
		defer f.Close()
		logOut = f
	}
	log := logging.NewLogger(cfg.LogLevel, logOut).WithField("run", runID)

	exp := experiment.New(cfg, experiment.NewRegistry(), log)
	if err := exp.Setup(dir); err != nil {
		meta := metadata(runID, cfg, exp, nil, err)
		if serr := st.Save(meta); serr != nil {
			log.WithError(serr).Warn("could not save run metadata")
		}
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var result *sim.Result
	var runErr error
	if live {
		result, runErr = runLive(ctx, exp, cfg)
	} else {
		fmt.Printf("running %s with %d systems...\n", cfg.Network, cfg.Systems)
		result, runErr = exp.Run(ctx)
	}
	if err := exp.Close(); err != nil && runErr == nil {
		runErr = err
	}

	meta := metadata(runID, cfg, exp, result, runErr)
	if err := st.Save(meta); err != nil {
		return err
	}

	fmt.Println(summary(meta))
	if runErr != nil {
		var se *dynamo.StageError
		if errors.As(runErr, &se) {
			fmt.Fprintf(os.Stderr, "aborted at stage %s, system %d\n", se.Stage, se.System)
		}
		return runErr
	}
	return nil
}

// runLive drives the run from a goroutine while the progress view owns the
// terminal. Quitting the view cancels the run.
func runLive(ctx context.Context, exp *experiment.Experiment, cfg *config.Config) (*sim.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unit, _ := cfg.TimeUnit()
	p := tea.NewProgram(viz.NewProgress(cfg.Network, max(exp.Samples()-1, 0), unit, cancel))
	exp.Driver().AddObserver(viz.Feed(p))

	var result *sim.Result
	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		result, runErr = exp.Run(ctx)
		p.Send(viz.DoneMsg{Result: result, Err: runErr})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-done
		return result, err
	}
	<-done
	return result, runErr
}

func metadata(runID string, cfg *config.Config, exp *experiment.Experiment, res *sim.Result, err error) *storage.RunMetadata {
	unit, _ := cfg.TimeUnit()
	meta := &storage.RunMetadata{
		ID:                  runID,
		Network:             cfg.Network,
		Engine:              cfg.Engine,
		Strategy:            cfg.Strategy,
		RTol:                cfg.RTol,
		ATol:                cfg.ATol,
		Systems:             cfg.Systems,
		Layout:              cfg.Layout,
		Tag:                 exp.Tag(),
		TimeUnit:            unit,
		TemperatureFeedback: cfg.TemperatureFeedback,
		Status:              "completed",
	}
	if net := exp.Network(); net != nil {
		meta.Species = net.Species()
		meta.Dim = net.Dim()
	}
	if sess := exp.Session(); sess != nil {
		meta.Strategy = sess.Strategy().String()
	}
	if res != nil {
		meta.Intervals = res.Intervals
		meta.Records = res.Records
		meta.Failures = len(res.Failures)
		meta.Elapsed = res.Elapsed.Seconds()
		meta.Stats = res.Stats
		meta.Metrics = res.Metrics
	}
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		meta.Status = "cancelled"
	case res == nil:
		meta.Status = "failed"
	default:
		meta.Status = "aborted"
	}
	if err != nil {
		meta.Error = err.Error()
	}
	return meta
}

func summary(meta *storage.RunMetadata) string {
	fields := []viz.Field{
		viz.F("run id", meta.ID),
		viz.F("status", meta.Status),
		viz.F("network", meta.Network),
		viz.F("engine", meta.Engine+"/"+meta.Strategy),
		viz.F("systems", meta.Systems),
		viz.F("intervals", meta.Intervals),
		viz.F("records", meta.Records),
		viz.F("failures", meta.Failures),
		viz.F("elapsed (s)", meta.Elapsed),
		viz.F("steps", meta.Stats.Steps),
		viz.F("rejected", meta.Stats.Rejected),
		viz.F("rhs evals", meta.Stats.RHSEvals),
		viz.F("lin iters", meta.Stats.LinIters),
	}
	names := make([]string, 0, len(meta.Metrics))
	for name := range meta.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fields = append(fields, viz.F(name, meta.Metrics[name]))
	}
	return viz.Table(meta.Network, fields)
}

func openStore() (*storage.Store, error) {
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return nil, err
	}
	return st, nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNETWORK\tTIME\tENGINE\tSTRATEGY\tSYSTEMS\tINTERVALS\tFAILURES\tSTATUS")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			run.ID,
			run.Network,
			run.CreatedAt().Format("2006-01-02 15:04:05"),
			run.Engine,
			run.Strategy,
			run.Systems,
			run.Intervals,
			run.Failures,
			run.Status,
		)
	}
	return w.Flush()
}

func showRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	if showJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(meta)
	}
	fmt.Println(summary(meta))
	if meta.Error != "" {
		fmt.Println(viz.Subtle.Render(meta.Error))
	}
	return nil
}

func plotRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, recs, err := st.LoadTrajectory(args[0])
	if err != nil {
		return err
	}

	names := plotSpecies
	if len(names) == 0 {
		names = meta.Species[:min(6, len(meta.Species))]
	}
	opts := viz.PlotOptions{Height: plotHeight, Width: plotWidth, Log: !plotLinear}
	var graph string
	if len(names) == 1 {
		graph, err = plotOne(recs, meta.Species, names[0], opts)
	} else {
		graph, err = viz.PlotTrajectory(recs, meta.Species, plotSystem, names, opts)
	}
	if err != nil {
		return err
	}

	fmt.Printf("run: %s (%s, %d systems)\n\n", meta.ID, meta.Network, meta.Systems)
	fmt.Println(graph)
	fmt.Println(viz.Separator(plotWidth))
	times, _ := trajectory.Series(recs, plotSystem, 0)
	if n := len(times); n > 0 {
		fmt.Println(viz.Subtle.Render(fmt.Sprintf("t = %.4g .. %.4g %s", times[0], times[n-1], unitName(meta.TimeUnit))))
	}
	return nil
}

// plotOne draws a single species of the selected system without a legend.
func plotOne(recs []trajectory.Record, species []string, name string, opts viz.PlotOptions) (string, error) {
	i := len(species)
	if name != "T" {
		i = -1
		for k, s := range species {
			if s == name {
				i = k
			}
		}
		if i < 0 {
			return "", fmt.Errorf("unknown species %q", name)
		}
	}
	_, values := trajectory.Series(recs, plotSystem, i)
	if len(values) == 0 {
		return "", fmt.Errorf("no records for system %d", plotSystem)
	}
	return viz.PlotSeries(values, fmt.Sprintf("%s, system %d", name, plotSystem), opts), nil
}

func exportJSON(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, recs, err := st.LoadTrajectory(args[0])
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	header := trajectory.Header{
		Network:  meta.Network,
		Species:  meta.Species,
		Engine:   meta.Engine,
		Strategy: meta.Strategy,
		Systems:  meta.Systems,
		TimeUnit: unitName(meta.TimeUnit),
		Metrics:  meta.Metrics,
	}
	if err := trajectory.ExportJSON(w, header, recs); err != nil {
		return err
	}
	if exportOut != "" {
		logrus.WithFields(logrus.Fields{"run": meta.ID, "records": len(recs)}).Infof("exported to %s", exportOut)
	}
	return nil
}

func listNetworks(cmd *cobra.Command, args []string) error {
	reg := experiment.NewRegistry()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NETWORK\tSPECIES\tDIM\tPRESETS")
	for _, name := range reg.ListNetworks() {
		net, err := reg.GetNetwork(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%v\n", name, len(net.Species()), net.Dim(), config.ListPresets(name))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nengines: %v\n", reg.ListEngines())
	return nil
}

func unitName(unit float64) string {
	if unit == schedule.Second {
		return "s"
	}
	return "yr"
}
