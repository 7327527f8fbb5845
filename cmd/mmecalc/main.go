package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/mmecalc/internal/config"
	"github.com/ehr/mmecalc/internal/domain/calc"
	"github.com/ehr/mmecalc/internal/domain/conversion"
	"github.com/ehr/mmecalc/internal/domain/methadone"
	"github.com/ehr/mmecalc/internal/domain/patient"
	"github.com/ehr/mmecalc/internal/domain/taper"
	"github.com/ehr/mmecalc/internal/platform/refdata"
	"github.com/ehr/mmecalc/internal/platform/telemetry"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "mmecalc",
		Short:         "Opioid MME calculator, rotation and taper planner",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().String("reference-data", "", "Path to a reference data YAML bundle (default: embedded)")
	rootCmd.PersistentFlags().Bool("metrics", false, "Print pass metrics in text exposition format after the run")

	rootCmd.AddCommand(calcCmd())
	rootCmd.AddCommand(taperCmd())
	rootCmd.AddCommand(methadoneCmd())
	rootCmd.AddCommand(factorsCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

// app is what every subcommand needs: config, logger, the calculator and the
// metrics provider.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	calc    *calc.Calculator
	metrics *telemetry.Provider
	out     io.Writer
	showMet bool
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	logger = logger.Level(cfg.Level())

	path := cfg.ReferenceDataPath
	if p, _ := cmd.Flags().GetString("reference-data"); p != "" {
		path = p
	}
	bundle, err := refdata.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("version", bundle.Version).Str("path", path).Msg("reference data loaded")

	metrics := telemetry.NewProvider(telemetry.Config{
		ServiceName:    "mmecalc",
		ServiceVersion: version,
		Environment:    cfg.Env,
	})
	showMet, _ := cmd.Flags().GetBool("metrics")
	return &app{
		cfg:     cfg,
		logger:  logger,
		calc:    calc.NewCalculator(bundle, logger),
		metrics: metrics,
		out:     cmd.OutOrStdout(),
		showMet: showMet || cfg.MetricsEnabled,
	}, nil
}

// settings builds calc.Settings from the configured defaults.
func (a *app) settings() (calc.Settings, error) {
	drug, err := conversion.ParseDrugID(a.cfg.TaperDrug)
	if err != nil {
		return calc.Settings{}, fmt.Errorf("TAPER_DRUG: %w", err)
	}
	return calc.Settings{
		ReductionPercent:   a.cfg.DefaultReductionPercent,
		TaperRate:          a.cfg.TaperRate,
		TaperDuration:      taper.Duration(a.cfg.TaperDuration),
		TaperDrug:          drug,
		MethadoneInduction: methadone.InductionMethod(a.cfg.MethadoneInduction),
	}, nil
}

func (a *app) finish() error {
	if !a.showMet {
		return nil
	}
	fmt.Fprintln(a.out)
	return a.metrics.WriteText(a.out)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// -- calc --

func calcCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calc",
		Short: "Run a full calculation pass over a scenario file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("scenario")
			if path == "" {
				return fmt.Errorf("--scenario is required")
			}
			asJSON, _ := cmd.Flags().GetBool("json")

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defaults, err := a.settings()
			if err != nil {
				return err
			}
			sc, err := loadScenario(path)
			if err != nil {
				return err
			}
			state, err := sc.State(defaults)
			if err != nil {
				return err
			}

			// Start from an empty session and load the scenario as one batch
			// so the profile produces a single terminal pass.
			session := calc.NewSession(a.calc, calc.State{Patient: patient.Default(), Settings: defaults}, a.metrics, a.logger)
			snap, err := session.Begin().
				SetPatient(state.Patient).
				SetSettings(state.Settings).
				SetDoses(state.Doses).
				Commit()
			if err != nil {
				return err
			}

			if asJSON {
				if err := writeJSON(a.out, snap); err != nil {
					return err
				}
			} else {
				renderSnapshot(a.out, snap)
			}
			return a.finish()
		},
	}
	cmd.Flags().String("scenario", "", "Path to a scenario YAML file")
	cmd.Flags().Bool("json", false, "Print the snapshot as JSON")
	return cmd
}

// -- taper --

func taperCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taper",
		Short: "Generate a taper schedule from a starting MME",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			st, err := a.settings()
			if err != nil {
				return err
			}

			start, _ := cmd.Flags().GetFloat64("start")
			if cmd.Flags().Changed("rate") {
				st.TaperRate, _ = cmd.Flags().GetFloat64("rate")
			}
			if cmd.Flags().Changed("duration") {
				d, _ := cmd.Flags().GetString("duration")
				st.TaperDuration = taper.Duration(d)
			}
			if cmd.Flags().Changed("drug") {
				id, _ := cmd.Flags().GetString("drug")
				if st.TaperDrug, err = conversion.ParseDrugID(id); err != nil {
					return err
				}
			}
			if err := st.Validate(); err != nil {
				return err
			}

			sched := a.calc.Taper(start, st, patient.Default())
			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				if err := writeJSON(a.out, sched); err != nil {
					return err
				}
			} else {
				renderTaper(a.out, sched, st.TaperDrug)
			}
			return a.finish()
		},
	}
	cmd.Flags().Float64("start", 0, "Starting total MME/day")
	cmd.Flags().Float64("rate", 0.10, "Reduction rate per period (0-1)")
	cmd.Flags().String("duration", "short", "short (weekly) or long (monthly)")
	cmd.Flags().String("drug", "oxycodone", "Drug id to express doses in")
	cmd.Flags().Bool("json", false, "Print the schedule as JSON")
	return cmd
}

// -- methadone --

func methadoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "methadone",
		Short: "Convert a daily MME total to a methadone regimen",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			total, _ := cmd.Flags().GetFloat64("mme")
			age, _ := cmd.Flags().GetInt("age")
			method := methadone.InductionMethod(a.cfg.MethadoneInduction)
			if cmd.Flags().Changed("induction") {
				m, _ := cmd.Flags().GetString("induction")
				method = methadone.InductionMethod(m)
			}
			if !method.Valid() {
				return fmt.Errorf("--induction must be \"rapid\" or \"stepwise\", got %q", method)
			}

			res := a.calc.Methadone(total, age, method)
			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				if err := writeJSON(a.out, res); err != nil {
					return err
				}
			} else {
				renderMethadone(a.out, res)
			}
			return a.finish()
		},
	}
	cmd.Flags().Float64("mme", 0, "Total MME/day")
	cmd.Flags().Int("age", 45, "Patient age in years")
	cmd.Flags().String("induction", "rapid", "rapid or stepwise")
	cmd.Flags().Bool("json", false, "Print the result as JSON")
	return cmd
}

// -- factors --

func factorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "factors",
		Short: "List the conversion factor catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			renderFactors(a.out, a.calc.Version(), a.calc.Factors().Entries())
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mmecalc %s (reference data %s)\n", version, refdata.Default().Version)
		},
	}
}
