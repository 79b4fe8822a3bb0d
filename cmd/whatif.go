package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/underwriter/internal/recalc"
	"github.com/sells-group/underwriter/internal/report"
)

// whatIf loads the deal and environment shared by the what-if commands.
func whatIf(cmd *cobra.Command, path string) (*appEnv, recalc.Request, error) {
	deal, err := loadDeal(path)
	if err != nil {
		return nil, recalc.Request{}, err
	}
	sets, _ := cmd.Flags().GetStringSlice("set")
	req, err := deal.request(sets)
	if err != nil {
		return nil, recalc.Request{}, err
	}
	env, err := initEnv(cmd.Context(), "recalc")
	if err != nil {
		return nil, recalc.Request{}, err
	}
	return env, req, nil
}

// -- recalc --

var recalcCmd = &cobra.Command{
	Use:   "recalc <deal-file>",
	Short: "Recalculate value and show parameter provenance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, req, err := whatIf(cmd, args[0])
		if err != nil {
			return err
		}
		defer env.Close()

		entry, err := env.Recalc.Recalculate(cmd.Context(), req)
		if err != nil {
			return eris.Wrap(err, "recalc")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, entry)
		}

		v := entry.Valuation.Result
		fmt.Fprintf(os.Stdout, "Value: %s (%s confidence)\n", report.Currency(v.ReconciledValue), v.Confidence)
		fmt.Fprintf(os.Stdout, "Range: %s to %s\n", report.Currency(v.ValueLow), report.Currency(v.ValueHigh))
		fmt.Fprintf(os.Stdout, "Computed in %s (cached: %t)\n\n", entry.Duration, entry.Cached)
		return report.WriteParameters(os.Stdout, entry.Parameters)
	},
}

// -- sensitivity --

var sensitivityCmd = &cobra.Command{
	Use:   "sensitivity <deal-file>",
	Short: "Sweep one parameter and show the value response",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		param, _ := cmd.Flags().GetString("param")
		if param == "" {
			return eris.New("--param is required")
		}
		sweep := recalc.Sweep{Param: param}
		sweep.Min, _ = cmd.Flags().GetFloat64("min")
		sweep.Max, _ = cmd.Flags().GetFloat64("max")
		sweep.Steps, _ = cmd.Flags().GetInt("steps")
		sweep.Values, _ = cmd.Flags().GetFloat64Slice("values")

		env, req, err := whatIf(cmd, args[0])
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Recalc.Sensitivity(cmd.Context(), req, sweep)
		if err != nil {
			return eris.Wrap(err, "sensitivity")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, res)
		}
		return report.WriteSensitivity(os.Stdout, res)
	},
}

// -- tornado --

var tornadoCmd = &cobra.Command{
	Use:   "tornado <deal-file>",
	Short: "Rank parameters by value swing",
	Long:  "Moves each --param between a low and high input (10% either side of its effective value by default) and ranks them by the resulting value swing.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		names, _ := cmd.Flags().GetStringSlice("param")
		inputs, err := tornadoInputs(names)
		if err != nil {
			return err
		}

		env, req, err := whatIf(cmd, args[0])
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Recalc.Tornado(cmd.Context(), req, inputs)
		if err != nil {
			return eris.Wrap(err, "tornado")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, res)
		}
		return report.WriteTornado(os.Stdout, res)
	},
}

// tornadoInputs parses "param" or "param=low:high" flags.
func tornadoInputs(names []string) ([]recalc.TornadoInput, error) {
	if len(names) == 0 {
		return nil, eris.New("at least one --param is required")
	}
	out := make([]recalc.TornadoInput, 0, len(names))
	for _, n := range names {
		param, bounds, ok := strings.Cut(n, "=")
		in := recalc.TornadoInput{Param: strings.TrimSpace(param)}
		if ok {
			lo, hi, ok := strings.Cut(bounds, ":")
			if !ok {
				return nil, eris.Errorf("invalid --param %q, want param=low:high", n)
			}
			var err error
			if in.Low, err = cast.ToFloat64E(strings.TrimSpace(lo)); err != nil {
				return nil, eris.Wrapf(err, "invalid low bound in %q", n)
			}
			if in.High, err = cast.ToFloat64E(strings.TrimSpace(hi)); err != nil {
				return nil, eris.Wrapf(err, "invalid high bound in %q", n)
			}
		}
		out = append(out, in)
	}
	return out, nil
}

// -- scenarios --

var scenariosCmd = &cobra.Command{
	Use:   "scenarios <deal-file>",
	Short: "Compare named override sets against the baseline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		data, err := os.ReadFile(file)
		if err != nil {
			return eris.Wrap(err, "read scenarios file")
		}
		scenarios, err := recalc.LoadScenarios(data)
		if err != nil {
			return err
		}

		env, req, err := whatIf(cmd, args[0])
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Recalc.CompareScenarios(cmd.Context(), req, scenarios)
		if err != nil {
			return eris.Wrap(err, "scenarios")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, res)
		}
		return report.WriteScenarios(os.Stdout, res)
	},
}

// -- montecarlo --

var monteCarloCmd = &cobra.Command{
	Use:   "montecarlo <deal-file>",
	Short: "Simulate the value distribution over uncertain parameters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		sim, err := loadSimulation(file)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("iterations") {
			sim.Iterations, _ = cmd.Flags().GetInt("iterations")
		}
		if cmd.Flags().Changed("seed") {
			sim.Seed, _ = cmd.Flags().GetUint64("seed")
		}

		env, req, err := whatIf(cmd, args[0])
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Recalc.MonteCarlo(cmd.Context(), req, sim)
		if err != nil {
			return eris.Wrap(err, "monte carlo")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, res)
		}
		return report.WriteMonteCarlo(os.Stdout, res)
	},
}

func loadSimulation(path string) (recalc.Simulation, error) {
	var sim recalc.Simulation
	data, err := os.ReadFile(path)
	if err != nil {
		return sim, eris.Wrap(err, "read simulation file")
	}
	if err := yaml.Unmarshal(data, &sim); err != nil {
		return sim, eris.Wrapf(err, "parse %s", path)
	}
	if len(sim.Variables) == 0 {
		return sim, eris.Errorf("%s: no variables", path)
	}
	return sim, nil
}

// -- tune --

var tuneCmd = &cobra.Command{
	Use:   "tune <deal-file>",
	Short: "Adjust parameters interactively with debounced recalculation",
	Long: `Reads "param=value" lines from stdin and recalculates as they arrive.
Rapid changes are debounced; "reset" restores the slider defaults.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		names, _ := cmd.Flags().GetStringSlice("param")
		if len(names) == 0 {
			return eris.New("at least one --param is required")
		}
		rangePct, _ := cmd.Flags().GetFloat64("range")
		steps, _ := cmd.Flags().GetInt("steps")

		ctx := cmd.Context()
		env, req, err := whatIf(cmd, args[0])
		if err != nil {
			return err
		}
		defer env.Close()

		base, err := env.Resolver.ResolveWithInputs(ctx, req.DealID, req.Inputs)
		if err != nil {
			return eris.Wrap(err, "resolve parameters")
		}
		sliders := make([]recalc.Slider, 0, len(names))
		for _, n := range names {
			s, err := recalc.SliderFor(base.Settings, n, rangePct, steps)
			if err != nil {
				return err
			}
			sliders = append(sliders, s)
			fmt.Fprintf(os.Stdout, "%s: %s to %s (default %s)\n", s.Param,
				report.Number(s.Min, 4), report.Number(s.Max, 4), report.Number(s.Default, 4))
		}

		var mu sync.Mutex
		calc := recalc.NewDebouncedEngine(ctx, env.Recalc, func(r recalc.Result) {
			mu.Lock()
			defer mu.Unlock()
			if r.Err != nil {
				fmt.Fprintf(os.Stderr, "#%d failed: %v\n", r.Seq, r.Err)
				return
			}
			v := r.Entry.Valuation.Result
			fmt.Fprintf(os.Stdout, "#%d %s (%s to %s)\n", r.Seq,
				report.Currency(v.ReconciledValue), report.Currency(v.ValueLow), report.Currency(v.ValueHigh))
		})
		defer calc.Stop()

		sc, err := recalc.NewSliderCalculator(calc, req, sliders)
		if err != nil {
			return err
		}

		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case line == "":
				continue
			case line == "reset":
				sc.Reset()
				continue
			}
			param, raw, ok := strings.Cut(line, "=")
			if !ok {
				fmt.Fprintf(os.Stderr, "want param=value, got %q\n", line)
				continue
			}
			v, err := cast.ToFloat64E(strings.TrimSpace(raw))
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid value %q\n", raw)
				continue
			}
			if _, _, err := sc.Set(strings.TrimSpace(param), v); err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
			}
		}
		calc.Flush()
		return eris.Wrap(scanner.Err(), "read stdin")
	},
}

func init() {
	for _, c := range []*cobra.Command{recalcCmd, sensitivityCmd, tornadoCmd, scenariosCmd, monteCarloCmd} {
		addOutputFlags(c)
	}
	tuneCmd.Flags().StringSlice("set", nil, "session override param=value (repeatable)")

	sensitivityCmd.Flags().String("param", "", "parameter path to sweep, e.g. cap_rate.base_rate.snf")
	sensitivityCmd.Flags().Float64("min", 0, "lowest value (default: 20% below the effective value)")
	sensitivityCmd.Flags().Float64("max", 0, "highest value (default: 20% above the effective value)")
	sensitivityCmd.Flags().Int("steps", 0, "number of intervals between min and max")
	sensitivityCmd.Flags().Float64Slice("values", nil, "explicit values to evaluate instead of a range")

	tornadoCmd.Flags().StringSlice("param", nil, "parameter path, optionally param=low:high (repeatable)")

	scenariosCmd.Flags().StringP("file", "f", "", "scenarios YAML file")
	_ = scenariosCmd.MarkFlagRequired("file")

	monteCarloCmd.Flags().StringP("file", "f", "", "simulation YAML file")
	monteCarloCmd.Flags().Int("iterations", 0, "override the number of iterations")
	monteCarloCmd.Flags().Uint64("seed", 0, "random seed for a reproducible run")
	_ = monteCarloCmd.MarkFlagRequired("file")

	tuneCmd.Flags().StringSlice("param", nil, "parameter path to expose as a slider (repeatable)")
	tuneCmd.Flags().Float64("range", 0.2, "slider range as a fraction around the effective value")
	tuneCmd.Flags().Int("steps", 20, "slider steps across the range")

	rootCmd.AddCommand(recalcCmd, sensitivityCmd, tornadoCmd, scenariosCmd, monteCarloCmd, tuneCmd)
}
