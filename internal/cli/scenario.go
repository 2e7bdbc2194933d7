package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/roomtodo/internal/harness"
)

// ScenarioOptions holds flags for the scenario command.
type ScenarioOptions struct {
	*RootOptions
	Update    bool   // regenerate golden files
	Filter    string // scenario filter (glob pattern)
	GoldenDir string // defaults to <scenarios-dir>/golden
}

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// ScenarioReport is the JSON output of the scenario command.
type ScenarioReport struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenario <scenarios-dir>",
		Short: "Run multi-user scenarios against an in-process store",
		Long: `Run every scenario YAML file in a directory. Each actor in a scenario
gets its own sync core over a shared throwaway database; the final views
are compared with golden snapshots when one exists.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  roomtodo scenario ./scenarios
  roomtodo scenario ./scenarios --filter "room_*"
  roomtodo scenario ./scenarios --update`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden", "", "golden snapshot directory (default <scenarios-dir>/golden)")

	return cmd
}

func runScenarios(opts *ScenarioOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return formatter.Fail(NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir)))
	}
	if opts.GoldenDir == "" {
		opts.GoldenDir = filepath.Join(dir, "golden")
	}

	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "failed to find scenarios", err))
	}

	report := ScenarioReport{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	for _, file := range files {
		res := runScenarioFile(opts, file, cmd)
		report.Scenarios = append(report.Scenarios, res)
		if res.Pass {
			report.Passed++
		} else {
			report.Failed++
		}
	}

	if err := formatter.Render(report, func(w io.Writer) { writeScenarioReport(w, report) }); err != nil {
		return err
	}
	if report.Failed > 0 {
		return &ExitError{
			Code:     ExitFailure,
			Message:  fmt.Sprintf("%d scenario(s) failed", report.Failed),
			Reported: true,
		}
	}
	return nil
}

// findScenarioFiles lists the YAML files directly in dir whose base name
// matches filter.
func findScenarioFiles(dir, filter string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(e.Name(), ext))
			if err != nil {
				return nil, fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				continue
			}
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

func runScenarioFile(opts *ScenarioOptions, file string, cmd *cobra.Command) ScenarioResult {
	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return ScenarioResult{
			Name:   filepath.Base(file),
			Errors: []string{fmt.Sprintf("failed to load scenario: %v", err)},
		}
	}
	out := ScenarioResult{Name: scenario.Name}

	// Core logs are noise unless asked for.
	var runOpts []harness.Option
	if opts.Verbose {
		runOpts = append(runOpts, harness.WithLogger(opts.Logger))
	}
	result, err := harness.Run(cmd.Context(), scenario, runOpts...)
	if err != nil {
		out.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return out
	}
	out.Errors = result.Errors

	data, err := harness.MarshalSnapshot(scenario.Name, result)
	if err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("failed to marshal snapshot: %v", err))
		return out
	}

	golden := filepath.Join(opts.GoldenDir, scenario.Name+".golden")
	if opts.Update {
		if err := os.MkdirAll(opts.GoldenDir, 0o755); err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("failed to create golden directory: %v", err))
		} else if err := os.WriteFile(golden, data, 0o644); err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("failed to write golden file: %v", err))
		}
	} else if want, err := os.ReadFile(golden); err == nil {
		if !bytes.Equal(want, data) {
			out.Errors = append(out.Errors, "snapshot does not match golden file (run with --update to regenerate)")
		}
	} else if !os.IsNotExist(err) {
		out.Errors = append(out.Errors, fmt.Sprintf("failed to read golden file: %v", err))
	}

	out.Pass = len(out.Errors) == 0
	return out
}

func writeScenarioReport(w io.Writer, r ScenarioReport) {
	if r.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}
	for _, s := range r.Scenarios {
		if s.Pass {
			fmt.Fprintf(w, "ok    %s\n", s.Name)
			continue
		}
		fmt.Fprintf(w, "FAIL  %s\n", s.Name)
		for _, e := range s.Errors {
			fmt.Fprintf(w, "      %s\n", strings.ReplaceAll(strings.TrimRight(e, "\n"), "\n", "\n      "))
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", r.Passed, r.Failed, r.Total)
}
