// mfem-driver runs one finite element solve job: it loads a JSON job
// description, dispatches to the configured physics solver, and writes
// summary, result, and VTK output files.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/notargets/mfem-driver/driver"
)

var rootCmd = &cobra.Command{
	Use:           "mfem-driver",
	Short:         "Run one finite element solve job from a JSON input file",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runJob,
}

func init() {
	rootCmd.Flags().String("input", "", "Path to the job input JSON")
	rootCmd.Flags().String("result", "", "Path for the job result JSON")
	rootCmd.Flags().String("summary", "", "Path for the job summary JSON")
	rootCmd.Flags().String("vtk", "", "Path for the VTK solution file")
	rootCmd.Flags().String("log-level", "error", "Log verbosity: debug, info, warn, or error")
}

func requireFlag(cmd *cobra.Command, name string) (string, error) {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		return "", fmt.Errorf("Missing required flag: --%s", name)
	}
	return v, nil
}

func logLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("--log-level must be debug, info, warn, or error")
}

func runJob(cmd *cobra.Command, _ []string) error {
	input, err := requireFlag(cmd, "input")
	if err != nil {
		return err
	}
	result, err := requireFlag(cmd, "result")
	if err != nil {
		return err
	}
	summary, err := requireFlag(cmd, "summary")
	if err != nil {
		return err
	}
	vtk, err := requireFlag(cmd, "vtk")
	if err != nil {
		return err
	}
	levelName, _ := cmd.Flags().GetString("log-level")
	level, err := logLevel(levelName)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	canonical, err := driver.Run(driver.Args{
		InputPath:   input,
		ResultPath:  result,
		SummaryPath: summary,
		VTKPath:     vtk,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "mfem-driver completed %s solve.\n", canonical)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mfem-driver error: %v\n", err)
		os.Exit(1)
	}
}
