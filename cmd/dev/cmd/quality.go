package cmd

import (
	"fmt"
	"os"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

// hardwareEnv must be set for integration tests; they need a mounted board.
const hardwareEnv = "TIMESWIPE_HW"

func TestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Run unit tests (driver, queues, resampler, board link)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := test.Test(); err != nil {
				return fmt.Errorf("failed to run tests: %w", err)
			}
			return nil
		},
	}
}

func LintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Run linters",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := test.Lint(); err != nil {
				return fmt.Errorf("failed to run linting: %w", err)
			}
			return nil
		},
	}
}

func IntegrationTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "integration-test",
		Short: "Run integration tests against a mounted board",
		Long:  "Runs the integration test suite. " + hardwareEnv + "=1 must be set to confirm a board is attached.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if os.Getenv(hardwareEnv) == "" {
				return fmt.Errorf("%s is not set; refusing to drive hardware", hardwareEnv)
			}
			if err := test.Integ(); err != nil {
				return fmt.Errorf("failed to run integration testing: %w", err)
			}
			return nil
		},
	}
}
