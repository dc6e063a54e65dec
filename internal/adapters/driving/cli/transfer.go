package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/ferry/internal/adapters/driven/content/filesystem"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <target>",
	Short: "Check that a target is reachable",
	Long:  `Calls the target's test endpoint with the configured credentials.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

var statusCmd = &cobra.Command{
	Use:   "status <target> <transfer-id>",
	Short: "Show the progress of a transfer",
	Args:  cobra.ExactArgs(2),
	RunE:  runStatus,
}

var reportCmd = &cobra.Command{
	Use:   "report <target> <transfer-id>",
	Short: "Print the receiver's report for a transfer",
	Long:  `Prints the receiver's transfer log, one JSON object per line.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runReport,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reportCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	s, err := settings()
	if err != nil {
		return err
	}
	if err := newTransferService(s, &filesystem.Snapshot{}).Verify(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("verify failed: %w", err)
	}
	cmd.Printf("Target %s is reachable.\n", args[0])
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := settings()
	if err != nil {
		return err
	}
	p, err := newTransferService(s, &filesystem.Snapshot{}).Status(cmd.Context(), args[0], args[1])
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	cmd.Printf("Transfer: %s\n", args[1])
	cmd.Printf("  Status:   %s\n", p.Status)
	cmd.Printf("  Progress: %d/%d\n", p.CurrentPosition, p.EndPosition)
	if p.Error != nil {
		cmd.Printf("  Error:    %s\n", p.Error.Error())
	}
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	s, err := settings()
	if err != nil {
		return err
	}
	if err := newTransferService(s, &filesystem.Snapshot{}).Report(cmd.Context(), args[0], args[1], cmd.OutOrStdout()); err != nil {
		return fmt.Errorf("failed to get report: %w", err)
	}
	return nil
}
