package cli

import (
	"github.com/spf13/cobra"

	"github.com/custodia-labs/ferry/internal/core/domain"
)

var versionProtocolOnly bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print ferry and transfer protocol versions",
	Long: `Prints the ferry build version and the transfer protocol version it
speaks. Receivers record the sender's protocol version on every transfer.

With --protocol only the protocol version is printed.`,
	Args: cobra.NoArgs,
	Run:  runVersion,
}

func init() {
	versionCmd.Flags().BoolVar(&versionProtocolOnly, "protocol", false, "Print only the protocol version")
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, _ []string) {
	if versionProtocolOnly {
		cmd.Println(domain.CurrentVersion)
		return
	}
	cmd.Printf("ferry %s\n", version)
	cmd.Printf("  protocol: %s\n", domain.CurrentVersion)
	cmd.Printf("  manifest: jsonl\n")
}
