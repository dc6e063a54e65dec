package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var targetCmd = &cobra.Command{
	Use:   "target",
	Short: "Manage transfer targets",
	Long: `Configure the receivers this node pushes to.

Targets are stored in the configuration file under [targets.<name>].`,
	RunE: runTargetList,
}

var targetAddCmd = &cobra.Command{
	Use:   "add <name> <endpoint>",
	Short: "Add or replace a target",
	Long: `Stores a target. The endpoint is the receiver's transfer URL, for
example https://repo.example.com:8443/ferry/transfer.

When --username is given without --password, the password is prompted for.`,
	Args: cobra.ExactArgs(2),
	RunE: runTargetAdd,
}

var targetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured targets",
	RunE:  runTargetList,
}

var repositoryCmd = &cobra.Command{
	Use:   "repository <id>",
	Short: "Set the repository id this node sends as",
	Args:  cobra.ExactArgs(1),
	RunE:  runRepository,
}

// Flags for target add.
var (
	targetUsername string
	targetPassword string
)

func init() {
	targetAddCmd.Flags().StringVar(&targetUsername, "username", "", "User name sent to the receiver")
	targetAddCmd.Flags().StringVar(&targetPassword, "password", "", "Password sent to the receiver")

	targetCmd.AddCommand(targetAddCmd)
	targetCmd.AddCommand(targetListCmd)
	rootCmd.AddCommand(targetCmd)
	rootCmd.AddCommand(repositoryCmd)
}

func runTargetAdd(cmd *cobra.Command, args []string) error {
	s, err := settings()
	if err != nil {
		return err
	}
	name, endpoint := args[0], args[1]

	password := targetPassword
	if targetUsername != "" && password == "" {
		cmd.Printf("Password for %s: ", targetUsername)
		password = readPassword(cmd.InOrStdin())
		cmd.Println()
	}

	if err := s.SetTarget(name, endpoint, targetUsername, password); err != nil {
		return fmt.Errorf("failed to add target: %w", err)
	}
	if err := configStore.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	cmd.Printf("Target %s added.\n", name)
	return nil
}

func runTargetList(cmd *cobra.Command, _ []string) error {
	s, err := settings()
	if err != nil {
		return err
	}

	names := s.Targets()
	if len(names) == 0 {
		cmd.Println("No targets configured. Use 'ferry target add' to add one.")
		return nil
	}

	cmd.Println("Targets")
	cmd.Println("=======")
	for _, name := range names {
		target, err := s.Target(name)
		if err != nil {
			cmd.Printf("  %-12s (invalid: %v)\n", name, err)
			continue
		}
		user := "(anonymous)"
		if target.Username != "" {
			user = target.Username
		}
		cmd.Printf("  %-12s %s as %s\n", name, target.BaseURL(), user)
	}
	return nil
}

func runRepository(cmd *cobra.Command, args []string) error {
	s, err := settings()
	if err != nil {
		return err
	}
	if err := s.SetRepositoryID(args[0]); err != nil {
		return err
	}
	if err := configStore.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	cmd.Printf("Repository id set to %s.\n", args[0])
	return nil
}

//nolint:errcheck // CLI helper, error ignored for UX
func readPassword(in io.Reader) string {
	// Try to read password without echo
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		password, err := term.ReadPassword(int(f.Fd()))
		if err == nil {
			return string(password)
		}
	}
	// Fallback to regular input
	reader := bufio.NewReader(in)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}
