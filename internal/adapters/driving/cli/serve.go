package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/ferry/internal/adapters/driven/content/filesystem"
	"github.com/custodia-labs/ferry/internal/adapters/driven/manifest/jsonl"
	"github.com/custodia-labs/ferry/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/ferry/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/ferry/internal/adapters/driving/httpapi"
	"github.com/custodia-labs/ferry/internal/core/domain"
	"github.com/custodia-labs/ferry/internal/core/ports/driven"
	"github.com/custodia-labs/ferry/internal/core/services"
	"github.com/custodia-labs/ferry/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a transfer receiver",
	Long: `Serves the receiving end of the transfer protocol.

Staged transfers and received content live in receiver.data_dir. Transfer
progress and reports are kept in a SQLite database there unless --memory
is given, in which case only the most recent transfers are retained.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// Flags for serve.
var (
	serveAddr     string
	serveBasePath string
	serveMemory   bool
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default receiver.addr)")
	serveCmd.Flags().StringVar(&serveBasePath, "base-path", httpapi.DefaultBasePath, "URL path the API is served under")
	serveCmd.Flags().BoolVar(&serveMemory, "memory", false, "Keep transfer progress in memory only")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	s, err := settings()
	if err != nil {
		return err
	}
	cfg := s.Receiver()
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".ferry", "data")
	}

	// 1. Data directory
	lock, err := filesystem.LockDir(dataDir)
	if err != nil {
		return err
	}
	defer lock.Unlock() //nolint:errcheck // released on exit

	// 2. Progress monitor
	var monitor driven.ProgressMonitor
	if serveMemory {
		monitor = memory.NewProgressMonitor(cfg.RetainedTransfers)
	} else {
		store, err := sqlite.NewStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to open progress database: %w", err)
		}
		defer store.Close()
		monitor = store.ProgressMonitor()
		logger.Debug("Progress database: %s", store.Path())
	}

	// 3. Repository
	nodes := memory.NewNodeStore()
	nodes.AddStore(filesystem.DefaultStore)

	receiver := services.NewReceiverService(cfg.RepositoryID, nodes,
		filesystem.NewStaging(filepath.Join(dataDir, "staging")),
		filesystem.NewStore(filepath.Join(dataDir, "content")),
		monitor, jsonl.New())
	defer receiver.Wait()

	// 4. API
	opts := []httpapi.Option{httpapi.WithBasePath(serveBasePath)}
	if cfg.Username != "" {
		opts = append(opts, httpapi.WithBasicAuth(cfg.Username, cfg.Password))
	}
	srv := httpapi.New(receiver, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd.Printf("Receiver %s (protocol %s) listening on %s%s\n",
		cfg.RepositoryID, domain.CurrentVersion, cfg.Addr, serveBasePath)
	return srv.Serve(ctx, cfg.Addr)
}
