package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/ferry/internal/adapters/driven/content/filesystem"
	"github.com/custodia-labs/ferry/internal/adapters/driven/manifest/jsonl"
	"github.com/custodia-labs/ferry/internal/adapters/driven/transport/httpclient"
	"github.com/custodia-labs/ferry/internal/core/domain"
	"github.com/custodia-labs/ferry/internal/core/ports/driven"
	"github.com/custodia-labs/ferry/internal/core/ports/driving"
	"github.com/custodia-labs/ferry/internal/core/services"
	"github.com/custodia-labs/ferry/internal/logger"
)

var pushCmd = &cobra.Command{
	Use:   "push <target> [dir]",
	Short: "Push a directory tree to a target",
	Long: `Scans a directory and transfers it to the named target.

The directory becomes a folder below the base path of the receiving
store. Only content the receiver does not already hold is sent. If dir
is omitted, content.root from the configuration is used.

With --watch, the tree is pushed again every time it changes.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPush,
}

// Flags for push.
var (
	pushBase             string
	pushWatch            bool
	pushRootFileTransfer string
)

func init() {
	pushCmd.Flags().StringVar(&pushBase, "base", "",
		"Destination path the tree is placed below, e.g. /sites/www")
	pushCmd.Flags().BoolVar(&pushWatch, "watch", false,
		"Keep running and push again whenever the tree changes")
	pushCmd.Flags().StringVar(&pushRootFileTransfer, "root-file-transfer", "",
		"Destination root for filesystem receivers")
	rootCmd.AddCommand(pushCmd)
}

func runPush(cmd *cobra.Command, args []string) error {
	s, err := settings()
	if err != nil {
		return err
	}
	target := args[0]
	dir := s.Transfer().ContentRoot
	if len(args) > 1 {
		dir = args[1]
	}
	if dir == "" {
		return errors.New("no directory given and content.root is not set")
	}
	if info, err := os.Stat(dir); err != nil {
		return fmt.Errorf("failed to read %s: %w", dir, err)
	} else if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tree := filesystem.NewTree(dir, filesystem.WithBasePath(parsePath(pushBase)))

	if err := pushOnce(ctx, cmd, s, tree, target); err != nil {
		return err
	}
	if !pushWatch {
		return nil
	}

	changes, err := tree.Watch(ctx, filesystem.DefaultDebounce)
	if err != nil {
		return err
	}
	cmd.Printf("Watching %s for changes (Ctrl+C to stop)...\n", dir)
	for range changes {
		if err := pushOnce(ctx, cmd, s, tree, target); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// A failed push is retried on the next change.
			logger.Error("push failed: %v", err)
		}
	}
	return nil
}

func pushOnce(ctx context.Context, cmd *cobra.Command, s *services.SettingsService, tree *filesystem.Tree, target string) error {
	repositoryID := s.Transfer().RepositoryID
	if repositoryID == "" {
		return fmt.Errorf("%w: transfer.repository_id is not set", domain.ErrConfiguration)
	}

	snapshot, err := tree.Scan(ctx, repositoryID)
	if err != nil {
		return fmt.Errorf("failed to scan: %w", err)
	}
	cmd.Printf("Pushing %d nodes (%d content items) to %s...\n",
		len(snapshot.Records)-2, snapshot.ContentCount(), target)

	started := time.Now()
	svc := newTransferService(s, snapshot)
	result, err := svc.Transfer(ctx, driving.TransferRequest{
		Target:   target,
		Manifest: snapshot.Records,
		OnProgress: func(p domain.TransferProgress) {
			logger.Info("%s %d/%d", p.Status, p.CurrentPosition, p.EndPosition)
		},
	})
	if err != nil {
		return fmt.Errorf("transfer failed: %w", err)
	}

	cmd.Printf("Transfer %s %s in %s: sent %d of %d content items.\n",
		result.Transfer.ID, strings.ToLower(string(result.Progress.Status)),
		time.Since(started).Round(time.Millisecond), result.ContentSent, result.ContentTotal)
	return nil
}

// newTransferService builds a transfer service reading content from src.
func newTransferService(s *services.SettingsService, src driven.ContentSource) *services.TransferService {
	cfg := s.Transfer()
	opts := []httpclient.Option{
		httpclient.WithRateLimit(cfg.RequestsPerSecond, httpclient.DefaultBurstSize),
	}
	if pushRootFileTransfer != "" {
		opts = append(opts, httpclient.WithRootFileTransfer(pushRootFileTransfer))
	}
	return services.NewTransferService(s, httpclient.New(src, opts...), jsonl.New())
}

// parsePath splits a slash separated path. Empty segments are dropped.
func parsePath(p string) domain.Path {
	var out domain.Path
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}
