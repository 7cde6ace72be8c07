package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/CrowderSoup/kanban/board"
	"github.com/CrowderSoup/kanban/database"
)

// defaultSeedName selects the seed bundled with the binary.
const defaultSeedName = "default"

type seedOptions struct {
	owner string
	force bool
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &seedOptions{}

	cmd := &cobra.Command{
		Use:   "seed [file.yaml]",
		Short: "Load demo or fixture boards into the database",
		Long: `Load boards from a YAML seed file, or the bundled demo boards when no file
is given. Boards that already exist are skipped unless --force is set.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := rootOpts.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			path := defaultSeedName
			if len(args) == 1 {
				path = args[0]
			}

			store, err := database.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer store.Close()

			n, err := runSeed(cmd.Context(), store, path, opts, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d board(s)\n", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.owner, "owner", "", "email of a registered user to add as admin of every seeded board")
	cmd.Flags().BoolVar(&opts.force, "force", false, "overwrite boards that already exist")

	return cmd
}

func runSeed(ctx context.Context, store *database.Store, path string, opts *seedOptions, logger logrus.FieldLogger) (int, error) {
	snaps, err := loadSeed(path)
	if err != nil {
		return 0, err
	}

	if opts.owner != "" {
		rec, err := store.UserByEmail(ctx, opts.owner)
		if err != nil {
			return 0, fmt.Errorf("failed to find owner: %w", err)
		}
		for _, snap := range snaps {
			addAdmin(snap, rec.User)
		}
	}

	n, err := seedBoards(ctx, store, snaps, opts.force)
	if err != nil {
		return n, err
	}
	logger.WithFields(logrus.Fields{"boards": n, "source": path}).Info("Seed data loaded")
	return n, nil
}

func loadSeed(path string) ([]*board.Snapshot, error) {
	now := time.Now()
	if path == defaultSeedName {
		return board.DefaultSeed(now)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed: %w", err)
	}
	defer f.Close()
	return board.LoadSeed(f, now)
}

// seedBoards saves snaps, skipping ids already present unless force is set. It returns
// the number of boards written.
func seedBoards(ctx context.Context, store board.Store, snaps []*board.Snapshot, force bool) (int, error) {
	written := 0
	for _, snap := range snaps {
		if !force {
			_, err := board.LoadCommitted(ctx, store, snap.Board.ID)
			if err == nil {
				continue
			}
			if !errors.Is(err, board.ErrNotFound) {
				return written, err
			}
		}
		if err := store.SaveBoard(ctx, snap); err != nil {
			return written, fmt.Errorf("failed to save board %s: %w", snap.Board.ID, err)
		}
		written++
	}
	return written, nil
}

func addAdmin(snap *board.Snapshot, user board.User) {
	for i, m := range snap.Board.Members {
		if m.ID == user.ID {
			snap.Board.Members[i].Role = board.RoleAdmin
			return
		}
	}
	snap.Board.Members = append(snap.Board.Members, board.BoardMember{User: user, Role: board.RoleAdmin})
}
