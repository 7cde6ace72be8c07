package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/CrowderSoup/kanban/board"
	"github.com/CrowderSoup/kanban/database"
)

type importOptions struct {
	owner string
	title string
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &importOptions{}

	cmd := &cobra.Command{
		Use:   "import <export.json>",
		Short: "Import a todo-app JSON export as a new board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := rootOpts.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			store, err := database.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer store.Close()

			snap, err := runImport(cmd.Context(), store, args[0], opts, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported board %s (%d lists)\n", snap.Board.ID, len(snap.Lists))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.owner, "owner", "", "email of the registered user who will own the board")
	cmd.Flags().StringVar(&opts.title, "title", "Imported board", "title of the new board")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

func runImport(ctx context.Context, store *database.Store, path string, opts *importOptions, logger logrus.FieldLogger) (*board.Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}
	var data database.LegacyData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse export %s: %w", path, err)
	}

	owner, err := store.UserByEmail(ctx, opts.owner)
	if err != nil {
		return nil, fmt.Errorf("failed to find owner: %w", err)
	}

	snap := data.ToSnapshot(owner.User, opts.title, time.Now())
	if err := store.SaveBoard(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to save board: %w", err)
	}
	logger.WithFields(logrus.Fields{"board_id": snap.Board.ID, "owner": owner.ID}).Info("Board imported")
	return snap, nil
}
