package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/katbot/modgate/core/recovery"
)

func newBackupsCmd(c *cli) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Manage file-backed modification backups",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "backup directory (defaults to backup_directory from config)")

	resolveDir := func() (string, error) {
		if dir != "" {
			return dir, nil
		}
		if c.cfg.BackupDirectory != "" {
			return c.cfg.BackupDirectory, nil
		}
		return "", fmt.Errorf("no backup directory: pass --dir or set backup_directory in config")
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored backups",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveDir()
			if err != nil {
				return err
			}
			repo, err := recovery.NewFileRepository(path)
			if err != nil {
				return err
			}
			backups, err := repo.List()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), backups)
		},
	}

	var maxAgeDays int
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete backups older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveDir()
			if err != nil {
				return err
			}
			repo, err := recovery.NewFileRepository(path)
			if err != nil {
				return err
			}
			manager := recovery.NewManager(
				recovery.WithRepository(repo),
				recovery.WithLogger(c.logger),
			)
			maxAge := c.cfg.BackupRetention()
			if maxAgeDays > 0 {
				maxAge = time.Duration(maxAgeDays) * 24 * time.Hour
			}
			deleted, failures := manager.CleanupOldBackups(maxAge)
			out := struct {
				Deleted  int      `json:"deleted"`
				Failures []string `json:"failures,omitempty"`
			}{Deleted: deleted, Failures: failures}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if len(failures) > 0 {
				return fmt.Errorf("%d backup(s) could not be deleted", len(failures))
			}
			return nil
		},
	}
	cleanup.Flags().IntVar(&maxAgeDays, "max-age-days", 0, "retention override in days (defaults to backup_retention_days from config)")

	cmd.AddCommand(list, cleanup)
	return cmd
}
