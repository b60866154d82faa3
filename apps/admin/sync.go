package main

import (
	"context"

	"github.com/spf13/cobra"
)

const resetSyncMessage = "Synchronization reset by an administrator"

func (cli *commandLine) resetSyncCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "resetsync",
		Short: "Mark a synchronization stuck IN_PROGRESS as FAILED",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if id == "" {
				_ = cmd.Usage()
				return errHelp
			}
			cfg, err := cli.syncSvc.Reset(context.Background(), id, resetSyncMessage)
			if err != nil {
				return err
			}
			cli.printf("sync config %s: %s\n", cfg.ID, cfg.SyncStatus)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "The sync configuration's ID.")
	return cmd
}

func (cli *commandLine) syncCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if id == "" {
				_ = cmd.Usage()
				return errHelp
			}
			cfg, err := cli.syncSvc.Run(cmd.Context(), id)
			if cfg.ID != "" {
				cli.printf("sync config %s: %s\n", cfg.ID, cfg.SyncStatus)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "The sync configuration's ID.")
	return cmd
}
