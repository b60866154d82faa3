package main

import (
	"context"

	"github.com/spf13/cobra"
)

func (cli *commandLine) resetPasswordCmd() *cobra.Command {
	var uname string
	cmd := &cobra.Command{
		Use:   "resetpassword",
		Short: "Reset a user's password; the new password is prompted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if uname == "" {
				_ = cmd.Usage()
				return errHelp
			}
			pwd, err := cli.promptPassword(cmd)
			if err != nil {
				return err
			}
			_, err = cli.usrSvc.ResetPassword(context.Background(), uname, pwd)
			return err
		},
	}
	cmd.Flags().StringVar(&uname, "username", "", "The user's username. The password will be prompted next.")
	return cmd
}
