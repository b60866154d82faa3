package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sunschool/sunschool/core/user"
)

func (cli *commandLine) addUserCmd() *cobra.Command {
	var (
		nu       user.NewUser
		parentID int
		grade    int
	)
	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create a user of any role; the password is prompted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if nu.Username == "" || nu.Email == "" {
				_ = cmd.Usage()
				return errHelp
			}
			pwd, err := cli.promptPassword(cmd)
			if err != nil {
				return err
			}
			nu.Password = pwd
			if nu.Name == "" {
				nu.Name = nu.Username
			}
			if parentID > 0 {
				nu.ParentID = &parentID
			}
			if grade >= 0 {
				nu.GradeLevel = &grade
			}
			return cli.addUser(nu)
		},
	}
	cmd.Flags().StringVar(&nu.Username, "username", "", "The user's username.")
	cmd.Flags().StringVar(&nu.Email, "email", "", "The user's email.")
	cmd.Flags().StringVar(&nu.Name, "name", "", "The user's full name. Defaults to the username.")
	cmd.Flags().StringVar(&nu.Role, "role", user.RoleParent, "ADMIN, PARENT or LEARNER.")
	cmd.Flags().IntVar(&parentID, "parent", 0, "The parent's ID, required for learners.")
	cmd.Flags().IntVar(&grade, "grade", -1, "A learner's grade level.")
	return cmd
}

// addUser validates & creates a user. A learner's profile is created along when a grade is given.
func (cli *commandLine) addUser(nu user.NewUser) error {
	ctx := context.Background()
	if err := nu.Validate(ctx, cli.validate, cli.usrSvc); err != nil {
		return err
	}
	usr, err := cli.usrSvc.Create(ctx, nu)
	if err != nil {
		return err
	}
	if usr.IsLearner() && nu.GradeLevel != nil {
		if _, err = cli.lrnSvc.GetOrCreateProfile(ctx, usr.ID, *nu.GradeLevel); err != nil {
			return err
		}
	}
	cli.printf("%s %q created with ID %d\n", usr.Role, usr.Username, usr.ID)
	return nil
}
