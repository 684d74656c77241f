package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage the credential store",
	Long:  `Add, remove, and list users in the persisted credential store (users.json).`,
}

var userAddPaths []string

var userAddCmd = &cobra.Command{
	Use:   "add [username] [password]",
	Short: "Add a new user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openUserStore()
		if err != nil {
			return err
		}

		if err := store.Add(args[0], args[1], userAddPaths...); err != nil {
			return err
		}
		if err := store.Save(); err != nil {
			return fmt.Errorf("failed to save user: %w", err)
		}

		fmt.Printf("User %s created.\n", args[0])
		return nil
	},
}

var userRmCmd = &cobra.Command{
	Use:   "rm [username]",
	Short: "Remove a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openUserStore()
		if err != nil {
			return err
		}

		store.Delete(args[0])
		if err := store.Save(); err != nil {
			return fmt.Errorf("failed to save changes: %w", err)
		}

		fmt.Printf("User %s removed (if existed).\n", args[0])
		return nil
	},
}

var userLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all users",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openUserStore()
		if err != nil {
			return err
		}

		users := store.Snapshot()
		if len(users) == 0 {
			fmt.Println("No users found.")
			return nil
		}

		for _, u := range users {
			if len(u.Paths) == 0 {
				fmt.Printf("- %s\n", u.Username)
			} else {
				fmt.Printf("- %s (paths: %s)\n", u.Username, strings.Join(u.Paths, ", "))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userRmCmd)
	userCmd.AddCommand(userLsCmd)

	userAddCmd.Flags().StringArrayVar(&userAddPaths, "path", nil, "URL path prefix this user guards (repeatable; none means global-only)")
}
