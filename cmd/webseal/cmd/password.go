package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/webseal/accounts"
)

var (
	currentPass string
	newPass     string
)

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Change the account password",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, closeStore, err := newClient()
		if err != nil {
			return err
		}
		defer closeStore()

		_, err = client.ResetPassword(cmd.Context(), currentPass, newPass, nil)
		if errors.Is(err, accounts.ErrWrongPassword) {
			return fmt.Errorf("current password incorrect")
		}
		if err != nil {
			return fmt.Errorf("password change failed: %w", err)
		}
		fmt.Println("Password changed.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(passwordCmd)
	passwordCmd.Flags().StringVar(&currentPass, "current", "", "Current password")
	passwordCmd.Flags().StringVar(&newPass, "new", "", "New password")
	passwordCmd.MarkFlagRequired("current")
	passwordCmd.MarkFlagRequired("new")
}
