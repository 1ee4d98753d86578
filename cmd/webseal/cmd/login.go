package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/webseal/mfa"
)

var (
	loginUser string
	loginPass string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against the Accounts service",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, closeStore, err := newClient()
		if err != nil {
			return err
		}
		defer closeStore()

		result, err := client.Login(cmd.Context(), loginUser, loginPass)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		if result.MFA != nil {
			if err := completeMFA(cmd, result.MFA); err != nil {
				return err
			}
		}

		fmt.Println("Logged in.")
		return nil
	},
}

// completeMFA prompts for second-factor codes until the server accepts
// one.
func completeMFA(cmd *cobra.Command, cont *mfa.Continuation) error {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("Enter %s code: ", cont.Type)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading code: %w", err)
		}

		resp, err := cont.Submit(cmd.Context(), mfa.Submission{"code": strings.TrimSpace(line)})
		if err != nil {
			return fmt.Errorf("second factor failed: %w", err)
		}
		if resp.Success {
			return nil
		}
		fmt.Println("Code rejected, try again.")
	}
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().StringVarP(&loginUser, "username", "u", "", "Account username")
	loginCmd.Flags().StringVar(&loginPass, "password", "", "Account password")
	loginCmd.MarkFlagRequired("username")
	loginCmd.MarkFlagRequired("password")
}
