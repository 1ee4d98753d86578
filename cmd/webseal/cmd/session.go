package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and clear stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, closeStore, err := newClient()
		if err != nil {
			return err
		}
		defer closeStore()

		if err := client.Logout(cmd.Context()); err != nil {
			// Local state is already cleared; the server-side failure is
			// informational.
			fmt.Printf("Logged out locally; server call failed: %v\n", err)
			return nil
		}
		fmt.Println("Logged out.")
		return nil
	},
}

var keepaliveCmd = &cobra.Command{
	Use:   "keepalive",
	Short: "Refresh the shared secret once",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, closeStore, err := newClient()
		if err != nil {
			return err
		}
		defer closeStore()

		resp, err := client.Heartbeat(cmd.Context())
		if err != nil {
			return fmt.Errorf("keepalive failed: %w", err)
		}
		if !resp.Success {
			return fmt.Errorf("keepalive rejected")
		}
		fmt.Println("Secret rotated.")
		return nil
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Fetch the account profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, closeStore, err := newClient()
		if err != nil {
			return err
		}
		defer closeStore()

		profile, err := client.GetProfile(cmd.Context())
		if err != nil {
			return fmt.Errorf("fetching profile: %w", err)
		}
		fmt.Println(string(profile))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the local session state",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, closeStore, err := newClient()
		if err != nil {
			return err
		}
		defer closeStore()

		sess := client.Session()
		fmt.Printf("logged in:  %v\n", sess.LoggedIn().Get())
		fmt.Printf("browser id: %s\n", sess.BrowserID().Get())
		if pub := sess.PublicKey().Get(); pub != "" {
			fmt.Printf("public key: %s...\n", pub[:min(32, len(pub))])
		} else {
			fmt.Println("public key: (none)")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(keepaliveCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(statusCmd)
}
