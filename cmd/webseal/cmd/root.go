package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jmcleod/webseal/accounts"
	"github.com/jmcleod/webseal/keystore"
	"github.com/jmcleod/webseal/session"
	bboltstorage "github.com/jmcleod/webseal/storage/bbolt"
)

// Version is the build version, overridden at link time.
var Version = "dev"

var (
	serverURL  string
	dataFile   string
	passphrase string
)

var rootCmd = &cobra.Command{
	Use:   "webseal",
	Short: "WebSeal is a session credential client",
	Long: `A client for the Accounts session protocol: it keeps a per-profile
key pair and server-issued shared secret, signs one-time request tokens,
and drives login, MFA and heartbeat against an Accounts service.
Complete documentation is available at https://github.com/jmcleod/webseal`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8439", "Accounts service base URL")
	rootCmd.PersistentFlags().StringVar(&dataFile, "data", defaultDataFile(), "Path to the credential store")
	rootCmd.PersistentFlags().StringVar(&passphrase, "passphrase", "", "Passphrase sealing the credential store at rest")
}

func defaultDataFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "webseal.db"
	}
	return filepath.Join(home, ".webseal", "webseal.db")
}

// newClient opens the credential store and wires the session manager
// and Accounts client over it. The CLI has no browser cookie jar that
// survives between invocations, so the manager runs cookieless and
// derives logged-in from secret presence alone.
func newClient() (*accounts.Client, func(), error) {
	if err := os.MkdirAll(filepath.Dir(dataFile), 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating data directory: %w", err)
	}

	var storeOpts []bboltstorage.Option
	if passphrase != "" {
		storeOpts = append(storeOpts, bboltstorage.WithPassphrase(passphrase))
	}
	store, err := bboltstorage.NewStoreFromFile(dataFile, nil, storeOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("opening credential store: %w", err)
	}

	sess := session.NewManager(keystore.New(store), session.NewState(store))
	client, err := accounts.New(serverURL, sess)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return client, func() { store.Close() }, nil
}
