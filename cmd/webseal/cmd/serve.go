package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/webseal/accountstest"
)

var (
	port     int
	seedUser string
	seedPass string
	seedTOTP bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reference Accounts service",
	Long: `Runs the in-process reference Accounts service for development
and protocol experiments. Accounts exist in memory only; seed one with
--user and --password.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := accountstest.NewServer()
		if err != nil {
			return fmt.Errorf("failed to create accounts service: %w", err)
		}

		if seedUser != "" {
			srv.AddUser(seedUser, seedPass)
			if seedTOTP {
				secret, err := srv.EnrollTOTP(seedUser)
				if err != nil {
					return err
				}
				fmt.Printf("TOTP secret for %s: %s\n", seedUser, secret)
			}
		}

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount("/", srv.Router())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Starting reference Accounts service on port %d...\n", port)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&port, "port", "p", 8439, "Port to listen on")
	serveCmd.Flags().StringVar(&seedUser, "user", "", "Seed account username")
	serveCmd.Flags().StringVar(&seedPass, "password", "", "Seed account password")
	serveCmd.Flags().BoolVar(&seedTOTP, "totp", false, "Enroll the seed account in TOTP and print the secret")
}
