package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pretyflaco/syncd/internal/auth"
	clientcmd "github.com/pretyflaco/syncd/internal/cmd/client"
	serverrun "github.com/pretyflaco/syncd/internal/cmd/server"
	cfgpkg "github.com/pretyflaco/syncd/internal/config"
	pebblestore "github.com/pretyflaco/syncd/internal/storage/pebble"
	logpkg "github.com/pretyflaco/syncd/pkg/log"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	// Respect SYNCD_LOG_LEVEL for both CLI and server start output.
	level := os.Getenv("SYNCD_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	// Redirect standard library logs (used by Pebble) to our logger.
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "syncd",
		Short: "syncd event sync runtime",
		Long:  "syncd is a single-binary runtime for ordered, resumable event stream sync. This CLI manages the server and client-side operations.",
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("syncd", version)
		},
	})

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start syncd server",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			fsyncIntervalMs, _ := cmd.Flags().GetInt("fsync-interval-ms")
			configPath, _ := cmd.Flags().GetString("config")
			requireAuth, _ := cmd.Flags().GetBool("require-auth")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			mode := pebblestore.FsyncModeAlways
			switch fsyncMode {
			case "never":
				mode = pebblestore.FsyncModeNever
			case "interval":
				mode = pebblestore.FsyncModeInterval
			case "always":
				mode = pebblestore.FsyncModeAlways
			default:
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg := cfgpkg.Default()
			if configPath != "" {
				loaded, err := cfgpkg.Load(configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = loaded
			}
			cfgpkg.FromEnv(&cfg)
			if httpAddr != "" {
				cfg.Server.HTTPAddr = httpAddr
			}
			if logLevel != "" {
				_ = os.Setenv("SYNCD_LOG_LEVEL", logLevel)
			}
			if logFormat != "" {
				_ = os.Setenv("SYNCD_LOG_FORMAT", logFormat)
			}
			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:       dataDir,
				HTTPAddr:      cfg.Server.HTTPAddr,
				Fsync:         mode,
				FsyncInterval: time.Duration(fsyncIntervalMs) * time.Millisecond,
				Config:        cfg,
				RequireAuth:   requireAuth,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serverStartCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	serverStartCmd.Flags().String("http", "", "HTTP listen address (overrides config)")
	serverStartCmd.Flags().String("fsync", "always", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().Int("fsync-interval-ms", 5, "When --fsync=interval, group-commit window in ms (default 5)")
	serverStartCmd.Flags().String("config", os.Getenv("SYNCD_CONFIG"), "Path to config file (json or yaml)")
	serverStartCmd.Flags().Bool("require-auth", false, "Require bearer tokens on all endpoints")
	serverStartCmd.Flags().String("log-level", os.Getenv("SYNCD_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("SYNCD_LOG_FORMAT"), "Log format: text|json (default text)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	// token mint (operator tool; tokens carry no signature, the fronting
	// gateway is expected to guard issuance)
	tokenCmd := &cobra.Command{Use: "token", Short: "Token operations"}
	tokenMintCmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint a bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			scopes, _ := cmd.Flags().GetStringSlice("scope")
			streams, _ := cmd.Flags().GetStringSlice("stream")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			tok, err := auth.EncodeToken(auth.MintClaims(subject, scopes, streams, ttl))
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	tokenMintCmd.Flags().String("subject", "", "token subject")
	tokenMintCmd.Flags().StringSlice("scope", []string{"subscribe"}, "granted scopes")
	tokenMintCmd.Flags().StringSlice("stream", nil, "stream bindings (empty = unbounded-compat)")
	tokenMintCmd.Flags().Duration("ttl", time.Hour, "token lifetime")
	_ = tokenMintCmd.MarkFlagRequired("subject")
	tokenCmd.AddCommand(tokenMintCmd)
	rootCmd.AddCommand(tokenCmd)

	// client commands
	rootCmd.AddCommand(clientcmd.NewRoot(apiURL, apiToken))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func apiURL() string {
	if v := os.Getenv("SYNCD_ADDR"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}

func apiToken() string { return os.Getenv("SYNCD_TOKEN") }
