// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package command provides the root and sub-commands of the geonote client.
//
//	geonote [-c /path/to/config.toml]   # interactive screen
//	geonote run
//	geonote fetch [--save]
//	geonote save
//	geonote list
//	geonote watch
//	geonote permission
//	geonote db init
package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// BuildInfo is set at build time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

var (
	cfgPath string
	envFile string
	build   BuildInfo
)

var rootCmd = &cobra.Command{
	Use:   "geonote",
	Short: "Fetch, name and remember where you are",
	Long: `geonote reads the device location, resolves it into a street address and
saves it to a PostgREST compatible endpoint or a PostgreSQL database.
Without a sub-command an interactive screen is started.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return loadEnv(cmd.Flags().Changed("env-file"))
	},
	RunE: runInteractive,
}

// Execute parses the command line and runs the selected command until it finishes or the
// process is interrupted.
func Execute(info BuildInfo) {
	build = info
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", info.Version, info.Commit, info.Date)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGABRT, os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		if !errors.Is(err, errQuiet) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to the config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before the config")
}

// loadEnv reads envFile into the process environment. A missing file is only an error if it was
// given explicitly.
func loadEnv(explicit bool) error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}
	return nil
}
