package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sakif/recipe-api/internal/auth"
	"github.com/sakif/recipe-api/internal/config"
	"github.com/sakif/recipe-api/internal/server"
	"github.com/sakif/recipe-api/internal/service"
)

// newRootCommand builds the CLI. getenv is os.Getenv outside tests.
//
// The root command runs "serve" when called without a subcommand, so
// `recipe-api` and `recipe-api serve` are the same thing.
func newRootCommand(getenv func(string) string) *cobra.Command {
	var (
		configFile string
		cfg        *config.Config
	)

	rootCmd := &cobra.Command{
		Use:   "recipe-api",
		Short: "Recipe API - a per-user recipe catalog over HTTP",
		Long: `recipe-api serves a JSON API for users to manage their own recipes,
tags and ingredients, with token authentication and image uploads.

Configuration comes from recipe-api.yaml (or --config) and environment
variables such as PORT, DB_DRIVER, DB_DSN and TOKEN_SECRET.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configFile, getenv)
			return err
		},
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: recipe-api.yaml if present)")

	// cfg is only known once PersistentPreRunE has run, so the subcommands
	// read it through this accessor.
	current := func() *config.Config { return cfg }

	serveCmd := newServeCommand(current)
	rootCmd.RunE = serveCmd.RunE
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newMigrateCommand(current))
	rootCmd.AddCommand(newCreateSuperuserCommand(current))

	return rootCmd
}

func newServeCommand(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			if err := c.Validate(); err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), c.LogLevel)

			srv, err := server.New(cmd.Context(), c, logger)
			if err != nil {
				logger.Error("failed to create server", slog.String("error", err.Error()))
				return err
			}
			return srv.Start()
		},
	}
}

func newMigrateCommand(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			logger := newLogger(cmd.ErrOrStderr(), c.LogLevel)

			db, err := server.OpenDB(cmd.Context(), c)
			if err != nil {
				return err
			}
			defer db.Close()

			logger.Info("migrations applied", slog.String("driver", c.Database.Driver))
			return nil
		},
	}
}

func newCreateSuperuserCommand(cfg func() *config.Config) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "createsuperuser",
		Short: "Create a staff superuser who can sign in to /admin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			logger := newLogger(cmd.ErrOrStderr(), c.LogLevel)

			db, err := server.OpenDB(cmd.Context(), c)
			if err != nil {
				return err
			}
			defer db.Close()

			users := service.NewUserService(db.Users(), auth.NewPasswordService(), logger)
			user, err := users.ProvisionSuperuser(cmd.Context(), email, password)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Superuser %s created (id %d)\n", user.Email, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "password, at least 6 characters (required)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

// newLogger builds the process logger.
//
// slog.NewTextHandler outputs human-readable logs. Log levels (from least
// to most severe): Debug → Info → Warn → Error. An unknown level name
// falls back to Info.
func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
