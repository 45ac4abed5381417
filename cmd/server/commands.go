package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/visionai-api/internal/auth"
	"github.com/Brownie44l1/visionai-api/internal/imageproc"
	"github.com/Brownie44l1/visionai-api/internal/model"
	"github.com/Brownie44l1/visionai-api/internal/prediction"
	"github.com/Brownie44l1/visionai-api/internal/store"
)

func (a *app) migrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	run := func(fn func(ctx context.Context, st *store.Store) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(a.settings.Database.URL, a.log)
			if err != nil {
				return err
			}
			defer st.Close()
			return fn(cmd.Context(), st)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: run(func(ctx context.Context, st *store.Store) error {
				if err := st.Migrate(ctx); err != nil {
					return err
				}
				v, err := st.SchemaVersion(ctx)
				if err != nil {
					return err
				}
				a.log.Info("schema up to date", "version", v, "dialect", st.Dialect())
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: run(func(ctx context.Context, st *store.Store) error {
				return st.MigrateDown(ctx)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the state of every migration",
			RunE: run(func(ctx context.Context, st *store.Store) error {
				return st.MigrationStatus(ctx)
			}),
		},
	)
	return cmd
}

func (a *app) withStore(fn func(ctx context.Context, st *store.Store) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(a.settings.Database.URL, a.log)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}
		return fn(cmd.Context(), st)
	}
}

func (a *app) modelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage registered model versions",
	}

	var active bool
	register := &cobra.Command{
		Use:   "register <tag> <filename>",
		Short: "Record a model version, optionally making it the active one",
		Args:  cobra.ExactArgs(2),
	}
	register.RunE = func(c *cobra.Command, args []string) error {
		return a.withStore(func(ctx context.Context, st *store.Store) error {
			mv, err := st.RegisterModelVersion(ctx, args[0], args[1], active)
			if err != nil {
				return err
			}
			a.log.Info("model version registered", "id", mv.ID, "tag", mv.Tag, "active", mv.Status == store.ModelStatusActive)
			return nil
		})(c, args)
	}
	register.Flags().BoolVar(&active, "active", false, "make this the active model version")

	cmd.AddCommand(register)
	return cmd
}

func (a *app) userCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage API users",
	}

	setActive := func(use, short string, active bool) *cobra.Command {
		sub := &cobra.Command{
			Use:   use + " <username>",
			Short: short,
			Args:  cobra.ExactArgs(1),
		}
		sub.RunE = func(c *cobra.Command, args []string) error {
			return a.withStore(func(ctx context.Context, st *store.Store) error {
				u, err := st.UserByUsername(ctx, args[0])
				if err != nil {
					return fmt.Errorf("user %q: %w", args[0], err)
				}
				if err := st.SetUserActive(ctx, u.ID, active); err != nil {
					return err
				}
				a.log.Info("user updated", "username", u.Username, "is_active", active)
				return nil
			})(c, args)
		}
		return sub
	}

	cmd.AddCommand(
		setActive("activate", "Allow a user to log in again", true),
		setActive("deactivate", "Block a user from logging in", false),
	)
	return cmd
}

// predictCommand classifies a local image file without starting the server.
func (a *app) predictCommand() *cobra.Command {
	var record bool

	cmd := &cobra.Command{
		Use:   "predict <image>",
		Short: "Classify the emotion in an image file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			srv, err := model.NewServer(model.Config{
				ModelPath:    a.settings.Model.Path,
				MetadataPath: a.settings.Model.MetadataPath,
				LibraryPath:  a.settings.Model.LibraryPath,
			})
			if err != nil {
				return fmt.Errorf("initialize model server: %w", err)
			}
			defer srv.Close()

			var st prediction.Store
			if record {
				db, err := store.Open(a.settings.Database.URL, a.log)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := db.Migrate(cmd.Context()); err != nil {
					return err
				}
				st = db
			}

			svc := prediction.NewService(imageproc.NewNormalizer(srv.Metadata), srv, st, nil, a.log)
			res, err := svc.Predict(cmd.Context(), data, "", auth.Identity{})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().BoolVar(&record, "record", false, "append the result to the prediction log")
	return cmd
}
