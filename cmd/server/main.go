package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/visionai-api/internal/config"
	"github.com/Brownie44l1/visionai-api/internal/logger"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configDir string
	settings  *config.Settings
	log       *logger.Logger
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "visionai",
		Short:         "VisionAI facial emotion recognition backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				a.log.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&a.configDir, "config", ".", "directory searched for config.yaml")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the REST and WebSocket API",
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.serve(cmd.Context())
			},
		},
		a.migrateCommand(),
		a.modelCommand(),
		a.userCommand(),
		a.predictCommand(),
	)
	return root
}

func (a *app) init() error {
	settings, err := config.Load(a.configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(settings.Log.Mode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	root := projectRoot()
	settings.Model.Path = resolvePath(root, settings.Model.Path)
	settings.Model.MetadataPath = resolvePath(root, settings.Model.MetadataPath)

	a.settings = settings
	a.log = log
	return nil
}

// projectRoot is the working directory, or the repository root when the
// binary is started from cmd/server.
func projectRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	if filepath.Base(wd) == "server" && filepath.Base(filepath.Dir(wd)) == "cmd" {
		return filepath.Join(wd, "..", "..")
	}
	return wd
}

func resolvePath(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
