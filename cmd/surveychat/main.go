// Command surveychat runs a conversational survey interview in the terminal.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"surveychat/pkg/config"
	"surveychat/pkg/logx"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	projectDir string
	envFile    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "surveychat: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "surveychat",
		Short:         "Take a conversational survey interview in the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.projectDir, "project-dir", ".", "directory holding .surveychat/ (config, state, transcripts)")
	flags.StringVar(&opts.envFile, "env-file", "", "dotenv file to load before reading config (default <project-dir>/.env)")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newMockServerCmd(opts))
	root.AddCommand(newResetCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

// loadEnvironment loads the dotenv file and the project config. It returns the
// effective config and the resolved config directory.
func loadEnvironment(opts *globalOptions) (config.Config, string, error) {
	projectDir, err := filepath.Abs(opts.projectDir)
	if err != nil {
		return config.Config{}, "", fmt.Errorf("resolve project dir: %w", err)
	}

	if err := loadDotEnv(projectDir, opts.envFile); err != nil {
		return config.Config{}, "", err
	}

	if err := config.LoadConfig(projectDir); err != nil {
		return config.Config{}, "", fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := config.GetConfig()
	if err != nil {
		return config.Config{}, "", err
	}
	return cfg, config.Dir(), nil
}

// loadDotEnv loads envFile, or <projectDir>/.env when it exists. Variables already in
// the environment win.
func loadDotEnv(projectDir, envFile string) error {
	explicit := envFile != ""
	if !explicit {
		envFile = filepath.Join(projectDir, ".env")
	}
	if _, err := os.Stat(envFile); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("env file %s: %w", envFile, err)
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}
	logx.NewLogger("main").Info("loaded environment from %s", envFile)
	return nil
}
