package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"surveychat/pkg/identity"
	"surveychat/pkg/mockserver"
	"surveychat/pkg/recovery"
	"surveychat/pkg/storage"
	"surveychat/pkg/version"
)

func newMockServerCmd(global *globalOptions) *cobra.Command {
	var (
		addr       string
		surveyFile string
	)

	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Serve the survey API locally from a YAML survey definition",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, _, err := loadEnvironment(global)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.MockServer.Addr
			}
			if surveyFile == "" {
				surveyFile = cfg.MockServer.SurveyFile
			}

			survey := mockserver.DefaultSurvey()
			if surveyFile != "" {
				if survey, err = mockserver.LoadSurvey(surveyFile); err != nil {
					return err
				}
			}

			srv := mockserver.NewServer(survey)
			fmt.Fprintf(cmd.OutOrStdout(), "🚀 Serving %q (%d questions) on http://%s%s\n",
				survey.ID, len(survey.Questions), addr, mockserver.APIPrefix)
			return srv.ListenAndServe(ctx, addr)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", "", "listen address (overrides mock_server.addr)")
	flags.StringVar(&surveyFile, "survey-file", "", "YAML survey definition (default: built-in survey)")
	return cmd
}

func newResetCmd(global *globalOptions) *cobra.Command {
	var forgetIdentity bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget the unfinished interview so the next run starts fresh",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, configDir, err := loadEnvironment(global)
			if err != nil {
				return err
			}

			kv, err := storage.Open(cfg.Storage.Backend, cfg.StoragePath(configDir))
			if err != nil {
				return fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Backend, err)
			}
			defer kv.Close() //nolint:errcheck // nothing left to flush

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if err := recovery.NewStore(kv).Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "🧹 Cleared saved interview progress.")

			if forgetIdentity {
				if err := identity.NewStore(kv).Reset(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "🧹 Forgot the respondent id; the next run gets a new one.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&forgetIdentity, "identity", false, "also forget the anonymous respondent id")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
