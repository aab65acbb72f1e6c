package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"surveychat/internal/cli"
	"surveychat/pkg/apiclient"
	"surveychat/pkg/apiclient/retry"
	"surveychat/pkg/config"
	"surveychat/pkg/conversation"
	"surveychat/pkg/effect"
	"surveychat/pkg/events"
	"surveychat/pkg/identity"
	"surveychat/pkg/logx"
	"surveychat/pkg/metrics"
	"surveychat/pkg/presenter"
	"surveychat/pkg/recovery"
	"surveychat/pkg/storage"
	"surveychat/pkg/transcript"
	"surveychat/pkg/validate"
)

type runOptions struct {
	apiURL   string
	noReveal bool
}

func newRunCmd(global *globalOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start or resume the survey interview",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, configDir, err := loadEnvironment(global)
			if err != nil {
				return err
			}
			if opts.apiURL != "" {
				cfg.API.BaseURL = opts.apiURL
			}
			if opts.noReveal {
				cfg.Reveal.Enabled = false
			}
			return runInterview(ctx, cfg, configDir, os.Stdin, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.apiURL, "api-url", "", "survey API base URL (overrides api.base_url)")
	flags.BoolVar(&opts.noReveal, "no-reveal", false, "print interviewer messages at once instead of typing them out")
	return cmd
}

// runInterview wires the stack from cfg and runs one interview until it completes or
// the respondent leaves. Leaving early keeps the session resumable.
func runInterview(ctx context.Context, cfg config.Config, configDir string, in io.Reader, out io.Writer) error {
	if err := logx.InitializeLogFile(cfg.LogFilePath(configDir)); err != nil {
		return err
	}
	defer func() { _ = logx.CloseLogFile() }()
	if cfg.Logging.Debug {
		logx.SetDebugConfig(true, cfg.Logging.Domains)
	}
	logger := logx.NewLogger("main")

	kv, err := storage.Open(cfg.Storage.Backend, cfg.StoragePath(configDir))
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Backend, err)
	}
	defer func() {
		if cerr := kv.Close(); cerr != nil {
			logger.Warn("closing storage: %v", cerr)
		}
	}()

	respondentID := identity.NewStore(kv).GetOrCreateRespondentID(ctx)
	rec := recovery.NewStore(kv)

	recorder := metrics.NewPrometheusRecorder()
	defer writeMetrics(logger, recorder, cfg.MetricsPath(configDir))

	client := apiclient.Chain(
		apiclient.NewHTTPClient(cfg.API.BaseURL, cfg.API.Timeout, apiclient.WithRecorder(recorder)),
		retry.Middleware(retry.NewPolicy(cfg.API.Retry, nil)),
	)

	pub := events.Nop()
	if cfg.Events.NATSURL != "" {
		np, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, cfg.Events.Token)
		if err != nil {
			return fmt.Errorf("failed to connect to event bus: %w", err)
		}
		pub = np
	}
	defer pub.Close()

	tr := transcript.Nop()
	if cfg.Transcript.Enabled {
		w, err := transcript.NewWriter(cfg.TranscriptDir(configDir))
		if err != nil {
			return fmt.Errorf("failed to open transcript dir: %w", err)
		}
		tr = w
	}
	defer func() {
		if cerr := tr.Close(); cerr != nil {
			logger.Warn("closing transcript: %v", cerr)
		}
	}()

	machine, err := conversation.NewMachine(conversation.Deps{
		Client:       client,
		Runtime:      effect.NewBaseRuntime(rec, tr, pub, logx.NewLogger("effects")),
		Validator:    validate.New(cfg.Validation.MinTextLength),
		Recorder:     recorder,
		SurveyID:     cfg.API.SurveyID,
		RespondentID: respondentID,
	})
	if err != nil {
		return err
	}

	reveal := cfg.Reveal
	if f, ok := out.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		reveal.Enabled = false
	}
	pres := presenter.New(out,
		presenter.WithReveal(reveal),
		presenter.WithMinLength(cfg.Validation.MinTextLength),
	)

	fmt.Fprintf(out, "📋 %s\n", cfg.API.SurveyID)
	fmt.Fprintln(out, "Type /help at any time for the list of commands.")
	fmt.Fprintln(out)

	session := cli.NewSession(machine, pres, in)
	guard := recovery.NewGuard(rec, session.ConfirmResume)
	logger.Info("starting interview for %s against %s", respondentID, cfg.API.BaseURL)

	err = session.Run(ctx, guard)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, cli.ErrInputClosed), errors.Is(err, context.Canceled):
		fmt.Fprintln(out)
		if snap := machine.Snapshot(); snap.Session != nil && !snap.State.IsTerminal() {
			fmt.Fprintln(out, "👋 Your progress is saved. Run surveychat again to pick up where you left off.")
		}
		return nil
	default:
		return err
	}
}

func writeMetrics(logger *logx.Logger, recorder *metrics.PrometheusRecorder, path string) {
	if path == "" {
		return
	}
	if err := recorder.WriteTextfile(path); err != nil {
		logger.Warn("writing metrics to %s: %v", path, err)
		return
	}
	logger.Info("metrics written to %s", path)
}
