// coach: live call coaching client.
//
// Streams call audio to the coaching backend, shows the live transcript,
// objections and suggestions in a terminal UI and a web dashboard, and
// archives every finished call locally.
//
// Usage:
//
//	coach [flags]                 live session (TUI, or headless without a TTY)
//	coach calls                   list calls known to the backend
//	coach transcript <call_id>    print a backend transcript
//	coach audio <call_id> <kind>  download mix, mic or loop audio
//	coach history                 list archived sessions
//	coach search <text>           search archived transcripts
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/teslashibe/go-coach/internal/config"
	"github.com/teslashibe/go-coach/internal/log"
	"github.com/teslashibe/go-coach/pkg/backend"
	"github.com/teslashibe/go-coach/pkg/capture"
	"github.com/teslashibe/go-coach/pkg/coach"
	"github.com/teslashibe/go-coach/pkg/connection"
	"github.com/teslashibe/go-coach/pkg/store"
	"github.com/teslashibe/go-coach/pkg/tui"
	"github.com/teslashibe/go-coach/pkg/web"
)

var (
	configPath = flag.String("config", "", "Config file (default $COACH_CONFIG or the user config dir)")
	headless   = flag.Bool("headless", false, "Run without the TUI; start a session immediately")
	callID     = flag.String("call-id", "", "Call ID for a headless session (default generated)")
	mockAudio  = flag.Bool("mock-audio", false, "Capture a synthetic tone instead of a real device")
	logLevel   = flag.String("log-level", "", "Log level: debug, info, warn, error")
	noUpload   = flag.Bool("no-upload", false, "Skip the whole-call recording upload")
	allocate   = flag.Bool("server-session", false, "Have the backend allocate the headless session's call ID")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *mockAudio {
		cfg.Audio.Backend = capture.BackendMock
	}
	if *noUpload {
		cfg.UploadFinal = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		log.Init(cfg.LogLevel, nil)
		if err := runCommand(ctx, cfg, args); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	interactive := !*headless && term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))

	logOut, closeLog, err := logWriter(cfg, interactive)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closeLog()
	logger := log.Init(cfg.LogLevel, logOut)

	if err := run(ctx, cfg, interactive, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("coach failed", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// logWriter keeps logs off the terminal while the TUI owns it.
func logWriter(cfg *config.Config, interactive bool) (io.Writer, func(), error) {
	path := cfg.LogFile
	if path == "" && interactive {
		path = filepath.Join(os.TempDir(), "go-coach.log")
	}
	if path == "" {
		return os.Stderr, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func run(ctx context.Context, cfg *config.Config, interactive bool, logger *slog.Logger) error {
	client, err := newBackendClient(cfg, logger)
	if err != nil {
		return err
	}

	var archive *store.Store
	if cfg.ArchiveEnabled() {
		path := cfg.DBPath
		if path == "" {
			path = store.DefaultDBPath()
		}
		archive, err = store.Open(path)
		if err != nil {
			return err
		}
		defer archive.Close()
		logger.Info("archive opened", "path", path)
	}

	conn, err := connection.NewManager(
		connection.WithPolicy(cfg.Reconnect),
		connection.WithHeartbeat(cfg.Heartbeat),
		connection.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer conn.Close()

	opts := []coach.Option{
		coach.WithWSBaseURL(cfg.WSBaseURL()),
		coach.WithCapture(cfg.Audio),
		coach.WithCoachEnabled(cfg.CoachEnabled),
		coach.WithFinalizeTimeout(cfg.FinalizeTimeout),
		coach.WithLogger(logger),
	}
	if cfg.UploadFinal {
		opts = append(opts, coach.WithFinalizer(uploadRecording(client)))
	}
	if archive != nil {
		opts = append(opts, coach.WithArchiver(archive.SaveSession))
	}

	ctrl, err := coach.NewController(conn, capture.NewPipeline(capture.WithLogger(logger)), opts...)
	if err != nil {
		return err
	}

	// The controller outlives the signal context so the session can be
	// stopped cleanly after the UI exits.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	ctrlDone := make(chan error, 1)
	go func() { ctrlDone <- ctrl.Run(runCtx) }()

	if cfg.DashboardPort > 0 {
		webOpts := []web.Option{
			web.WithAddr(fmt.Sprintf(":%d", cfg.DashboardPort)),
			web.WithLogger(logger),
		}
		if archive != nil {
			webOpts = append(webOpts, web.WithArchive(archive))
		}
		dash := web.NewServer(ctrl, webOpts...)
		go func() {
			if err := dash.Run(runCtx); err != nil {
				logger.Error("dashboard stopped", "error", err)
			}
		}()
	}

	if interactive {
		err = tui.Run(ctx, ctrl)
	} else {
		params := coach.StartParams{CallID: *callID}
		if *allocate {
			var info *backend.SessionInfo
			if info, err = client.StartSession(ctx); err == nil {
				params = coach.StartParams{CallID: info.CallID, Endpoint: info.WSURL}
			}
		}
		if err == nil {
			err = runHeadless(ctx, ctrl, params, logger)
		}
	}

	stopCtx, stopCancel := context.WithTimeout(runCtx, cfg.FinalizeTimeout+5*time.Second)
	if stopErr := ctrl.Stop(stopCtx); stopErr != nil {
		logger.Warn("stop failed", "error", stopErr)
	}
	stopCancel()

	cancel()
	<-ctrlDone
	return err
}

func newBackendClient(cfg *config.Config, logger *slog.Logger) (*backend.Client, error) {
	opts := []backend.Option{
		backend.WithBaseURL(cfg.APIURL),
		backend.WithLogger(logger),
	}
	if cfg.Auth.Enabled() {
		opts = append(opts, backend.WithClientCredentials(
			cfg.Auth.ClientID, cfg.Auth.ClientSecret, cfg.Auth.TokenURL, cfg.Auth.Scopes...,
		))
	}
	return backend.New(opts...)
}

// uploadRecording sends the whole call as FLAC, falling back to WAV when
// the recording cannot be encoded.
func uploadRecording(client *backend.Client) coach.FinalizeFunc {
	return func(ctx context.Context, callID string, rec *capture.Recording) error {
		if rec.Len() == 0 {
			return nil
		}
		data, err := rec.FLAC()
		name := callID + ".flac"
		if err != nil {
			data = rec.WAV()
			name = callID + ".wav"
		}
		_, err = client.UploadFinal(ctx, callID, name, data)
		return err
	}
}

// runHeadless starts one session and logs its progress until ctx is done
// or the session ends on its own.
func runHeadless(ctx context.Context, ctrl *coach.Controller, params coach.StartParams, logger *slog.Logger) error {
	updates, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	if err := ctrl.Start(ctx, params); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case u, ok := <-updates:
			if !ok {
				return nil
			}
			logUpdate(logger, u)
			if u.Kind == coach.UpdatePhase && u.Phase == coach.PhaseEnded {
				return nil
			}
		}
	}
}

func logUpdate(logger *slog.Logger, u coach.Update) {
	switch {
	case u.Kind == coach.UpdateTranscript && u.Segment != nil:
		logger.Info("transcript", "speaker", u.Segment.Speaker, "text", u.Segment.Text)
	case u.Kind == coach.UpdateObjection && u.Objection != nil:
		logger.Info("objection", "type", u.Objection.Type, "text", u.Objection.Text)
	case u.Kind == coach.UpdateSuggestion && u.Suggestion != nil:
		logger.Info("suggestion", "type", u.Suggestion.Type, "text", u.Suggestion.Text)
	case u.Kind == coach.UpdateSummary && u.Summary != nil:
		logger.Info("summary", "overview", u.Summary.Overview, "objections", u.Summary.TotalObjections)
	case u.Kind == coach.UpdatePhase:
		logger.Info("phase", "phase", u.Phase, "attempt", u.Attempt, "retry_in", u.RetryIn, "reason", u.EndReason)
	case u.Kind == coach.UpdateError:
		logger.Warn("session error", "error", u.Error)
	}
}
