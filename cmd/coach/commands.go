package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/teslashibe/go-coach/internal/config"
	"github.com/teslashibe/go-coach/internal/log"
	"github.com/teslashibe/go-coach/pkg/backend"
	"github.com/teslashibe/go-coach/pkg/store"
)

func runCommand(ctx context.Context, cfg *config.Config, args []string) error {
	switch args[0] {
	case "calls":
		return cmdCalls(ctx, cfg)
	case "transcript":
		return cmdTranscript(ctx, cfg, args[1:])
	case "audio":
		return cmdAudio(ctx, cfg, args[1:])
	case "history":
		return cmdHistory(ctx, cfg, args[1:])
	case "search":
		return cmdSearch(ctx, cfg, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func cmdCalls(ctx context.Context, cfg *config.Config) error {
	client, err := newBackendClient(cfg, log.L())
	if err != nil {
		return err
	}
	calls, err := client.ListCalls(ctx)
	if err != nil {
		return err
	}
	for _, id := range calls {
		fmt.Println(id)
	}
	return nil
}

func cmdTranscript(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("transcript", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "Print the structured call record")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: coach transcript [-json] <call_id>")
	}
	callID := fs.Arg(0)

	client, err := newBackendClient(cfg, log.L())
	if err != nil {
		return err
	}

	if !*asJSON {
		text, err := client.TranscriptText(ctx, callID)
		if backend.IsNotFound(err) {
			return fmt.Errorf("no transcript for %s", callID)
		}
		if err != nil {
			return err
		}
		fmt.Print(text)
		return nil
	}

	rec, err := client.TranscriptJSON(ctx, callID)
	if err != nil {
		return err
	}
	fmt.Printf("call %s  %d segments  %d objections  %d suggestions\n",
		rec.CallID, len(rec.Transcript), len(rec.Objections), len(rec.Suggestions))
	for _, seg := range rec.Transcript {
		fmt.Printf("[%s] %s\n", seg.Speaker, seg.Text)
	}
	if rec.Summary != nil {
		fmt.Println()
		fmt.Println(rec.Summary.Overview)
	}
	return nil
}

func cmdAudio(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("audio", flag.ContinueOnError)
	out := fs.String("o", "", "Output file (default <call_id>_<kind>.wav)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("usage: coach audio [-o file] <call_id> <mix|mic|loop>")
	}
	callID, kind := fs.Arg(0), backend.AudioKind(fs.Arg(1))
	if !kind.Valid() {
		return fmt.Errorf("unknown audio kind %q", kind)
	}

	client, err := newBackendClient(cfg, log.L())
	if err != nil {
		return err
	}
	data, err := client.Audio(ctx, callID, kind)
	if err != nil {
		return err
	}

	path := *out
	if path == "" {
		path = fmt.Sprintf("%s_%s.wav", callID, kind)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d bytes)\n", path, len(data))
	return nil
}

func openArchive(cfg *config.Config) (*store.Store, error) {
	if !cfg.ArchiveEnabled() {
		return nil, errors.New("archive disabled (db_path: off)")
	}
	path := cfg.DBPath
	if path == "" {
		path = store.DefaultDBPath()
	}
	return store.Open(path)
}

func cmdHistory(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("n", 20, "Number of sessions")
	if err := fs.Parse(args); err != nil {
		return err
	}

	archive, err := openArchive(cfg)
	if err != nil {
		return err
	}
	defer archive.Close()

	sessions, err := archive.ListSessions(ctx, *limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "CALL\tSTARTED\tDURATION\tSEGMENTS\tOBJECTIONS\tEND")
	for _, s := range sessions {
		duration := "-"
		if s.EndedAt != nil {
			duration = s.EndedAt.Sub(s.StartedAt).Truncate(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			s.CallID,
			s.StartedAt.Local().Format(time.DateTime),
			duration,
			s.Segments,
			s.Objections,
			s.EndReason,
		)
	}
	return w.Flush()
}

func cmdSearch(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: coach search <text>")
	}

	archive, err := openArchive(cfg)
	if err != nil {
		return err
	}
	defer archive.Close()

	matches, err := archive.SearchSegments(ctx, strings.Join(args, " "), 50)
	if err != nil {
		return err
	}
	for _, m := range matches {
		fmt.Printf("%s  [%s] %s\n", m.CallID, m.Segment.Speaker, m.Segment.Text)
	}
	return nil
}
