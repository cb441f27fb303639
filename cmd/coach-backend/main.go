// coach-backend: scripted coaching backend for local development.
//
// Serves the REST and websocket surface the coach client talks to. Audio
// chunks advance a scripted sales call; counterpart lines raise
// objections and coaching suggestions.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-coach/internal/log"
	"github.com/teslashibe/go-coach/pkg/mockbackend"
)

var (
	port     = flag.Int("port", 8000, "HTTP server port")
	level    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	chunks   = flag.Int("chunks-per-segment", 10, "Audio chunks between scripted transcript lines")
	rate     = flag.Int("sample-rate", 16000, "Sample rate of received pcm16 audio")
	channels = flag.Int("channels", 1, "Channels of received pcm16 audio")
)

func main() {
	flag.Parse()

	// Override from environment
	if envPort := os.Getenv("PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", port)
	}

	logger := log.Init(*level, nil)

	srv := mockbackend.New(
		mockbackend.WithChunksPerSegment(*chunks),
		mockbackend.WithAudioFormat(*rate, *channels),
		mockbackend.WithLogger(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("starting mock backend",
		"rest", fmt.Sprintf("http://localhost:%d", *port),
		"websocket", fmt.Sprintf("ws://localhost:%d/ws/<call_id>", *port),
	)
	if err := srv.Run(ctx, addr); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("goodbye")
}
