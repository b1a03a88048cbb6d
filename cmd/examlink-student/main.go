// Examlink student client: headless exam-screen side of the proctoring
// link. It joins the room, answers the agent's offer, and applies control
// commands to its local exam state. Useful for manual end-to-end runs
// against the relay without a browser.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/odewan/examlink/internal/client/media"
	"github.com/odewan/examlink/internal/client/session"
	"github.com/odewan/examlink/internal/client/transport"
	"github.com/odewan/examlink/internal/config"
	"github.com/odewan/examlink/internal/domain"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	room := flag.String("room", "", "Exam assignment ID (room)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.RequireClient(); err != nil {
		log.Fatal().Err(err).Msg("configuration error")
	}
	if *room == "" {
		log.Fatal().Msg("a -room is required")
	}

	tr := transport.New(cfg.RealtimeURL, cfg.PingPeriod)
	ctl := session.New(session.Config{
		Room:        domain.RoomID(*room),
		Role:        domain.RoleStudent,
		STUNServers: cfg.STUNServers,
	}, tr, media.NewManager(nil))

	if err := ctl.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start session")
	}
	defer ctl.Stop()

	log.Info().Str("room", *room).Msg("student joined, waiting for proctor")

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := ctl.Snapshot()
			log.Info().
				Str("link", string(snap.PeerState)).
				Int("section", snap.Control.Section).
				Int("passage", snap.Control.Passage).
				Bool("permission", snap.Control.PermissionGranted).
				Msg("exam state")
			if snap.Control.Ended {
				log.Info().Msg("exam ended by proctor")
				return
			}
		}
	}
}
