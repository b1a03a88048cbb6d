// Examlink agent console: the invigilator's side of a live speaking exam.
//
// It joins the exam room on the signaling relay, establishes the
// peer-to-peer audio/video link with the student (the agent always offers),
// drives the student's exam screen via control commands, and submits the
// grading result at the end.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/odewan/examlink/internal/client/media"
	"github.com/odewan/examlink/internal/client/results"
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
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	room := flag.String("room", "", "Exam assignment ID (room)")
	agentID := flag.String("agent", "", "Agent ID")
	candidateID := flag.String("candidate", "", "Candidate ID")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		pterm.Error.Printfln("failed to load config: %v", err)
		os.Exit(1)
	}
	if err := cfg.RequireClient(); err != nil {
		pterm.Error.Printfln("configuration error: %v", err)
		os.Exit(1)
	}

	if *room == "" {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Exam assignment ID (room)").
			Show()
		*room = strings.TrimSpace(raw)
	}
	if *room == "" {
		pterm.Error.Println("a room is required")
		os.Exit(1)
	}

	tr := transport.New(cfg.RealtimeURL, cfg.PingPeriod)
	mediaMgr := media.NewManager(nil)
	ctl := session.New(session.Config{
		Room:        domain.RoomID(*room),
		Role:        domain.RoleAgent,
		STUNServers: cfg.STUNServers,
	}, tr, mediaMgr)

	if err := ctl.Start(ctx); err != nil {
		pterm.Error.Printfln("failed to start session: %v", err)
		os.Exit(1)
	}
	defer ctl.Stop()

	pterm.Info.Printfln("Proctoring room %s, waiting for the student", *room)
	resClient := results.NewClient(cfg.APIBaseURL)
	runConsole(ctx, ctl, resClient, *room, *agentID, *candidateID)
}

func runConsole(ctx context.Context, ctl *session.Controller, resClient *results.Client, room, agentID, candidateID string) {
	help := "commands: status | section <n> | next | prev | passage <n> | grant | mute | unmute | video on|off | retry | end | quit"
	pterm.Println(help)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, _ := pterm.DefaultInteractiveTextInput.WithDefaultText(">").Show()
		fields := strings.Fields(strings.ToLower(strings.TrimSpace(raw)))
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "status":
			printStatus(ctl)

		case "section":
			n, err := argInt(fields)
			if err != nil {
				pterm.Warning.Println("usage: section <n>")
				continue
			}
			_ = ctl.ChangeSection(n)

		case "next":
			_ = ctl.ChangePassageBy(domain.PassageNext)

		case "prev":
			_ = ctl.ChangePassageBy(domain.PassagePrev)

		case "passage":
			n, err := argInt(fields)
			if err != nil {
				pterm.Warning.Println("usage: passage <n>")
				continue
			}
			_ = ctl.ChangePassageTo(n)

		case "grant":
			_ = ctl.GrantPermission()
			pterm.Success.Println("permission granted")

		case "mute":
			ctl.SetAudioEnabled(false)
		case "unmute":
			ctl.SetAudioEnabled(true)

		case "video":
			if len(fields) < 2 {
				pterm.Warning.Println("usage: video on|off")
				continue
			}
			ctl.SetVideoEnabled(fields[1] == "on")

		case "retry":
			if err := ctl.Retry(); err != nil {
				pterm.Error.Printfln("retry failed: %v", err)
			}

		case "end":
			endAndGrade(ctx, ctl, resClient, room, agentID, candidateID)
			return

		case "quit", "exit":
			return

		default:
			pterm.Println(help)
		}
	}
}

func printStatus(ctl *session.Controller) {
	snap := ctl.Snapshot()
	pterm.Printfln("room=%s transport=%v peer_present=%v link=%s", snap.Room, snap.TransportUp, snap.PeerPresent, snap.PeerState)
	pterm.Printfln("section=%d passage=%d permission=%v audio=%v video=%v",
		snap.Control.Section, snap.Control.Passage, snap.Control.PermissionGranted, snap.AudioOn, snap.VideoOn)
	if snap.Err != nil {
		pterm.Warning.Printfln("needs attention: %v", snap.Err)
		if hint := media.Remediation(snap.Err); hint != "" {
			pterm.Println(hint)
		}
	}
}

func endAndGrade(ctx context.Context, ctl *session.Controller, resClient *results.Client, room, agentID, candidateID string) {
	_ = ctl.EndExam()
	pterm.Info.Println("exam ended, enter the grading outcome")

	marks := askMarks()
	feedback := ""
	for feedback == "" {
		raw, _ := pterm.DefaultInteractiveTextInput.WithDefaultText("Feedback").Show()
		feedback = strings.TrimSpace(raw)
	}

	result := domain.SpeakingResult{
		ExamID:      room,
		CandidateID: candidateID,
		AgentID:     agentID,
		Marks:       marks,
		Feedback:    feedback,
		Timestamp:   time.Now().UTC(),
	}

	// No automatic retry: failures keep the form contents and ask again.
	for {
		err := resClient.Submit(ctx, result)
		if err == nil {
			pterm.Success.Println("result saved, assignment completed")
			return
		}
		var statusErr *results.StatusUpdateError
		if errors.As(err, &statusErr) {
			// Partial failure: the result IS saved.
			pterm.Warning.Printfln("%v", statusErr)
			return
		}
		pterm.Error.Printfln("submission failed: %v", err)
		again, _ := pterm.DefaultInteractiveConfirm.WithDefaultText("Retry submission?").Show()
		if !again {
			return
		}
	}
}

func askMarks() int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.WithDefaultText("Marks (0 ~ 100)").Show()
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil && n >= 0 && n <= 100 {
			return n
		}
		pterm.Warning.Println("marks must be between 0 and 100")
	}
}

func argInt(fields []string) (int, error) {
	if len(fields) < 2 {
		return 0, fmt.Errorf("missing argument")
	}
	return strconv.Atoi(fields[1])
}
