package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/synctick/synctick/internal/client"
)

func main() {
	addr := flag.String("addr", "ws://localhost:8080", "server WebSocket address")
	roomCode := flag.String("room", "", "room code (3-20 characters); defaults to the last room used within 24h")
	statePath := flag.String("state", defaultStatePath(), "path to the remembered-room file")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	code := *roomCode
	if code == "" {
		remembered, ok := client.LoadRoom(*statePath, time.Now())
		if !ok {
			fmt.Fprintln(os.Stderr, "no room given and no recent room remembered; use -room")
			os.Exit(1)
		}
		code = remembered
		fmt.Printf("rejoining room %q\n", code)
	}

	c, err := client.New(client.Config{
		ServerURL: *addr,
		Room:      code,
	}, clockwork.NewRealClock(), terminalCues{}, printCountdown)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid room: %v\n", err)
		os.Exit(1)
	}

	if err := client.SaveRoom(*statePath, code, time.Now()); err != nil {
		log.Warn().Err(err).Msg("could not remember room")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	fmt.Printf("joined room %q on %s\n", code, *addr)
	commandLoop(c, cancel)
}

// commandLoop reads commands from stdin until quit or EOF.
func commandLoop(c *client.Client, cancel context.CancelFunc) {
	printHelp()
	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			cancel()
			return
		}

		var cmdErr error
		switch strings.TrimSpace(strings.ToLower(line)) {
		case "start":
			cmdErr = c.Start()
		case "stop":
			cmdErr = c.Stop()
		case "reset":
			cmdErr = c.Reset()
		case "status":
			r := c.Renderer()
			fmt.Printf("%s  %s\n", formatSeconds(r.Current()), r.Phase())
		case "help":
			printHelp()
		case "quit", "exit":
			cancel()
			return
		case "":
		default:
			fmt.Println("unknown command; try 'help'")
		}
		if cmdErr != nil {
			fmt.Printf("command failed: %v\n", cmdErr)
		}
	}
}

func printHelp() {
	fmt.Println("commands: start, stop, reset, status, help, quit")
}

// printCountdown redraws the countdown line on every display change.
func printCountdown(secondsLeft int, tier client.Tier) {
	fmt.Printf("\r%s [%s]   ", formatSeconds(secondsLeft), tier)
}

func formatSeconds(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// terminalCues renders cues as a bell plus a label.
type terminalCues struct{}

func (terminalCues) Play(cue client.Cue) {
	fmt.Printf("\a[%s]\n", cue)
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".synctick-room.json"
	}
	return filepath.Join(dir, "synctick", "lastroom.json")
}
