package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/vovakirdan/watchparty/internal/party"
)

// controller is what the prompt drives; *party.Reconciler implements it.
type controller interface {
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, t float64) error
	SendChat(ctx context.Context, text string) error
	Leave(ctx context.Context) error
	State() party.State
}

var errQuit = errors.New("quit")

const helpText = `commands:
  play             start playback for everyone
  pause            pause playback for everyone
  seek <seconds>   jump to a position
  say <text>       send a chat message
  status           show room, playback and participants
  leave            leave the party and exit
`

func repl(ctx context.Context, c controller, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprint(out, "type 'help' for commands\n")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := execLine(ctx, c, line, out)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
}

func execLine(ctx context.Context, c controller, line string, out io.Writer) error {
	args, err := shellwords.Parse(line)
	if err != nil {
		return fmt.Errorf("parse %q: %w", line, err)
	}
	if len(args) == 0 {
		return nil
	}

	switch args[0] {
	case "help", "?":
		fmt.Fprint(out, helpText)
		return nil
	case "play":
		return c.Play(ctx)
	case "pause":
		return c.Pause(ctx)
	case "seek":
		if len(args) != 2 {
			return errors.New("usage: seek <seconds>")
		}
		t, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid position %q", args[1])
		}
		return c.Seek(ctx, t)
	case "say", "chat":
		text := strings.TrimSpace(strings.Join(args[1:], " "))
		if text == "" {
			return errors.New("usage: say <text>")
		}
		return c.SendChat(ctx, text)
	case "status":
		printStatus(out, c.State())
		return nil
	case "leave", "exit", "quit":
		if err := c.Leave(ctx); err != nil {
			return err
		}
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, try 'help'", args[0])
	}
}

func printStatus(out io.Writer, st party.State) {
	state := "paused"
	if st.IsPlaying {
		state = "playing"
	}
	fmt.Fprintf(out, "room %s [%s] media %d %s at %.1fs\n", st.RoomID, st.Phase, st.MediaID, state, st.CurrentTime)
	for _, p := range st.Participants {
		host := ""
		if p.IsHost {
			host = " (host)"
		}
		fmt.Fprintf(out, "  %s%s\n", p.Name, host)
	}
	if st.LastError != nil {
		fmt.Fprintf(out, "last error: %s: %s\n", st.LastError.Code, st.LastError.Msg)
	}
}

// watchState prints new chat lines, phase changes and errors as they arrive.
func watchState(s *party.Store, out io.Writer) {
	var (
		mu      sync.Mutex
		printed int
		phase   party.Phase
		lastErr string
	)
	s.OnChange(func(st party.State) {
		mu.Lock()
		defer mu.Unlock()

		if st.Phase != phase {
			phase = st.Phase
			fmt.Fprintf(out, "* %s\n", phase)
		}
		if printed > len(st.Messages) {
			printed = 0
		}
		for _, m := range st.Messages[printed:] {
			if m.System {
				fmt.Fprintf(out, "* %s\n", m.Text)
				continue
			}
			fmt.Fprintf(out, "<%s> %s\n", m.UserName, m.Text)
		}
		printed = len(st.Messages)

		if st.LastError != nil && st.LastError.Msg != lastErr {
			lastErr = st.LastError.Msg
			fmt.Fprintf(out, "! %s: %s\n", st.LastError.Code, st.LastError.Msg)
		} else if st.LastError == nil {
			lastErr = ""
		}
	})
}
