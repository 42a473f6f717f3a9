package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MrWong99/voicelink/internal/voice"
	"github.com/MrWong99/voicelink/pkg/memory"
)

// ErrQuit is returned by [RunConsole] when the user asks to quit.
var ErrQuit = errors.New("app: quit")

// Controls is the part of the controller the console drives.
type Controls interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Interrupt(ctx context.Context) error
	Commit(ctx context.Context) error
	UpdateInstructions(ctx context.Context, instructions string) error
}

const consoleHelp = "commands: i = interrupt, c = commit turn, u <text> = update instructions, r = reconnect, d = disconnect, q = quit"

// RunConsole reads line commands from in until EOF, quit or ctx ends:
//
//	i         interrupt the assistant
//	c         commit the current user turn
//	u <text>  replace the session instructions
//	r         connect again after a disconnect or failure
//	d         disconnect and archive the transcript
//	q         quit
//
// Command failures are printed to out and do not stop the loop.
func RunConsole(ctx context.Context, ctrl Controls, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	fmt.Fprintln(out, consoleHelp)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			return err
		case line := <-lines:
			if err := runCommand(ctx, ctrl, strings.TrimSpace(line), out); err != nil {
				return err
			}
		}
	}
}

func runCommand(ctx context.Context, ctrl Controls, line string, out io.Writer) error {
	cmd, arg, _ := strings.Cut(line, " ")
	var err error
	switch cmd {
	case "":
		return nil
	case "q", "quit":
		return ErrQuit
	case "i":
		err = ctrl.Interrupt(ctx)
	case "c":
		err = ctrl.Commit(ctx)
	case "r":
		err = ctrl.Connect(ctx)
	case "d":
		err = ctrl.Disconnect(ctx)
	case "u":
		arg = strings.TrimSpace(arg)
		if arg == "" {
			fmt.Fprintln(out, "usage: u <instructions>")
			return nil
		}
		err = ctrl.UpdateInstructions(ctx, arg)
	default:
		fmt.Fprintln(out, consoleHelp)
		return nil
	}
	if err != nil {
		fmt.Fprintf(out, "! %s failed: %v\n", cmd, err)
	}
	return nil
}

// PrintNotices writes notices to out until the channel closes or ctx ends.
// Partial transcripts are skipped; finals and status messages are printed.
func PrintNotices(ctx context.Context, notices <-chan voice.Notice, out io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notices:
			if !ok {
				return
			}
			if line := formatNotice(n); line != "" {
				fmt.Fprintln(out, line)
			}
		}
	}
}

func formatNotice(n voice.Notice) string {
	switch n.Kind {
	case voice.NoticePartial:
		return ""
	case voice.NoticeTranscript:
		speaker := "assistant"
		switch {
		case n.Role == memory.RoleUser:
			speaker = "you"
		case n.Agent != "":
			speaker = n.Agent
		}
		return fmt.Sprintf("[%s] %s", speaker, n.Message)
	case voice.NoticeState, voice.NoticeInstructions:
		return "* " + n.Message
	default:
		return "! " + n.Message
	}
}
