// Command chatcli is a terminal client for an echoroom server.
//
//	chatcli -server http://localhost:5000 -email alice@example.com -password secret
//
// Lines typed on stdin are sent as messages. "/edit <id> <text>" and
// "/delete <id>" act on your own messages; "/list" prints the timeline.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/lalith-99/echoroom/internal/realtime"
	"github.com/lalith-99/echoroom/internal/syncagent"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	server := flag.String("server", "http://localhost:5000", "server base URL")
	email := flag.String("email", "", "account email")
	password := flag.String("password", "", "account password")
	username := flag.String("register", "", "register a new account with this username before connecting")
	debug := flag.Bool("debug", false, "log protocol details to stderr")
	noColor := flag.Bool("no-color", false, "disable colored output")
	flag.Parse()

	if *email == "" || *password == "" {
		flag.Usage()
		return errors.New("-email and -password are required")
	}

	logger := zap.NewNop()
	if *debug {
		l, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		logger = l
		defer logger.Sync()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agent := syncagent.New(*server, syncagent.WithLogger(logger))

	if *username != "" {
		if err := agent.Register(ctx, *username, *email, *password); err != nil {
			return err
		}
	} else if err := agent.Login(ctx, *email, *password); err != nil {
		return err
	}

	history, err := agent.Sync(ctx)
	if err != nil {
		return err
	}
	if err := agent.Connect(ctx); err != nil {
		return err
	}
	defer agent.Close()

	out := &printer{w: os.Stdout, self: agent.User().Username, colors: !*noColor}
	out.notice(fmt.Sprintf("connected as %s (%d messages)", agent.User().Username, len(history)))
	for _, m := range history {
		out.message("", m)
	}

	go printEvents(agent, out)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := handleLine(ctx, agent, out, line); err != nil {
				out.failure(err.Error())
			}
		}
	}
}

func handleLine(ctx context.Context, agent *syncagent.Agent, out *printer, line string) error {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil

	case line == "/list":
		out.table(agent.Timeline().Snapshot())
		return nil

	case strings.HasPrefix(line, "/edit "):
		fields := strings.SplitN(strings.TrimPrefix(line, "/edit "), " ", 2)
		if len(fields) != 2 {
			return errors.New("usage: /edit <id> <text>")
		}
		id, err := uuid.Parse(fields[0])
		if err != nil {
			return fmt.Errorf("bad id %q", fields[0])
		}
		m, err := agent.Edit(ctx, id, fields[1])
		if err != nil {
			return err
		}
		out.message("edited", *m)
		return nil

	case strings.HasPrefix(line, "/delete "):
		raw := strings.TrimSpace(strings.TrimPrefix(line, "/delete "))
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("bad id %q", raw)
		}
		if err := agent.Delete(ctx, id); err != nil {
			return err
		}
		out.notice("deleted " + id.String())
		return nil

	default:
		// Our own message comes back as receiveMessage and is printed then.
		_, err := agent.Send(ctx, line)
		return err
	}
}

func printEvents(agent *syncagent.Agent, out *printer) {
	for ev := range agent.Events() {
		switch ev.Name {
		case realtime.EventReceiveMessage:
			out.message("", *ev.Message)
		case realtime.EventEditMessage:
			out.message("edited", *ev.Message)
		case realtime.EventDeleteMessage:
			out.notice("deleted " + ev.ID.String())
		}
	}
	out.notice("disconnected")
}
