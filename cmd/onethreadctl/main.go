package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/danmuck/onethread/internal/board"
	"github.com/danmuck/onethread/internal/observability"
	"github.com/gorilla/websocket"
)

const usage = `usage: onethreadctl [-addr URL] [-token TOKEN] <command> [args]

commands:
  create                       create a session
  list                         list sessions
  get <id>                     show one session
  submit <id> <op> [text]      submit an event (-count for await)
  input <id> <text>            deliver input to a suspended event
  close <id>                   finalize and remove a session
  stream <id>                  attach stdin/stdout to the session websocket
`

var errUsage = errors.New("invalid usage")

func main() {
	observability.InitLogger("onethreadctl")

	addr := flag.String("addr", "http://127.0.0.1:9000", "onethreadd base URL")
	token := flag.String("token", os.Getenv("ONETHREAD_TOKEN"), "session API token")
	timeout := flag.Duration("timeout", 2*time.Minute, "request timeout")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	client := NewClient(*addr, *token, *timeout)
	if err := run(client, flag.Args(), os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			flag.Usage()
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "onethreadctl: %v\n", err)
		os.Exit(1)
	}
}

func run(c *Client, args []string, in io.Reader, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "create":
		return printResult(out)(c.Create())
	case "list":
		return printResult(out)(c.List())
	case "get":
		if len(rest) != 1 {
			return errUsage
		}
		return printResult(out)(c.Get(rest[0]))
	case "submit":
		id, command, err := parseSubmit(rest)
		if err != nil {
			return err
		}
		return printResult(out)(c.Submit(id, command))
	case "input":
		if len(rest) < 2 {
			return errUsage
		}
		return printResult(out)(c.Input(rest[0], strings.Join(rest[1:], " ")))
	case "close":
		if len(rest) != 1 {
			return errUsage
		}
		if err := c.Close(rest[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "closed %s\n", rest[0])
		return nil
	case "stream":
		if len(rest) != 1 {
			return errUsage
		}
		return stream(c, rest[0], in, out)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func parseSubmit(args []string) (string, board.Command, error) {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	count := fs.Int("count", 0, "inputs to await")
	if err := fs.Parse(args); err != nil {
		return "", board.Command{}, fmt.Errorf("%w: %v", errUsage, err)
	}
	rest := fs.Args()
	if len(rest) < 2 {
		return "", board.Command{}, errUsage
	}
	cmd := board.Command{
		Op:    rest[1],
		Text:  strings.Join(rest[2:], " "),
		Count: *count,
	}
	return rest[0], cmd, nil
}

func printResult(out io.Writer) func(map[string]any, error) error {
	return func(body map[string]any, err error) error {
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(body)
	}
}

// stream sends each stdin line as a text frame and prints every frame the
// server writes. Lines starting with '{' are sent as-is and submit events.
func stream(c *Client, id string, in io.Reader, out io.Writer) error {
	conn, err := c.Stream(id)
	if err != nil {
		return err
	}
	defer conn.Close()

	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			fmt.Fprintln(out, string(data))
		}
	}()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case err := <-readErr:
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			return nil
		}
		return err
	case <-time.After(time.Second):
		return nil
	}
}
