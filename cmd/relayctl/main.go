// relayctl is the relay's command-line client: attach the local terminal to
// a hosted shell session, follow and post to its conversation thread, and
// manage sessions over the relay API.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/codeready-toolchain/relay/pkg/session"
	"github.com/codeready-toolchain/relay/pkg/terminal"
	"github.com/codeready-toolchain/relay/pkg/thread"
	"github.com/codeready-toolchain/relay/pkg/transport"
	"github.com/codeready-toolchain/relay/pkg/version"
	"github.com/codeready-toolchain/relay/pkg/wire"
)

const defaultServer = "http://127.0.0.1:8080"

// detachByte is Ctrl-], the telnet-style escape that ends an attach.
const detachByte = 0x1D

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type cliOptions struct {
	server string
}

// baseURL resolves the server base URL: --server flag, then RELAY_SERVER,
// then the local default.
func (o *cliOptions) baseURL() string {
	if o.server != "" {
		return strings.TrimRight(o.server, "/")
	}
	if env := strings.TrimSpace(os.Getenv("RELAY_SERVER")); env != "" {
		return strings.TrimRight(env, "/")
	}
	return defaultServer
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:   "relayctl",
		Short: "Relay terminal client",
		Long: "Client for a relay server: attach the local terminal to hosted shell\n" +
			"sessions, follow their conversation threads, and manage sessions.",
	}

	rootCmd.PersistentFlags().StringVar(&opts.server, "server", "",
		"Relay server base URL (default $RELAY_SERVER or "+defaultServer+")")

	rootCmd.AddCommand(newSessionsCmd(opts))
	rootCmd.AddCommand(newAttachCmd(opts))
	rootCmd.AddCommand(newThreadCmd(opts))
	rootCmd.AddCommand(newHistoryCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// apiError is the JSON error body the relay produces for HTTP errors.
type apiError struct {
	Message string `json:"message"`
}

// callAPI performs one JSON request against the relay API. A nil target
// discards the response body.
func callAPI(ctx context.Context, method, url string, target any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("server: %s (%s)", apiErr.Message, resp.Status)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}

	if target == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func newSessionsCmd(opts *cliOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions on the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			var infos []session.Info
			if err := callAPI(cmd.Context(), http.MethodGet, opts.baseURL()+"/api/sessions", &infos); err != nil {
				return err
			}
			if jsonOutput {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(infos)
			}
			if len(infos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
				return nil
			}
			for _, info := range infos {
				state := "idle"
				if info.Running {
					state = fmt.Sprintf("running %dx%d", info.Cols, info.Rows)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-36s  %-15s  last active %s\n",
					info.ID, state, info.LastActive.Local().Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	cmd.AddCommand(newSessionsCreateCmd(opts))
	cmd.AddCommand(newSessionsDeleteCmd(opts))
	return cmd
}

func newSessionsCreateCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a session without attaching",
		RunE: func(cmd *cobra.Command, args []string) error {
			var info session.Info
			if err := callAPI(cmd.Context(), http.MethodPost, opts.baseURL()+"/api/sessions", &info); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), info.ID)
			return nil
		},
	}
}

func newSessionsDeleteCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its thread history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := opts.baseURL() + "/api/sessions/" + args[0]
			if err := callAPI(cmd.Context(), http.MethodDelete, url, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newAttachCmd(opts *cliOptions) *cobra.Command {
	var noReconnect bool

	cmd := &cobra.Command{
		Use:   "attach [session-id]",
		Short: "Attach this terminal to a relay shell session",
		Long: `Attach the local terminal to a shell session hosted on the relay.

With no argument a fresh session is created first. The terminal enters raw
mode: every keystroke, Ctrl-C included, goes to the remote shell. Press
Ctrl-] to detach; the session keeps running and can be re-attached later.

Dropped connections are re-dialed with exponential backoff, and the last
screen contents are replayed on re-attach.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sessionID string
			if len(args) == 1 {
				sessionID = args[0]
			} else {
				var info session.Info
				if err := callAPI(cmd.Context(), http.MethodPost, opts.baseURL()+"/api/sessions", &info); err != nil {
					return err
				}
				sessionID = info.ID
				fmt.Fprintf(cmd.OutOrStdout(), "created session %s\n", sessionID)
			}
			return runAttach(opts.baseURL(), sessionID, noReconnect)
		},
	}
	cmd.Flags().BoolVar(&noReconnect, "no-reconnect", false,
		"Exit instead of re-dialing when the connection drops")
	return cmd
}

func runAttach(baseURL, sessionID string, noReconnect bool) error {
	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		return fmt.Errorf("attach requires a terminal on stdin")
	}

	tOpts := transport.DefaultOptions()
	tOpts.BaseURL = baseURL
	tOpts.Path = "/ws/" + sessionID
	tOpts.AutoReconnect = !noReconnect

	conn, err := transport.New(tOpts)
	if err != nil {
		return err
	}
	defer conn.Disconnect()

	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}

	adapter := terminal.NewAdapter(conn, terminal.Config{
		OnOutput: func(data string) {
			_, _ = os.Stdout.WriteString(data)
		},
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "\r\nrelayctl: %v\r\n", err)
		},
	})
	defer adapter.Close()

	connected := make(chan struct{})
	var connectedOnce sync.Once

	removeState := conn.OnState(func(s transport.State) {
		switch s {
		case transport.StateConnected:
			connectedOnce.Do(func() { close(connected) })
			// The server sizes a fresh PTY 80x24; announce ours.
			if cols, rows, sizeErr := term.GetSize(stdinFd); sizeErr == nil {
				_ = adapter.Resize(cols, rows)
			}
		case transport.StateReconnecting:
			fmt.Fprintf(os.Stderr, "\r\nrelayctl: connection lost, re-dialing...\r\n")
		case transport.StateError:
			finish(fmt.Errorf("connection to %s failed after retries", sessionID))
		case transport.StateDisconnected:
			finish(nil)
		}
	})
	defer removeState()

	if err := conn.Connect(); err != nil {
		return err
	}

	// Hold off raw mode until the first dial settles so handshake errors
	// print on a normal terminal.
	select {
	case <-connected:
	case err := <-done:
		if err != nil {
			return err
		}
		return fmt.Errorf("connection closed before it was established")
	}

	oldState, err := term.MakeRaw(stdinFd)
	if err != nil {
		return fmt.Errorf("set terminal raw mode: %w", err)
	}
	defer term.Restore(stdinFd, oldState)

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			if cols, rows, sizeErr := term.GetSize(stdinFd); sizeErr == nil {
				_ = adapter.Resize(cols, rows)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		_ = term.Restore(stdinFd, oldState)
		conn.Disconnect()
		os.Exit(0)
	}()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, readErr := os.Stdin.Read(buf)
			if n > 0 {
				chunk := buf[:n]
				if idx := bytes.IndexByte(chunk, detachByte); idx >= 0 {
					if idx > 0 {
						_ = adapter.SendInput(string(chunk[:idx]))
					}
					finish(nil)
					return
				}
				if sendErr := adapter.SendInput(string(chunk)); sendErr != nil {
					fmt.Fprintf(os.Stderr, "\r\nrelayctl: %v\r\n", sendErr)
				}
			}
			if readErr != nil {
				finish(nil)
				return
			}
		}
	}()

	err = <-done
	_ = term.Restore(stdinFd, oldState)
	fmt.Printf("\ndetached from %s\n", sessionID)
	return err
}

func newThreadCmd(opts *cliOptions) *cobra.Command {
	var pageSize int

	cmd := &cobra.Command{
		Use:   "thread <session-id>",
		Short: "Follow a session's conversation thread",
		Long: `Connect to a session's thread channel, print its history, and stream new
messages as they arrive. Lines typed on stdin are published as user
messages. Commands: /more loads an older history page, /quit exits.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThread(cmd.Context(), opts.baseURL(), args[0], pageSize, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "History page size (server default when 0)")
	return cmd
}

func runThread(ctx context.Context, baseURL, sessionID string, pageSize int, out io.Writer) error {
	tOpts := transport.DefaultOptions()
	tOpts.BaseURL = baseURL
	tOpts.Path = "/ws/thread/" + sessionID
	// A thread follower is long-lived; keep re-dialing until told to stop.
	tOpts.MaxReconnectAttempts = -1

	conn, err := transport.New(tOpts)
	if err != nil {
		return err
	}
	defer conn.Disconnect()

	rec := thread.NewReconciler(thread.NewHistoryClient(baseURL, sessionID, pageSize))

	// Live messages can land while the history snapshot is still loading;
	// they are merged into the reconciler either way, so printing dedups on
	// message ID and the snapshot pass picks up early arrivals.
	var (
		mu    sync.Mutex
		ready bool
		seen  = make(map[string]bool)
	)
	printMsg := func(msg wire.ThreadMessage) {
		if seen[msg.ID] {
			return
		}
		seen[msg.ID] = true
		fmt.Fprintln(out, formatThreadMessage(msg))
	}

	adapter := thread.NewAdapter(conn, rec, thread.Config{
		OnMessage: func(msg wire.ThreadMessage) {
			mu.Lock()
			defer mu.Unlock()
			if !ready {
				return
			}
			printMsg(msg)
		},
		OnStatus: func(status, message string) {
			if message != "" {
				fmt.Fprintf(os.Stderr, "* %s: %s\n", status, message)
				return
			}
			fmt.Fprintf(os.Stderr, "* %s\n", status)
		},
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
		},
	})
	defer adapter.Close()

	if err := conn.Connect(); err != nil {
		return err
	}

	if err := rec.LoadHistory(ctx); err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	mu.Lock()
	if rec.HasMore() {
		fmt.Fprintf(out, "(%d older messages, /more to load)\n", rec.Total()-rec.Len())
	}
	for _, msg := range rec.Messages() {
		printMsg(msg)
	}
	ready = true
	mu.Unlock()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/more":
			if err := rec.LoadMore(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "relayctl: load more: %v\n", err)
				continue
			}
			mu.Lock()
			for _, msg := range rec.Messages() {
				printMsg(msg)
			}
			mu.Unlock()
		default:
			// Send failures already fire OnError.
			_ = adapter.SendMessage(line)
		}
	}
	return scanner.Err()
}

func newHistoryCmd(opts *cliOptions) *cobra.Command {
	var (
		pageSize   int
		all        bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print a session's thread history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rec := thread.NewReconciler(thread.NewHistoryClient(opts.baseURL(), args[0], pageSize))

			if err := rec.LoadHistory(ctx); err != nil {
				return err
			}
			for all && rec.HasMore() {
				if err := rec.LoadMore(ctx); err != nil {
					return err
				}
			}

			msgs := rec.Messages()
			if jsonOutput {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(msgs)
			}
			if rec.HasMore() {
				fmt.Fprintf(cmd.OutOrStdout(), "(%d of %d messages, --all for the full thread)\n",
					rec.Len(), rec.Total())
			}
			for _, msg := range msgs {
				fmt.Fprintln(cmd.OutOrStdout(), formatThreadMessage(msg))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "History page size (server default when 0)")
	cmd.Flags().BoolVar(&all, "all", false, "Fetch every page, oldest first")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func formatThreadMessage(msg wire.ThreadMessage) string {
	line := fmt.Sprintf("[%s] %-6s %s",
		msg.Ts.Local().Format("15:04:05"), msg.Role, msg.Content)
	if msg.Metadata != nil && msg.Metadata.Kind != "" {
		line += " (" + msg.Metadata.Kind + ")"
	}
	return line
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the relayctl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		},
	}
}
