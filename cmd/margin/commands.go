package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/fwojciec/margin"
	bt "github.com/fwojciec/margin/bubbletea"
	"github.com/fwojciec/margin/chat"
	marginjson "github.com/fwojciec/margin/json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cli holds the process environment the commands run against.
type cli struct {
	getenv func(string) string
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// Flags.
	dir        string
	configPath string
	baseURL    string

	reader *bufio.Reader

	// runTUI replaces the terminal UI in tests.
	runTUI func(context.Context, bt.Model) error
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "margin",
		Short:         "Chat with your reading companion from the terminal",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          c.withApp(c.runChat("")),
	}
	root.SetIn(c.stdin)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&c.dir, "dir", "", "Directory for config, credentials and logs (default ~/.margin)")
	pf.StringVar(&c.configPath, "config", "", "Path to config file (default <dir>/config.toml)")
	pf.StringVar(&c.baseURL, "base-url", "", "Backend base URL (overrides config and MARGIN_API_BASE_URL)")

	root.AddCommand(
		c.newLoginCmd(),
		c.newDemoCmd(),
		c.newLogoutCmd(),
		c.newWhoamiCmd(),
		c.newAskCmd(),
		c.newChatCmd(),
	)
	return root
}

// withApp opens the app around fn and persists credentials afterwards, even
// when fn fails.
func (c *cli) withApp(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		a, err := openApp(ctx, c)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, a.save(), a.close(ctx))
		}()
		return fn(ctx, a, args)
	}
}

func (c *cli) newLoginCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, _ []string) error {
			if s := a.manager.Session(); margin.CanAccess(s) {
				return fmt.Errorf("already signed in as %s: run 'margin logout' first: %w",
					displayName(s), margin.ErrSessionActive)
			}
			if email == "" {
				line, err := c.promptLine("Email: ")
				if err != nil {
					return err
				}
				email = line
			}
			password, err := c.promptPassword("Password: ")
			if err != nil {
				return err
			}
			cred := margin.Credential{Email: strings.TrimSpace(email), Password: password}
			if err := a.manager.Authenticate(ctx, cred); err != nil {
				return fmt.Errorf("login: %w", err)
			}
			fmt.Fprintf(c.stdout, "Signed in as %s\n", displayName(a.manager.Session()))
			return nil
		}),
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email (prompted for when empty)")
	return cmd
}

func (c *cli) newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Start a demo session",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, _ []string) error {
			if err := a.manager.StartDemo(ctx); err != nil {
				return fmt.Errorf("demo: %w", err)
			}
			fmt.Fprintln(c.stdout, "Demo session started.")
			return nil
		}),
	}
}

func (c *cli) newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget saved credentials",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, _ []string) error {
			a.manager.Terminate(ctx)
			a.expired = true
			fmt.Fprintln(c.stdout, "Signed out.")
			return nil
		}),
	}
}

func (c *cli) newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(_ context.Context, a *app, _ []string) error {
			s := a.manager.Session()
			switch {
			case s.State == margin.SessionDemoActive:
				fmt.Fprintf(c.stdout, "%s (demo)\n", displayName(s))
			case s.State == margin.SessionAuthenticated:
				plan := "free plan"
				if s.Identity.Subscribed() {
					plan = "subscriber"
				}
				fmt.Fprintf(c.stdout, "%s (%s, %s auth)\n", displayName(s), plan, s.Grant.Mode())
			default:
				fmt.Fprintln(c.stdout, "Not signed in.")
			}
			return nil
		}),
	}
}

func (c *cli) newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask QUESTION...",
		Short: "Ask one question and stream the reply to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			conv := a.conversation()
			w := &replyWriter{out: c.stdout}
			unsubscribe := conv.Log().Subscribe(w.update)
			defer unsubscribe()

			err := conv.Send(ctx, strings.Join(args, " "))
			w.finish()
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			return nil
		}),
	}
}

func (c *cli) newChatCmd() *cobra.Command {
	var resume string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the chat UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(c.runChat(resume))(cmd, args)
		},
	}
	cmd.Flags().StringVarP(&resume, "resume", "r", "", "Path to a saved transcript to continue")
	return cmd
}

// runChat opens the TUI. The transcript is saved on exit whenever the
// conversation has messages.
func (c *cli) runChat(resume string) func(context.Context, *app, []string) error {
	return func(ctx context.Context, a *app, _ []string) error {
		if !margin.CanAccess(a.manager.Session()) {
			return fmt.Errorf("not signed in: run 'margin login' or 'margin demo': %w", margin.ErrUnauthorized)
		}

		now := time.Now()
		transcript := margin.Transcript{ID: uuid.NewString(), CreatedAt: now}
		path := ""
		if resume != "" {
			t, err := marginjson.LoadTranscript(resume)
			if err != nil {
				return fmt.Errorf("resume: %w", err)
			}
			transcript, path = t, resume
		}
		log, err := restoreLog(transcript.Messages)
		if err != nil {
			return fmt.Errorf("resume: %w", err)
		}

		conv := a.conversation(chat.WithMessageLog(log))
		m := bt.New(conv, a.manager, margin.DefaultTheme())
		run := c.runTUI
		if run == nil {
			run = func(ctx context.Context, m bt.Model) error { return bt.Run(ctx, m) }
		}
		runErr := run(ctx, m)
		if runErr != nil {
			runErr = fmt.Errorf("TUI: %w", runErr)
		}

		transcript.Messages = conv.Messages()
		if len(transcript.Messages) == 0 {
			return runErr
		}
		if path == "" {
			path = filepath.Join(a.cfg.TranscriptsDir, transcript.ID+".json")
		}
		if s := a.manager.Session(); s.Identity != nil {
			transcript.Email = s.Identity.Email
		}
		transcript.UpdatedAt = time.Now()
		if err := marginjson.SaveTranscript(path, transcript); err != nil {
			return errors.Join(runErr, fmt.Errorf("save transcript: %w", err))
		}
		a.logger.Info("transcript saved", zap.String("path", path), zap.Int("messages", len(transcript.Messages)))
		fmt.Fprintf(c.stderr, "Transcript saved to %s\n", path)
		return runErr
	}
}

func (a *app) conversation(opts ...chat.Option) *chat.Conversation {
	opts = append([]chat.Option{
		chat.WithLogger(a.logger.Named("chat")),
		chat.WithTracerProvider(a.providers.TracerProvider),
		chat.WithMeterProvider(a.providers.MeterProvider),
	}, opts...)
	return chat.New(a.manager, a.client, opts...)
}

// restoreLog rebuilds a message log from saved messages. Incomplete
// messages are sealed as interrupted.
func restoreLog(msgs []margin.Message) (*margin.MessageLog, error) {
	log := margin.NewMessageLog()
	for _, msg := range msgs {
		if err := log.AppendNew(msg.Author, msg.Text); err != nil {
			return nil, err
		}
		if msg.Interrupted || !msg.Complete {
			log.InterruptLast()
		} else {
			log.CompleteLast()
		}
	}
	return log, nil
}

func displayName(s margin.Session) string {
	if s.Identity == nil || s.Identity.Email == "" {
		return "unknown user"
	}
	return s.Identity.Email
}

// replyWriter prints the assistant reply as it grows. It is driven by log
// notifications, which arrive on the sending goroutine.
type replyWriter struct {
	out     io.Writer
	written int
	started bool
}

func (w *replyWriter) update(msgs []margin.Message) {
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	if last.Author != margin.AuthorAssistant {
		return
	}
	w.started = true
	if len(last.Text) > w.written {
		_, _ = io.WriteString(w.out, last.Text[w.written:])
		w.written = len(last.Text)
	}
}

func (w *replyWriter) finish() {
	if w.started && w.written > 0 {
		_, _ = io.WriteString(w.out, "\n")
	}
}
