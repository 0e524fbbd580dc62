// Command consult joins a consultation room's conversation from a terminal.
// Lines read from stdin are sent as messages; lines starting with /note are
// appended to the consultation record's notes when a clinic API is configured.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"healthcb/backend/internal/clinic"
	"healthcb/backend/internal/config"
	"healthcb/backend/internal/conversation"
	"healthcb/backend/internal/logger"
	"healthcb/backend/internal/session"
)

type options struct {
	identity    string
	room        string
	apiURL      string
	clinicURL   string
	clinicToken string
	waitTimeout time.Duration
}

func main() {
	opts := options{}

	root := &cobra.Command{
		Use:          "consult",
		Short:        "Chat in a consultation room",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if opts.apiURL == "" {
				opts.apiURL = cfg.Client.APIBaseURL
			}
			log := logger.New(cfg.Log)
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout(), log)
		},
	}
	root.Flags().StringVar(&opts.identity, "identity", "", "your identity")
	root.Flags().StringVar(&opts.room, "room", "", "consultation room ID")
	root.Flags().StringVar(&opts.apiURL, "api", "", "conversation API base URL (default HEALTHCB_API_URL)")
	root.Flags().StringVar(&opts.clinicURL, "clinic-url", "", "clinic API base URL, enables /note")
	root.Flags().StringVar(&opts.clinicToken, "clinic-token", "", "clinic API access token")
	root.Flags().DurationVar(&opts.waitTimeout, "wait", time.Minute, "how long to wait for the conversation")

	cobra.CheckErr(root.Execute())
}

func run(ctx context.Context, opts options, in io.Reader, out io.Writer, log *zap.Logger) error {
	b := session.NewBootstrapper(session.Config{
		Tokens:    session.NewHTTPTokenProvider(opts.apiURL, nil),
		NewClient: session.RTClientFactory(opts.apiURL, log),
		Conversation: conversation.Options{
			Logger: log,
		},
		Logger: log,
	})

	s := b.Start(ctx, opts.identity, opts.room)
	defer s.Close()

	if st := s.State(); st.MissingInfo {
		return errors.New(session.MsgMissingInfo)
	}

	printer := &messagePrinter{out: out}
	sub := s.Subscribe(func(session.State) { printer.print(s.Messages()) })
	defer sub.Unsubscribe()

	waitCtx, cancel := context.WithTimeout(ctx, opts.waitTimeout)
	err := s.Wait(waitCtx)
	cancel()
	if err != nil {
		return errors.Wrap(err, "waiting for conversation")
	}
	st := s.State()
	if st.Error != "" {
		return errors.New(st.Error)
	}
	printer.print(s.Messages())
	fmt.Fprintf(out, "-- joined room %s as %s --\n", opts.room, opts.identity)

	var notes *notesTaker
	if opts.clinicURL != "" {
		notes, err = openNotes(ctx, opts, log)
		if err != nil {
			log.Warn("consultation notes unavailable", zap.Error(err))
		} else {
			defer notes.close()
		}
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case strings.HasPrefix(line, "/note "):
				if notes == nil {
					fmt.Fprintln(out, "notes are not available")
					continue
				}
				notes.append(strings.TrimPrefix(line, "/note "))
			default:
				if _, err := s.SendMessage(ctx, line); err != nil {
					fmt.Fprintf(out, "send failed: %v\n", err)
				}
			}
		}
	}
}

// messagePrinter prints each message once, in index order.
type messagePrinter struct {
	mu      sync.Mutex
	out     io.Writer
	printed bool
	last    uint
}

func (p *messagePrinter) print(entries []conversation.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range entries {
		if p.printed && e.Index <= p.last {
			continue
		}
		fmt.Fprintf(p.out, "[%s] %s: %s\n", e.Timestamp.Local().Format("15:04"), e.Author, e.Body)
		p.printed = true
		p.last = e.Index
	}
}

type notesTaker struct {
	saver *clinic.NotesAutosaver
	mu    sync.Mutex
	text  string
}

func openNotes(ctx context.Context, opts options, log *zap.Logger) (*notesTaker, error) {
	api := clinic.New(opts.clinicURL, opts.clinicToken, nil, log)
	rec, err := api.RecordByRoom(ctx, opts.room)
	if err != nil {
		return nil, err
	}
	return &notesTaker{
		saver: clinic.NewNotesAutosaver(api, rec.ID.String(), 0, log),
		text:  rec.ConsultationNotes,
	}, nil
}

func (n *notesTaker) append(line string) {
	n.mu.Lock()
	if n.text != "" {
		n.text += "\n"
	}
	n.text += line
	text := n.text
	n.mu.Unlock()
	n.saver.Update(text)
}

func (n *notesTaker) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = n.saver.Flush(ctx)
	n.saver.Close()
}
