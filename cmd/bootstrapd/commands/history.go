package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/bootstrapd/internal/config"
	"git.home.luguber.info/inful/bootstrapd/internal/eventstore"
	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Limit   int    `short:"n" help:"Number of sessions to show" default:"20"`
	Session string `help:"Show the journal entries of one session"`
	JSON    bool   `name:"json" help:"Print the sessions as JSON"`
}

func (h *HistoryCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	if h.Session != "" {
		entries, err := LoadSession(context.Background(), cfg, h.Session)
		if err != nil {
			return err
		}
		if h.JSON {
			enc := json.NewEncoder(g.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}
		return printSession(g.Stdout, entries)
	}
	sessions, err := LoadHistory(context.Background(), cfg, h.Limit)
	if err != nil {
		return err
	}
	if h.JSON {
		enc := json.NewEncoder(g.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}
	return printHistory(g.Stdout, sessions)
}

// JournalPath is the configured journal location, or the default one when
// the journal is disabled, so history stays readable after turning it off.
func JournalPath(cfg *config.Config) string {
	if cfg.Journal.Path != "" {
		return cfg.Journal.Path
	}
	return filepath.Join(cfg.ChannelDir(), "journal.db")
}

// LoadHistory returns up to limit sessions from the journal, newest first.
// A missing journal yields no sessions.
func LoadHistory(ctx context.Context, cfg *config.Config, limit int) ([]eventstore.SessionSummary, error) {
	path := JournalPath(cfg)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	store, err := eventstore.NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	projection := eventstore.NewSessionHistoryProjection(store, limit)
	if err := projection.Rebuild(ctx); err != nil {
		return nil, err
	}
	return projection.GetHistory(), nil
}

// JournalEntry is one recorded event of a session.
type JournalEntry struct {
	Time     time.Time         `json:"time"`
	Type     string            `json:"type"`
	Payload  json.RawMessage   `json:"payload,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// LoadSession returns the journal entries of one session in append order.
func LoadSession(ctx context.Context, cfg *config.Config, sessionID string) ([]JournalEntry, error) {
	path := JournalPath(cfg)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errSessionNotFound(sessionID)
	}
	store, err := eventstore.NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	events, err := store.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, errSessionNotFound(sessionID)
	}
	entries := make([]JournalEntry, 0, len(events))
	for _, e := range events {
		entries = append(entries, JournalEntry{
			Time:     e.Timestamp(),
			Type:     e.Type(),
			Payload:  json.RawMessage(e.Payload()),
			Metadata: e.Metadata(),
		})
	}
	return entries, nil
}

func errSessionNotFound(id string) error {
	return ferrors.NewError(ferrors.CategoryNotFound, "session not found in journal").
		WithContext("session", id).
		Build()
}

func printSession(w io.Writer, entries []JournalEntry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tEVENT\tPAYLOAD")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Time.Local().Format(time.DateTime), e.Type, orDash(string(e.Payload)))
	}
	return tw.Flush()
}

func printHistory(w io.Writer, sessions []eventstore.SessionSummary) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "no sessions recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTARTED\tVERSION\tSTATE\tINIT\tTRANSITIONS\tFAILURES\tCLOSED\tLAST ERROR")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%t\t%s\n",
			s.SessionID, s.StartedAt.Local().Format(time.DateTime), s.Version,
			orDash(s.State), orDash(s.InitState), s.Transitions, s.Failures, s.Closed, orDash(s.LastError))
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
