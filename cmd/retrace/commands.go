package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"retrace/internal/config"
	"retrace/internal/diff"
	"retrace/internal/replay"
	"retrace/internal/session"
	"retrace/internal/session/filestore"
	"retrace/internal/session/sqlitestore"
	"retrace/internal/webui"
)

func newRootCmd(cfg config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "retrace",
		Short:         "Record, replay and diff AI agent sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfg.SessionDir, "sessions-dir", cfg.SessionDir, "session store directory")

	root.AddCommand(
		newListCmd(&cfg),
		newInfoCmd(&cfg),
		newExportCmd(&cfg),
		newDiffCmd(&cfg),
		newReplayCmd(&cfg),
		newServeCmd(&cfg),
		newArchiveCmd(&cfg),
	)
	return root
}

// loadSession resolves source either as a path to a session file or as an id
// in the configured session store.
func loadSession(ctx context.Context, cfg *config.Config, source string, lenient bool) (*session.Session, error) {
	if strings.HasSuffix(source, ".json") {
		if _, err := os.Stat(source); err == nil {
			data, err := os.ReadFile(source)
			if err != nil {
				return nil, err
			}
			return session.Load(data)
		}
	}
	store := filestore.New(cfg.SessionDir)
	if lenient {
		return store.GetLenient(ctx, source)
	}
	return store.Get(ctx, source)
}

func newListCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions in the session store",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := filestore.New(cfg.SessionDir)
			ids, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Println(gray("no sessions recorded"))
				return nil
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
}

func newInfoCmd(cfg *config.Config) *cobra.Command {
	var lenient bool
	cmd := &cobra.Command{
		Use:   "info <session>",
		Short: "Show a session summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession(cmd.Context(), cfg, args[0], lenient)
			if err != nil {
				return err
			}
			printSummary(replay.New(sess).Summary())
			return nil
		},
	}
	cmd.Flags().BoolVar(&lenient, "repair", false, "attempt JSON repair on truncated session files")
	return cmd
}

func printSummary(s replay.Summary) {
	fmt.Printf("%s %s\n", bold("Session"), cyan(s.SessionID))
	fmt.Printf("  started:  %s\n", s.StartedAt.Format("2006-01-02 15:04:05 MST"))
	if s.EndedAt != nil {
		fmt.Printf("  ended:    %s (%s)\n", s.EndedAt.Format("2006-01-02 15:04:05 MST"), s.Duration)
	} else {
		fmt.Printf("  ended:    %s\n", yellow("still open"))
	}
	fmt.Printf("  events:   %d\n", s.TotalEvents)
	fmt.Printf("  llm:      %d calls, %d in / %d out tokens\n", s.LLMCalls, s.Tokens.Input, s.Tokens.Output)
	fmt.Printf("  tools:    %d calls\n", s.ToolCalls)
	if s.Errors > 0 {
		fmt.Printf("  errors:   %s\n", red(fmt.Sprintf("%d", s.Errors)))
	}
	for k, v := range s.Metadata {
		fmt.Printf("  %s: %s\n", gray(k), v)
	}
}

func newExportCmd(cfg *config.Config) *cobra.Command {
	var output, format string
	cmd := &cobra.Command{
		Use:   "export <session>",
		Short: "Export a session as JSON or YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession(cmd.Context(), cfg, args[0], false)
			if err != nil {
				return err
			}

			var data []byte
			switch format {
			case "json":
				data, err = sess.Marshal()
			case "yaml":
				raw, merr := sess.Marshal()
				if merr != nil {
					return merr
				}
				var tree any
				if err = json.Unmarshal(raw, &tree); err == nil {
					data, err = yaml.Marshal(tree)
				}
			default:
				return fmt.Errorf("unknown format %q (want json or yaml)", format)
			}
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err = os.Stdout.Write(data)
				return err
			}
			return os.WriteFile(output, data, 0644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file (- for stdout)")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or yaml")
	return cmd
}

func newDiffCmd(cfg *config.Config) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "diff <session-a> <session-b>",
		Short: "Compare two sessions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sessA, sessB *session.Session
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() (err error) {
				sessA, err = loadSession(ctx, cfg, args[0], false)
				return err
			})
			g.Go(func() (err error) {
				sessB, err = loadSession(ctx, cfg, args[1], false)
				return err
			})
			if err := g.Wait(); err != nil {
				return err
			}

			records := diff.Diff(sessA, sessB)
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			printDiff(sessA.ID, sessB.ID, records)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit raw diff records as JSON")
	return cmd
}

func printDiff(aID, bID string, records []diff.Record) {
	if len(records) == 0 {
		fmt.Printf("%s sessions %s and %s are identical\n", green("✓"), cyan(aID), cyan(bID))
		return
	}
	fmt.Printf("%s %d difference(s) between %s and %s\n", bold("≠"), len(records), cyan(aID), cyan(bID))
	for _, r := range records {
		switch r.Kind {
		case diff.KindAdded:
			if r.FieldPath == "" {
				fmt.Printf("  %s event %d only in %s\n", green("+"), r.BEventID, bID)
			} else {
				fmt.Printf("  %s [%d/%d] %s = %v\n", green("+"), r.AEventID, r.BEventID, r.FieldPath, r.New)
			}
		case diff.KindRemoved:
			if r.FieldPath == "" {
				fmt.Printf("  %s event %d only in %s\n", red("-"), r.AEventID, aID)
			} else {
				fmt.Printf("  %s [%d/%d] %s = %v\n", red("-"), r.AEventID, r.BEventID, r.FieldPath, r.Old)
			}
		case diff.KindChanged:
			fmt.Printf("  %s [%d/%d] %s: %v → %v\n", yellow("~"), r.AEventID, r.BEventID, r.FieldPath, r.Old, r.New)
			if r.TextDiff != "" {
				for _, line := range strings.Split(r.TextDiff, "\n") {
					fmt.Printf("      %s\n", gray(line))
				}
			}
		}
	}
}

func newReplayCmd(cfg *config.Config) *cobra.Command {
	var interval int
	cmd := &cobra.Command{
		Use:   "replay <session>",
		Short: "Interactively replay a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession(cmd.Context(), cfg, args[0], false)
			if err != nil {
				return err
			}
			if interval < 1 {
				interval = cfg.CheckpointInterval
			}
			r := replay.New(sess, replay.WithCheckpointInterval(interval))

			if !isTTY() {
				// No terminal: print the timeline once instead.
				for _, ev := range sess.Timeline() {
					fmt.Printf("%4d %s %-12s %s\n", ev.ID, ev.Timestamp.Format("15:04:05.000"), ev.Type, ev.Summary())
				}
				return nil
			}

			program := tea.NewProgram(newReplayModel(sess, r), tea.WithAltScreen())
			_, err = program.Run()
			return err
		},
	}
	cmd.Flags().IntVar(&interval, "checkpoint-interval", 0, "state checkpoint distance (default from config)")
	return cmd
}

func newServeCmd(cfg *config.Config) *cobra.Command {
	var addr string
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session inspection API and web UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			serverCfg := webui.DefaultServerConfig()
			serverCfg.Addr = addr
			serverCfg.Debug = debug
			serverCfg.CheckpointInterval = cfg.CheckpointInterval

			store := filestore.New(cfg.SessionDir)
			server := webui.NewServer(store, serverCfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Printf("%s http://%s\n", green("listening on"), addr)
			return server.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", cfg.ListenAddr, "listen address")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable verbose HTTP logging")
	return cmd
}

func newArchiveCmd(cfg *config.Config) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "archive <session>",
		Short: "Copy a session into the sqlite archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession(cmd.Context(), cfg, args[0], false)
			if err != nil {
				return err
			}
			store, err := sqlitestore.Open(expandHome(dbPath))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.Save(cmd.Context(), sess); err != nil {
				return err
			}
			fmt.Printf("%s archived %s (%d events)\n", green("✓"), cyan(sess.ID), sess.EventCount())
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", cfg.SQLitePath, "archive database path")
	return cmd
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
