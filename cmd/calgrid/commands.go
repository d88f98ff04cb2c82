package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cpuguy83/calgrid/internal/calendar"
	"github.com/cpuguy83/calgrid/internal/config"
	"github.com/cpuguy83/calgrid/internal/grid"
	"github.com/cpuguy83/calgrid/internal/links"
	"github.com/cpuguy83/calgrid/internal/refresh"
	"github.com/cpuguy83/calgrid/internal/sync"
	"github.com/cpuguy83/calgrid/internal/ui"
	"github.com/cpuguy83/calgrid/internal/ui/menu"
	"github.com/cpuguy83/calgrid/internal/ui/term"
)

type rootOptions struct {
	ConfigPath string
	Verbose    bool
}

// load reads the configuration named by --config, or the default file.
func (o *rootOptions) load() (*config.Config, error) {
	if o.ConfigPath != "" {
		return config.LoadFrom(o.ConfigPath)
	}
	return config.Load()
}

func (o *rootOptions) path() string {
	if o.ConfigPath != "" {
		return o.ConfigPath
	}
	p, err := config.DefaultPath()
	if err != nil {
		return "(unknown)"
	}
	return p
}

// New returns the calgrid root command. Without a subcommand it runs the
// app like "calgrid run".
func New() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "calgrid",
		Short:        "Show this week's calendar as an hour-by-day grid.",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(opts, "")
		},
	}
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to config file (default: ~/.config/calgrid/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")

	AddCommands(cmd, opts)
	return cmd
}

func AddCommands(topLevel *cobra.Command, opts *rootOptions) {
	addRun(topLevel, opts)
	addWeek(topLevel, opts)
	addNext(topLevel, opts)
	addExport(topLevel, opts)
	addDoctor(topLevel, opts)
}

func addRun(topLevel *cobra.Command, opts *rootOptions) {
	var backend string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the grid window, tray icon and reminders until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(opts, backend)
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "display backend: auto, gtk, menu or term (overrides ui.backend)")

	topLevel.AddCommand(cmd)
}

func runApp(opts *rootOptions, backend string) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	if backend != "" {
		cfg.UI.Backend = backend
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	slog.Info("starting calgrid",
		"sources", len(cfg.Sources),
		"sync_interval", cfg.Sync.Interval,
		"backend", cfg.UI.Backend,
	)
	return newApp(cfg, os.Stdout).Run()
}

func addWeek(topLevel *cobra.Command, opts *rootOptions) {
	var (
		compact bool
		width   int
	)

	cmd := &cobra.Command{
		Use:   "week",
		Short: "Print this week's grid and exit.",
		Args:  cobra.NoArgs,
		Example: `
calgrid week
calgrid week --compact --width 100
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			r := term.New(cmd.OutOrStdout(), term.Options{Width: width, Compact: compact})
			_, err = snapshotOnce(cmd.Context(), cfg, r)
			return err
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "skip hours without events")
	cmd.Flags().IntVar(&width, "width", 0, "output width in columns (default 120)")

	topLevel.AddCommand(cmd)
}

func addNext(topLevel *cobra.Command, opts *rootOptions) {
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Print the next upcoming event and exit.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			snap, err := snapshotOnce(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			for _, line := range nextLines(snap, cfg.Grid.TimeFormat) {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}

	topLevel.AddCommand(cmd)
}

// nextLines describes the snapshot's next event.
func nextLines(snap grid.Snapshot, timeFormat string) []string {
	if !snap.HasNext {
		return []string{"No upcoming events"}
	}
	e := snap.Next
	lines := []string{
		fmt.Sprintf("%s: %s", snap.Countdown, e.Summary),
		e.Start.Local().Format("Mon Jan 2 " + timeFormat),
	}
	if e.Location != "" {
		lines = append(lines, e.Location)
	}
	if link := links.ForEvent(e); link.URL != "" && link.URL != e.Location {
		lines = append(lines, link.URL)
	}
	return lines
}

func addExport(topLevel *cobra.Command, opts *rootOptions) {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Sync every source once and write the merged events as ICS.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if output == "" {
				output = cfg.Sync.Output
			}

			syncer, err := sync.NewSyncer(cfg)
			if err != nil {
				return fmt.Errorf("create syncer: %w", err)
			}
			defer syncer.Close()

			if granted, err := syncer.RequestAccess(cmd.Context()); !granted {
				return accessError(err)
			}
			events, err := syncer.Sync(cmd.Context())
			if err != nil {
				return err
			}
			if err := calendar.WriteICS(output, events); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d events to %s\n", len(events), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "ICS file to write (default: sync.output)")

	topLevel.AddCommand(cmd)
}

func addDoctor(topLevel *cobra.Command, opts *rootOptions) {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the configuration, source access and available backends.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config: %s\n", opts.path())

			cfg, err := opts.load()
			if err != nil {
				fmt.Fprintf(out, "  error: %v\n", err)
				return err
			}

			fmt.Fprintf(out, "gtk: %v\n", ui.GTKAvailable())
			if available := menu.Available(); len(available) > 0 {
				fmt.Fprintf(out, "menu: %s\n", strings.Join(available, ", "))
			} else {
				fmt.Fprintf(out, "menu: none of %s\n", strings.Join(menu.Supported(), ", "))
			}
			fmt.Fprintf(out, "notifications: %v\n", cfg.Notifications.Enabled)

			syncer, err := sync.NewSyncer(cfg)
			if err != nil {
				return fmt.Errorf("create syncer: %w", err)
			}
			defer syncer.Close()

			fmt.Fprintf(out, "sources: %d configured\n", syncer.SourceCount())
			granted, err := syncer.RequestAccess(cmd.Context())
			if err != nil {
				fmt.Fprintf(out, "  access errors: %v\n", err)
			}
			for _, name := range syncer.SourceNames() {
				fmt.Fprintf(out, "  %s: ok\n", name)
			}
			if !granted {
				return accessError(err)
			}

			events, err := syncer.Sync(cmd.Context())
			if err != nil {
				fmt.Fprintf(out, "sync: failed: %v\n", err)
				return err
			}
			fmt.Fprintf(out, "sync: %d events, last sync %s\n", len(events), syncer.LastSync().Format(time.DateTime))
			return nil
		},
	}

	topLevel.AddCommand(cmd)
}

// snapshotOnce authorizes, builds a single snapshot and renders it to
// surface, if one is given.
func snapshotOnce(ctx context.Context, cfg *config.Config, surface refresh.Surface) (grid.Snapshot, error) {
	syncer, err := sync.NewSyncer(cfg)
	if err != nil {
		return grid.Snapshot{}, fmt.Errorf("create syncer: %w", err)
	}
	defer syncer.Close()

	if surface == nil {
		surface = refresh.Surfaces{}
	}
	r := refresh.New(syncer, surface, cfg.Grid.Layout(), nil)
	state, err := r.Authorize(ctx)
	if state != refresh.Authorized {
		return grid.Snapshot{}, accessError(err)
	}
	if err := r.Refresh(ctx); err != nil {
		return grid.Snapshot{}, err
	}
	snap, _ := r.Snapshot()
	return snap, nil
}

func accessError(err error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", refresh.ErrNotAuthorized, err)
	}
	return refresh.ErrNotAuthorized
}
