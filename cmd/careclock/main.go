// Package main is the entry point for the careclock daemon and its
// management commands.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"careclock/internal/cache"
	"careclock/internal/clock"
	"careclock/internal/config"
	"careclock/internal/crypto"
	"careclock/internal/database"
	"careclock/internal/display"
	"careclock/internal/google"
	"careclock/internal/ics"
	"careclock/internal/settings"
	"careclock/internal/solar"
	"careclock/internal/sync"
	"careclock/internal/util"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "careclock",
		Short: "Calendar-driven day clock for assisted living",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the clock daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}

	var forceHolidays bool
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(func(ctx context.Context, a *app) error {
				result := a.engine.Sync(ctx)
				if forceHolidays {
					if hr := a.engine.SyncHolidays(ctx, true); hr.Status == sync.StatusError {
						return hr.Err
					}
				}
				if result.Status == sync.StatusError {
					return result.Err
				}
				fmt.Printf("Sync: %s (added=%d deleted=%d commands=%d)\n",
					result.Status, result.Added, result.Deleted, result.CommandsApplied)
				return nil
			})
		},
	}
	syncCmd.Flags().BoolVar(&forceHolidays, "holidays", false, "force a holiday source refresh")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the resolved settings and current display state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(func(ctx context.Context, a *app) error {
				return a.printStatus(ctx)
			})
		},
	}

	calendarsCmd := &cobra.Command{
		Use:   "calendars",
		Short: "List calendars visible to the authorized account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(func(ctx context.Context, a *app) error {
				calendars, err := a.calendar.ListCalendars(ctx)
				if err != nil {
					return err
				}
				for _, cal := range calendars {
					marker := " "
					if cal.Primary {
						marker = "*"
					}
					fmt.Printf("%s %s\t%s\n", marker, cal.ID, cal.Summary)
				}
				return nil
			})
		},
	}

	authCmd := &cobra.Command{
		Use:   "auth [code]",
		Short: "Print the authorization URL, or exchange an authorization code",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(func(ctx context.Context, a *app) error {
				if !a.oauth.IsConfigured() {
					return fmt.Errorf("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set")
				}
				if len(args) == 0 {
					fmt.Println("Visit this URL in a browser, then run 'careclock auth <code>':")
					fmt.Println(a.oauth.GetAuthURL())
					return nil
				}
				if err := a.oauth.ExchangeCode(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("Authorization complete.")
				return nil
			})
		},
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(calendarsCmd)
	rootCmd.AddCommand(authCmd)

	return rootCmd
}

// app bundles the wired services shared by every command.
type app struct {
	cfg      *config.Config
	logger   *util.Logger
	db       *database.DB
	oauth    *google.OAuthManager
	calendar *google.CalendarClient
	repo     *cache.Repository
	cursors  *cache.Cursors
	solar    *solar.Resolver
	settings *settings.Resolver
	engine   *sync.Engine
	loc      *time.Location
	clk      clock.Clock
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefaultLogger(logger)

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	key := cfg.Security.EncryptionKey
	if key == "" {
		key = cfg.Google.ClientSecret
	}
	encryptor, err := crypto.NewEncryptor(key)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}

	loc := cfg.DisplayLocation()
	clk := clock.SystemClock{}

	oauth := google.NewOAuthManager(cfg, db, encryptor)
	calendarClient := google.NewCalendarClient(oauth, loc)

	repo := cache.NewRepository(db)
	cursors := cache.NewCursors(db)

	solarResolver := solar.NewResolver(
		config.DefaultSolarBaseURL,
		cfg.Location.Latitude, cfg.Location.Longitude,
		loc, clk, logger,
	)

	settingsResolver := settings.NewResolver(settings.NewStore(db), solarResolver, cfg.Overrides, logger)

	var feed sync.HolidayFeed
	if cfg.Holiday.ICSURL != "" {
		feed = ics.NewFeed(cfg.Holiday.ICSURL, loc, logger)
	}

	engine := sync.NewEngine(cfg, calendarClient, oauth, feed, repo, cursors, settingsResolver, clk, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		oauth:    oauth,
		calendar: calendarClient,
		repo:     repo,
		cursors:  cursors,
		solar:    solarResolver,
		settings: settingsResolver,
		engine:   engine,
		loc:      loc,
		clk:      clk,
	}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("Failed to close database", "error", err)
	}
}

func runOnce(fn func(ctx context.Context, a *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	return fn(ctx, a)
}

func (a *app) printStatus(ctx context.Context) error {
	snap := a.settings.Resolve(ctx)
	state, err := a.computeState(ctx, snap)
	if err != nil {
		return err
	}

	fmt.Printf("Wake:  %s\n", snap.WakeTime)
	fmt.Printf("Sleep: %s\n", snap.SleepTime)
	fmt.Printf("State: %s\n", state.Kind)
	for _, e := range state.AllDay {
		fmt.Printf("  all-day: %s\n", e.Title)
	}
	if state.Timed != nil {
		fmt.Printf("  next: %s at %s\n", state.Timed.Title, state.Timed.Start.Format("15:04"))
	}
	return nil
}

// computeState loads the display-relevant window from the cache and runs the
// state machine over it.
func (a *app) computeState(ctx context.Context, snap settings.Snapshot) (display.State, error) {
	now := a.clk.Now().In(a.loc)
	windowStart := clock.StartOfDay(now)
	windowEnd := windowStart.AddDate(0, 0, 14)

	events, err := a.repo.ActiveInWindow(ctx, windowStart, windowEnd, snap.ShowHolidays)
	if err != nil {
		return display.State{}, fmt.Errorf("failed to load events: %w", err)
	}

	return display.Compute(now, a.loc, events, snap), nil
}
