package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"careclock/internal/config"
	"careclock/internal/scheduler"
	"careclock/internal/sync"
	"careclock/internal/watch"
)

// runDaemon wires the full pipeline and blocks until a shutdown signal.
// Sync passes are driven by the cron cadence plus the wake/sleep boundary
// triggers; display recomputation follows every sync, settings change, and
// minute tick.
func runDaemon() error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	a.logger.Info("Starting careclock",
		"database", a.cfg.Database.Path,
		"timezone", a.cfg.Location.Timezone,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := &daemon{app: a, ctx: ctx}

	sched := scheduler.New(scheduler.NewStdTimer(), a.clk, a.loc, scheduler.Handlers{
		OnWake:   d.onBoundary,
		OnSleep:  d.onBoundary,
		OnMinute: d.refresh,
	}, a.logger)
	d.sched = sched
	defer sched.CancelAll()

	watcher := watch.New(config.ConfigFilePath(), func(o config.Overrides) {
		a.settings.SetOverrides(o)
		d.refresh()
	}, a.logger)
	if err := watcher.Start(); err != nil {
		a.logger.Warn("Config watching disabled", "error", err)
	} else {
		defer watcher.Close()
	}

	c := cron.New()
	if _, err := c.AddFunc(a.cfg.Sync.Cron, d.syncAndRefresh); err != nil {
		return fmt.Errorf("invalid sync cron %q: %w", a.cfg.Sync.Cron, err)
	}
	c.Start()
	defer c.Stop()

	// Initial pass so the display is populated before the first cron tick.
	d.syncAndRefresh()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	a.logger.Info("Shutting down", "signal", sig.String())
	return nil
}

type daemon struct {
	app   *app
	ctx   context.Context
	sched *scheduler.Scheduler
}

// onBoundary runs at the wake and sleep boundaries: sync first so the new
// period starts with fresh events, then recompute.
func (d *daemon) onBoundary() {
	d.syncAndRefresh()
}

func (d *daemon) syncAndRefresh() {
	ctx, cancel := context.WithTimeout(d.ctx, 5*time.Minute)
	defer cancel()

	result := d.app.engine.Sync(ctx)
	switch result.Status {
	case sync.StatusError:
		d.app.logger.Error("Sync failed", "error", result.Err)
	case sync.StatusNotAuthenticated:
		d.app.logger.Warn("Not authenticated; run 'careclock auth' to connect a Google account")
	case sync.StatusNoCalendarSelected:
		d.app.logger.Warn("No calendar selected; set CARECLOCK_CALENDAR_ID or the config file entry")
	}

	// Display refresh happens regardless: worst case it renders from a
	// stale cache, never nothing.
	d.refresh()
}

// refresh recomputes the effective settings and display state, then re-arms
// the boundary triggers to match.
func (d *daemon) refresh() {
	ctx, cancel := context.WithTimeout(d.ctx, 30*time.Second)
	defer cancel()

	snap := d.app.settings.Resolve(ctx)
	state, err := d.app.computeState(ctx, snap)
	if err != nil {
		d.app.logger.Error("Display recompute failed", "error", err)
		return
	}

	d.sched.ApplySettings(snap.SleepTime, snap.WakeTime)

	timed := ""
	if state.Timed != nil {
		timed = state.Timed.Title
	}
	d.app.logger.Info("Display state updated",
		"state", state.Kind.String(),
		"all_day", len(state.AllDay),
		"timed", timed,
	)
}
