package settings

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"careclock/internal/clock"
	"careclock/internal/command"
	"careclock/internal/config"
	"careclock/internal/database"
)

// fakeSolar answers with fixed values, or echoes the fallback when failing.
type fakeSolar struct {
	rise clock.TimeOfDay
	set  clock.TimeOfDay
	fail bool
}

func (f fakeSolar) Sunrise(ctx context.Context, fallback clock.TimeOfDay) clock.TimeOfDay {
	if f.fail {
		return fallback
	}
	return f.rise
}

func (f fakeSolar) Sunset(ctx context.Context, fallback clock.TimeOfDay) clock.TimeOfDay {
	if f.fail {
		return fallback
	}
	return f.set
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		if strings.Contains(err.Error(), "requires cgo") || strings.Contains(err.Error(), "CGO_ENABLED=0") {
			t.Skipf("skipping sqlite-backed test: %v", err)
		}
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestResolver(t *testing.T, solar SolarSource, overrides config.Overrides) *Resolver {
	t.Helper()
	return NewResolver(NewStore(openTestDB(t)), solar, overrides, nil)
}

func TestResolveDefaults(t *testing.T) {
	solar := fakeSolar{
		rise: clock.TimeOfDay{Hour: 6, Minute: 42},
		set:  clock.TimeOfDay{Hour: 19, Minute: 10},
	}
	r := newTestResolver(t, solar, config.Overrides{})

	snap := r.Resolve(context.Background())

	if snap.WakeTime != solar.rise {
		t.Errorf("default wake = %v, want sunrise %v", snap.WakeTime, solar.rise)
	}
	if want := (clock.TimeOfDay{Hour: 19, Minute: 40}); snap.SleepTime != want {
		t.Errorf("default sleep = %v, want sunset+30 %v", snap.SleepTime, want)
	}
	if snap.Brightness != DefaultBrightness || snap.MessageAreaPct != DefaultMessageAreaPct {
		t.Errorf("unexpected numeric defaults: %+v", snap)
	}
	if !snap.TwelveHour || !snap.ShowYear || !snap.ShowHolidays || snap.ShowEventsDuringSleep {
		t.Errorf("unexpected toggle defaults: %+v", snap)
	}
}

func TestResolveSolarFallback(t *testing.T) {
	r := newTestResolver(t, fakeSolar{fail: true}, config.Overrides{})

	snap := r.Resolve(context.Background())

	if want := (clock.TimeOfDay{Hour: 6}); snap.WakeTime != want {
		t.Errorf("fallback wake = %v, want %v", snap.WakeTime, want)
	}
	if want := (clock.TimeOfDay{Hour: 21}); snap.SleepTime != want {
		t.Errorf("fallback sleep = %v, want %v", snap.SleepTime, want)
	}
}

func TestResolvePriorityOrder(t *testing.T) {
	ctx := context.Background()
	solar := fakeSolar{rise: clock.TimeOfDay{Hour: 7}, set: clock.TimeOfDay{Hour: 19}}

	manualSleep := clock.TimeOfDay{Hour: 22, Minute: 15}
	brightness := 55
	r := newTestResolver(t, solar, config.Overrides{
		SleepTime:  &manualSleep,
		Brightness: &brightness,
	})

	// Commands set sleep and wake; the manual sleep override must win, the
	// command wake must beat the default.
	err := r.Apply(ctx, []command.Command{
		{Kind: command.KindSleepTime, Time: clock.TimeOfDay{Hour: 20}},
		{Kind: command.KindWakeTime, Time: clock.TimeOfDay{Hour: 8}},
	})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	snap := r.Resolve(ctx)
	if snap.SleepTime != manualSleep {
		t.Errorf("manual override must win: sleep = %v, want %v", snap.SleepTime, manualSleep)
	}
	if want := (clock.TimeOfDay{Hour: 8}); snap.WakeTime != want {
		t.Errorf("command must beat default: wake = %v, want %v", snap.WakeTime, want)
	}
	if snap.Brightness != 55 {
		t.Errorf("manual brightness = %d, want 55", snap.Brightness)
	}
}

func TestResolveIdempotent(t *testing.T) {
	r := newTestResolver(t, fakeSolar{rise: clock.TimeOfDay{Hour: 6, Minute: 30}, set: clock.TimeOfDay{Hour: 18}}, config.Overrides{})

	first := r.Resolve(context.Background())
	second := r.Resolve(context.Background())
	if first != second {
		t.Errorf("resolve is not idempotent: %+v vs %+v", first, second)
	}
}

func TestApplyMostRecentWins(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(t, fakeSolar{fail: true}, config.Overrides{})

	// Oldest first: the later brightness value must win.
	err := r.Apply(ctx, []command.Command{
		{Kind: command.KindBrightness, Value: 30},
		{Kind: command.KindBrightness, Value: 90},
	})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if snap := r.Resolve(ctx); snap.Brightness != 90 {
		t.Errorf("brightness = %d, want the most recent 90", snap.Brightness)
	}
}

func TestApplySolarCommand(t *testing.T) {
	ctx := context.Background()
	solar := fakeSolar{rise: clock.TimeOfDay{Hour: 6, Minute: 30}, set: clock.TimeOfDay{Hour: 18}}
	r := newTestResolver(t, solar, config.Overrides{})

	err := r.Apply(ctx, []command.Command{
		{Kind: command.KindSleepTime, Solar: command.SolarSunset, OffsetMin: 45},
		{Kind: command.KindWakeTime, Solar: command.SolarSunrise, OffsetMin: -30},
	})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	snap := r.Resolve(ctx)
	if want := (clock.TimeOfDay{Hour: 18, Minute: 45}); snap.SleepTime != want {
		t.Errorf("sleep = %v, want sunset+45 %v", snap.SleepTime, want)
	}
	if want := (clock.TimeOfDay{Hour: 6}); snap.WakeTime != want {
		t.Errorf("wake = %v, want sunrise-30 %v", snap.WakeTime, want)
	}
}

func TestApplyTogglesAndFormat(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(t, fakeSolar{fail: true}, config.Overrides{})

	err := r.Apply(ctx, []command.Command{
		{Kind: command.KindTimeFormat, Value: 24},
		{Kind: command.KindShowYear, On: false},
		{Kind: command.KindShowSleepEvents, On: true},
		{Kind: command.KindShowHolidays, On: false},
		{Kind: command.KindMessageSize, Value: 60},
	})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	snap := r.Resolve(ctx)
	if snap.TwelveHour {
		t.Error("TIME_FORMAT 24 should clear twelve-hour mode")
	}
	if snap.ShowYear || !snap.ShowEventsDuringSleep || snap.ShowHolidays {
		t.Errorf("unexpected toggles: %+v", snap)
	}
	if snap.MessageAreaPct != 60 {
		t.Errorf("message area = %d, want 60", snap.MessageAreaPct)
	}
}

func TestCommandValuesPersistAcrossResolvers(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	solar := fakeSolar{fail: true}

	r1 := NewResolver(NewStore(db), solar, config.Overrides{}, nil)
	if err := r1.Apply(ctx, []command.Command{{Kind: command.KindBrightness, Value: 42}}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	r2 := NewResolver(NewStore(db), solar, config.Overrides{}, nil)
	if snap := r2.Resolve(ctx); snap.Brightness != 42 {
		t.Errorf("command values must survive a restart, brightness = %d", snap.Brightness)
	}
}
