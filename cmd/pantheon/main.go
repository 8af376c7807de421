// Command pantheon runs the favor/wrath scheduler against a headless demo
// colony, tailing the offering log written by the bridge.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/talgya/pantheon/internal/api"
	"github.com/talgya/pantheon/internal/colony"
	"github.com/talgya/pantheon/internal/config"
	"github.com/talgya/pantheon/internal/engine"
	"github.com/talgya/pantheon/internal/entropy"
	"github.com/talgya/pantheon/internal/gods"
	"github.com/talgya/pantheon/internal/pantheon"
	"github.com/talgya/pantheon/internal/persistence"
	"github.com/talgya/pantheon/internal/state"
)

func main() {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(envOrDefault("PANTHEON_LOG_LEVEL", "info"))); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// ── Configuration ─────────────────────────────────────────────────
	settingsPath := envOrDefault("PANTHEON_CONFIG", "data/settings.xml")
	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		slog.Error("failed to load settings", "error", err)
		os.Exit(1)
	}
	if key := os.Getenv("PANTHEON_ADMIN_KEY"); key != "" {
		settings.AdminKey = key
	}
	tuning, err := config.LoadTuning(settings.TuningPath)
	if err != nil {
		slog.Error("failed to load tuning", "error", err)
		os.Exit(1)
	}
	cal := tuning.Calendar

	// ── Database ──────────────────────────────────────────────────────
	var db *persistence.DB
	if settings.JournalPath != "" {
		os.MkdirAll(filepath.Dir(settings.JournalPath), 0o755)
		db, err = persistence.Open(settings.JournalPath)
		if err != nil {
			slog.Error("failed to open journal", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		slog.Info("journal opened", "path", settings.JournalPath)
	}

	backend, closeBackend, err := openBackend(settings, db)
	if err != nil {
		slog.Error("failed to open state backend", "error", err)
		os.Exit(1)
	}
	defer closeBackend()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── World ─────────────────────────────────────────────────────────
	saved, seed, startTick := resume(ctx, backend, db)
	col := colony.New(seed, envIntOrDefault("PANTHEON_COLONISTS", 5), entropy.NewSeeded(seed))
	col.SetResearch(true)

	registry := gods.NewRegistry()
	var journal pantheon.Journal
	var dispatchLog api.DispatchLog
	if db != nil {
		journal, dispatchLog = db, db
	}
	driver := pantheon.New(pantheon.Config{
		Host:             col,
		Gods:             registry,
		Congrats:         colony.CongratsPool(col),
		Wraths:           colony.WrathPool(col),
		Backend:          backend,
		State:            saved,
		Journal:          journal,
		Tuning:           tuning,
		LogPath:          settings.LogPath,
		ReplayLogOnStart: settings.ReplayLogOnStart,
	})
	colony.RegisterGods(registry, col, driver)
	for _, name := range settings.DisabledGods {
		if err := registry.SetEnabled(name, false); err != nil {
			slog.Warn("cannot disable god", "god", name, "error", err)
		}
	}

	driver.Start(ctx)

	// ── Engine ────────────────────────────────────────────────────────
	eng := engine.NewEngine(cal)
	eng.SetTick(startTick)
	eng.OnTick = func(ctx context.Context, tick int64) {
		col.Advance(tick, cal.TicksPerDay)
		driver.Step(ctx, tick)
	}
	eng.OnDay = func(_ context.Context, tick int64) {
		saveMeta(db, "last_tick", strconv.FormatInt(tick, 10))
		st := driver.Status()
		slog.Info("daily report",
			"sim_time", engine.SimTime(tick, cal),
			"pending", st.Pending,
			"living", len(col.Living()),
			"dead", len(st.Dead),
			"research", col.ResearchProgress(),
		)
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	var apiServer *api.Server
	if settings.APIPort > 0 {
		if settings.AdminKey == "" {
			slog.Warn("no admin key set, admin POST endpoints will be disabled")
		}
		apiServer = &api.Server{
			Driver:   driver,
			Gods:     registry,
			Eng:      eng,
			Colony:   col,
			Journal:  dispatchLog,
			Port:     settings.APIPort,
			AdminKey: settings.AdminKey,
		}
		apiServer.Start()
		fmt.Printf("API: http://localhost:%d/api/v1/status\n", settings.APIPort)
	}

	fmt.Printf("The pantheon watches over world %d (%d gods, log %s).\n",
		seed, len(registry.Names()), settings.LogPath)
	if startTick > 0 {
		fmt.Printf("Resuming from tick %d (%s)\n", startTick, engine.SimTime(startTick, cal))
	}
	fmt.Println("Running... (Ctrl+C to stop)")

	eng.Run(ctx)

	// ── Shutdown ──────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if apiServer != nil {
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("API shutdown", "error", err)
		}
	}
	slog.Info("final save...")
	if err := driver.Shutdown(shutdownCtx); err != nil {
		slog.Error("final save failed", "error", err)
	}
	saveMeta(db, "last_tick", strconv.FormatInt(eng.Tick(), 10))

	fmt.Println("Pantheon stopped. State saved.")
}

// openBackend picks the durable state store. The sqlite backend shares the
// journal database when both point at the same file.
func openBackend(s config.Settings, journal *persistence.DB) (state.Backend, func(), error) {
	noop := func() {}
	switch s.StateBackend {
	case "sqlite":
		if journal != nil && s.StatePath == s.JournalPath {
			return journal, noop, nil
		}
		os.MkdirAll(filepath.Dir(s.StatePath), 0o755)
		db, err := persistence.Open(s.StatePath)
		if err != nil {
			return nil, noop, err
		}
		return db, func() { db.Close() }, nil
	default:
		return state.NewFileStore(s.StatePath, s.StateBackups).BackupEvery(s.BackupInterval), noop, nil
	}
}

// resume loads the durable state and picks the world to run: its seed and
// the tick to continue from. The state backend is authoritative; the
// journal metadata only fills in what it lacks.
func resume(ctx context.Context, backend state.Backend, db *persistence.DB) (*state.Durable, int64, int64) {
	saved := state.LoadOrEmpty(ctx, backend)
	seed := worldSeed(db, saved.WorldSeed)

	tick := metaInt(db, "last_tick")
	if inst, ok := saved.Instances[seed]; ok && inst.LastPolledTick > tick {
		tick = inst.LastPolledTick
	}
	return saved, seed, tick
}

// worldSeed returns PANTHEON_SEED, else the seed the state was saved with,
// else the one recorded in the journal, else a fresh random one which is
// then recorded.
func worldSeed(db *persistence.DB, saved int64) int64 {
	if v := os.Getenv("PANTHEON_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		slog.Warn("ignoring bad PANTHEON_SEED", "value", v)
	}
	if saved != 0 {
		return saved
	}
	if seed := metaInt(db, "world_seed"); seed != 0 {
		return seed
	}
	seed := int64(entropy.CryptoFloat()*1e12) + 1
	saveMeta(db, "world_seed", strconv.FormatInt(seed, 10))
	return seed
}

func metaInt(db *persistence.DB, key string) int64 {
	if db == nil {
		return 0
	}
	raw, err := db.GetMeta(key)
	if err != nil || raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		slog.Warn("bad metadata value", "key", key, "value", raw)
		return 0
	}
	return n
}

func saveMeta(db *persistence.DB, key, value string) {
	if db == nil {
		return
	}
	if err := db.SaveMeta(key, value); err != nil {
		slog.Warn("metadata save failed", "key", key, "error", err)
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
