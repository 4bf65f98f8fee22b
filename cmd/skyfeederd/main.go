// skyfeederd is the aviation telemetry daemon: it polls the local
// ultrafeeder/dump978 aggregators, ingests ACARS/VDL2 datagrams,
// persists sightings and sessions, evaluates safety detectors and
// alert rules, and fans everything out to websocket subscribers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skyfeeder/skyfeeder/internal/alerts"
	"github.com/skyfeeder/skyfeeder/internal/auth"
	"github.com/skyfeeder/skyfeeder/internal/db"
	"github.com/skyfeeder/skyfeeder/internal/fanout"
	"github.com/skyfeeder/skyfeeder/internal/notify"
	"github.com/skyfeeder/skyfeeder/internal/pipeline"
	"github.com/skyfeeder/skyfeeder/internal/safety"
	"github.com/skyfeeder/skyfeeder/internal/sessions"
	"github.com/skyfeeder/skyfeeder/internal/web"
	"github.com/skyfeeder/skyfeeder/pkg/acars"
	"github.com/skyfeeder/skyfeeder/pkg/adsb"
	"github.com/skyfeeder/skyfeeder/pkg/config"
)

var (
	configPath = flag.String("config", "configs/config.json", "Path to configuration file")
	issueToken = flag.String("issue-token", "", "Issue a JWT for the given subject (role via -token-role) and exit")
	tokenRole  = flag.String("token-role", auth.RoleViewer, "Role for -issue-token (viewer or admin)")
	noDatabase = flag.Bool("no-db", false, "Run without a database (no persistence)")
)

const retentionSweepInterval = time.Hour

func main() {
	flag.Parse()

	log.Println("===========================================")
	log.Println("  skyfeeder telemetry daemon")
	log.Println("===========================================")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	tokens := auth.NewService(cfg.Server.JWTSecret, 24*time.Hour)
	if *issueToken != "" {
		if !tokens.Enabled() {
			log.Fatal("Cannot issue a token without a JWT secret configured")
		}
		token, err := tokens.GenerateToken(*issueToken, *tokenRole)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	log.Printf("Station: %s at %.4f, %.4f",
		cfg.Station.Name, cfg.Station.Latitude, cfg.Station.Longitude)
	log.Printf("Primary feed: %s", cfg.Feed.UltrafeederURL)
	if cfg.Feed.Dump978URL != "" {
		log.Printf("Secondary feed: %s", cfg.Feed.Dump978URL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database and repositories. Without a database the daemon still
	// polls, detects and fans out; nothing is persisted.
	var (
		database     *db.DB
		sightingRepo pipeline.SightingStore
		sessionStore sessions.Store
		safetyStore  safety.Store
		alertStore   alerts.Store
		statsSource  web.StatsSource
		historyStore web.HistoryStore
		acarsStore   acars.Store
		notifyLog    notify.Log
	)
	if !*noDatabase {
		database, err = db.ReconnectWithRetry(cfg.Database, 10, time.Second)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()

		if err := database.InitSchema(ctx); err != nil {
			log.Fatalf("Failed to initialize schema: %v", err)
		}
		log.Println("✓ Database schema initialized")

		alertRepo := db.NewAlertRepository(database)
		sightingRepo = db.NewSightingRepository(database)
		sessionStore = db.NewSessionRepository(database)
		safetyStore = db.NewSafetyRepository(database)
		alertStore = alertRepo
		historyStore = alertRepo
		statsSource = database
		acarsStore = db.NewAcarsRepository(database)
		notifyLog = db.NewNotificationRepository(database)
	} else {
		log.Println("⚠ Running without a database; persistence disabled")
		mem := alerts.NewMemoryStore()
		alertStore = mem
		historyStore = mem
		sessionStore = sessions.NewMemoryStore()
	}

	notifier := notify.NewService(cfg.Notification)
	if notifyLog != nil {
		notifier.SetLog(notifyLog)
	}

	hub := fanout.NewHub()
	tracker := sessions.NewTracker(sessionStore)
	engine := alerts.NewEngine(alertStore, hub, notifier)
	monitor := safety.NewMonitor(cfg.Safety, safetyStore, hub, notifier)
	monitor.LoadPersistedAcks(ctx)

	primary := adsb.NewClient(
		adsb.Tar1090AircraftURL(cfg.Feed.UltrafeederURL),
		adsb.Source1090, cfg.Feed.RequestTimeout())

	var secondary pipeline.Fetcher
	if cfg.Feed.Dump978URL != "" {
		secondary = adsb.NewClient(
			adsb.Dump978AircraftURL(cfg.Feed.Dump978URL),
			adsb.Source978, cfg.Feed.RequestTimeout())
	}

	pipe := pipeline.New(cfg, primary, secondary, tracker, engine, monitor, hub, sightingRepo)

	var acarsSvc *acars.Service
	if cfg.ACARS.Enabled {
		acarsSvc = acars.NewService(acarsStore, hub)
		runBackground(ctx, "acars-listener", func(ctx context.Context) {
			if err := acarsSvc.Listen(ctx, cfg.ACARS.ACARSPort, acars.SourceACARS); err != nil {
				log.Printf("ACARS listener failed: %v", err)
			}
		})
		runBackground(ctx, "vdlm2-listener", func(ctx context.Context) {
			if err := acarsSvc.Listen(ctx, cfg.ACARS.VDLM2Port, acars.SourceVDLM2); err != nil {
				log.Printf("VDL2 listener failed: %v", err)
			}
		})
	}

	runBackground(ctx, "pipeline", pipe.Run)
	runBackground(ctx, "session-sweeper", tracker.RunSweeper)
	runBackground(ctx, "safety-sweeper", monitor.RunSweeper)
	if database != nil {
		runBackground(ctx, "retention-cleaner", func(ctx context.Context) {
			database.RunRetentionCleaner(ctx, retentionSweepInterval)
		})
	}

	server := web.NewServer(cfg, tokens, hub, monitor, engine, acarsSvc,
		pipe, statsSource, historyStore)

	log.Println("===========================================")
	log.Println("  skyfeeder started; press Ctrl+C to stop")
	log.Println("===========================================")

	if err := server.Run(ctx); err != nil {
		log.Printf("HTTP server stopped: %v", err)
		os.Exit(1)
	}
	log.Println("✓ skyfeeder stopped")
}

// runBackground starts a goroutine that restarts itself once after a
// panic. A second panic gives up and leaves the component down.
func runBackground(ctx context.Context, name string, fn func(context.Context)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("PANIC in %s: %v; restarting in 5s", name, r)
				time.Sleep(5 * time.Second)
				go func() {
					defer func() {
						if r := recover(); r != nil {
							log.Printf("PANIC in %s restart: %v; giving up", name, r)
						}
					}()
					fn(ctx)
				}()
			}
		}()
		fn(ctx)
	}()
}
