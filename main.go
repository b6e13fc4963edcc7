package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Marveltechapps/selorg-console-core/api"
	"github.com/Marveltechapps/selorg-console-core/config"
	"github.com/Marveltechapps/selorg-console-core/live"
	"github.com/Marveltechapps/selorg-console-core/metrics"
	"github.com/Marveltechapps/selorg-console-core/realtime"
	"github.com/Marveltechapps/selorg-console-core/router"
	"github.com/Marveltechapps/selorg-console-core/session"
)

func main() {
	// Initialize context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize config
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}
	cfg, err := config.Load(env)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Session storage: in-process by default, Redis when console sessions
	// are shared across kiosk processes.
	var storage session.Storage
	switch strings.ToLower(cfg.Session.Storage) {
	case "redis":
		redisStorage, err := session.NewRedisStorage(&cfg.Session.Redis)
		if err != nil {
			log.Fatalf("Failed to connect session storage: %v", err)
		}
		defer redisStorage.Close()
		storage = redisStorage
	default:
		storage = session.NewMemoryStorage()
	}

	// Session store with a fire-and-forget backend logout call.
	var apiClient *api.Client
	sessions := session.NewStore(storage, cfg.Session.Keys,
		session.WithLogoutNotifier(func(ctx context.Context, token string) {
			if apiClient != nil {
				if err := apiClient.Logout(ctx, token); err != nil {
					log.Printf("Backend logout notification failed: %v", err)
				}
			}
		}))
	apiClient = api.New(&cfg.API, sessions)

	if err := sessions.Restore(ctx); err != nil {
		log.Printf("Session restore failed: %v", err)
	}
	if err := sessions.Watch(ctx); err != nil {
		log.Printf("Cross-tab logout watch unavailable: %v", err)
	}

	// Push channel and per-role event routing.
	channel := realtime.NewChannel(&cfg.Gateway, sessions, nil)

	var notifier router.Notifier = router.LogNotifier{}
	if cfg.Notify.Desktop {
		notifier = router.DesktopNotifier{}
	}
	events := router.New(channel, sessions, notifier)
	events.Bind()

	// Keep the channel in step with the session lifecycle.
	sessions.OnChange(func(s session.Session) {
		if s.Authenticated() {
			channel.Connect(ctx)
			channel.SyncTopics()
		} else {
			channel.Disconnect()
		}
	})
	channel.Connect(ctx)

	// Orders view: push deltas plus periodic refresh as the fallback path.
	ordersView := live.NewView(&cfg.Live,
		func(ctx context.Context) ([]live.Entity, error) {
			return apiClient.ListOrders(ctx, sessions.ActiveUnit())
		},
		live.WithUnitScope(sessions.ActiveUnit),
	)
	ordersView.Bind(channel, live.Events{
		Create: router.EventOrderCreated,
		Update: router.EventOrderUpdated,
		Remove: router.EventOrderCancelled,
	})
	ordersView.Start(ctx)

	if cfg.Metrics.Enabled {
		metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	log.Println("Console core started")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutdown signal received")

	ordersView.Close()
	channel.Disconnect()
}
