package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/psds-microservice/chat-ticket-service/internal/ack"
	"github.com/psds-microservice/chat-ticket-service/internal/autoclose"
	"github.com/psds-microservice/chat-ticket-service/internal/botmenu"
	"github.com/psds-microservice/chat-ticket-service/internal/cache"
	"github.com/psds-microservice/chat-ticket-service/internal/clock"
	"github.com/psds-microservice/chat-ticket-service/internal/config"
	"github.com/psds-microservice/chat-ticket-service/internal/contact"
	"github.com/psds-microservice/chat-ticket-service/internal/database"
	"github.com/psds-microservice/chat-ticket-service/internal/debounce"
	"github.com/psds-microservice/chat-ticket-service/internal/eventbus"
	"github.com/psds-microservice/chat-ticket-service/internal/handler"
	"github.com/psds-microservice/chat-ticket-service/internal/inbound"
	"github.com/psds-microservice/chat-ticket-service/internal/integration"
	"github.com/psds-microservice/chat-ticket-service/internal/jobs"
	"github.com/psds-microservice/chat-ticket-service/internal/kafka"
	"github.com/psds-microservice/chat-ticket-service/internal/lock"
	"github.com/psds-microservice/chat-ticket-service/internal/outbound"
	"github.com/psds-microservice/chat-ticket-service/internal/router"
	"github.com/psds-microservice/chat-ticket-service/internal/schedule"
	"github.com/psds-microservice/chat-ticket-service/internal/store/gormstore"
	"github.com/psds-microservice/chat-ticket-service/internal/ticket"
	"github.com/psds-microservice/chat-ticket-service/internal/transport/bridge"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Mode выбирает набор запускаемых компонентов.
type Mode string

const (
	// ModeAPI: HTTP (REST, вебхуки, websocket), мост, воркер очереди и автозакрытие.
	ModeAPI Mode = "api"
	// ModeWorker: мост, воркер очереди и автозакрытие без HTTP. События для UI уходят только в Kafka.
	ModeWorker Mode = "worker"
)

const redisKeyPrefix = "chat-ticket"

// App собирает все компоненты сервиса.
type App struct {
	cfg  *config.Config
	mode Mode

	db       *gorm.DB
	redis    *redis.Client
	producer *kafka.Producer
	tasks    *asynq.Client
	debounce *debounce.Debouncer

	bridge  *bridge.Client
	server  *asynq.Server
	mux     *asynq.ServeMux
	sweeper *autoclose.Sweeper
	httpSrv *http.Server
}

// New проверяет конфиг, применяет миграции и связывает зависимости.
func New(ctx context.Context, cfg *config.Config, mode Mode) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	app := &App{cfg: cfg, mode: mode, db: db}

	app.redis, err = cache.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		app.Close()
		return nil, err
	}
	counters := cache.NewRedis(app.redis, redisKeyPrefix)

	app.producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicTicket)
	bus := eventbus.Multi{eventbus.NewKafkaMirror(app.producer)}
	var hub *eventbus.Hub
	if mode == ModeAPI {
		hub = eventbus.NewHub()
		bus = append(bus, hub)
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
	app.tasks = asynq.NewClient(redisOpt)
	enqueuer := jobs.NewEnqueuer(app.tasks)

	// Входящие кадры моста только ставятся в очередь; обработка идёт в воркере.
	app.bridge = bridge.New(cfg.BridgeURL, enqueuer, cfg.BridgeSendRPS)

	clk := clock.Real()
	st := gormstore.New(db)
	messenger := outbound.New(app.bridge, st, bus)

	ticketDeps := ticket.Deps{Store: st, Catalog: st, Sender: messenger, Bus: bus, Clock: clk, Locks: lock.NewKeyed()}
	lifecycle := ticket.NewLifecycle(ticketDeps)

	app.debounce = debounce.New(clk)
	menuDeps := botmenu.Deps{
		Tickets:       st,
		Catalog:       st,
		Lifecycle:     lifecycle,
		Sender:        messenger,
		Gate:          schedule.NewGate(st, clk, loc),
		Debounce:      app.debounce,
		Clock:         clk,
		Window:        cfg.DebounceWindow,
		PostSendDelay: cfg.PostSendDelay,
	}
	chatbot := botmenu.NewChatbot(menuDeps)

	registry := integration.NewDefaultRegistry(
		integration.NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.Model),
		integration.NewWebhook(30*time.Second),
	)

	inboundRouter := inbound.NewRouter(inbound.Deps{
		Store:        st,
		Contacts:     contact.NewResolver(st),
		Tickets:      ticket.NewResolver(ticketDeps),
		Lifecycle:    lifecycle,
		Counters:     counters,
		Sender:       messenger,
		Bus:          bus,
		Gate:         menuDeps.Gate,
		Menu:         botmenu.NewMenu(menuDeps, chatbot),
		Chatbot:      chatbot,
		Integrations: integration.NewDispatcher(registry, st, lifecycle, messenger),
		Acks:         ack.NewReconciler(st, bus),
		Clock:        clk,
	})

	app.mux = asynq.NewServeMux()
	jobs.NewProcessor(inboundRouter).Register(app.mux)
	app.server = jobs.NewServer(redisOpt, cfg.WorkerConcurrency)

	app.sweeper, err = autoclose.NewSweeper(autoclose.Deps{
		Store:     st,
		Lifecycle: lifecycle,
		Sender:    messenger,
		Counters:  counters,
		Clock:     clk,
	}, cfg.AutoCloseCron)
	if err != nil {
		app.Close()
		return nil, err
	}

	if mode == ModeAPI {
		handlers := router.Handlers{
			Health:   &handler.HealthHandler{Check: app.ping},
			Tickets:  handler.NewTicketHandler(st, lifecycle),
			Webhooks: handler.NewWebhookHandler(enqueuer),
			Realtime: handler.NewRealtimeHandler(hub),
		}
		app.httpSrv = &http.Server{
			Addr:              cfg.Addr(),
			Handler:           router.New(handlers, cfg.CORSOrigins),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
	}
	return app, nil
}

func (a *App) ping(ctx context.Context) error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// Run запускает компоненты и блокируется до отмены ctx или первой фатальной ошибки.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.httpSrv != nil {
		g.Go(func() error {
			logrus.WithField("addr", a.httpSrv.Addr).Info("http: listening")
			logrus.Infof("  Swagger spec:  http://%s/swagger/openapi.json", a.httpSrv.Addr)
			logrus.Infof("  API v1:        http://%s/api/v1/", a.httpSrv.Addr)
			if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http shutdown: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := a.server.Start(a.mux); err != nil {
			return fmt.Errorf("worker: %w", err)
		}
		logrus.WithField("concurrency", a.cfg.WorkerConcurrency).Info("worker: started")
		<-ctx.Done()
		a.server.Shutdown()
		return nil
	})

	if a.cfg.BridgeURL != "" {
		g.Go(func() error { return a.bridge.Run(ctx) })
	} else {
		logrus.Warn("bridge: BRIDGE_URL not set, outbound sends will fail")
	}

	g.Go(func() error { return a.sweeper.Run(ctx) })

	return g.Wait()
}

// Close освобождает соединения. Безопасен после частичной инициализации.
func (a *App) Close() {
	if a.debounce != nil {
		a.debounce.Stop()
	}
	if a.tasks != nil {
		if err := a.tasks.Close(); err != nil {
			logrus.WithError(err).Warn("asynq client close")
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			logrus.WithError(err).Warn("kafka producer close")
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
