package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
	grpclib "google.golang.org/grpc"

	"realtime-service/internal/auth"
	"realtime-service/internal/cluster"
	"realtime-service/internal/config"
	"realtime-service/internal/db"
	grpcserver "realtime-service/internal/grpc"
	"realtime-service/internal/handlers"
	"realtime-service/internal/logger"
	"realtime-service/internal/messaging"
	"realtime-service/internal/middleware"
	"realtime-service/internal/observability"
	"realtime-service/internal/rabbitmq"
	"realtime-service/internal/repositories"
	"realtime-service/internal/repositories/memory"
	"realtime-service/internal/telemetry"
	"realtime-service/internal/ws"
)

type stores struct {
	threads       repositories.ThreadRepository
	messages      repositories.MessageRepository
	reads         repositories.ReadStateRepository
	notifications repositories.NotificationRepository
	pinger        grpcserver.Pinger
	close         func() error
}

func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger, migrate bool) (*stores, error) {
	if cfg.Database.Driver == "memory" {
		log.Warn("using in-memory store, data is lost on restart")
		store := memory.New()
		return &stores{
			threads:       store,
			messages:      store,
			reads:         store,
			notifications: store,
			close:         func() error { return nil },
		}, nil
	}

	database, err := db.Connect(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := db.Migrate(ctx, database, log); err != nil {
			_ = database.Close()
			return nil, err
		}
	}
	return &stores{
		threads:       repositories.NewThreadRepo(database),
		messages:      repositories.NewMessageRepo(database),
		reads:         repositories.NewReadStateRepo(database),
		notifications: repositories.NewNotificationRepo(database),
		pinger:        database,
		close:         database.Close,
	}, nil
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger, migrate bool) error {
	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", logger.Error(err))
		}
	}()

	st, err := openStores(ctx, cfg, log, migrate)
	if err != nil {
		return err
	}
	defer st.close()

	node := cluster.NodeID(cfg.Cluster)
	log = log.WithField("node", node)

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
	defer publisher.Close()
	log.Info("event publisher ready", logger.String("mode", rabbitmq.PublisherMode(publisher)), logger.String("reason", rabbitmq.PublisherNoopReason(publisher)))

	auditEmitter := telemetry.NewAuditEmitter(publisher, cfg.AMQP.AuditKey, cfg.Tracing.ServiceName, cfg.AMQP.Environment, log)
	wsEvents := observability.NewEvents(publisher, cfg.AMQP.WSEventsKey, node, log.Named("ws_events"))

	bus, err := cluster.New(ctx, cfg.Cluster, log)
	if err != nil {
		return err
	}
	defer bus.Close()

	registry := ws.NewRegistry()
	router := ws.NewRouter(registry, bus, node, log)
	hub := ws.NewHub(registry, router)
	if err := router.Listen(ctx); err != nil {
		return fmt.Errorf("subscribe cluster bus: %w", err)
	}

	gate := auth.NewGate(auth.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.Issuer), cfg.Auth.VerifyTimeout)

	threads := messaging.NewThreads(st.threads)
	pipeline := messaging.NewPipeline(st.threads, st.messages, router, log)
	counters := messaging.NewCounters(st.threads, st.reads, router, log)
	backfill := messaging.NewBackfill(st.threads, st.messages, cfg.Backfill.DefaultLimit, cfg.Backfill.MaxLimit)
	notifications := messaging.NewNotifications(st.notifications, router, log)

	dispatcher := ws.NewDispatcher(router, threads, pipeline, counters, backfill, log)
	wsHandler := ws.NewHandler(hub, gate, dispatcher, counters, wsEvents, cfg.WS, cfg.Server.AllowedOrigins, log)
	threadHandler := handlers.NewThreadHandler(threads, pipeline, backfill, counters, auditEmitter)
	notificationHandler := handlers.NewNotificationHandler(notifications, auditEmitter)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	engine.Use(observability.RequestIDMiddleware())
	engine.Use(observability.HTTPMetricsMiddleware())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "node": node, "connections": registry.Count()})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/ws", wsHandler.Handle)

	authMiddleware := middleware.AuthMiddleware(gate)
	api := engine.Group("/", authMiddleware)
	api.POST("/threads", threadHandler.CreateThread)
	api.GET("/threads", threadHandler.ListThreads)
	api.GET("/threads/:thread_id/messages", threadHandler.GetMessages)
	api.POST("/threads/:thread_id/messages", threadHandler.PostMessage)
	api.POST("/threads/:thread_id/read", threadHandler.MarkRead)
	api.GET("/unread", threadHandler.Unread)
	api.GET("/notifications", notificationHandler.ListNotifications)
	api.POST("/notifications/:notification_id/read", notificationHandler.MarkRead)
	api.POST("/notifications/read-all", notificationHandler.MarkAllRead)

	engine.POST("/internal/notifications", middleware.ServiceAuth(cfg.Auth.ServiceToken), notificationHandler.CreateNotification)
	handlers.RegisterDebugRoutes(engine, handlers.NewDebugHandler(node, hub, auditEmitter), cfg.Debug)

	corsPolicy := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "x-access-token", observability.RequestIDHeader},
		AllowCredentials: true,
	})
	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr(),
		Handler: corsPolicy.Handler(engine),
	}

	health := grpcserver.NewHealthChecker(st.pinger, cfg.Database.PingInterval, log)
	grpcServer := grpcserver.NewServer(health)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", logger.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return health.Run(gctx) })
	if cfg.Server.GRPCPort > 0 {
		g.Go(func() error {
			lis, err := net.Listen("tcp", cfg.Server.GRPCAddr())
			if err != nil {
				return fmt.Errorf("grpc listen: %w", err)
			}
			log.Info("grpc server listening", logger.String("addr", cfg.Server.GRPCAddr()))
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpclib.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", logger.Int("connections", hub.CloseAll()))
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
