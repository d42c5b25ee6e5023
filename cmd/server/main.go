package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"leaflet-sync-server/internal/config"
	"leaflet-sync-server/internal/domain"
	"leaflet-sync-server/internal/handler"
	"leaflet-sync-server/internal/middleware"
	"leaflet-sync-server/internal/outbox"
	"leaflet-sync-server/internal/repository"
	"leaflet-sync-server/internal/service"
	"leaflet-sync-server/internal/websocket"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/gorilla/mux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	couchURL := fmt.Sprintf("http://%s:%s@%s:%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
	)

	client, err := kivik.New("couch", couchURL)
	if err != nil {
		log.Fatalf("Failed to connect to CouchDB: %v", err)
	}

	exists, err := client.DBExists(context.Background(), cfg.Database.Name)
	if err != nil {
		log.Fatalf("Failed to check database existence: %v", err)
	}

	if !exists {
		if err := client.CreateDB(context.Background(), cfg.Database.Name); err != nil {
			log.Fatalf("Failed to create database: %v", err)
		}
		log.Printf("Created database: %s", cfg.Database.Name)
	}

	userRepo := repository.NewUserRepository(client, cfg.Database.Name)
	deviceRepo := repository.NewDeviceRepository(client, cfg.Database.Name)
	recordRepo := repository.NewRecordRepository(client, cfg.Database.Name)
	outboxRepo := repository.NewOutboxRepository(client, cfg.Database.Name)

	// Root context for the background workers: cancelled on shutdown signal.
	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wsManager := websocket.NewManager(
		cfg.WebSocket.MaxConnPerUser,
		cfg.WebSocket.MaxMessageSize,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
	)
	go wsManager.Run(runCtx)

	authService := service.NewAuthService(userRepo, cfg.JWT.Secret, cfg.JWT.Expiration, cfg.JWT.RefreshTokenExpiration)
	deviceService := service.NewDeviceService(deviceRepo)
	syncService := service.NewSyncService(recordRepo, deviceRepo, service.SyncLimits{
		PullDefaultItems:      cfg.Sync.PullDefaultItems,
		PullMaxItems:          cfg.Sync.PullMaxItems,
		PushMaxItemsPerEntity: cfg.Sync.PushMaxItemsPerEntity,
		PushMaxTotalItems:     cfg.Sync.PushMaxTotalItems,
	})
	notificationService := service.NewNotificationService(deviceRepo, service.LogPushSender{}, wsManager)
	outboxService := service.NewOutboxService(outboxRepo)

	dispatcher := outbox.NewDispatcher(outboxRepo, outbox.Config{
		BatchSize:    cfg.Outbox.MaxBatchSize,
		PollInterval: cfg.Outbox.PollingInterval,
		MaxAttempts:  cfg.Outbox.MaxRetryAttempts,
		ClaimLease:   cfg.Outbox.ClaimLease,
	})
	for _, kind := range domain.AllEventKinds {
		dispatcher.Handle(kind, notificationService.HandleChangeEvent)
	}
	go dispatcher.Run(runCtx)

	wsManager.SetMessageHandler(handler.NewWebSocketMessageHandler(wsManager))

	authHandler := handler.NewAuthHandler(authService)
	deviceHandler := handler.NewDeviceHandler(deviceService)
	syncHandler := handler.NewSyncHandler(syncService)
	outboxHandler := handler.NewOutboxHandler(outboxService)
	wsHandler := handler.NewWebSocketHandler(wsManager, cfg.JWT.Secret,
		cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/auth/register", authHandler.Register).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/login", authHandler.Login).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/refresh", authHandler.Refresh).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(cfg.JWT.Secret))

	protected.HandleFunc("/devices", deviceHandler.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/devices/register", deviceHandler.Register).Methods("POST", "OPTIONS")
	protected.HandleFunc("/devices/{id}/heartbeat", deviceHandler.Heartbeat).Methods("POST", "OPTIONS")
	protected.HandleFunc("/devices/{id}", deviceHandler.Retire).Methods("DELETE", "OPTIONS")

	protected.HandleFunc("/sync/pull", syncHandler.Pull).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sync/push", syncHandler.Push).Methods("POST", "OPTIONS")

	protected.HandleFunc("/outbox/messages/failed", outboxHandler.ListFailed).Methods("GET", "OPTIONS")
	protected.HandleFunc("/outbox/messages/{id}/requeue", outboxHandler.Requeue).Methods("POST", "OPTIONS")

	r.HandleFunc("/ws", wsHandler.HandleConnection)

	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.HandleFunc("/", rootHandler).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting Leaflet Sync Server on %s (env: %s)", addr, cfg.Server.Env)
		log.Printf("Connected to CouchDB at %s:%s", cfg.Database.Host, cfg.Database.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-runCtx.Done()

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped gracefully")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"leaflet-sync-server"}`))
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"message":"Leaflet Sync Server API","version":"1.0.0","endpoints":{"/api/v1/auth/register":"POST","/api/v1/auth/login":"POST","/api/v1/sync/pull":"POST (protected)","/api/v1/sync/push":"POST (protected)"}}`))
}
