package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/chat-platform/internal/auth"
	"github.com/suPer8Hu/chat-platform/internal/chat"
	"github.com/suPer8Hu/chat-platform/internal/config"
	"github.com/suPer8Hu/chat-platform/internal/db"
	"github.com/suPer8Hu/chat-platform/internal/httpapi"
	"github.com/suPer8Hu/chat-platform/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-platform/internal/store/rabbitmq"
	"github.com/suPer8Hu/chat-platform/internal/store/redisstore"
	"github.com/suPer8Hu/chat-platform/internal/users"
	"github.com/suPer8Hu/chat-platform/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jwt := auth.NewJWT(cfg.JWTSecret, cfg.JWTTTL)
	var opts []chat.Option
	var presence handlers.PresenceLookup

	if cfg.RedisAddr != "" {
		rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.PresenceTTL)
		if err := rds.Ping(ctx); err != nil {
			log.Fatalf("redis ping: %v", err)
		}
		defer rds.Close()
		opts = append(opts, chat.WithPresenceObserver(rds))
		presence = rds
		log.Printf("presence mirror enabled addr=%s ttl=%s", cfg.RedisAddr, cfg.PresenceTTL)
	}

	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatalf("rabbit publisher: %v", err)
		}
		defer pub.Close()
		opts = append(opts, chat.WithPublisher(pub))
		log.Printf("message events enabled queue=%s", cfg.RabbitQueue)
	}

	router := chat.NewRouter(jwt, users.NewRepo(gdb), chat.NewPresence(), chat.NewResolver(), chat.NewRepo(gdb), opts...)

	wsHandler := ws.NewHandler(ctx, router, ws.Options{
		AllowedOrigins: cfg.WSAllowedOrigins,
		MaxMessageSize: cfg.WSMaxMessageSize,
		RateBurst:      cfg.WSRateBurst,
		RateRefill:     cfg.WSRateRefill,
	})

	engine := httpapi.NewRouter(gdb, cfg, httpapi.Deps{
		Router:   router,
		JWT:      jwt,
		Presence: presence,
		WS:       wsHandler,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// hijacked websocket connections are not tracked by Shutdown
	router.CloseAll(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
