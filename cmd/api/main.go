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

	"golang.org/x/sync/errgroup"

	"dealvault/auth"
	"dealvault/db"
	"dealvault/dispute"
	"dealvault/escrow"
	"dealvault/feedback"
	"dealvault/reputation"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connString := os.Getenv("DATABASE_URL")
	jwtSecret := os.Getenv("JWT_SECRET")
	if connString == "" || jwtSecret == "" {
		log.Fatal("DATABASE_URL and JWT_SECRET are required")
	}
	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	store := escrow.NewStore(pool)
	disputeRepo := dispute.NewRepository(pool)
	reputationRepo := reputation.NewRepository(pool)

	engine := escrow.NewService(pool, store, store, disputeRepo, feedback.NewOutbox())
	worker := feedback.NewWorker(pool, 2*time.Second, reputation.NewRecorder(reputationRepo))

	server := &Server{
		authService:       auth.NewService(auth.NewRepository(pool), jwtSecret),
		escrowService:     engine,
		disputeService:    dispute.NewService(disputeRepo),
		reputationService: reputationRepo,
	}

	httpServer := &http.Server{
		Addr:         listenAddr,
		Handler:      server.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(ctx)
	})
	g.Go(func() error {
		log.Printf("api listening on %s", listenAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("shutdown: %v", err)
	}
}
