package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"borrowpal/auth"
	"borrowpal/db"
	"borrowpal/gamification"
	"borrowpal/handoff"
	"borrowpal/negotiation"
	"borrowpal/notify"
	"borrowpal/order"
	"borrowpal/payment"
	"borrowpal/profile"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	recorder := order.NewRecorder()
	orderRepo := order.NewRepository(pool)
	orders := order.NewService(pool, orderRepo, recorder)

	checkout := payment.NewClient(os.Getenv("PAYMENT_API_URL"), os.Getenv("PAYMENT_SECRET_KEY"))
	offers := negotiation.NewService(pool, negotiation.NewRepository(pool), orderRepo, recorder, checkout)
	handoffs := handoff.NewService(pool, orderRepo, recorder)

	members := auth.NewService(auth.NewRepository(pool), os.Getenv("JWT_SECRET"))
	profiles := profile.NewService(profile.NewRepository(pool))
	xp := gamification.NewService(gamification.NewRepository(pool))

	dispatcher := notify.NewDispatcher(pool, notify.NewRepository(pool), xp)

	log.Printf("borrowpal lifecycle services ready: orders=%t offers=%t handoffs=%t members=%t profiles=%t",
		orders != nil, offers != nil, handoffs != nil, members != nil, profiles != nil)

	if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("outbox dispatcher: %v", err)
	}
}
