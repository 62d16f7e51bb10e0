package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/SenseFlow"
)

func main() {
	cfg := senseflow.DefaultConfig()
	cfg.Transport.Kind = "loopback"

	rt, err := senseflow.NewRuntime(cfg, senseflow.WithoutMetricsServer())
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		log.Fatalf("start runtime: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Shutdown(shutdownCtx)
	}()

	msg, err := rt.Fetch(ctx, senseflow.SensorPressure)
	if err != nil {
		log.Fatalf("fetch: %v", err)
	}
	fmt.Printf("pressure now: %v\n", msg.Datapoint.Readings)

	sub, messages, err := rt.SubscribeChannel(senseflow.SensorGyroscope, 50, senseflow.StreamOptions{BatchSize: 5}, 32)
	if err != nil {
		log.Fatalf("subscribe: %v", err)
	}
	go fanoutWorker("gyro", messages)

	<-ctx.Done()
	_ = sub.Cancel()
}

func fanoutWorker(name string, messages <-chan senseflow.Message) {
	for msg := range messages {
		if msg.Datapoint == nil {
			continue
		}
		fmt.Printf("[%s] %d readings at ts=%d\n", name, len(msg.Datapoint.Readings), msg.Datapoint.Timestamp)
	}
}
