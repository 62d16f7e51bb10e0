package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/SenseFlow/pkg/senseflow"
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

	sub, err := rt.Subscribe(senseflow.SensorAccelerometer, 20, senseflow.StreamOptions{}, func(msg senseflow.Message) {
		switch {
		case msg.Datapoint != nil:
			fmt.Printf("%s ts=%d readings=%v\n", msg.Datapoint.Sensor, msg.Datapoint.Timestamp, msg.Datapoint.Readings)
		case msg.Report != nil:
			fmt.Printf("sender report packets=%d octets=%d\n", msg.Report.PacketCount, msg.Report.OctetCount)
		}
	})
	if err != nil {
		log.Fatalf("subscribe: %v", err)
	}

	<-ctx.Done()
	_ = sub.Cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
