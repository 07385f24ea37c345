// Responsible for polling the smart meter over its serial link and
// fanning each completed reading out to the database, the MQTT broker
// and the live websocket API. Designed for unattended operation: every
// fault short of SIGTERM is retried.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pescampus/campus_energy_meter/pkg/config"
	"github.com/pescampus/campus_energy_meter/pkg/connection"
	"github.com/pescampus/campus_energy_meter/pkg/liveapi"
	"github.com/pescampus/campus_energy_meter/pkg/meterdb"
	"github.com/pescampus/campus_energy_meter/pkg/poller"
	"github.com/pescampus/campus_energy_meter/pkg/publisher"
	"github.com/pescampus/campus_energy_meter/pkg/simulator"
	"github.com/pescampus/campus_energy_meter/pkg/types"
)

func main() {
	debug := flag.Bool("debug", false, "log per-frame hex dumps")
	flag.Parse()

	if err := config.LoadMeterLoggerConfig(); err != nil {
		log.Fatalf("Failed to load meter logger config: %v", err)
	}
	cfg := config.ActiveMeterLoggerConfig

	// Initialize database
	meterdb.InitializeDatabase()

	pollCfg, err := buildPollConfig(cfg)
	if err != nil {
		log.Fatalf("Invalid register configuration: %v", err)
	}

	conn := connection.NewManager(cfg.SerialPortPatterns, cfg.Baudrate)
	meterPoller, err := poller.New(pollCfg, conn, *debug)
	if err != nil {
		log.Fatalf("Failed to build poller: %v", err)
	}

	// Optional MQTT publisher
	var pub *publisher.Publisher
	if cfg.MqttBroker != "" {
		pub = publisher.New(publisher.Config{
			Broker:   cfg.MqttBroker,
			Topic:    cfg.MqttTopic,
			ClientID: cfg.MqttClientID,
			Building: cfg.Building,
			Floor:    cfg.Floor,
		})
		if err := pub.Start(); err != nil {
			log.Printf("MQTT publisher unavailable: %v. Readings will only be logged locally.", err)
		}
	}

	// Live API
	api := liveapi.NewServer(meterPoller.Latest)
	mux := http.NewServeMux()
	api.Routes(mux)
	listener := fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.ListenPort)
	go func() {
		log.Printf("Starting Campus Energy Meter API on %s", listener)
		if err := http.ListenAndServe(listener, mux); err != nil {
			log.Printf("Live API stopped: %v", err)
		}
	}()

	virtualMeters := make([]simulator.VirtualMeter, 0, len(cfg.VirtualMeters))
	for _, vm := range cfg.VirtualMeters {
		virtualMeters = append(virtualMeters, simulator.VirtualMeter{
			MeterID:     vm.MeterID,
			ScaleFactor: vm.ScaleFactor,
			JitterPct:   vm.JitterPct,
		})
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	handleReading := func(reading types.Reading) {
		store := func(r types.Reading) {
			if err := meterdb.InsertReading(r); err != nil {
				log.Printf("Failed to store reading for meter %d: %v", r.MeterID, err)
			}
			if pub != nil {
				pub.Publish(r)
			}
		}

		store(reading)
		for _, vm := range virtualMeters {
			store(vm.Derive(reading, rng))
		}
		api.Broadcast(reading)

		log.Printf("Logged data point at %s (%.1f W)", reading.Timestamp.Format("2006-01-02 15:04:05.000"), reading.ActivePowerW)
	}

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	log.Printf("Smart meter logger started (interval=%ds)", cfg.PollIntervalSec)
	meterPoller.Run(ctx, handleReading)

	conn.Close()
	if pub != nil {
		pub.Stop()
	}
	log.Println("Logger stopped.")
}

func buildPollConfig(cfg *config.MeterLoggerConfig) (poller.Config, error) {
	blocks := make([]poller.Block, 0, len(cfg.ReadBlocks))
	for _, b := range cfg.ReadBlocks {
		if len(b) != 2 {
			return poller.Config{}, fmt.Errorf("read block %v must be [start, quantity]", b)
		}
		blocks = append(blocks, poller.Block{Start: uint16(b[0]), Quantity: uint16(b[1])})
	}

	registers := make(map[string]poller.Register, len(cfg.Registers))
	for name, r := range cfg.Registers {
		registers[name] = poller.Register{
			Addr:      uint16(r.Addr),
			WordOrder: r.WordOrder,
			Scale:     r.Scale,
		}
	}

	return poller.Config{
		MeterID:         cfg.MeterID,
		UnitID:          byte(cfg.UnitID),
		Interval:        time.Duration(cfg.PollIntervalSec) * time.Second,
		ResponseTimeout: time.Duration(cfg.ResponseTimeoutMs) * time.Millisecond,
		SettleDelay:     100 * time.Millisecond,
		Blocks:          blocks,
		Registers:       registers,
	}, nil
}
