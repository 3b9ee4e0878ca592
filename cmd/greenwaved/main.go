package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trafficlab/greenwave/internal/config"
	"github.com/trafficlab/greenwave/internal/events"
	"github.com/trafficlab/greenwave/internal/mqtt"
	"github.com/trafficlab/greenwave/internal/optimizer"
	"github.com/trafficlab/greenwave/internal/orchestrator"
	"github.com/trafficlab/greenwave/internal/scenario"
	"github.com/trafficlab/greenwave/internal/sim"
	"github.com/trafficlab/greenwave/internal/storage/postgres"
	"github.com/trafficlab/greenwave/internal/traffic"
	"github.com/trafficlab/greenwave/internal/version"
)

func main() {
	configPath := flag.String("config", "greenwave.yaml", "path to system config")
	seed := flag.Int64("seed", 1, "traffic generator seed (simulation mode)")
	flag.Parse()

	events.EnableStdout(true)

	cfg, err := config.LoadSystemConfig(*configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg = config.Default()
		} else {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	}

	hostname, _ := os.Hostname()
	events.Emit("info", "system.startup", "greenwave starting", map[string]interface{}{
		"service":  "greenwaved",
		"version":  version.Version,
		"hostname": hostname,
		"pid":      os.Getpid(),
	})

	// Optional Postgres persistence for events and cycle telemetry.
	var telemetry traffic.TelemetrySink
	if cfg.Database.Enabled {
		pg, err := postgres.New()
		if err != nil {
			events.Emit("error", "system.error", "postgres unavailable, persistence disabled", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			defer pg.Close()
			events.SetPostgresClient(pg)
			telemetry = pg

			// Surface how much history the store already holds.
			if cycles, err := pg.QueryCycles("", 5); err == nil && len(cycles) > 0 {
				events.Emit("info", "telemetry.history", "recent cycles loaded", map[string]interface{}{
					"count":     len(cycles),
					"latest_ts": cycles[0].Timestamp.Format(time.RFC3339),
				})
			}
		}
	}

	opt := optimizer.New(optimizer.Config{
		MinGreenSeconds:     cfg.Timing.MinGreenSeconds,
		MaxGreenSeconds:     cfg.Timing.MaxGreenSeconds,
		YellowSeconds:       cfg.Timing.YellowSeconds,
		EmergencyMultiplier: cfg.Timing.EmergencyMultiplier,
		WetWeatherFactor:    cfg.Timing.WetWeatherFactor,
		SnowWeatherFactor:   cfg.Timing.SnowWeatherFactor,
	})

	manager := scenario.NewManager(scenario.Config{
		MaxConcurrent:  cfg.MaxConcurrentScenarios(),
		Timeout:        cfg.ScenarioTimeout(),
		ReaperInterval: cfg.ReaperInterval(),
	})
	manager.Start()
	defer manager.Stop()

	var (
		provider traffic.CountProvider
		lights   traffic.LightSink
		weather  func() traffic.Weather
	)

	if cfg.MQTT.Enabled {
		if cfg.MQTT.URL != "" {
			os.Setenv("MQTT_URL", cfg.MQTT.URL)
		}
		client := mqtt.NewClient("greenwaved")
		detectors := mqtt.NewDetectorProvider(client, 0)
		if !client.StartWithRetry(func() error {
			return detectors.WatchAll(cfg.Intersections())
		}) {
			os.Exit(1)
		}
		defer client.Disconnect()

		provider = detectors
		lights = mqtt.NewLightPublisher(client)
	} else {
		gen := sim.NewGenerator(*seed)
		provider = gen
		lights = sim.NewLightBoard()
		weather = gen.Weather
	}

	orchCfg := orchestrator.Config{
		TickInterval: cfg.TickInterval(),
		CallTimeout:  cfg.CallTimeout(),
	}

	var workers []*orchestrator.Orchestrator
	for _, id := range cfg.Intersections() {
		o := orchestrator.New(id, orchCfg, manager, opt, provider, lights, telemetry)
		if weather != nil {
			o.SetWeatherSource(weather)
		}
		o.Start()
		workers = append(workers, o)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	events.Emit("info", "system.shutdown", "greenwave stopping", map[string]interface{}{
		"signal": sig.String(),
	})

	for _, o := range workers {
		o.Stop()
	}
}
