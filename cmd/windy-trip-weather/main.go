package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	httpapi "github.com/flylasse/windy-trip-weather/internal/api/http"
	"github.com/flylasse/windy-trip-weather/internal/config"
	"github.com/flylasse/windy-trip-weather/internal/render"
	"github.com/flylasse/windy-trip-weather/internal/scheduler"
	"github.com/flylasse/windy-trip-weather/internal/store"
	"github.com/flylasse/windy-trip-weather/internal/stream"
	"github.com/flylasse/windy-trip-weather/internal/weather"
	"github.com/flylasse/windy-trip-weather/internal/weather/providers"
)

const serviceName = "windy-trip-weather"

func main() {
	rootCmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Enrich timestamped route points with point-forecast weather",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the watched-route scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	enrichCmd := &cobra.Command{
		Use:   "enrich",
		Short: "Enrich the points of a YAML file and print the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			pointsFile, _ := cmd.Flags().GetString("points")
			unitsFlag, _ := cmd.Flags().GetString("units")
			output, _ := cmd.Flags().GetString("output")

			units, err := render.ParseUnits(unitsFlag)
			if err != nil {
				return err
			}
			if output != "text" && output != "json" {
				return fmt.Errorf("unknown output format %q (want text or json)", output)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return enrich(cmd.Context(), cfg, pointsFile, units, output)
		},
	}
	enrichCmd.Flags().StringP("points", "p", "points.yaml", "YAML file with the points to enrich")
	enrichCmd.Flags().StringP("units", "u", "metric", "Display units (metric, imperial)")
	enrichCmd.Flags().StringP("output", "o", "text", "Output format (text, json)")

	checkKeyCmd := &cobra.Command{
		Use:   "check-key",
		Short: "Verify the forecast API credential with a single request",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return checkKey(cmd.Context(), cfg)
		},
	}

	rootCmd.AddCommand(serveCmd, enrichCmd, checkKeyCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ConfigureLogging(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newService wires the provider, store and optional outcome stream.
// The returned cleanup drains pending outcomes and closes the stream connection.
func newService(cfg *config.AppConfig) (*weather.Service, func()) {
	// Shared HTTP client for outbound forecast calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}
	provider := providers.NewWindyProvider(httpClient, cfg.WindyConfig())

	memStore := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)
	service := weather.NewService(memStore, provider, weather.BatchOptions{
		MaxConcurrency: cfg.BatchMaxConcurrency,
		Timeout:        cfg.BatchTimeout,
	})

	cleanup := func() {}
	if cfg.RedisAddr != "" {
		sink := stream.NewRedisSink(redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}), cfg.RedisStream, 10000)

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := sink.Ping(ctx); err != nil {
			log.WithError(err).Warnf("redis at %s unreachable; outcome streaming disabled", cfg.RedisAddr)
			_ = sink.Close()
		} else {
			service.SetOutcomeSink(sink)
			cleanup = func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := service.WaitPublished(ctx); err != nil {
					log.WithError(err).Warn("gave up waiting for outcome stream to drain")
				}
				_ = sink.Close()
			}
			log.Infof("streaming outcomes to redis stream %s", cfg.RedisStream)
		}
	}
	return service, cleanup
}

func serve(ctx context.Context, cfg *config.AppConfig) error {
	if cfg.ForecastAPIKey == "" {
		log.Warn("FORECAST_API_KEY is not set; batch requests will be rejected")
	}

	service, cleanup := newService(cfg)
	defer cleanup()

	// Scheduler that periodically re-enriches the watched route.
	if cfg.WatchPointsFile != "" {
		points, err := config.LoadPoints(cfg.WatchPointsFile)
		if err != nil {
			return err
		}
		sched := scheduler.New(points, cfg.FetchInterval, cfg.BatchTimeout, service)
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// A batch can run up to BatchTimeout before responding.
		WriteTimeout: cfg.BatchTimeout + 10*time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": serviceName,
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	httpapi.RegisterRoutes(app, service, httpapi.Options{MaxPoints: cfg.BatchMaxPoints})

	go func() {
		log.Infof("listening on :%s", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.WithError(err).Error("fiber server stopped")
		}
	}()

	// Wait for termination signal
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.WithError(err).Error("error during shutdown")
	}
	return nil
}

func enrich(ctx context.Context, cfg *config.AppConfig, pointsFile string, units render.Units, output string) error {
	points, err := config.LoadPoints(pointsFile)
	if err != nil {
		return err
	}

	service, cleanup := newService(cfg)
	defer cleanup()

	batch, err := service.RunBatch(ctx, points)
	if err != nil {
		return err
	}

	if output == "json" {
		data, err := json.MarshalIndent(batch, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Batch %s: %d points, %d ok, %d failed\n", batch.ID, len(batch.Outcomes), batch.Succeeded(), batch.Failed())
	for _, line := range render.Lines(batch, units) {
		fmt.Println(line)
	}
	return nil
}

func checkKey(ctx context.Context, cfg *config.AppConfig) error {
	service, cleanup := newService(cfg)
	defer cleanup()

	fmt.Println("Testing forecast API key...")
	result, err := service.CheckCredential(ctx)
	if err != nil {
		return fmt.Errorf("forecast API error (%s): %w", weather.Kind(err), err)
	}
	fmt.Printf("API test successful! %s now: %s\n", weather.ProbePoint.Name, render.Summary(result, render.Metric))
	return nil
}
