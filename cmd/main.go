package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/lvdashuaibi/livepoll/config"
	"github.com/lvdashuaibi/livepoll/internal/api/graph"
	"github.com/lvdashuaibi/livepoll/internal/api/rest"
	"github.com/lvdashuaibi/livepoll/internal/api/ws"
	"github.com/lvdashuaibi/livepoll/internal/gateway"
	intkafka "github.com/lvdashuaibi/livepoll/internal/kafka"
	"github.com/lvdashuaibi/livepoll/internal/repository"
	"github.com/lvdashuaibi/livepoll/internal/room"
	"github.com/lvdashuaibi/livepoll/internal/service"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const AppVersion = "1.0.0"

var configPath = flag.String("config", "config/config.yaml", "path to the config file")

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
}

func main() {
	flag.Parse()

	// Booting screen
	fmt.Println(color.CyanString(" _     _           ____       _ _\n| |   (_)_   _____|  _ \\ ___ | | |\n| |   | \\ \\ / / _ \\ |_) / _ \\| | |\n| |___| |\\ V /  __/  __/ (_) | | |\n|_____|_| \\_/ \\___|_|   \\___/|_|_|"))
	fmt.Printf("%s v%s\n", color.New(color.FgHiCyan).Add(color.Bold).Sprintf("LivePoll"), AppVersion)
	fmt.Printf("Real-time classroom polling\n")
	color.HiBlack("=====================================================\n")

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("could not load .env")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config failed")
	}
	setupLogger(cfg.Log)
	gin.SetMode(cfg.Server.Mode)

	repo := repository.NewPollRepository()
	rooms := room.NewRegistry(repo)
	hub := gateway.NewHub(rooms, cfg.Gateway.OutboxSize)

	notifiers := service.Notifiers{hub}
	if cfg.Kafka.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		producer, err := intkafka.NewProducer(ctx, cfg.Kafka)
		cancel()
		if err != nil {
			log.Error().Err(err).Msg("kafka event export disabled")
		} else {
			defer producer.Close()
			notifiers = append(notifiers, producer)
		}
	}

	polls := service.NewPollService(repo, notifiers, cfg.Poll)
	votes := service.NewVoteService(repo, notifiers)
	gw := gateway.New(hub, rooms, polls, votes, cfg.Gateway)

	router := rest.NewRouter(cfg, polls, rooms,
		ws.NewHandler(gw, cfg.Gateway, cfg.Server.AllowedOrigins),
		graph.NewGraphQLServer(polls),
	)

	// Configure timed tasks
	quartz := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(&log.Logger)))
	if cfg.Stats.Spec != "" {
		if _, err := quartz.AddFunc(cfg.Stats.Spec, func() {
			stats := polls.Stats()
			log.Info().
				Int("created", stats.Created).
				Int("active", stats.Active).
				Int("closed", stats.Closed).
				Int("rooms", rooms.Count()).
				Int("sessions", gw.SessionCount()).
				Msg("poll stats")
		}); err != nil {
			log.Error().Err(err).Str("spec", cfg.Stats.Spec).Msg("invalid stats schedule")
		}
	}
	quartz.Start()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}
	go func() {
		log.Info().Int("port", cfg.Server.Port).Bool("legacy", cfg.Gateway.LegacyMode).Msg("LivePoll is listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	<-quartz.Stop().Done()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
}

func setupLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if !cfg.Pretty {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
