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

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"

	"github.com/cheqin-app/backend/internal/config"
	"github.com/cheqin-app/backend/internal/handler"
	"github.com/cheqin-app/backend/internal/model/companion"
	checkinService "github.com/cheqin-app/backend/internal/service/checkin"
	"github.com/cheqin-app/backend/internal/service/realtime"
	"github.com/cheqin-app/backend/internal/service/scoring"
	checkinStore "github.com/cheqin-app/backend/internal/store/checkin"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	companionStore := companion.NewMemoryStore(companion.Seed())
	recordStore := checkinStore.NewStore()

	// Initialize scoring service: LLM-backed when Ark credentials are
	// present, keyword heuristics otherwise.
	var chatModel model.ChatModel
	if cfg.Scoring.Enabled() {
		chatModel, err = cfg.Scoring.NewChatModel(ctx)
		if err != nil {
			log.Printf("warning: failed to initialize scoring model: %v", err)
			log.Println("continuing with heuristic scoring - 请检查 Ark 模型相关环境变量")
			chatModel = nil
		}
	} else {
		log.Println("Ark 凭证未配置，打分走关键词启发式")
	}

	scorer, err := scoring.NewService(ctx, chatModel, scoring.Config{Enabled: chatModel != nil})
	if err != nil {
		log.Fatalf("failed to initialize scoring service: %v", err)
	}
	if scorer.Enabled() {
		log.Println("LLM wellness scorer enabled")
	}

	// Initialize the check-in session service when realtime credentials
	// are configured.
	var sessions *checkinService.Service
	if cfg.Realtime.Enabled() {
		sessions = checkinService.NewService(
			newRunnerFactory(cfg.Realtime),
			companionStore,
			recordStore,
			scorer,
		)
		log.Println("Realtime check-in service initialized successfully")
	} else {
		log.Println("OPENAI_API_KEY 未配置，跳过实时会话功能初始化")
	}

	router := handler.NewRouter(companionStore, sessions)

	startServer(ctx, cfg.Server, router)
}

// newRunnerFactory builds realtime protocol drivers from the static
// configuration plus the per-session companion profile.
func newRunnerFactory(cfg config.RealtimeConfig) checkinService.RunnerFactory {
	broker := realtime.NewOpenAITokenBroker(cfg.APIKey, cfg.SessionURL)
	transport := realtime.NewWebSocketTransport(cfg.BaseURL)

	return func(profile companion.Companion, onEvent func(realtime.Event)) checkinService.SessionRunner {
		capture := realtime.NewDeviceCapture()
		capture.Command = cfg.CaptureTool

		voice := profile.Voice
		if voice == "" {
			voice = cfg.Voice
		}

		return realtime.New(realtime.Options{
			Broker:       broker,
			Transport:    transport,
			Capture:      capture,
			Model:        cfg.Model,
			Voice:        voice,
			Instructions: profile.Instructions,
			Greeting:     profile.OpeningHint,
			IdleTimeout:  cfg.IdleTimeout,
			MaxTurns:     cfg.MaxTurns,
			OnEvent:      onEvent,
		})
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("CheqIn backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
