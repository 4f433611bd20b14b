package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"gwi.com/answer-engine/internal/api"
	"gwi.com/answer-engine/internal/auth"
	"gwi.com/answer-engine/internal/config"
	"gwi.com/answer-engine/internal/core"
	"gwi.com/answer-engine/internal/logger"
	"gwi.com/answer-engine/internal/store"
)

func main() {
	// Command line flag for minting a bearer token
	issueTokenFlag := flag.Int64("issue-token", 0, "Print a signed bearer token for the given user ID and exit")
	tokenTTLFlag := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of a token printed by -issue-token")
	flag.Parse()

	// Load configuration
	cfg, envFileLoaded := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if !envFileLoaded {
		log.Debug("no .env file found, using environment")
	}

	if *issueTokenFlag != 0 {
		if cfg.JWTSecret == "" {
			log.Fatal("JWT_SECRET must be set to issue tokens")
		}
		token, err := auth.GenerateJWT([]byte(cfg.JWTSecret), *issueTokenFlag, *tokenTTLFlag)
		if err != nil {
			log.Fatal("failed to sign token", zap.Error(err))
		}
		fmt.Println(token)
		return
	}

	log.Info("starting answer engine")

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer dbStore.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize LLM service
	var genaiClient *genai.Client
	if cfg.GeminiAPIKey != "" {
		genaiClient, err = genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
		if err != nil {
			log.Fatal("failed to create genai client", zap.Error(err))
		}
	} else {
		log.Warn("gemini API key missing, answers will fail until it is configured")
	}

	streamer := core.NewGeminiStreamer(cfg.GeminiAPIKey, cfg.GeminiBaseURL, core.GenerationSettings{
		Temperature:     cfg.Temperature,
		TopK:            40,
		TopP:            0.95,
		MaxOutputTokens: cfg.MaxOutputTokens,
	})
	llmService := core.NewLLMService(genaiClient, streamer, core.LLMConfig{
		PrimaryModel:   cfg.PrimaryModel,
		FallbackModel:  cfg.FallbackModel,
		UseFallback:    cfg.UseFallback,
		StreamTimeout:  cfg.LLMStreamTimeout,
		RequestTimeout: cfg.LLMRequestTimeout,
	}, log)
	defer llmService.Close()

	searchService, err := core.NewSearchService(ctx, core.SearchConfig{
		APIKey:   cfg.SearchAPIKey,
		EngineID: cfg.SearchEngineID,
		Endpoint: cfg.SearchEndpoint,
		Timeout:  cfg.SearchTimeout,
	}, log)
	if err != nil {
		log.Fatal("failed to initialize search service", zap.Error(err))
	}

	limiter := core.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	go limiter.Run(ctx, cfg.RateLimitSweepInterval)

	relay := core.NewAnswerRelay(searchService, llmService, limiter, log)
	conversationService := core.NewConversationService(dbStore, log)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(api.Deps{
		Conversations: conversationService,
		Relay:         relay,
		Rewriter:      llmService,
		Owners:        auth.NewResolver(cfg.JWTSecret, cfg.DefaultUserID),
		DB:            dbStore,
		Logger:        log,
	})
	router := api.NewRouter(apiHandler, api.RouterConfig{
		CORSAllowedOrigins:   cfg.CORSAllowedOrigins,
		APIRateLimitRequests: cfg.APIRateLimitRequests,
	}, log)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// A stream may run a search and two generation attempts.
		WriteTimeout: cfg.SearchTimeout + 2*cfg.LLMStreamTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Info("server listening", zap.String("addr", serverAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("could not listen", zap.String("addr", serverAddr), zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	stop()

	log.Info("server exiting gracefully")
}
