// archivistd serves archivist's MCP tool surface over HTTP JSON-RPC.
//
// Environment variables (see archivist.NewConfigFromEnv):
//
//	AUTH_TOKEN                       — bearer token required on /mcp and /reflect (required)
//	EMBEDDING_DIMENSION, EMBEDDING_MODEL
//	LLM_MODEL_PRIMARY, LLM_MODEL_FAST
//	CHAT_WEBHOOK_URL, CHAT_WEBHOOK_AUTH_KEY, CHAT_WEBHOOK_SPACE_ID
//	USE_AGENTIC_REFLECTION            — default true
//	SQLITE_PATH
//	S3_BUCKET, S3_PREFIX, S3_ENDPOINT, S3_REGION — omit S3_BUCKET to use an in-memory store
//	OPENAI_API_KEY, ANTHROPIC_API_KEY
//	HTTP_ADDR
//
// Usage:
//
//	go install github.com/goblincore/archivist/cmd/archivistd
//	archivistd
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	archivist "github.com/goblincore/archivist"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()

	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	cfg := archivist.NewConfigFromEnv()
	if cfg.AuthToken == "" {
		log.Fatal().Msg("AUTH_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := buildObjectStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize object store")
	}

	embedder := buildEmbedder(cfg)

	index, err := archivist.NewIndexService(cfg.SQLitePath, embedder, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize index service")
	}
	defer index.Close()

	reminders := archivist.NewReminderScheduler(store)
	conversations := archivist.NewConversationIndexer(store, index)
	staging := archivist.NewStagingWriter(store, index)
	sandbox := archivist.NewSandbox(store)

	llm := archivist.NewAnthropicProvider(os.Getenv("ANTHROPIC_API_KEY"))
	var notifier archivist.WebhookNotifier
	if cfg.ChatWebhookURL != "" {
		notifier = archivist.NewChatWebhookNotifier(cfg.ChatWebhookURL, cfg.ChatWebhookAuthKey, cfg.ChatWebhookSpaceID)
	}
	reflection := archivist.NewReflectionController(store, index, staging, llm, notifier, cfg.LLMModelPrimary, cfg.LLMModelFast, log)

	d := &deps{
		store:         store,
		index:         index,
		reminders:     reminders,
		conversations: conversations,
		staging:       staging,
		sandbox:       sandbox,
		reflection:    reflection,
	}

	startScheduler(ctx, d, log)

	router := newRouter(d, buildToolTable(), cfg.AuthToken, log)
	log.Info().Str("addr", cfg.HTTPAddr).Msg("archivistd listening")
	if err := router.Run(cfg.HTTPAddr); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func buildObjectStore(ctx context.Context, cfg archivist.Config) (archivist.ObjectStore, error) {
	if cfg.S3Bucket == "" {
		return archivist.NewMemoryObjectStore(), nil
	}
	return archivist.NewS3ObjectStore(ctx, archivist.S3Config{
		Bucket:       cfg.S3Bucket,
		Prefix:       cfg.S3Prefix,
		Region:       cfg.S3Region,
		Endpoint:     cfg.S3Endpoint,
		AccessKey:    os.Getenv("S3_ACCESS_KEY"),
		SecretKey:    os.Getenv("S3_SECRET_KEY"),
		UsePathStyle: cfg.S3Endpoint != "",
	})
}

func buildEmbedder(cfg archivist.Config) archivist.EmbeddingProvider {
	return archivist.NewOpenAIEmbedder(os.Getenv("OPENAI_API_KEY"), cfg.EmbeddingModel, cfg.EmbeddingDimension)
}
