package archivist

import (
	"os"
	"strconv"
)

// NewConfigFromEnv reads every §6-enumerated setting from the process
// environment, mirroring the teacher's cmd/engram-mcp/main.go
// os.Getenv-with-defaults style, then applies remaining defaults via
// ApplyDefaults. UseAgenticReflection defaults to true unless
// USE_AGENTIC_REFLECTION is explicitly set to a falsy value,
// which ApplyDefaults alone can't express since a bare bool can't
// distinguish "unset" from "explicitly false".
func NewConfigFromEnv() Config {
	cfg := Config{
		AuthToken: os.Getenv("AUTH_TOKEN"),

		EmbeddingDimension: envInt("EMBEDDING_DIMENSION", 0),
		EmbeddingModel:     os.Getenv("EMBEDDING_MODEL"),

		LLMModelPrimary: os.Getenv("LLM_MODEL_PRIMARY"),
		LLMModelFast:    os.Getenv("LLM_MODEL_FAST"),

		ChatWebhookURL:     os.Getenv("CHAT_WEBHOOK_URL"),
		ChatWebhookAuthKey: os.Getenv("CHAT_WEBHOOK_AUTH_KEY"),
		ChatWebhookSpaceID: os.Getenv("CHAT_WEBHOOK_SPACE_ID"),

		UseAgenticReflection: envBool("USE_AGENTIC_REFLECTION", true),

		SQLitePath: os.Getenv("SQLITE_PATH"),

		S3Bucket:   os.Getenv("S3_BUCKET"),
		S3Prefix:   os.Getenv("S3_PREFIX"),
		S3Endpoint: os.Getenv("S3_ENDPOINT"),
		S3Region:   os.Getenv("S3_REGION"),

		HTTPAddr: os.Getenv("HTTP_ADDR"),
	}
	cfg.ApplyDefaults()
	return cfg
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
