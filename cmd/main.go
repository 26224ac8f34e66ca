package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/genicsecops/aws-serverless-llm-chat-dynamodb/handler"
	"github.com/genicsecops/aws-serverless-llm-chat-dynamodb/internal/integrations/openai"
	"github.com/genicsecops/aws-serverless-llm-chat-dynamodb/internal/integrations/paramstore"
	"github.com/genicsecops/aws-serverless-llm-chat-dynamodb/internal/repository"
	"github.com/genicsecops/aws-serverless-llm-chat-dynamodb/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	chatsTable := mustEnv("CHATS_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	maxContextItems := envInt("MAX_CONTEXT_ITEMS", 20)
	maxContentLen := envInt("MAX_CONTENT_LENGTH", 4000)
	validateSchema := envBool("VALIDATE_TABLE_SCHEMA", false)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	chatsClient, err := repository.New(awsdynamodb.NewFromConfig(cfg), chatsTable)
	if err != nil {
		slog.Error("failed to create chats client", "err", err)
		os.Exit(1)
	}
	if validateSchema {
		if err := chatsClient.ValidateSchema(ctx); err != nil {
			slog.Error("chats table schema validation failed", "table", chatsTable, "err", err)
			os.Exit(1)
		}
	}

	openaiClient, err := openai.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	chatService, err := usecase.NewChatService(ssmClient, openaiClient, chatsClient, paramPrefix, maxContextItems, maxContentLen)
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(chatService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
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
