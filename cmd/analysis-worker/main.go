// Command analysis-worker runs one scope's analysis loop — file,
// directory, or global, chosen with -scope — dequeuing jobs Scout fanned
// out, querying the configured LLM provider, and writing evidence +
// outbox rows per candidate relationship (spec.md §4.2).
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/korrelate/triangulate/internal/analysis"
	"github.com/korrelate/triangulate/internal/bootstrap"
	"github.com/korrelate/triangulate/internal/cache"
	"github.com/korrelate/triangulate/internal/config"
	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
	"github.com/korrelate/triangulate/internal/llm"
	"github.com/korrelate/triangulate/internal/llm/anthropic"
	"github.com/korrelate/triangulate/internal/llm/bedrock"
	"github.com/korrelate/triangulate/internal/llm/langchain"
	"github.com/korrelate/triangulate/internal/policy"
	"github.com/korrelate/triangulate/internal/queue"
	"github.com/korrelate/triangulate/internal/store"
	"github.com/korrelate/triangulate/internal/workerloop"
)

var scopeQueues = map[analysis.Scope]string{
	analysis.ScopeFile:      queue.QueueFileAnalysis,
	analysis.ScopeDirectory: queue.QueueDirectoryAnalysis,
	analysis.ScopeGlobal:    queue.QueueGlobalAnalysis,
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the pipeline's YAML config file")
	scopeFlag := flag.String("scope", "", "analysis scope: file, directory, or global")
	flag.Parse()

	scope := analysis.Scope(*scopeFlag)
	queueName, ok := scopeQueues[scope]
	if !ok {
		log.Fatalf("analysis-worker: -scope must be one of file, directory, global (got %q)", *scopeFlag)
	}

	stack, err := bootstrap.New("analysis-worker-"+string(scope), *configPath)
	if err != nil {
		log.Fatalf("analysis-worker: %v", err)
	}
	defer stack.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	provider, err := buildProvider(ctx, stack.Config.LLM)
	if err != nil {
		stack.Logger.Fatal("failed to build LLM provider", zap.Error(err))
	}
	llmClient := llm.Wrap(stack.Config.LLM.Provider, provider)

	whitelist, err := policy.New(ctx)
	if err != nil {
		stack.Logger.Fatal("failed to compile policy whitelist", zap.Error(err))
	}

	manifest := cache.NewManifest(stack.CacheRDB)
	q := queue.New(stack.QueueRDB, stack.Config.Queue.MaxJobRetries, stack.Config.Queue.JobBackoff, stack.Config.Queue.JobTimeout)
	runs := store.NewRunRepository(stack.DB)

	worker := analysis.NewWorker(scope, stack.DB, manifest, whitelist, llmClient, stack.Logger)

	workerloop.Run(ctx, q, workerloop.Options{
		QueueName:    queueName,
		TracerName:   "triangulate/analysis",
		StageName:    "analysis." + string(scope),
		PollInterval: time.Second,
		OnCompleted: func(ctx context.Context, job *queue.Job) {
			if err := runs.IncrementCompleted(ctx, job.RunID); err != nil {
				stack.Logger.Error("failed to increment completed-job counter", zap.String("run_id", job.RunID), zap.Error(err))
			}
		},
		OnDeadLettered: func(ctx context.Context, job *queue.Job) {
			if err := runs.IncrementDeadLetter(ctx, job.RunID); err != nil {
				stack.Logger.Error("failed to increment dead-letter-job counter", zap.String("run_id", job.RunID), zap.Error(err))
			}
		},
	}, stack.Metrics, stack.Logger, func(ctx context.Context, job *queue.Job) error {
		var payload analysis.JobPayload
		if err := job.DecodePayload(&payload); err != nil {
			return pipelineerrors.NewInvalidPayloadError("analysis job payload did not decode").WithDetails(err.Error())
		}
		return worker.Process(ctx, job.RunID, job.ID, payload)
	})
}

// buildProvider constructs the configured LLM backend. langchain is
// wired against langchaingo's OpenAI-compatible client since the
// pipeline's config only exposes a generic endpoint/model/api_key shape
// (langchaingo itself has no default backend to pick for it).
func buildProvider(ctx context.Context, cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.New(cfg.APIKey, cfg.Model, cfg.MaxTokens, float64(cfg.Temperature)), nil
	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, pipelineerrors.Wrap(err, pipelineerrors.ErrorTypeInternal, "failed to load AWS config for bedrock")
		}
		client := bedrockruntime.NewFromConfig(awsCfg)
		return bedrock.New(client, cfg.Model, cfg.MaxTokens, float64(cfg.Temperature)), nil
	case "langchain":
		opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithToken(cfg.APIKey)}
		if cfg.Endpoint != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Endpoint))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, pipelineerrors.Wrap(err, pipelineerrors.ErrorTypeInternal, "failed to build langchain model")
		}
		return langchain.New(model, cfg.MaxTokens, float64(cfg.Temperature)), nil
	default:
		return nil, pipelineerrors.NewValidationError("unrecognized llm provider: " + cfg.Provider)
	}
}
