package app

import (
	"context"
	"fmt"

	"github.com/yungbote/quickentry-backend/internal/data/aggregates"
	"github.com/yungbote/quickentry-backend/internal/data/db"
	"github.com/yungbote/quickentry-backend/internal/data/repos"
	"github.com/yungbote/quickentry-backend/internal/jobs/worker"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/capability"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/classifier"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/coordinator"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/ctxbuilder"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/embedder"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/estimator"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/extractor"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/media"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/policy"
	"github.com/yungbote/quickentry-backend/internal/observability"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
	"github.com/yungbote/quickentry-backend/internal/vectorindex"
)

type Services struct {
	Policy      policy.Policy
	Runner      *capability.Runner
	Index       vectorindex.Index
	Embedder    embedder.Service
	Classifier  classifier.Service
	Extractor   extractor.Service
	Estimator   estimator.Service
	Context     ctxbuilder.Service
	Media       *media.Chain
	Coordinator *coordinator.Coordinator
	Sweeper     *worker.Sweeper
}

func wireServices(ctx context.Context, log *logger.Logger, cfg Config, dbs *db.Service, rs repos.Set, clients Clients, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")

	pol, err := policy.Load()
	if err != nil {
		return Services{}, fmt.Errorf("load policy: %w", err)
	}
	runner, err := capability.NewRunner(log, pol, metrics)
	if err != nil {
		return Services{}, fmt.Errorf("init capability runner: %w", err)
	}

	vcfg, err := resolveVectorIndexConfig(cfg.VectorIndexMode, dbs.Driver(), cfg.EmbeddingDim)
	if err != nil {
		return Services{}, err
	}
	index, err := resolveVectorIndex(ctx, log, vcfg, dbs.DB(), metrics)
	if err != nil {
		return Services{}, err
	}

	var cache embedder.Cache = embedder.NewLRU(cfg.EmbedCacheSize)
	if clients.EmbedCache != nil {
		cache = clients.EmbedCache
	}
	var embedProviders []embedder.Provider
	classifiers := []classifier.Provider{classifier.Heuristic{}}
	extractors := []extractor.Provider{extractor.Rules{}}
	if clients.OpenAI != nil {
		embedProviders = append(embedProviders, &embedder.OpenAIProvider{Client: clients.OpenAI})
		classifiers = append(classifiers, &classifier.LLM{Client: clients.OpenAI})
		extractors = append(extractors, &extractor.LLM{Client: clients.OpenAI})
	}
	if len(embedProviders) == 0 {
		return Services{}, fmt.Errorf("no embedding provider configured: set OPENAI_API_KEY")
	}
	emb, err := embedder.NewService(log, runner, cache, cfg.EmbeddingDim, embedProviders...)
	if err != nil {
		return Services{}, fmt.Errorf("init embedder: %w", err)
	}
	cls, err := classifier.NewService(log, runner, pol.Classifier, classifiers...)
	if err != nil {
		return Services{}, fmt.Errorf("init classifier: %w", err)
	}
	ext, err := extractor.NewService(log, runner, pol.Extractor, pol.DayBuckets, extractors...)
	if err != nil {
		return Services{}, fmt.Errorf("init extractor: %w", err)
	}
	est, err := estimator.NewService(log, runner, emb, index, pol.Estimator)
	if err != nil {
		return Services{}, fmt.Errorf("init estimator: %w", err)
	}
	cb, err := ctxbuilder.NewService(log, runner, emb, index, pol.Retrieval)
	if err != nil {
		return Services{}, fmt.Errorf("init context builder: %w", err)
	}
	chain, err := media.NewChain(log, runner, pol.Pipeline.MediaConcurrency, transcribers(clients, pol)...)
	if err != nil {
		return Services{}, fmt.Errorf("init media chain: %w", err)
	}

	tx := aggregates.NewGormTxRunner(dbs.DB())
	coord, err := coordinator.New(coordinator.Deps{
		Log:        log,
		Policy:     pol,
		Tx:         tx,
		Repos:      rs,
		Runner:     runner,
		Classifier: cls,
		Extractor:  ext,
		Estimator:  est,
		Embedder:   emb,
		Index:      index,
		Context:    cb,
		Media:      chain,
		Metrics:    metrics,
	})
	if err != nil {
		return Services{}, fmt.Errorf("init coordinator: %w", err)
	}

	var sweeper *worker.Sweeper
	if cfg.SweeperEnabled {
		sweeper, err = worker.NewSweeper(log, tx, rs, pol.Pipeline, metrics)
		if err != nil {
			return Services{}, fmt.Errorf("init sweeper: %w", err)
		}
	}

	return Services{
		Policy:      pol,
		Runner:      runner,
		Index:       index,
		Embedder:    emb,
		Classifier:  cls,
		Extractor:   ext,
		Estimator:   est,
		Context:     cb,
		Media:       chain,
		Coordinator: coord,
		Sweeper:     sweeper,
	}, nil
}

// transcribers lists GCP providers ahead of the OpenAI fallbacks.
func transcribers(clients Clients, pol policy.Policy) []media.Transcriber {
	fetcher := media.NewFetcher(clients.Blobs, nil, pol.Pipeline.MediaMaxBytes)
	var out []media.Transcriber
	if clients.Speech != nil {
		out = append(out, &media.GCPSpeech{Speech: clients.Speech, Fetcher: fetcher})
	}
	if clients.Document != nil {
		out = append(out, &media.GCPDocument{Document: clients.Document, Fetcher: fetcher})
	}
	if clients.Vision != nil {
		out = append(out, &media.GCPVision{Vision: clients.Vision})
	}
	if clients.OpenAI != nil {
		out = append(out,
			&media.OpenAIWhisper{Client: clients.OpenAI, Fetcher: fetcher},
			&media.OpenAICaption{Client: clients.OpenAI, Fetcher: fetcher},
		)
	}
	return out
}
