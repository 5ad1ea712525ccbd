package main

import (
	"context"
	"fmt"
	"time"

	mongodriver "go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"goa.design/clue/health"

	"github.com/dexterhq/dexter/config"
	mongoaudit "github.com/dexterhq/dexter/features/audit/mongo"
	clientsmongo "github.com/dexterhq/dexter/features/audit/mongo/clients/mongo"
	"github.com/dexterhq/dexter/features/model/anthropic"
	"github.com/dexterhq/dexter/features/model/openai"
	"github.com/dexterhq/dexter/runtime/agent/audit"
	"github.com/dexterhq/dexter/runtime/agent/audit/jsonl"
	"github.com/dexterhq/dexter/runtime/agent/controller"
	"github.com/dexterhq/dexter/runtime/agent/engine"
	"github.com/dexterhq/dexter/runtime/agent/model"
	"github.com/dexterhq/dexter/runtime/agent/provider"
	"github.com/dexterhq/dexter/runtime/agent/tools"
)

// engineAgent adapts the engine to the controller's agent boundary.
type engineAgent struct {
	eng *engine.Engine
}

func (a engineAgent) Stream(ctx context.Context, query string, opts controller.StreamOptions) (provider.Stream, error) {
	return a.eng.Stream(ctx, query, engine.RunOptions{
		SessionID: opts.SessionID,
		MaxSteps:  opts.MaxSteps,
	})
}

// newAgent builds the model client, tool registry, and engine from the
// configuration. The returned internal tool names extend the
// configuration's set with the engine's reserved tools.
func newAgent(cfg *config.Config) (controller.Agent, []string, error) {
	client, err := newModelClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	registry := tools.NewRegistry()
	eng, err := engine.New(engine.Options{
		Client:       client,
		Registry:     registry,
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		MaxSteps:     cfg.MaxSteps,
	})
	if err != nil {
		return nil, nil, err
	}
	internal := append(eng.InternalTools(), cfg.InternalTools...)
	return engineAgent{eng: eng}, internal, nil
}

func newModelClient(cfg *config.Config) (model.Client, error) {
	key := cfg.APIKey()
	if key == "" {
		return nil, fmt.Errorf("no API key configured for provider %q", cfg.Provider)
	}
	if cfg.Provider == config.ProviderAnthropic {
		return anthropic.NewFromAPIKey(key, cfg.Model)
	}
	return openai.NewFromAPIKey(key, cfg.Model)
}

// newRecorder builds the configured audit recorder. The returned pingers
// back the server health endpoint and the close function releases any
// backing connections.
func newRecorder(ctx context.Context, cfg *config.Config) (audit.Recorder, []health.Pinger, func(context.Context) error, error) {
	noClose := func(context.Context) error { return nil }
	switch cfg.Audit.Backend {
	case "none":
		return audit.Nop(), nil, noClose, nil
	case "jsonl":
		rec, err := jsonl.New(cfg.Audit.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		return rec, nil, noClose, nil
	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		mc, err := mongodriver.Connect(connectCtx, mongooptions.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		client, err := clientsmongo.New(clientsmongo.Options{
			Client:   mc,
			Database: cfg.Audit.Database,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		rec, err := mongoaudit.NewRecorder(client)
		if err != nil {
			return nil, nil, nil, err
		}
		return rec, []health.Pinger{client}, mc.Disconnect, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown audit backend %q", cfg.Audit.Backend)
	}
}
