// Package client holds the provider adapters that turn a task into a result
// URL, plus the object storage client they share.
package client

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/makeasinger/mediagen/internal/apperr"
	"github.com/makeasinger/mediagen/internal/config"
	"github.com/makeasinger/mediagen/internal/model"
)

// GenerateRequest is everything an adapter needs to run one task.
type GenerateRequest struct {
	TaskID string
	Kind   model.TaskKind
	Model  config.ModelConfig
	Prompt string
	Params model.TaskParams
	// OnProgress, when set, receives live status lines and, where the
	// provider reports one, a percentage (-1 when unknown).
	OnProgress func(percent int, message string)
}

func (r *GenerateRequest) progress(percent int, message string) {
	if r.OnProgress != nil {
		r.OnProgress(percent, message)
	}
}

// GenerateResult is a successful generation. URL may be an http(s) or data URL.
type GenerateResult struct {
	URL  string
	Meta map[string]any
}

type Adapter interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)
}

// AdapterFunc lets a plain function serve as an Adapter.
type AdapterFunc func(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)

func (f AdapterFunc) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	return f(ctx, req)
}

// Resolver picks the adapter for a task.
type Resolver interface {
	Resolve(kind model.TaskKind, m config.ModelConfig) (Adapter, error)
}

type channelAdapters struct {
	cfg      config.ChannelConfig
	byKind   map[model.TaskKind]Adapter
	fallback Adapter
}

// Registry maps catalog channels to adapters. Each channel has its own key
// rotation and request rate limit.
type Registry struct {
	channels map[string]*channelAdapters
	log      zerolog.Logger
}

func NewRegistry(channels map[string]config.ChannelConfig, opts Options) *Registry {
	opts.withDefaults()
	r := &Registry{
		channels: make(map[string]*channelAdapters, len(channels)),
		log:      opts.Log.With().Str("component", "registry").Logger(),
	}
	for id, ch := range channels {
		if ch.ID == "" {
			ch.ID = id
		}
		ca, err := buildChannel(ch, opts)
		if err != nil {
			r.log.Warn().Err(err).Str("channel", id).Msg("Skipping channel")
			continue
		}
		r.channels[id] = ca
	}
	return r
}

func buildChannel(ch config.ChannelConfig, opts Options) (*channelAdapters, error) {
	limit := rate.Inf
	burst := 1
	if ch.RequestsPerSecond > 0 {
		limit = rate.Limit(ch.RequestsPerSecond)
		if b := int(ch.RequestsPerSecond); b > 1 {
			burst = b
		}
	}
	limiter := rate.NewLimiter(limit, burst)

	ca := &channelAdapters{cfg: ch, byKind: map[model.TaskKind]Adapter{}}
	switch ch.Type {
	case config.ChannelSora:
		ca.byKind[model.KindSoraVideo] = NewSoraVideoAdapter(newBase("Sora", ch, limiter, opts))
		ca.byKind[model.KindCharacterCard] = NewCharacterCardAdapter(newBase("Sora", ch, limiter, opts))
		ca.byKind[model.KindSoraImage] = NewSoraImageAdapter(newBase("Sora", ch, limiter, opts))
	case config.ChannelGemini:
		ca.fallback = NewGeminiAdapter(newBase("Gemini", ch, limiter, opts))
	case config.ChannelOpenAI:
		ca.fallback = NewOpenAIImageAdapter(newBase("OpenAI", ch, limiter, opts))
	case config.ChannelOpenAIChat:
		ca.fallback = NewOpenAIChatAdapter(newBase("OpenAI Chat", ch, limiter, opts))
	case config.ChannelModelScope:
		ca.fallback = NewModelScopeAdapter(newBase("ModelScope", ch, limiter, opts), opts.Storage)
	case config.ChannelGitee:
		ca.fallback = NewGiteeAdapter(newBase("Gitee", ch, limiter, opts))
	default:
		return nil, fmt.Errorf("unsupported channel type %q", ch.Type)
	}
	return ca, nil
}

// Resolve returns the adapter serving kind on m's channel.
func (r *Registry) Resolve(kind model.TaskKind, m config.ModelConfig) (Adapter, error) {
	ca, ok := r.channels[m.Channel]
	if !ok {
		return nil, apperr.Config(m.Channel, "channel")
	}
	if !ca.cfg.Enabled {
		return nil, apperr.Config(m.Channel, "enabled channel")
	}
	if a, ok := ca.byKind[kind]; ok {
		return a, nil
	}
	if ca.fallback != nil {
		return ca.fallback, nil
	}
	return nil, apperr.Config(m.Channel, fmt.Sprintf("adapter for %s", kind))
}

// Channels lists the registered channel ids.
func (r *Registry) Channels() []string {
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
