package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tomehub/tomehub/internal/observability"
)

// RouteMode selects the primary rung of the fallback ladder.
type RouteMode string

const (
	// RouteStandard starts on the Gemini flash tier.
	RouteStandard RouteMode = "standard"
	// RouteExplorer starts on the Qwen pilot when it is enabled and the
	// RPM window has room.
	RouteExplorer RouteMode = "explorer"
)

// Model tiers reported in response metadata.
const (
	TierExplorer = "explorer"
	TierLite     = "lite"
	TierFlash    = "flash"
	TierPro      = "pro"
)

// Default model names per tier.
const (
	DefaultQwenModel  = "qwen-plus"
	DefaultLiteModel  = "gemini-2.5-flash-lite"
	DefaultFlashModel = "gemini-2.5-flash"
	DefaultProModel   = "gemini-2.5-pro"
)

// GenerateOptions are the per-request knobs of the fallback ladder.
type GenerateOptions struct {
	// System is prepended as a system message when non-empty.
	System string
	// Model overrides the primary rung's model. Empty selects the
	// configured model for the route mode.
	Model            string
	Temperature      float64
	MaxOutputTokens  int
	ResponseMIMEType string
	// Timeout bounds each provider attempt, not the whole ladder.
	Timeout time.Duration

	RouteMode RouteMode
	// ProviderHint forces the primary provider ("qwen" or "gemini").
	ProviderHint string
	// AllowSecondary permits one hop to Gemini flash on a retryable
	// primary failure or RPM starvation.
	AllowSecondary bool
	// AllowProFallback permits one flash to pro escalation when the
	// router has it enabled.
	AllowProFallback bool
}

// GenerateResult carries the completion text plus routing diagnostics.
type GenerateResult struct {
	Text             string
	ProviderName     string
	ModelUsed        string
	ModelTier        string
	FallbackApplied  bool
	FallbackReason   string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// RouterConfig wires providers and ladder policy into a Router.
type RouterConfig struct {
	Qwen   Provider
	Gemini Provider

	QwenModel  string
	LiteModel  string
	FlashModel string
	ProModel   string

	// QwenPilotEnabled routes explorer traffic to Qwen first.
	QwenPilotEnabled bool
	// RPMCap bounds Qwen requests per sliding minute.
	RPMCap int
	// SecondaryMaxPerRequest caps hops to Gemini flash, default 1.
	SecondaryMaxPerRequest int
	// ProFallbackEnabled gates the flash to pro escalation path.
	ProFallbackEnabled bool
	// ProMaxPerRequest caps pro escalations, default 1.
	ProMaxPerRequest int

	Logger *observability.Logger
}

// Router walks the provider ladder for each generation request. The RPM
// window lives on the router, not in package state, so tests can build
// isolated instances.
type Router struct {
	qwen   Provider
	gemini Provider

	qwenModel  string
	liteModel  string
	flashModel string
	proModel   string

	qwenPilot    bool
	secondaryMax int
	proEnabled   bool
	proMax       int

	rpm *RPMLimiter
	log *observability.Logger
}

// NewRouter creates a Router with defaults applied for any zero fields.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.QwenModel == "" {
		cfg.QwenModel = DefaultQwenModel
	}
	if cfg.LiteModel == "" {
		cfg.LiteModel = DefaultLiteModel
	}
	if cfg.FlashModel == "" {
		cfg.FlashModel = DefaultFlashModel
	}
	if cfg.ProModel == "" {
		cfg.ProModel = DefaultProModel
	}
	if cfg.SecondaryMaxPerRequest <= 0 {
		cfg.SecondaryMaxPerRequest = 1
	}
	if cfg.ProMaxPerRequest <= 0 {
		cfg.ProMaxPerRequest = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.Nop()
	}

	return &Router{
		qwen:         cfg.Qwen,
		gemini:       cfg.Gemini,
		qwenModel:    cfg.QwenModel,
		liteModel:    cfg.LiteModel,
		flashModel:   cfg.FlashModel,
		proModel:     cfg.ProModel,
		qwenPilot:    cfg.QwenPilotEnabled,
		secondaryMax: cfg.SecondaryMaxPerRequest,
		proEnabled:   cfg.ProFallbackEnabled,
		proMax:       cfg.ProMaxPerRequest,
		rpm:          NewRPMLimiter(cfg.RPMCap),
		log:          cfg.Logger.WithComponent("llm_router"),
	}
}

// LiteModel returns the configured lite-tier model name.
func (r *Router) LiteModel() string { return r.liteModel }

// FlashModel returns the configured flash-tier model name.
func (r *Router) FlashModel() string { return r.flashModel }

// rung is one provider attempt on the ladder.
type rung struct {
	provider Provider
	model    string
	tier     string
}

// Generate walks the ladder until a rung produces a completion.
//
// Non-retryable errors stop the walk immediately. Retryable errors
// (429, rate limit, timeout, 5xx, resource_exhausted) hand the request
// to the next permitted rung; when none remains the caller gets
// ErrAllProvidersFailed.
func (r *Router) Generate(ctx context.Context, prompt string, opts GenerateOptions) (*GenerateResult, error) {
	messages := make([]Message, 0, 2)
	if opts.System != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: opts.System})
	}
	messages = append(messages, Message{Role: RoleUser, Content: prompt})

	fallbackApplied := false
	fallbackReason := ""
	secondaryUsed := 0
	proUsed := 0

	ladder := make([]rung, 0, 3)

	useQwen := r.qwen != nil && r.qwenPilot && opts.RouteMode == RouteExplorer
	switch opts.ProviderHint {
	case ProviderQwen:
		useQwen = r.qwen != nil
	case ProviderGemini:
		useQwen = false
	}

	if useQwen {
		if r.rpm.Allow() {
			model := r.qwenModel
			if opts.Model != "" {
				model = opts.Model
			}
			ladder = append(ladder, rung{provider: r.qwen, model: model, tier: TierExplorer})
		} else {
			if !opts.AllowSecondary || r.gemini == nil {
				return nil, ErrRateLimited
			}
			fallbackApplied = true
			fallbackReason = "qwen_rpm_exhausted"
			secondaryUsed++
			r.log.Warn().
				Int("rpm_used", r.rpm.Used()).
				Int("rpm_cap", r.rpm.Cap()).
				Msg("qwen rpm window exhausted, routing to secondary")
		}
	}

	if r.gemini != nil {
		model := r.flashModel
		if !useQwen && opts.Model != "" {
			model = opts.Model
		}
		ladder = append(ladder, rung{provider: r.gemini, model: model, tier: r.tierForModel(model)})
		if r.proEnabled && opts.AllowProFallback {
			ladder = append(ladder, rung{provider: r.gemini, model: r.proModel, tier: TierPro})
		}
	}

	if len(ladder) == 0 {
		return nil, ErrAllProvidersFailed
	}

	var lastErr error
	for i, step := range ladder {
		if i > 0 {
			// Moving past the first rung is a fallback hop; enforce the
			// per-request budgets before spending it.
			if step.tier == TierPro {
				if proUsed >= r.proMax {
					break
				}
				proUsed++
			} else {
				if !opts.AllowSecondary || secondaryUsed >= r.secondaryMax {
					break
				}
				secondaryUsed++
			}
			fallbackApplied = true
			if fallbackReason == "" {
				fallbackReason = "retryable_error"
			}
		}

		resp, err := step.provider.Chat(ctx, ChatRequest{
			Model:            step.model,
			Messages:         messages,
			Temperature:      opts.Temperature,
			MaxTokens:        opts.MaxOutputTokens,
			ResponseMIMEType: opts.ResponseMIMEType,
			Timeout:          opts.Timeout,
		})
		if err == nil {
			return &GenerateResult{
				Text:             resp.Content,
				ProviderName:     step.provider.Name(),
				ModelUsed:        step.model,
				ModelTier:        step.tier,
				FallbackApplied:  fallbackApplied,
				FallbackReason:   fallbackReason,
				PromptTokens:     resp.PromptTokens,
				CompletionTokens: resp.CompletionTokens,
				TotalTokens:      resp.TotalTokens,
			}, nil
		}

		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
		if fallbackReason == "" {
			fallbackReason = fmt.Sprintf("%s_retryable_error", step.provider.Name())
		}
		r.log.Warn().
			Str("provider", step.provider.Name()).
			Str("model", step.model).
			Err(err).
			Msg("llm provider failed, trying next rung")
	}

	return nil, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}

// tierForModel classifies a model name into a metadata tier.
func (r *Router) tierForModel(model string) string {
	switch model {
	case r.liteModel:
		return TierLite
	case r.proModel:
		return TierPro
	case r.qwenModel:
		return TierExplorer
	default:
		return TierFlash
	}
}
