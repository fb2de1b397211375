package filter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/bakkerme/dealwatch/internal/config"
	"github.com/bakkerme/dealwatch/internal/core"
)

const (
	ResultPass = "pass"
	ResultDrop = "drop"
)

// ruleEnv is the set of identifiers a rule expression can reference.
type ruleEnv struct {
	Name          string  `expr:"name"`
	Retailer      string  `expr:"retailer"`
	URL           string  `expr:"url"`
	Discount      float64 `expr:"discount"`
	OriginalPrice float64 `expr:"original_price"`
	SalePrice     float64 `expr:"sale_price"`
	Savings       float64 `expr:"savings"`
	ImageURL      string  `expr:"image_url"`
	Source        string  `expr:"source"`
}

// RuleProcessor evaluates a boolean expr-lang rule against each event. With
// result "drop" matching events are removed; with "pass" only matching events
// are kept.
type RuleProcessor struct {
	name    string
	config  config.RuleFilter
	program *vm.Program
	logger  *slog.Logger
}

func NewRuleProcessor(cfg *config.RuleFilter, logger *slog.Logger) (*RuleProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rule filter config is required")
	}
	program, err := expr.Compile(cfg.Rule, expr.Env(ruleEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile rule %q: %w", cfg.Name, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleProcessor{
		name:    cfg.Name,
		config:  *cfg,
		program: program,
		logger:  logger,
	}, nil
}

func (p *RuleProcessor) Name() string {
	return p.name
}

func (p *RuleProcessor) Configure(config map[string]interface{}) error {
	return nil
}

func (p *RuleProcessor) Validate() error {
	if p.config.Name == "" || p.config.Rule == "" {
		return fmt.Errorf("rule name and expression are required")
	}
	if p.config.Result != ResultPass && p.config.Result != ResultDrop {
		return fmt.Errorf("rule result must be %q or %q", ResultPass, ResultDrop)
	}
	return nil
}

// Filter keeps events whose evaluation fails, logging the error.
func (p *RuleProcessor) Filter(ctx context.Context, events []*core.DiscountEvent) ([]*core.DiscountEvent, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	logger := core.LoggerFromContext(ctx, p.logger).With("filter", p.name)

	kept := make([]*core.DiscountEvent, 0, len(events))
	for _, event := range events {
		if event == nil {
			continue
		}
		out, err := expr.Run(p.program, envFor(event))
		if err != nil {
			logger.Warn("rule evaluation failed, keeping event", "name", event.Name, "url", event.URL, "error", err)
			kept = append(kept, event)
			continue
		}
		matched, _ := out.(bool)
		if matched == (p.config.Result == ResultDrop) {
			logger.Debug("event filtered", "name", event.Name, "retailer", event.Retailer)
			continue
		}
		kept = append(kept, event)
	}
	if dropped := len(events) - len(kept); dropped > 0 {
		logger.Info("rule filter applied", "dropped", dropped, "kept", len(kept))
	}
	return kept, nil
}

func envFor(event *core.DiscountEvent) ruleEnv {
	return ruleEnv{
		Name:          event.Name,
		Retailer:      event.Retailer,
		URL:           event.URL,
		Discount:      event.DiscountPercentage,
		OriginalPrice: event.OriginalPrice,
		SalePrice:     event.SalePrice,
		Savings:       event.Savings(),
		ImageURL:      event.ImageURL,
		Source:        event.Source,
	}
}
