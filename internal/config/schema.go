package config

import (
	"bytes"
	"fmt"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/bakkerme/dealwatch/internal/core"
	"gopkg.in/yaml.v3"
)

const (
	DefaultThreshold = 70.0
	DefaultStorePath = "notifications_sent.json"
)

// DealwatchDocument represents the top-level structure of a dealwatch.yaml file
type DealwatchDocument struct {
	Workflow Workflow `yaml:"workflow"`
}

// Workflow contains the complete workflow configuration
type Workflow struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version,omitempty"`
	// Threshold is used for run summary counts. Each output applies its own
	// alert threshold when dispatching.
	Threshold *float64        `yaml:"threshold,omitempty"`
	Trigger   []TriggerConfig `yaml:"trigger,omitempty"`
	Sources   []SourceConfig  `yaml:"sources"`
	Filters   []FilterConfig  `yaml:"filters,omitempty"`
	Retry     *RetryConfig    `yaml:"retry,omitempty"`
	Output    []OutputConfig  `yaml:"output"`
}

// ThresholdOrDefault returns the workflow threshold, defaulting to 70.
func (w Workflow) ThresholdOrDefault() float64 {
	if w.Threshold == nil {
		return DefaultThreshold
	}
	return *w.Threshold
}

// TriggerConfig wraps different trigger types
type TriggerConfig struct {
	Cron *CronTrigger `yaml:"cron,omitempty"`
}

// CronTrigger defines a scheduled trigger
type CronTrigger struct {
	Schedule string `yaml:"schedule"`
	Timezone string `yaml:"timezone,omitempty"`
}

// SourceConfig wraps different source types
type SourceConfig struct {
	File *FileSource `yaml:"file,omitempty"`
	RSS  *RSSSource  `yaml:"rss,omitempty"`
}

// FileSource reads discount events written by an external scraper as a JSON
// array, or as an object with an "events" or "products" array.
type FileSource struct {
	Name     string               `yaml:"name,omitempty"`
	Path     string               `yaml:"path"`
	Retailer string               `yaml:"retailer,omitempty"`
	Snapshot *core.SnapshotConfig `yaml:"snapshot,omitempty"`
}

// RSSSource reads a deals feed and extracts prices from each item.
type RSSSource struct {
	Name      string               `yaml:"name,omitempty"`
	Feeds     []string             `yaml:"feeds"`
	Retailer  string               `yaml:"retailer,omitempty"`
	Limit     int                  `yaml:"limit,omitempty"`
	UserAgent string               `yaml:"user_agent,omitempty"`
	Snapshot  *core.SnapshotConfig `yaml:"snapshot,omitempty"`
}

// FilterConfig wraps different filter types
type FilterConfig struct {
	Rule *RuleFilter `yaml:"rule,omitempty"`
}

// RuleFilter drops or keeps events matching an expr-lang expression.
type RuleFilter struct {
	Name   string `yaml:"name"`
	Rule   string `yaml:"rule"`
	Result string `yaml:"result"`
}

// RetryConfig controls the outer re-dispatch of failed outputs.
type RetryConfig struct {
	Attempts  int      `yaml:"attempts,omitempty"`
	BaseDelay Duration `yaml:"base_delay,omitempty"`
	MaxDelay  Duration `yaml:"max_delay,omitempty"`
}

type OutputConfig struct {
	Discord *DiscordOutput `yaml:"discord,omitempty"`
	Email   *EmailOutput   `yaml:"email,omitempty"`
}

// AlertConfig holds the per-output dispatch settings.
type AlertConfig struct {
	Threshold   *float64    `yaml:"threshold,omitempty"`
	Idempotency *bool       `yaml:"idempotency,omitempty"`
	Store       StoreConfig `yaml:"store,omitempty"`
}

func (a AlertConfig) ThresholdOrDefault() float64 {
	if a.Threshold == nil {
		return DefaultThreshold
	}
	return *a.Threshold
}

func (a AlertConfig) IdempotencyEnabled() bool {
	if a.Idempotency == nil {
		return true
	}
	return *a.Idempotency
}

// StoreConfig selects where the seen-set lives.
type StoreConfig struct {
	Driver    string   `yaml:"driver,omitempty"`
	Path      string   `yaml:"path,omitempty"`
	Table     string   `yaml:"table,omitempty"`
	Retention Duration `yaml:"retention,omitempty"`
}

// DiscordOutput defines webhook delivery configuration
type DiscordOutput struct {
	Name       string               `yaml:"name,omitempty"`
	WebhookURL string               `yaml:"webhook_url,omitempty"`
	Username   string               `yaml:"username,omitempty"`
	AvatarURL  string               `yaml:"avatar_url,omitempty"`
	Timeout    Duration             `yaml:"timeout,omitempty"`
	Summary    bool                 `yaml:"summary,omitempty"`
	Probe      bool                 `yaml:"probe,omitempty"`
	Alerts     AlertConfig          `yaml:"alerts,omitempty"`
	Snapshot   *core.SnapshotConfig `yaml:"snapshot,omitempty"`
}

// EmailOutput defines email delivery configuration
type EmailOutput struct {
	Name         string               `yaml:"name,omitempty"`
	To           string               `yaml:"to"`
	From         string               `yaml:"from,omitempty"`
	Subject      string               `yaml:"subject"`
	SMTPHost     string               `yaml:"smtp_host,omitempty"`
	SMTPPort     int                  `yaml:"smtp_port,omitempty"`
	SMTPUser     string               `yaml:"smtp_user,omitempty"`
	SMTPPassword string               `yaml:"smtp_password,omitempty"`
	TLSMode      string               `yaml:"tls_mode,omitempty"`
	Summary      bool                 `yaml:"summary,omitempty"`
	Alerts       AlertConfig          `yaml:"alerts,omitempty"`
	Snapshot     *core.SnapshotConfig `yaml:"snapshot,omitempty"`
}

// ProcessorFactory constructs concrete processor implementations for a parsed document.
type ProcessorFactory interface {
	NewCronTrigger(config *CronTrigger) (core.TriggerProcessor, error)
	NewFileSource(config *FileSource) (core.SourceProcessor, error)
	NewRSSSource(config *RSSSource) (core.SourceProcessor, error)
	NewRuleFilter(config *RuleFilter) (core.FilterProcessor, error)
	NewDiscordOutput(config *DiscordOutput) (core.OutputProcessor, error)
	NewEmailOutput(config *EmailOutput) (core.OutputProcessor, error)
}

// LoadDocument reads and decodes a dealwatch document from path.
func LoadDocument(path string) (*DealwatchDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDocument(data)
}

// ParseDocument decodes a dealwatch document. Unknown fields are rejected.
func ParseDocument(data []byte) (*DealwatchDocument, error) {
	var doc DealwatchDocument
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse dealwatch document: %w", err)
	}
	return &doc, nil
}

// Validate performs validation on the dealwatch document
func (d *DealwatchDocument) Validate() error {
	if d.Workflow.Name == "" {
		return fmt.Errorf("workflow name is required")
	}

	if len(d.Workflow.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}

	if len(d.Workflow.Output) == 0 {
		return fmt.Errorf("output configuration is required")
	}

	if err := validateThreshold("workflow", d.Workflow.Threshold); err != nil {
		return err
	}

	if retry := d.Workflow.Retry; retry != nil {
		if retry.Attempts < 0 {
			return fmt.Errorf("retry: attempts must be >= 0")
		}
		if retry.BaseDelay < 0 || retry.MaxDelay < 0 {
			return fmt.Errorf("retry: delays must be >= 0")
		}
	}

	for i, trigger := range d.Workflow.Trigger {
		if trigger.Cron == nil {
			return fmt.Errorf("trigger %d: unsupported trigger type", i)
		}
		if trigger.Cron.Schedule == "" {
			return fmt.Errorf("trigger %d: cron schedule is required", i)
		}
	}

	for i, source := range d.Workflow.Sources {
		if (source.File == nil) == (source.RSS == nil) {
			return fmt.Errorf("source %d: exactly one source type is required", i)
		}
		if source.File != nil {
			if source.File.Path == "" {
				return fmt.Errorf("source %d: file path is required", i)
			}
			if err := validateSnapshotConfig(fmt.Sprintf("source %d file", i), source.File.Snapshot); err != nil {
				return err
			}
		}
		if source.RSS != nil {
			if len(source.RSS.Feeds) == 0 {
				return fmt.Errorf("source %d: at least one rss feed is required", i)
			}
			if source.RSS.Limit < 0 {
				return fmt.Errorf("source %d: rss limit must be >= 0", i)
			}
			if err := validateSnapshotConfig(fmt.Sprintf("source %d rss", i), source.RSS.Snapshot); err != nil {
				return err
			}
		}
	}

	for i, filter := range d.Workflow.Filters {
		if filter.Rule == nil {
			return fmt.Errorf("filter %d: unsupported filter type", i)
		}
		if filter.Rule.Name == "" || filter.Rule.Rule == "" {
			return fmt.Errorf("filter %d: rule name and expression are required", i)
		}
		if filter.Rule.Result != "pass" && filter.Rule.Result != "drop" {
			return fmt.Errorf("filter %d: result must be 'pass' or 'drop'", i)
		}
	}

	for i, output := range d.Workflow.Output {
		if (output.Discord == nil) == (output.Email == nil) {
			return fmt.Errorf("output %d: exactly one output type is required", i)
		}
		if output.Discord != nil {
			label := fmt.Sprintf("output %d discord", i)
			if output.Discord.Timeout < 0 {
				return fmt.Errorf("%s: timeout must be >= 0", label)
			}
			if err := validateAlertConfig(label, output.Discord.Alerts); err != nil {
				return err
			}
			if err := validateSnapshotConfig(label, output.Discord.Snapshot); err != nil {
				return err
			}
		}
		if output.Email != nil {
			if err := validateEmailOutput(fmt.Sprintf("output %d email", i), output.Email); err != nil {
				return err
			}
		}
	}

	return nil
}

func validateEmailOutput(label string, cfg *EmailOutput) error {
	requiredFields := map[string]string{
		"to":      cfg.To,
		"subject": cfg.Subject,
	}
	for field, value := range requiredFields {
		if value == "" {
			return fmt.Errorf("%s: '%s' field is required", label, field)
		}
	}
	if _, err := mail.ParseAddress(cfg.To); err != nil {
		return fmt.Errorf("%s: invalid to address", label)
	}
	if cfg.From != "" {
		if _, err := mail.ParseAddress(cfg.From); err != nil {
			return fmt.Errorf("%s: invalid from address", label)
		}
	}
	if err := validateAlertConfig(label, cfg.Alerts); err != nil {
		return err
	}
	return validateSnapshotConfig(label, cfg.Snapshot)
}

func validateAlertConfig(label string, cfg AlertConfig) error {
	if err := validateThreshold(label, cfg.Threshold); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Driver)) {
	case "", "json", "sqlite", "badger":
	default:
		return fmt.Errorf("%s: unsupported store driver %q", label, cfg.Store.Driver)
	}
	if cfg.Store.Retention < 0 {
		return fmt.Errorf("%s: store retention must be >= 0", label)
	}
	return nil
}

func validateThreshold(label string, threshold *float64) error {
	if threshold == nil {
		return nil
	}
	if *threshold < 0 || *threshold > 100 {
		return fmt.Errorf("%s: threshold must be between 0 and 100", label)
	}
	return nil
}

func validateSnapshotConfig(label string, cfg *core.SnapshotConfig) error {
	if cfg == nil {
		return nil
	}
	if cfg.Snapshot && cfg.Restore {
		return fmt.Errorf("%s: snapshot and restore cannot both be true", label)
	}
	if (cfg.Snapshot || cfg.Restore) && cfg.Path == "" {
		return fmt.Errorf("%s: snapshot path is required", label)
	}
	return nil
}

// ParseToFlow converts the document into a core.Flow structure with OrderOfOperations
func (d *DealwatchDocument) ParseToFlow() (*core.Flow, error) {
	return d.ParseToFlowWithFactory(nil)
}

// ParseToFlowWithFactory converts the document into a core.Flow structure with OrderOfOperations.
// When factory is nil, the flow will be created without concrete processors.
func (d *DealwatchDocument) ParseToFlowWithFactory(factory ProcessorFactory) (*core.Flow, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	flow := &core.Flow{
		ID:        "", // Should be set by the caller
		Name:      d.Workflow.Name,
		Version:   d.Workflow.Version,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    core.FlowStatusWaiting,
		Threshold: d.Workflow.ThresholdOrDefault(),
		RawConfig: make(map[string]interface{}),
	}

	if flow.Version == "" {
		flow.Version = "1.0"
	}

	// 1. Triggers
	for _, trigger := range d.Workflow.Trigger {
		var triggerProcessor core.TriggerProcessor
		if factory != nil {
			var err error
			triggerProcessor, err = factory.NewCronTrigger(trigger.Cron)
			if err != nil {
				return nil, err
			}
		}
		flow.Triggers = append(flow.Triggers, triggerProcessor)
		flow.OrderOfOperations = append(flow.OrderOfOperations, core.ProcessReference{
			Name:    "cron",
			Type:    core.TriggerProcessorType,
			Trigger: triggerProcessor,
		})
	}

	// 2. Sources
	for _, source := range d.Workflow.Sources {
		var sourceProcessor core.SourceProcessor
		var name string
		var err error
		switch {
		case source.File != nil:
			name = nameOr(source.File.Name, "file")
			if factory != nil {
				sourceProcessor, err = factory.NewFileSource(source.File)
			}
		case source.RSS != nil:
			name = nameOr(source.RSS.Name, "rss")
			if factory != nil {
				sourceProcessor, err = factory.NewRSSSource(source.RSS)
			}
		}
		if err != nil {
			return nil, err
		}
		flow.Sources = append(flow.Sources, sourceProcessor)
		flow.OrderOfOperations = append(flow.OrderOfOperations, core.ProcessReference{
			Name:   name,
			Type:   core.SourceProcessorType,
			Source: sourceProcessor,
		})
	}

	// 3. Filters, in document order
	for _, filter := range d.Workflow.Filters {
		var filterProcessor core.FilterProcessor
		if factory != nil {
			var err error
			filterProcessor, err = factory.NewRuleFilter(filter.Rule)
			if err != nil {
				return nil, err
			}
		}
		flow.Filters = append(flow.Filters, filterProcessor)
		flow.OrderOfOperations = append(flow.OrderOfOperations, core.ProcessReference{
			Name:   filter.Rule.Name,
			Type:   core.FilterProcessorType,
			Filter: filterProcessor,
		})
	}

	// 4. Outputs (always last)
	for _, output := range d.Workflow.Output {
		var outputProcessor core.OutputProcessor
		var name string
		var err error
		switch {
		case output.Discord != nil:
			name = nameOr(output.Discord.Name, "discord")
			if factory != nil {
				outputProcessor, err = factory.NewDiscordOutput(output.Discord)
			}
		case output.Email != nil:
			name = nameOr(output.Email.Name, "email")
			if factory != nil {
				outputProcessor, err = factory.NewEmailOutput(output.Email)
			}
		}
		if err != nil {
			return nil, err
		}
		flow.Outputs = append(flow.Outputs, outputProcessor)
		flow.OrderOfOperations = append(flow.OrderOfOperations, core.ProcessReference{
			Name:   name,
			Type:   core.OutputProcessorType,
			Output: outputProcessor,
		})
	}

	// Store raw configuration for reference
	configBytes, err := yaml.Marshal(d)
	if err == nil {
		var rawConfig map[string]interface{}
		if yaml.Unmarshal(configBytes, &rawConfig) == nil {
			flow.RawConfig = rawConfig
		}
	}

	return flow, nil
}

func nameOr(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}
