package factory

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bakkerme/dealwatch/internal/config"
	"github.com/bakkerme/dealwatch/internal/core"
	"github.com/bakkerme/dealwatch/internal/dedupe"
	"github.com/bakkerme/dealwatch/internal/dispatch"
	"github.com/bakkerme/dealwatch/internal/outputs/email"
	"github.com/bakkerme/dealwatch/internal/outputs/email/smtp"
	"github.com/bakkerme/dealwatch/internal/outputs/webhook"
	"github.com/bakkerme/dealwatch/internal/outputs/webhook/discord"
	"github.com/bakkerme/dealwatch/internal/processors/filter"
	"github.com/bakkerme/dealwatch/internal/processors/output"
	"github.com/bakkerme/dealwatch/internal/processors/source"
	"github.com/bakkerme/dealwatch/internal/processors/trigger"
	"github.com/bakkerme/dealwatch/internal/runner/snapshot"
	"github.com/bakkerme/dealwatch/internal/sources/rss"
	rssimpl "github.com/bakkerme/dealwatch/internal/sources/rss/impl"
	"github.com/bakkerme/dealwatch/internal/tracker"
)

// Factory builds processors from document config merged with environment
// defaults. WebhookPoster and EmailSender override the real transports when
// set.
type Factory struct {
	Logger        *slog.Logger
	Env           config.EnvConfig
	RSSFetcher    rss.Fetcher
	WebhookPoster webhook.Poster
	EmailSender   email.Sender

	mu         sync.Mutex
	alerts     []*output.AlertProcessor
	storePaths map[string]string
}

func NewFromEnvConfig(logger *slog.Logger, env config.EnvConfig) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		Logger:     logger,
		Env:        env,
		RSSFetcher: rssimpl.NewFetcher(env.RSS.HTTPTimeout, env.RSS.UserAgent, logger),
	}
}

func (f *Factory) NewCronTrigger(cfg *config.CronTrigger) (core.TriggerProcessor, error) {
	return trigger.NewCronProcessor(cfg)
}

func (f *Factory) NewFileSource(cfg *config.FileSource) (core.SourceProcessor, error) {
	processor, err := source.NewFileProcessor(cfg, f.logger())
	if err != nil {
		return nil, err
	}
	return snapshot.WrapSource(processor, cfg.Snapshot), nil
}

func (f *Factory) NewRSSSource(cfg *config.RSSSource) (core.SourceProcessor, error) {
	merged := *cfg
	if merged.UserAgent == "" {
		merged.UserAgent = f.Env.RSS.UserAgent
	}
	processor, err := source.NewRSSProcessor(&merged, f.RSSFetcher, f.logger())
	if err != nil {
		return nil, err
	}
	return snapshot.WrapSource(processor, cfg.Snapshot), nil
}

func (f *Factory) NewRuleFilter(cfg *config.RuleFilter) (core.FilterProcessor, error) {
	return filter.NewRuleProcessor(cfg, f.logger())
}

func (f *Factory) NewDiscordOutput(cfg *config.DiscordOutput) (core.OutputProcessor, error) {
	poster := f.WebhookPoster
	if poster == nil {
		timeout := cfg.Timeout.Std()
		if timeout <= 0 {
			timeout = f.Env.Discord.HTTPTimeout
		}
		client, err := discord.NewClient(f.webhookURL(cfg), timeout)
		if err != nil {
			return nil, fmt.Errorf("discord output: %w", err)
		}
		poster = client
	}
	channel, err := output.NewDiscordChannel(cfg, poster)
	if err != nil {
		return nil, err
	}
	processor, err := f.newAlertProcessor(channel, cfg.Alerts, cfg.Summary, cfg.Probe)
	if err != nil {
		return nil, err
	}
	return snapshot.WrapOutput(processor, cfg.Snapshot), nil
}

func (f *Factory) NewEmailOutput(cfg *config.EmailOutput) (core.OutputProcessor, error) {
	merged := f.mergeEmailConfig(cfg)
	sender := f.EmailSender
	if sender == nil {
		smtpSender, err := smtp.NewSender(smtp.Config{
			Host:               merged.SMTPHost,
			Port:               merged.SMTPPort,
			Username:           merged.SMTPUser,
			Password:           merged.SMTPPassword,
			TLSMode:            merged.TLSMode,
			InsecureSkipVerify: f.Env.SMTP.InsecureSkipVerify,
		})
		if err != nil {
			return nil, fmt.Errorf("email output: %w", err)
		}
		sender = smtpSender
	}
	channel, err := output.NewEmailChannel(merged, sender)
	if err != nil {
		return nil, err
	}
	processor, err := f.newAlertProcessor(channel, merged.Alerts, merged.Summary, false)
	if err != nil {
		return nil, err
	}
	return snapshot.WrapOutput(processor, merged.Snapshot), nil
}

// Alerts returns every alert output built so far.
func (f *Factory) Alerts() []*output.AlertProcessor {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*output.AlertProcessor, len(f.alerts))
	copy(out, f.alerts)
	return out
}

// Close releases every seen-set store opened by the factory.
func (f *Factory) Close() error {
	var firstErr error
	for _, alert := range f.Alerts() {
		if err := alert.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// webhookURL prefers the development webhook when selected, then the
// document, then the environment.
func (f *Factory) webhookURL(cfg *config.DiscordOutput) string {
	if f.Env.Discord.UseDev && f.Env.Discord.DevWebhookURL != "" {
		return f.Env.Discord.DevWebhookURL
	}
	if cfg.WebhookURL != "" {
		return cfg.WebhookURL
	}
	return f.Env.Discord.ActiveWebhookURL()
}

func (f *Factory) newAlertProcessor(channel core.DeliveryChannel, alerts config.AlertConfig, summary, probe bool) (*output.AlertProcessor, error) {
	logger := f.logger().With("output", channel.Name())
	idempotent := alerts.IdempotencyEnabled() && !f.Env.DisableIdempotency

	var tr *tracker.Tracker
	if idempotent {
		opts := dedupe.Options{
			Driver: alerts.Store.Driver,
			Path:   alerts.Store.Path,
			Table:  alerts.Store.Table,
		}
		if opts.Path == "" {
			opts.Path = defaultStorePath(opts.Driver, channel.Name())
		}
		if err := f.claimStorePath(channel.Name(), opts.Path); err != nil {
			return nil, err
		}
		store, err := dedupe.Open(opts, logger)
		if err != nil {
			return nil, fmt.Errorf("%s: open notification store: %w", channel.Name(), err)
		}
		tr = tracker.New(context.Background(), store, logger)
	} else {
		logger.Warn("idempotency disabled, every qualifying event will be sent")
	}

	dispatcher, err := dispatch.New(dispatch.Config{
		Threshold:   alerts.ThresholdOrDefault(),
		Idempotency: idempotent,
	}, channel, tr, logger)
	if err != nil {
		return nil, err
	}
	processor, err := output.NewAlertProcessor(channel, dispatcher, output.AlertOptions{
		Name:      channel.Name(),
		Summary:   summary,
		Probe:     probe,
		Retention: alerts.Store.Retention.Std(),
	}, logger)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.alerts = append(f.alerts, processor)
	f.mu.Unlock()
	return processor, nil
}

// claimStorePath stops two outputs from sharing one seen-set, which would
// make one output skip events the other delivered.
func (f *Factory) claimStorePath(owner, path string) error {
	key := filepath.Clean(path)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storePaths == nil {
		f.storePaths = map[string]string{}
	}
	if other, ok := f.storePaths[key]; ok {
		return fmt.Errorf("outputs %s and %s share notification store %s", other, owner, path)
	}
	f.storePaths[key] = owner
	return nil
}

// defaultStorePath keeps the historical file name for the discord output and
// derives one per output name otherwise.
func defaultStorePath(driver, outputName string) string {
	base := "notifications_sent"
	if outputName != "discord" {
		base += "_" + strings.ReplaceAll(outputName, string(filepath.Separator), "_")
	}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case dedupe.DriverSQLite:
		return base + ".db"
	case dedupe.DriverBadger:
		return base + ".badger"
	default:
		return base + ".json"
	}
}

func (f *Factory) mergeEmailConfig(cfg *config.EmailOutput) *config.EmailOutput {
	if cfg == nil {
		return &config.EmailOutput{}
	}
	merged := *cfg
	if merged.SMTPHost == "" {
		merged.SMTPHost = f.Env.SMTP.Host
	}
	if merged.SMTPPort == 0 {
		merged.SMTPPort = f.Env.SMTP.Port
	}
	if merged.SMTPUser == "" {
		merged.SMTPUser = f.Env.SMTP.User
	}
	if merged.SMTPPassword == "" {
		merged.SMTPPassword = f.Env.SMTP.Password
	}
	if merged.TLSMode == "" {
		merged.TLSMode = f.Env.SMTP.TLSMode
	}
	return &merged
}

func (f *Factory) logger() *slog.Logger {
	if f.Logger == nil {
		return slog.Default()
	}
	return f.Logger
}
