package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bakkerme/dealwatch/internal/config"
	"github.com/bakkerme/dealwatch/internal/core"
	"github.com/robfig/cron/v3"
)

// CronProcessor fires a trigger event on a cron schedule. Ticks that arrive
// while the previous event is still unconsumed are dropped, so runs never
// queue up behind a slow one.
type CronProcessor struct {
	name     string
	schedule string
	location *time.Location

	mu       sync.Mutex
	cron     *cron.Cron
	entry    cron.EntryID
	events   chan core.TriggerEvent
	stopOnce sync.Once
}

func NewCronProcessor(cfg *config.CronTrigger) (*CronProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cron trigger config is required")
	}
	p := &CronProcessor{name: "cron", schedule: cfg.Schedule, location: time.UTC}
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
		p.location = loc
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *CronProcessor) Name() string {
	return c.name
}

func (c *CronProcessor) Configure(config map[string]interface{}) error {
	if schedule, ok := config["schedule"].(string); ok {
		c.schedule = schedule
	}
	return c.Validate()
}

func (c *CronProcessor) Validate() error {
	if c.schedule == "" {
		return fmt.Errorf("cron schedule is required")
	}
	if _, err := cron.ParseStandard(c.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", c.schedule, err)
	}
	return nil
}

func (c *CronProcessor) Start(ctx context.Context, flowID string) (<-chan core.TriggerEvent, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil, fmt.Errorf("cron trigger already started")
	}

	c.events = make(chan core.TriggerEvent, 1)
	c.cron = cron.New(cron.WithLocation(c.location))
	entry, err := c.cron.AddFunc(c.schedule, func() {
		select {
		case c.events <- core.TriggerEvent{
			FlowID:    flowID,
			Timestamp: time.Now().UTC(),
			Metadata:  map[string]interface{}{"schedule": c.schedule},
		}:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	c.entry = entry
	c.cron.Start()

	go func() {
		<-ctx.Done()
		_ = c.Stop()
	}()

	return c.events, nil
}

// Next returns the next scheduled fire time, or zero before Start.
func (c *CronProcessor) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron == nil {
		return time.Time{}
	}
	return c.cron.Entry(c.entry).Next
}

// Stop waits for a running tick to finish and closes the event channel. It
// is safe to call more than once.
func (c *CronProcessor) Stop() error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		sched, events := c.cron, c.events
		c.mu.Unlock()
		if sched != nil {
			<-sched.Stop().Done()
		}
		if events != nil {
			close(events)
		}
	})
	return nil
}
