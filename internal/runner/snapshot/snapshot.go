// Package snapshot records and replays the events a processor saw, so a run
// can be reproduced without hitting retailers or notification endpoints.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bakkerme/dealwatch/internal/core"
)

type Payload struct {
	SavedAt time.Time             `json:"saved_at"`
	Events  []*core.DiscountEvent `json:"events"`
	Summary *core.RunSummary      `json:"summary,omitempty"`
}

func Save(path string, events []*core.DiscountEvent, summary *core.RunSummary) error {
	if path == "" {
		return fmt.Errorf("snapshot path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(Payload{
		SavedAt: time.Now().UTC(),
		Events:  events,
		Summary: summary,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func Load(path string) (*Payload, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &payload, nil
}
