package core

import (
	"time"
)

// ProcessReference holds exactly one processor alongside its Name and Type,
// so the order of operations can be walked without type switches.
type ProcessReference struct {
	Name    string
	Type    ProcessorType
	Trigger TriggerProcessor
	Source  SourceProcessor
	Filter  FilterProcessor
	Output  OutputProcessor
}

// Flow represents the internal structure of a parsed dealwatch document.
// It contains the configuration and all processors in their execution order.
type Flow struct {
	ID                string                 `json:"id" yaml:"id"`
	Name              string                 `json:"name" yaml:"name"`
	Version           string                 `json:"version,omitempty" yaml:"version,omitempty"`
	CreatedAt         time.Time              `json:"created_at" yaml:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at" yaml:"updated_at"`
	Status            FlowStatus             `json:"status" yaml:"status"`
	Threshold         float64                `json:"threshold" yaml:"threshold"`
	Triggers          []TriggerProcessor     `json:"-" yaml:"-"`
	Sources           []SourceProcessor      `json:"-" yaml:"-"`
	Filters           []FilterProcessor      `json:"-" yaml:"-"`
	Outputs           []OutputProcessor      `json:"-" yaml:"-"`
	RawConfig         map[string]interface{} `json:"raw_config" yaml:"raw_config"`
	OrderOfOperations []ProcessReference     `json:"-" yaml:"-"`
}

// FlowStatus represents the current state of a flow
type FlowStatus string

const (
	FlowStatusWaiting   FlowStatus = "waiting"
	FlowStatusRunning   FlowStatus = "running"
	FlowStatusCompleted FlowStatus = "completed"
	FlowStatusFailed    FlowStatus = "failed"
	FlowStatusCancelled FlowStatus = "cancelled"
)

// Run represents a single execution of a Flow
type Run struct {
	ID          string                 `json:"id" yaml:"id"`
	FlowID      string                 `json:"flow_id" yaml:"flow_id"`
	StartedAt   time.Time              `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Status      RunStatus              `json:"status" yaml:"status"`
	TriggerType string                 `json:"trigger_type" yaml:"trigger_type"`
	Events      []*DiscountEvent       `json:"events,omitempty" yaml:"events,omitempty"`
	Summary     *RunSummary            `json:"summary,omitempty" yaml:"summary,omitempty"`
	Errors      []ProcessError         `json:"errors,omitempty" yaml:"errors,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// RunStatus represents the current state of a run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)
