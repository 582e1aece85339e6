package models

import "time"

// Trigger is a transient command consumed by exactly one reconciliation pass.

type TriggerType string

const (
	TriggerNewSearch    TriggerType = "new_search"
	TriggerHistoryClick TriggerType = "history_click"
)

type Trigger struct {
	Type  TriggerType `json:"type"`
	Label string      `json:"label,omitempty"`
	Query string      `json:"query,omitempty"`
	ID    string      `json:"id,omitempty"`
}

// RenderPlan tells the presentation layer where to move the viewport once
// the pass has settled. Freshly rendered output needs time to paint before
// its position can be measured, hence the longer delay.
type RenderPlan struct {
	ScrollTarget string
	SettleDelay  time.Duration
}

const (
	ScrollSettleShort = 100 * time.Millisecond
	ScrollSettleLong  = 1000 * time.Millisecond
)
