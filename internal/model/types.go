package model

import (
	"encoding/json"
	"time"
)

// WorkItem is one video of a channel listing.
type WorkItem struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	Title string `json:"title,omitempty"`
}

// ResultSet holds raw comment records in source order. The record shape is
// owned by downstream processing.
type ResultSet []json.RawMessage

type TrackedItem struct {
	WorkItem
	State    ItemState
	Attempts int
}

type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeDeferred  Outcome = "deferred"
)

// Event is an advisory progress notification; it carries no durability
// guarantee.
type Event struct {
	Item     WorkItem `json:"item"`
	Outcome  Outcome  `json:"outcome"`
	Attempts int      `json:"attempt_count"`
	Comments int      `json:"comments,omitempty"`
	Err      string   `json:"error,omitempty"`
	Position int      `json:"position"`
	Total    int      `json:"total"`
}

type SinkFailure struct {
	VideoID string `json:"video_id"`
	Error   string `json:"error"`
}

type Summary struct {
	RunID       string        `json:"run_id"`
	Channel     string        `json:"channel"`
	Total       int           `json:"total"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Deferred    int           `json:"deferred"`
	FailedIDs   []string      `json:"failed_ids"`
	SinkErrors  []SinkFailure `json:"sink_errors,omitempty"`
	Interrupted bool          `json:"interrupted"`
	StartedAt   time.Time     `json:"started_at"`
	Elapsed     time.Duration `json:"elapsed_ns"`
}
