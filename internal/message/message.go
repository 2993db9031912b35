// Package message defines the JSON types of the dialogcast job API.
package message

import "time"

// SubmitRequest is the JSON body of POST /jobs.
type SubmitRequest struct {
	// Script is the speaker-tagged dialogue text.
	Script string `json:"script"`

	// Engine is the preferred synthesis engine. Empty means the configured default.
	Engine string `json:"engine,omitempty"`

	// Options are passed to the synthesis backends (language, speaker_wav, voice, speed, emotion).
	Options map[string]string `json:"options,omitempty"`
}

// SubmitResponse is returned when a job is accepted.
type SubmitResponse struct {
	JobID     string `json:"job_id"`
	State     string `json:"state"`
	StatusURL string `json:"status_url"`
	AudioURL  string `json:"audio_url"`
}

// Failure explains an errored job.
type Failure struct {
	Kind         string `json:"kind"`
	Reason       string `json:"reason"`
	SegmentIndex *int   `json:"segment_index,omitempty"`
}

// JobStatus is the public view of a job.
type JobStatus struct {
	JobID           string    `json:"job_id"`
	State           string    `json:"state"`
	Progress        int       `json:"progress"`
	Phase           string    `json:"phase,omitempty"`
	Message         string    `json:"message,omitempty"`
	EngineRequested string    `json:"engine_requested,omitempty"`
	EnginesUsed     []string  `json:"engines_used,omitempty"`
	Warnings        []string  `json:"warnings,omitempty"`
	Failure         *Failure  `json:"failure,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// AudioURL is set once the job has completed.
	AudioURL string `json:"audio_url,omitempty"`
}

// EngineStatus is the cached readiness of one engine.
type EngineStatus struct {
	Name      string     `json:"name"`
	Enabled   bool       `json:"enabled"`
	Available bool       `json:"available"`
	Default   bool       `json:"default,omitempty"`
	Error     string     `json:"error,omitempty"`
	CheckedAt *time.Time `json:"checked_at,omitempty"`
}

// EnginesResponse is returned by GET /engines.
type EnginesResponse struct {
	Engines []EngineStatus `json:"engines"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}
