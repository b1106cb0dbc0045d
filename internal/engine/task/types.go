// Package task holds the data model shared by every engine component:
// the immutable descriptor a task is started from, and the records
// that flow out of it (measurements, stage samples, aggregates,
// realtime points).
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// APIKind tags the shape of the target endpoint. Per-kind differences
// are limited to the default FieldMap and default request template;
// everything downstream of PayloadShaper is kind-agnostic.
type APIKind string

const (
	APIKindOpenAIChat  APIKind = "openai-chat"
	APIKindClaudeChat  APIKind = "claude-chat"
	APIKindEmbeddings  APIKind = "embeddings"
	APIKindCustomChat  APIKind = "custom-chat"
	APIKindGenericHTTP APIKind = "generic-http"
)

func (k APIKind) Valid() bool {
	switch k {
	case APIKindOpenAIChat, APIKindClaudeChat, APIKindEmbeddings, APIKindCustomChat, APIKindGenericHTTP:
		return true
	}
	return false
}

// DatasetKind selects where Sampler records come from.
type DatasetKind string

const (
	DatasetDefaultText     DatasetKind = "default-text"
	DatasetDefaultVision   DatasetKind = "default-vision"
	DatasetDefaultShareGPT DatasetKind = "default-sharegpt"
	DatasetInlineJSONL     DatasetKind = "inline-jsonl"
	DatasetUploadedJSONL   DatasetKind = "uploaded-jsonl"
	DatasetNone            DatasetKind = "none"
)

// LoadMode selects the Scheduler ramp algorithm.
type LoadMode string

const (
	LoadModeFixed   LoadMode = "fixed"
	LoadModeStepped LoadMode = "stepped"
)

// LoadProfile describes how virtual users ramp and how long the task runs.
type LoadProfile struct {
	Mode LoadMode `json:"mode" yaml:"mode"`

	// Fixed mode.
	Users     int     `json:"users,omitempty" yaml:"users,omitempty"`
	DurationS int     `json:"duration_s,omitempty" yaml:"duration_s,omitempty"`
	SpawnPerS float64 `json:"spawn_per_s,omitempty" yaml:"spawn_per_s,omitempty"`

	// Stepped mode.
	StartUsers       int `json:"start_users,omitempty" yaml:"start_users,omitempty"`
	StepIncrement    int `json:"step_increment,omitempty" yaml:"step_increment,omitempty"`
	StepDurationS    int `json:"step_duration_s,omitempty" yaml:"step_duration_s,omitempty"`
	SustainDurationS int `json:"sustain_duration_s,omitempty" yaml:"sustain_duration_s,omitempty"`
	MaxUsers         int `json:"max_users,omitempty" yaml:"max_users,omitempty"`
}

// Validate checks the cross-field invariants: users >= 1, spawn_per_s
// in [1, 100], duration_s in [1, 172800], max_users <= 5000.
func (p LoadProfile) Validate() error {
	switch p.Mode {
	case LoadModeFixed:
		if p.Users < 1 {
			return fmt.Errorf("load_profile: users must be >= 1, got %d", p.Users)
		}
		if p.SpawnPerS < 1 || p.SpawnPerS > 100 {
			return fmt.Errorf("load_profile: spawn_per_s must be in [1, 100], got %v", p.SpawnPerS)
		}
		if p.DurationS < 1 || p.DurationS > 172800 {
			return fmt.Errorf("load_profile: duration_s must be in [1, 172800], got %d", p.DurationS)
		}
		if p.Users > 5000 {
			return fmt.Errorf("load_profile: users must be <= 5000, got %d", p.Users)
		}
	case LoadModeStepped:
		if p.StartUsers < 1 {
			return fmt.Errorf("load_profile: start_users must be >= 1, got %d", p.StartUsers)
		}
		if p.StepIncrement < 1 {
			return fmt.Errorf("load_profile: step_increment must be >= 1, got %d", p.StepIncrement)
		}
		if p.StepDurationS < 1 {
			return fmt.Errorf("load_profile: step_duration_s must be >= 1, got %d", p.StepDurationS)
		}
		if p.MaxUsers < p.StartUsers || p.MaxUsers > 5000 {
			return fmt.Errorf("load_profile: max_users must be in [%d, 5000], got %d", p.StartUsers, p.MaxUsers)
		}
		if p.SustainDurationS < 0 {
			return fmt.Errorf("load_profile: sustain_duration_s must be >= 0, got %d", p.SustainDurationS)
		}
	default:
		return fmt.Errorf("load_profile: unknown mode %q", p.Mode)
	}
	return nil
}

// TotalDuration reports the task's configured wall-clock window: the
// fixed duration, or for stepped mode the ramp steps plus the sustain
// window.
func (p LoadProfile) TotalDuration() time.Duration {
	switch p.Mode {
	case LoadModeFixed:
		return time.Duration(p.DurationS) * time.Second
	case LoadModeStepped:
		steps := 0
		if p.StepIncrement > 0 && p.MaxUsers > p.StartUsers {
			steps = (p.MaxUsers - p.StartUsers + p.StepIncrement - 1) / p.StepIncrement
		}
		return time.Duration(steps*p.StepDurationS+p.SustainDurationS) * time.Second
	}
	return 0
}

// FieldMap tells the engine how to shape requests and extract
// response fields. Paths are dotted; integer segments index arrays;
// -1 selects the current last element.
type FieldMap struct {
	// Request side.
	PromptPath string `json:"prompt_path" yaml:"prompt_path"`
	ImagePath  string `json:"image_path,omitempty" yaml:"image_path,omitempty"`

	// Response side.
	LinePrefix           string `json:"line_prefix,omitempty" yaml:"line_prefix,omitempty"`
	DataFormat           string `json:"data_format,omitempty" yaml:"data_format,omitempty"` // json | text
	ContentPath          string `json:"content_path,omitempty" yaml:"content_path,omitempty"`
	ReasoningContentPath string `json:"reasoning_content_path,omitempty" yaml:"reasoning_content_path,omitempty"`
	PromptTokensPath     string `json:"prompt_tokens_path,omitempty" yaml:"prompt_tokens_path,omitempty"`
	CompletionTokensPath string `json:"completion_tokens_path,omitempty" yaml:"completion_tokens_path,omitempty"`
	TotalTokensPath      string `json:"total_tokens_path,omitempty" yaml:"total_tokens_path,omitempty"`
	EndLinePrefix        string `json:"end_line_prefix,omitempty" yaml:"end_line_prefix,omitempty"`
	EndFieldPath         string `json:"end_field_path,omitempty" yaml:"end_field_path,omitempty"`
	StopToken            string `json:"stop_token,omitempty" yaml:"stop_token,omitempty"`
}

// TLSClientIdentity mounts a per-task client certificate.
type TLSClientIdentity struct {
	CertPEM string `json:"cert_pem,omitempty" yaml:"cert_pem,omitempty"`
	KeyPEM  string `json:"key_pem,omitempty" yaml:"key_pem,omitempty"`
}

// Timeouts bound the per-request connect and read phases.
type Timeouts struct {
	ConnectTimeout time.Duration `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`
	ReadTimeout    time.Duration `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty"`
}

// Descriptor is the immutable-after-start task definition.
type Descriptor struct {
	TaskID          uuid.UUID          `json:"task_id" yaml:"task_id"`
	Name            string             `json:"name" yaml:"name"`
	APIKind         APIKind            `json:"api_kind" yaml:"api_kind"`
	TargetBaseURL   string             `json:"target_base_url" yaml:"target_base_url"`
	APIPath         string             `json:"api_path" yaml:"api_path"`
	HTTPMethod      string             `json:"http_method,omitempty" yaml:"http_method,omitempty"`
	RequestTemplate string             `json:"request_template" yaml:"request_template"`
	Headers         []HeaderEntry      `json:"headers,omitempty" yaml:"headers,omitempty"`
	Cookies         map[string]string  `json:"cookies,omitempty" yaml:"cookies,omitempty"`
	TLSIdentity     *TLSClientIdentity `json:"tls_client_identity,omitempty" yaml:"tls_client_identity,omitempty"`
	StreamMode      bool               `json:"stream_mode" yaml:"stream_mode"`
	FieldMap        FieldMap           `json:"field_map" yaml:"field_map"`
	Dataset         DatasetKind        `json:"dataset" yaml:"dataset"`
	DatasetInline   string             `json:"dataset_inline,omitempty" yaml:"dataset_inline,omitempty"`
	// DatasetFilter is an optional boolean expression over a record's
	// fields, named ID, Prompt and Image in the expression; the Sampler
	// skips records for which it is false. Empty means every record is
	// sampled.
	DatasetFilter string      `json:"dataset_filter,omitempty" yaml:"dataset_filter,omitempty"`
	LoadProfile   LoadProfile `json:"load_profile" yaml:"load_profile"`
	Timeouts      Timeouts    `json:"timeouts,omitempty" yaml:"timeouts,omitempty"`
}

// HeaderEntry preserves header ordering, unlike a map[string]string.
type HeaderEntry struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Validate checks everything that must hold before a task is allowed
// to start. It never mutates the descriptor; defaulting happens on the
// runtime's own materialized copy.
func (d *Descriptor) Validate() error {
	if d.TaskID == uuid.Nil {
		return fmt.Errorf("descriptor: task_id is required")
	}
	if !d.APIKind.Valid() {
		return fmt.Errorf("descriptor: unknown api_kind %q", d.APIKind)
	}
	if d.TargetBaseURL == "" {
		return fmt.Errorf("descriptor: target_base_url is required")
	}
	if d.APIKind == APIKindCustomChat {
		if d.FieldMap.PromptPath == "" || d.FieldMap.ContentPath == "" {
			return fmt.Errorf("descriptor: custom-chat requires prompt_path and content_path in field_map")
		}
	}
	if err := d.LoadProfile.Validate(); err != nil {
		return err
	}
	return nil
}

// Outcome classifies how a request settled.
type Outcome string

const (
	OutcomeOK         Outcome = "ok"
	OutcomeHTTPError  Outcome = "http_error"
	OutcomeParseError Outcome = "parse_error"
	OutcomeTimeout    Outcome = "timeout"
	OutcomeCanceled   Outcome = "canceled"
)

// Measurement is produced once per completed request.
type Measurement struct {
	UserID             int
	StartTS            time.Time
	FirstReasoningTS   *time.Time
	FirstOutputTS      *time.Time
	CompletionTS       *time.Time
	EndTS              time.Time
	HTTPStatus         int
	Outcome            Outcome
	PromptTokens       *int64
	CompletionTokens   *int64
	TotalTokens        *int64
	TokensEstimated    bool
	ContentLengthBytes int64
	APIPath            string
}

// StageName identifies an AggregateBucket.
type StageName string

const (
	StageFirstReasoningToken StageName = "Time_to_first_reasoning_token"
	StageFirstOutputToken    StageName = "Time_to_first_output_token"
	StageOutputCompletion    StageName = "Time_to_output_completion"
	StageTotalTime           StageName = "Total_time"
	StageFailure             StageName = "failure"
)

// StageSample is one data point destined for one AggregateBucket.
type StageSample struct {
	Stage      StageName
	Path       string // non-empty only for path-scoped samples
	ValueMs    float64
	ContentLen int64
	WallClock  time.Time
	IsFailure  bool
}

// AggregateBucket is the externally visible per-stage rollup.
type AggregateBucket struct {
	Count         int64   `json:"count"`
	Failures      int64   `json:"failures"`
	Sum           float64 `json:"sum"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
	P50           float64 `json:"p50"`
	P90           float64 `json:"p90"`
	P95           float64 `json:"p95"`
	RunningRPS    float64 `json:"running_rps"`
	AvgContentLen float64 `json:"avg_content_length"`
}

// RealtimePoint is emitted at a fixed cadence during the run.
type RealtimePoint struct {
	TimestampS        int64   `json:"timestamp_s"`
	CurrentUsers      int     `json:"current_users"`
	CurrentRPS        float64 `json:"current_rps"`
	CurrentFailPerSec float64 `json:"current_fail_per_sec"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	P95ResponseTimeMs float64 `json:"p95_response_time_ms"`
}

// StageSummary is one record in the terminal summary sink. Durations
// are milliseconds, rates per second, content length bytes.
type StageSummary struct {
	TaskID           uuid.UUID `json:"task_id"`
	MetricType       string    `json:"metric_type"`
	RequestCount     int64     `json:"request_count"`
	FailureCount     int64     `json:"failure_count"`
	AvgResponseTime  float64   `json:"avg_response_time"`
	MinResponseTime  float64   `json:"min_response_time"`
	MaxResponseTime  float64   `json:"max_response_time"`
	Percentile50     float64   `json:"percentile_50"`
	Percentile90     float64   `json:"percentile_90"`
	Percentile95     float64   `json:"percentile_95"`
	RPS              float64   `json:"rps"`
	AvgContentLength float64   `json:"avg_content_length"`
}

// TokenMetrics is the whole-task token-throughput record.
type TokenMetrics struct {
	TaskID                    uuid.UUID `json:"task_id"`
	TotalTPS                  float64   `json:"total_tps"`
	CompletionTPS             float64   `json:"completion_tps"`
	AvgTotalTokensPerRequest  float64   `json:"avg_total_tokens_per_req"`
	AvgCompletionTokensPerReq float64   `json:"avg_completion_tokens_per_req"`
	EstimatedTokenRequests    int64     `json:"estimated_token_requests"`
}

// TerminalState is the task's lifecycle terminal value.
type TerminalState string

const (
	StateFailed              TerminalState = "failed"
	StateStopped             TerminalState = "stopped"
	StateStoppedSinkDegraded TerminalState = "stopped-with-sink-degraded"
)

// Summary is the full terminal result returned by TaskRuntime.Await.
type Summary struct {
	TaskID     uuid.UUID                  `json:"task_id"`
	State      TerminalState              `json:"state"`
	Diagnostic string                     `json:"diagnostic,omitempty"`
	Stages     map[StageName]StageSummary `json:"stages"`
	Paths      map[string]StageSummary    `json:"paths"`
	Tokens     TokenMetrics               `json:"tokens"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at"`
}

// Record is one built-in or user-supplied dataset entry.
type Record struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
	Image  string `json:"image,omitempty"`
}
