package approvals

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTimeoutMinutes is used when the configured timeout is absent or
// cannot be parsed as an integer.
const DefaultTimeoutMinutes = 5

// RawValue is a configuration scalar kept exactly as written. Values that
// need parse-or-default handling are stored raw so a malformed entry never
// fails the whole configuration load.
type RawValue string

// UnmarshalYAML accepts any scalar node and keeps its literal text.
func (r *RawValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("approvals: expected scalar at line %d, got kind %d", node.Line, node.Kind)
	}
	*r = RawValue(node.Value)
	return nil
}

// Config holds configuration for an approvals deployment.
type Config struct {
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Store     StoreConfig     `yaml:"store"`
	Artifacts ArtifactConfig  `yaml:"artifacts"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Callback  CallbackConfig  `yaml:"callback"`
	Notify    NotifyConfig    `yaml:"notify"`
	HTTP      HTTPConfig      `yaml:"http"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// WorkflowConfig configures the approval orchestrator and its host.
type WorkflowConfig struct {
	// MeansOfApproval selects the notification channel. "email"
	// (case-insensitive) selects email; anything else selects Slack.
	MeansOfApproval string `yaml:"meansOfApproval"`

	// TimeoutMinutes is how long an approver has to answer. Read with
	// TimeoutDuration.
	TimeoutMinutes RawValue `yaml:"timeoutMinutes"`

	// MaxAttempts bounds how often the host runs a failing activity.
	MaxAttempts int `yaml:"maxAttempts"`

	// Backoff names the delay strategy between activity retries:
	// "constant", "linear", "exponential" or "jitter" (the default).
	Backoff string `yaml:"backoff"`

	// RetryInitial and RetryMax shape the retry backoff.
	RetryInitial time.Duration `yaml:"retryInitial"`
	RetryMax     time.Duration `yaml:"retryMax"`

	// ShutdownTimeout is the maximum time to wait for in-flight runs to
	// reach a suspension point on Stop.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// maxTimeoutMinutes is the largest timeout representable as a Duration.
const maxTimeoutMinutes = math.MaxInt64 / int64(time.Minute)

// TimeoutDuration parses TimeoutMinutes, falling back to
// DefaultTimeoutMinutes when the value is absent, not an integer, negative
// or too large to express as a time.Duration.
func (w WorkflowConfig) TimeoutDuration() time.Duration {
	minutes, err := strconv.ParseInt(strings.TrimSpace(string(w.TimeoutMinutes)), 10, 64)
	if err != nil || minutes < 0 || minutes > maxTimeoutMinutes {
		minutes = DefaultTimeoutMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Driver is one of "memory", "redis", "postgres" or "sqlite".
	Driver string `yaml:"driver"`
	// DSN is the backend connection string (redis URL, postgres DSN or
	// sqlite file path).
	DSN string `yaml:"dsn"`
	// Prefix namespaces redis keys.
	Prefix string `yaml:"prefix"`
}

// ArtifactConfig locates submitted artifacts and their final containers.
type ArtifactConfig struct {
	// BasePath is the storage root URL, e.g. "file:///var/approvals/" or
	// "s3://bucket/". It always ends with a slash after normalization.
	BasePath string `yaml:"basePath"`

	InputContainer    string `yaml:"inputContainer"`
	ApprovedContainer string `yaml:"approvedContainer"`
	RejectedContainer string `yaml:"rejectedContainer"`
}

// IngestConfig configures the ingestion triggers.
type IngestConfig struct {
	// MinContentLength and MaxContentLength are exclusive bounds on the
	// artifact size accepted from storage events.
	MinContentLength int64 `yaml:"minContentLength"`
	MaxContentLength int64 `yaml:"maxContentLength"`

	// ApprovalType is stamped on every request created by ingestion.
	ApprovalType string `yaml:"approvalType"`

	// SubjectPrefix is stripped from a storage event subject to obtain the
	// artifact name.
	SubjectPrefix string `yaml:"subjectPrefix"`
}

// CallbackConfig configures signed approve/reject links.
type CallbackConfig struct {
	// BaseURL is the externally reachable URL of the respond endpoint.
	BaseURL string `yaml:"baseURL"`
	// Secret signs callback tokens (HS256).
	Secret string `yaml:"secret"`
	// TTL bounds how long a link is valid. Zero means the link expires
	// with the workflow timeout.
	TTL time.Duration `yaml:"ttl"`
}

// NotifyConfig configures the notification channels.
type NotifyConfig struct {
	Slack SlackConfig `yaml:"slack"`
	Email EmailConfig `yaml:"email"`
}

// SlackConfig configures the Slack incoming-webhook notifier.
type SlackConfig struct {
	WebhookURL string `yaml:"webhookURL"`
}

// EmailConfig configures the SMTP notifier.
type EmailConfig struct {
	Addr     string   `yaml:"addr"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// HTTPConfig configures the HTTP surface.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// RateLimit is the sustained requests per second allowed per client IP.
	RateLimit float64 `yaml:"rateLimit"`
	// RateBurst is the token bucket size per client IP.
	RateBurst int `yaml:"rateBurst"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	// StdoutTraces enables the stdout span exporter.
	StdoutTraces bool `yaml:"stdoutTraces"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workflow: WorkflowConfig{
			MeansOfApproval: "slack",
			TimeoutMinutes:  RawValue(strconv.Itoa(DefaultTimeoutMinutes)),
			MaxAttempts:     3,
			Backoff:         "jitter",
			RetryInitial:    1 * time.Second,
			RetryMax:        1 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Driver: "memory",
			Prefix: "approvals",
		},
		Artifacts: ArtifactConfig{
			BasePath:          "file:///tmp/approvals/",
			InputContainer:    "requests",
			ApprovedContainer: "approved",
			RejectedContainer: "rejected",
		},
		Ingest: IngestConfig{
			MinContentLength: 1000,
			MaxContentLength: 2400000,
			ApprovalType:     "FurryModel",
			SubjectPrefix:    "/blobServices/default/containers/requests/blobs/",
		},
		HTTP: HTTPConfig{
			Addr:      ":8080",
			RateLimit: 10,
			RateBurst: 20,
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig and then applies
// environment overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("approvals: read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("approvals: parse config %q: %w", path, err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)
	cfg.normalize()
	return cfg, nil
}

// ApplyEnv overlays values found through lookup onto cfg. Passing
// os.LookupEnv reads the process environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	str("APPROVALS_MEANS_OF_APPROVAL", &c.Workflow.MeansOfApproval)
	if v, ok := lookup("APPROVALS_TIMEOUT_MINUTES"); ok {
		c.Workflow.TimeoutMinutes = RawValue(v)
	}
	str("APPROVALS_RETRY_BACKOFF", &c.Workflow.Backoff)
	str("APPROVALS_STORE_DRIVER", &c.Store.Driver)
	str("APPROVALS_STORE_DSN", &c.Store.DSN)
	str("APPROVALS_ARTIFACTS_BASE_PATH", &c.Artifacts.BasePath)
	str("APPROVALS_ARTIFACTS_INPUT_CONTAINER", &c.Artifacts.InputContainer)
	str("APPROVALS_CALLBACK_BASE_URL", &c.Callback.BaseURL)
	str("APPROVALS_CALLBACK_SECRET", &c.Callback.Secret)
	str("APPROVALS_SLACK_WEBHOOK_URL", &c.Notify.Slack.WebhookURL)
	str("APPROVALS_SMTP_ADDR", &c.Notify.Email.Addr)
	str("APPROVALS_SMTP_USERNAME", &c.Notify.Email.Username)
	str("APPROVALS_SMTP_PASSWORD", &c.Notify.Email.Password)
	str("APPROVALS_SMTP_FROM", &c.Notify.Email.From)
	if v, ok := lookup("APPROVALS_SMTP_TO"); ok {
		c.Notify.Email.To = strings.Split(v, ",")
	}
	str("APPROVALS_HTTP_ADDR", &c.HTTP.Addr)
	if v, ok := lookup("APPROVALS_INGEST_MIN_CONTENT_LENGTH"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Ingest.MinContentLength = n
		}
	}
	if v, ok := lookup("APPROVALS_INGEST_MAX_CONTENT_LENGTH"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Ingest.MaxContentLength = n
		}
	}
}

func (c *Config) normalize() {
	if c.Artifacts.BasePath != "" && !strings.HasSuffix(c.Artifacts.BasePath, "/") {
		c.Artifacts.BasePath += "/"
	}
	if c.Workflow.MaxAttempts <= 0 {
		c.Workflow.MaxAttempts = 1
	}
}
