package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Version is the stepwise release.
const Version = "0.3.0"

// Config holds all stepwise configuration.
type Config struct {
	Listen          string        `yaml:"listen"`
	Token           string        `yaml:"token"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Workflow WorkflowConfig `yaml:"workflow"`
	Capture  CaptureConfig  `yaml:"capture"`
	Output   OutputConfig   `yaml:"output"`
	Receiver ReceiverConfig `yaml:"receiver"`
}

// WorkflowConfig sets the metadata of recorded workflows.
type WorkflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// CaptureConfig holds capture-side settings.
type CaptureConfig struct {
	ScrollDebounce    time.Duration `yaml:"scroll_debounce"`
	Screenshots       bool          `yaml:"screenshots"`
	ScreenshotTimeout time.Duration `yaml:"screenshot_timeout"`
}

// OutputConfig holds outbound notification settings.
type OutputConfig struct {
	Kind           string            `yaml:"kind"` // "webhook", "stdout", "file"
	WebhookURL     string            `yaml:"webhook_url"`
	WebhookTimeout time.Duration     `yaml:"webhook_timeout"`
	WebhookHeaders map[string]string `yaml:"webhook_headers"`
	File           string            `yaml:"file"`
	FileMaxSize    int64             `yaml:"file_max_size"`
	Pretty         bool              `yaml:"pretty"`
	Verbosity      string            `yaml:"verbosity"` // "minimal", "standard", "full"
	AsyncBuffer    int               `yaml:"async_buffer"`
}

// ReceiverConfig holds settings of the consumer-side receiver.
type ReceiverConfig struct {
	Listen string `yaml:"listen"`
	Dir    string `yaml:"dir"`
	Format string `yaml:"format"` // "json", "yaml"
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	return Config{
		Listen:          getenv("STEPWISE_LISTEN", "127.0.0.1:7330"),
		Token:           os.Getenv("STEPWISE_TOKEN"),
		LogLevel:        getenv("STEPWISE_LOG_LEVEL", "info"),
		ShutdownTimeout: getenvDuration("STEPWISE_SHUTDOWN_TIMEOUT", 10*time.Second),
		Workflow: WorkflowConfig{
			Name:    getenv("STEPWISE_WORKFLOW_NAME", "Recorded Workflow"),
			Version: getenv("STEPWISE_WORKFLOW_VERSION", "1.0.0"),
		},
		Capture: CaptureConfig{
			ScrollDebounce:    getenvDuration("STEPWISE_SCROLL_DEBOUNCE", 500*time.Millisecond),
			Screenshots:       getenvBool("STEPWISE_SCREENSHOTS", true),
			ScreenshotTimeout: getenvDuration("STEPWISE_SCREENSHOT_TIMEOUT", 2*time.Second),
		},
		Output: OutputConfig{
			Kind:           getenv("STEPWISE_OUTPUT", "webhook"),
			WebhookURL:     getenvAllowEmpty("STEPWISE_WEBHOOK_URL", "http://127.0.0.1:7331/event"),
			WebhookTimeout: getenvDuration("STEPWISE_WEBHOOK_TIMEOUT", 10*time.Second),
			WebhookHeaders: parseHeaders(os.Getenv("STEPWISE_WEBHOOK_HEADERS")),
			File:           getenv("STEPWISE_OUTPUT_FILE", "stepwise.ndjson"),
			FileMaxSize:    int64(getenvInt("STEPWISE_OUTPUT_FILE_MAX_SIZE", 0)),
			Pretty:         getenvBool("STEPWISE_OUTPUT_PRETTY", false),
			Verbosity:      getenv("STEPWISE_VERBOSITY", "standard"),
			AsyncBuffer:    getenvInt("STEPWISE_ASYNC_BUFFER", 256),
		},
		Receiver: ReceiverConfig{
			Listen: getenv("STEPWISE_RECEIVER_LISTEN", "127.0.0.1:7331"),
			Dir:    getenv("STEPWISE_RECEIVER_DIR", "workflows"),
			Format: getenv("STEPWISE_RECEIVER_FORMAT", "json"),
		},
	}
}

// LoadFile overlays the YAML document at path on the environment defaults.
// Keys absent from the file keep their Load value.
func LoadFile(fs afero.Fs, path string) (Config, error) {
	cfg := Load()
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is empty (STEPWISE_LISTEN)"))
	}
	switch c.Output.Verbosity {
	case "minimal", "standard", "full":
	default:
		errs = append(errs, fmt.Errorf("invalid verbosity %q (want minimal, standard or full)", c.Output.Verbosity))
	}
	switch c.Output.Kind {
	case "webhook", "stdout", "none":
	case "file":
		if c.Output.File == "" {
			errs = append(errs, errors.New("output file is empty (STEPWISE_OUTPUT_FILE)"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid output %q (want webhook, stdout, file or none)", c.Output.Kind))
	}
	switch c.Receiver.Format {
	case "json", "yaml", "yml":
	default:
		errs = append(errs, fmt.Errorf("invalid receiver format %q (want json or yaml)", c.Receiver.Format))
	}
	for name, d := range map[string]time.Duration{
		"scroll debounce":    c.Capture.ScrollDebounce,
		"screenshot timeout": c.Capture.ScreenshotTimeout,
		"webhook timeout":    c.Output.WebhookTimeout,
		"shutdown timeout":   c.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, d))
		}
	}
	if c.Output.AsyncBuffer <= 0 {
		errs = append(errs, fmt.Errorf("async buffer must be positive, got %d", c.Output.AsyncBuffer))
	}
	if c.Output.FileMaxSize < 0 {
		errs = append(errs, fmt.Errorf("file max size must not be negative, got %d", c.Output.FileMaxSize))
	}
	return errors.Join(errs...)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getenvAllowEmpty distinguishes an unset variable from one set to "".
func getenvAllowEmpty(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// parseHeaders reads "k=v,k=v". Malformed pairs are skipped.
func parseHeaders(s string) map[string]string {
	var m map[string]string
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		if m == nil {
			m = make(map[string]string)
		}
		m[k] = strings.TrimSpace(v)
	}
	return m
}
