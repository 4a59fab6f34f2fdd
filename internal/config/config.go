// Package config loads the service configuration from YAML, filling in
// defaults for anything the file leaves out. A missing file yields the
// defaults, so the server runs with zero setup.
package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultMaxFileBytes is the enforced per-file size ceiling: 10 MiB.
const DefaultMaxFileBytes = 10 * 1024 * 1024

// DefaultAllowedTypes is the enforced MIME allow-list for intake.
var DefaultAllowedTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"text/plain",
	"image/jpeg",
	"image/png",
	"image/gif",
}

// DefaultPickerExtensions is the advisory filter hint handed to the browser's
// file picker. It does not exactly mirror the MIME allow-list (e.g. .jpeg vs
// image/jpeg); acceptance is always decided by IntakeRules, never by this list.
var DefaultPickerExtensions = ".pdf,.doc,.docx,.txt,.jpg,.jpeg,.png,.gif"

// Config is the root service configuration.
type Config struct {
	Server ServerConfig           `yaml:"server"`
	Intake IntakeRules            `yaml:"intake"`
	Upload UploadConfig           `yaml:"upload"`
	Exams  map[string]ExamProfile `yaml:"exams"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeoutSeconds"`
	WriteTimeout int    `yaml:"writeTimeoutSeconds"`
	BodyLimit    string `yaml:"bodyLimit"`
	EnableCORS   bool   `yaml:"enableCors"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IntakeRules is the enforced validation rule set applied per file at intake.
type IntakeRules struct {
	AllowedTypes     []string `yaml:"allowedTypes"`
	MaxFileBytes     int64    `yaml:"maxFileBytes"`
	PickerExtensions string   `yaml:"pickerExtensions"`
}

// Allows reports whether a file with the given MIME type and size passes the
// rule set. A non-empty reason describes the first failing condition.
func (r IntakeRules) Allows(mimeType string, size int64) (bool, string) {
	allowed := false
	for _, t := range r.AllowedTypes {
		if t == mimeType {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, fmt.Sprintf("unsupported file type %q", mimeType)
	}
	if size > r.MaxFileBytes {
		return false, fmt.Sprintf("file exceeds size limit of %d bytes", r.MaxFileBytes)
	}
	return true, ""
}

// UploadConfig controls the simulated transfer schedule.
type UploadConfig struct {
	TickMillis  int     `yaml:"tickMillis"`  // delay between progress steps
	StepPercent int     `yaml:"stepPercent"` // progress increment per tick
	FailureRate float64 `yaml:"failureRate"` // 0..1, probability a transfer fails
}

// Tick returns the simulated network tick as a duration.
func (u UploadConfig) Tick() time.Duration {
	return time.Duration(u.TickMillis) * time.Millisecond
}

// ExamProfile restricts intake further for a specific exam: only the listed
// MIME types are accepted, each capped by its own byte limit.
type ExamProfile struct {
	Name     string           `yaml:"name" json:"name"`
	MaxSizes map[string]int64 `yaml:"maxSizes" json:"maxSizes"` // MIME type -> byte cap
}

// Formats returns the profile's accepted MIME types in stable order.
func (p ExamProfile) Formats() []string {
	formats := make([]string, 0, len(p.MaxSizes))
	for t := range p.MaxSizes {
		formats = append(formats, t)
	}
	sort.Strings(formats)
	return formats
}

// Allows applies the profile on top of the base rule shape: the type must be
// listed and the size must not exceed the per-type cap.
func (p ExamProfile) Allows(mimeType string, size int64) (bool, string) {
	limit, ok := p.MaxSizes[mimeType]
	if !ok {
		return false, fmt.Sprintf("%s does not accept %q", p.Name, mimeType)
	}
	if size > limit {
		return false, fmt.Sprintf("%s limits %q to %d bytes", p.Name, mimeType, limit)
	}
	return true, ""
}

// Default returns the built-in configuration: the spec rule set plus the exam
// profiles shipped by the original portal.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
			BodyLimit:    "64M",
			EnableCORS:   true,
		},
		Intake: IntakeRules{
			AllowedTypes:     append([]string(nil), DefaultAllowedTypes...),
			MaxFileBytes:     DefaultMaxFileBytes,
			PickerExtensions: DefaultPickerExtensions,
		},
		Upload: UploadConfig{
			TickMillis:  500,
			StepPercent: 20,
			FailureRate: 0,
		},
		Exams: map[string]ExamProfile{
			"neet": {
				Name: "NEET",
				MaxSizes: map[string]int64{
					"application/pdf": 2 * 1024 * 1024,
					"image/jpeg":      500 * 1024,
				},
			},
			"jee": {
				Name: "JEE",
				MaxSizes: map[string]int64{
					"application/pdf": 1 * 1024 * 1024,
					"image/jpeg":      300 * 1024,
					"image/png":       300 * 1024,
				},
			},
			"upsc": {
				Name: "UPSC",
				MaxSizes: map[string]int64{
					"application/pdf": 3 * 1024 * 1024,
					"image/jpeg":      1024 * 1024,
					"image/png":       1024 * 1024,
				},
			},
			"cat": {
				Name: "CAT",
				MaxSizes: map[string]int64{
					"application/pdf": 1536 * 1024,
					"image/jpeg":      400 * 1024,
				},
			},
			"gate": {
				Name: "GATE",
				MaxSizes: map[string]int64{
					"application/pdf": 2 * 1024 * 1024,
					"image/jpeg":      500 * 1024,
					"image/png":       500 * 1024,
				},
			},
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not an
// error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if len(c.Intake.AllowedTypes) == 0 {
		c.Intake.AllowedTypes = append([]string(nil), DefaultAllowedTypes...)
	}
	if c.Intake.MaxFileBytes <= 0 {
		c.Intake.MaxFileBytes = DefaultMaxFileBytes
	}
	if c.Intake.PickerExtensions == "" {
		c.Intake.PickerExtensions = DefaultPickerExtensions
	}
	if c.Upload.TickMillis <= 0 {
		c.Upload.TickMillis = 500
	}
	if c.Upload.StepPercent <= 0 || c.Upload.StepPercent > 100 {
		c.Upload.StepPercent = 20
	}
	if c.Upload.FailureRate < 0 {
		c.Upload.FailureRate = 0
	}
	if c.Server.Port <= 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyLimit == "" {
		c.Server.BodyLimit = "64M"
	}
}
