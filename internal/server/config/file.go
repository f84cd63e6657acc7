package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/availwatch/internal/flagx"
	"github.com/dmitrijs2005/availwatch/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape of the configuration. Durations accept
// strings such as "5m" or integer nanoseconds.
type FileConfig struct {
	EndpointAddrHTTP      string         `json:"endpoint_addr_http"`
	DatabaseDSN           string         `json:"database_dsn"`
	StatusAPIURL          string         `json:"status_api_url"`
	FetchTimeout          timex.Duration `json:"fetch_timeout"`
	FetchRetries          int            `json:"fetch_retries"`
	PollInterval          timex.Duration `json:"poll_interval"`
	CycleTimeout          timex.Duration `json:"cycle_timeout"`
	StaleAfterCycles      int            `json:"stale_after_cycles"`
	DetectConcurrency     int            `json:"detect_concurrency"`
	KeepDays              int            `json:"keep_days"`
	PruneSchedule         string         `json:"prune_schedule"`
	ArchiveDir            string         `json:"archive_dir"`
	OTPTTL                timex.Duration `json:"otp_ttl"`
	OTPMaxAttempts        int            `json:"otp_max_attempts"`
	OTPLength             int            `json:"otp_length"`
	OTPIssuePerHour       int            `json:"otp_issue_per_hour"`
	OTPAppriseURLTemplate string         `json:"otp_apprise_url_template"`
	SessionTTL            timex.Duration `json:"session_ttl"`
	UnsubscribeBaseURL    string         `json:"unsubscribe_base_url"`
	PublicBaseURL         string         `json:"public_base_url"`
	AdminEmail            string         `json:"admin_email"`
	AppriseURL            string         `json:"apprise_url"`
	DispatchMaxAttempts   int            `json:"dispatch_max_attempts"`
	DispatchBaseBackoff   timex.Duration `json:"dispatch_base_backoff"`
	DispatchConcurrency   int            `json:"dispatch_concurrency"`
	SendTimeout           timex.Duration `json:"send_timeout"`
	LogFormat             string         `json:"log_format"`
	LogLevel              string         `json:"log_level"`
	S3RootUser            string         `json:"s3_root_user"`
	S3RootPassword        string         `json:"s3_root_password"`
	S3Bucket              string         `json:"s3_bucket"`
	S3Region              string         `json:"s3_region"`
	S3BaseEndpoint        string         `json:"s3_base_endpoint"`
}

// parseFile overlays the file named by -c/-config onto config. Keys missing
// from the file keep their current values.
func parseFile(config *Config, args []string) error {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	data, err = coerceToJSONBytes(path, data)
	if err != nil {
		return err
	}

	fc := toFile(config)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	fromFile(config, fc)
	return nil
}

// coerceToJSONBytes converts YAML files to JSON so both formats share the
// strict JSON decoder.
func coerceToJSONBytes(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	if v == nil {
		return []byte("{}"), nil
	}

	j, err := json.Marshal(normalizeYAML(v))
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, nil
}

// normalizeYAML makes every map key a string.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}

func toFile(c *Config) *FileConfig {
	d := func(v time.Duration) timex.Duration { return timex.Duration{Duration: v} }
	return &FileConfig{
		EndpointAddrHTTP:      c.EndpointAddrHTTP,
		DatabaseDSN:           c.DatabaseDSN,
		StatusAPIURL:          c.StatusAPIURL,
		FetchTimeout:          d(c.FetchTimeout),
		FetchRetries:          c.FetchRetries,
		PollInterval:          d(c.PollInterval),
		CycleTimeout:          d(c.CycleTimeout),
		StaleAfterCycles:      c.StaleAfterCycles,
		DetectConcurrency:     c.DetectConcurrency,
		KeepDays:              c.KeepDays,
		PruneSchedule:         c.PruneSchedule,
		ArchiveDir:            c.ArchiveDir,
		OTPTTL:                d(c.OTPTTL),
		OTPMaxAttempts:        c.OTPMaxAttempts,
		OTPLength:             c.OTPLength,
		OTPIssuePerHour:       c.OTPIssuePerHour,
		OTPAppriseURLTemplate: c.OTPAppriseURLTemplate,
		SessionTTL:            d(c.SessionTTL),
		UnsubscribeBaseURL:    c.UnsubscribeBaseURL,
		PublicBaseURL:         c.PublicBaseURL,
		AdminEmail:            c.AdminEmail,
		AppriseURL:            c.AppriseURL,
		DispatchMaxAttempts:   c.DispatchMaxAttempts,
		DispatchBaseBackoff:   d(c.DispatchBaseBackoff),
		DispatchConcurrency:   c.DispatchConcurrency,
		SendTimeout:           d(c.SendTimeout),
		LogFormat:             c.LogFormat,
		LogLevel:              c.LogLevel,
		S3RootUser:            c.S3RootUser,
		S3RootPassword:        c.S3RootPassword,
		S3Bucket:              c.S3Bucket,
		S3Region:              c.S3Region,
		S3BaseEndpoint:        c.S3BaseEndpoint,
	}
}

func fromFile(c *Config, f *FileConfig) {
	c.EndpointAddrHTTP = f.EndpointAddrHTTP
	c.DatabaseDSN = f.DatabaseDSN
	c.StatusAPIURL = f.StatusAPIURL
	c.FetchTimeout = f.FetchTimeout.Duration
	c.FetchRetries = f.FetchRetries
	c.PollInterval = f.PollInterval.Duration
	c.CycleTimeout = f.CycleTimeout.Duration
	c.StaleAfterCycles = f.StaleAfterCycles
	c.DetectConcurrency = f.DetectConcurrency
	c.KeepDays = f.KeepDays
	c.PruneSchedule = f.PruneSchedule
	c.ArchiveDir = f.ArchiveDir
	c.OTPTTL = f.OTPTTL.Duration
	c.OTPMaxAttempts = f.OTPMaxAttempts
	c.OTPLength = f.OTPLength
	c.OTPIssuePerHour = f.OTPIssuePerHour
	c.OTPAppriseURLTemplate = f.OTPAppriseURLTemplate
	c.SessionTTL = f.SessionTTL.Duration
	c.UnsubscribeBaseURL = f.UnsubscribeBaseURL
	c.PublicBaseURL = f.PublicBaseURL
	c.AdminEmail = f.AdminEmail
	c.AppriseURL = f.AppriseURL
	c.DispatchMaxAttempts = f.DispatchMaxAttempts
	c.DispatchBaseBackoff = f.DispatchBaseBackoff.Duration
	c.DispatchConcurrency = f.DispatchConcurrency
	c.SendTimeout = f.SendTimeout.Duration
	c.LogFormat = f.LogFormat
	c.LogLevel = f.LogLevel
	c.S3RootUser = f.S3RootUser
	c.S3RootPassword = f.S3RootPassword
	c.S3Bucket = f.S3Bucket
	c.S3Region = f.S3Region
	c.S3BaseEndpoint = f.S3BaseEndpoint
}
