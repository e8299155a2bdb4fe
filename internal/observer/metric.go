package observer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/lightkeeper/lightkeeper/internal/types"
)

// Extractor kinds supported by the metric observer.
const (
	ExtractLineCount    = "line_count"
	ExtractRegexCapture = "regex_capture"
	ExtractJSONPath     = "json_path"
	ExtractCommand      = "command"
)

const defaultProbeTimeout = 30 * time.Second

// MetricOptions configures how a numeric value is extracted per check.
type MetricOptions struct {
	// Extract selects the extractor kind.
	Extract string `yaml:"extract"`
	// Source is the file read by line_count, regex_capture and json_path.
	Source string `yaml:"source"`
	// Pattern filters counted lines (line_count) or captures the value
	// (regex_capture).
	Pattern string `yaml:"pattern"`
	// Group is the capture group holding the number (default 1).
	Group int `yaml:"group"`
	// Position picks "first" or "last" regex match (default first).
	Position string `yaml:"position"`
	// JSONPath is the gjson path evaluated against Source.
	JSONPath string `yaml:"json_path"`
	// Command is the probe command run by the command extractor; its
	// trimmed stdout is parsed as the value.
	Command string `yaml:"command"`
	// TimeoutSeconds bounds probe command execution.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Metric extracts a numeric value from a file or an external probe.
// Failed probes yield a NaN sentinel observation, never an error that
// would abort the watcher.
type Metric struct {
	opts    MetricOptions
	pattern *regexp.Regexp
	timeout time.Duration
	logger  zerolog.Logger
}

// NewMetric validates the extractor configuration up front so a broken
// watcher is rejected at startup, not on its first check.
func NewMetric(opts MetricOptions, logger zerolog.Logger) (*Metric, error) {
	m := &Metric{
		opts:    opts,
		timeout: defaultProbeTimeout,
		logger:  logger.With().Str("observer", "metric").Str("extract", opts.Extract).Logger(),
	}
	if opts.TimeoutSeconds > 0 {
		m.timeout = time.Duration(opts.TimeoutSeconds) * time.Second
	}
	if opts.Group == 0 {
		m.opts.Group = 1
	}

	switch opts.Extract {
	case ExtractLineCount:
		if opts.Source == "" {
			return nil, errors.New("metric observer: line_count requires source")
		}
		if opts.Pattern != "" {
			re, err := regexp.Compile(opts.Pattern)
			if err != nil {
				return nil, fmt.Errorf("metric observer: pattern %q: %w", opts.Pattern, err)
			}
			m.pattern = re
		}
	case ExtractRegexCapture:
		if opts.Source == "" || opts.Pattern == "" {
			return nil, errors.New("metric observer: regex_capture requires source and pattern")
		}
		re, err := regexp.Compile(opts.Pattern)
		if err != nil {
			return nil, fmt.Errorf("metric observer: pattern %q: %w", opts.Pattern, err)
		}
		if re.NumSubexp() < m.opts.Group {
			return nil, fmt.Errorf("metric observer: pattern %q has no capture group %d", opts.Pattern, m.opts.Group)
		}
		m.pattern = re
	case ExtractJSONPath:
		if opts.Source == "" || opts.JSONPath == "" {
			return nil, errors.New("metric observer: json_path requires source and json_path")
		}
	case ExtractCommand:
		if opts.Command == "" {
			return nil, errors.New("metric observer: command extractor requires command")
		}
	default:
		return nil, fmt.Errorf("metric observer: unknown extractor %q", opts.Extract)
	}
	return m, nil
}

// Observe extracts the configured metric. A failed extraction returns a
// NaN observation with the error recorded in metadata.
func (m *Metric) Observe(ctx context.Context) (types.Observation, error) {
	meta := map[string]string{"extract": m.opts.Extract}

	var (
		value float64
		err   error
	)
	switch m.opts.Extract {
	case ExtractLineCount:
		value, err = m.lineCount()
	case ExtractRegexCapture:
		value, err = m.regexCapture()
	case ExtractJSONPath:
		value, err = m.jsonPath()
	case ExtractCommand:
		value, err = m.command(ctx)
	}
	if err != nil {
		m.logger.Warn().Err(err).Msg("Metric extraction failed")
		meta["error"] = err.Error()
		return types.NumberObservation(math.NaN(), meta), nil
	}

	m.logger.Debug().Float64("value", value).Msg("Metric extracted")
	return types.NumberObservation(value, meta), nil
}

func (m *Metric) lineCount() (float64, error) {
	data, err := os.ReadFile(m.opts.Source)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	count := 0
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		if m.pattern == nil || m.pattern.MatchString(line) {
			count++
		}
	}
	return float64(count), nil
}

func (m *Metric) regexCapture() (float64, error) {
	data, err := os.ReadFile(m.opts.Source)
	if err != nil {
		return 0, err
	}

	matches := m.pattern.FindAllStringSubmatch(string(data), -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("pattern %q matched nothing in %s", m.opts.Pattern, m.opts.Source)
	}

	match := matches[0]
	if m.opts.Position == "last" {
		match = matches[len(matches)-1]
	}
	return strconv.ParseFloat(strings.TrimSpace(match[m.opts.Group]), 64)
}

func (m *Metric) jsonPath() (float64, error) {
	data, err := os.ReadFile(m.opts.Source)
	if err != nil {
		return 0, err
	}

	result := gjson.GetBytes(data, m.opts.JSONPath)
	if !result.Exists() {
		return 0, fmt.Errorf("json path %q not found in %s", m.opts.JSONPath, m.opts.Source)
	}
	return result.Float(), nil
}

// command runs the probe under the configured timeout and parses its
// trimmed stdout as the value. Timeouts, non-zero exits and unparseable
// output all surface as errors, which Observe maps to the sentinel.
func (m *Metric) command(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "sh", "-c", m.opts.Command).Output()
	if ctx.Err() == context.DeadlineExceeded {
		return 0, fmt.Errorf("probe command timed out after %s", m.timeout)
	}
	if err != nil {
		return 0, fmt.Errorf("probe command failed: %w", err)
	}
	return strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
}
