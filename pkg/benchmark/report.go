package benchmark

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MethodResult is the outcome of one integration method
type MethodResult struct {
	Method          string        `json:"method" yaml:"method"`
	IntegrationTime time.Duration `json:"integration_time_ns" yaml:"integration_time"`
	TotalTime       time.Duration `json:"total_time_ns" yaml:"total_time"`
	Scores          *Scores       `json:"scores,omitempty" yaml:"scores,omitempty"`
	Error           string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report collects the results of one benchmark run
type Report struct {
	RunID    string         `json:"run_id" yaml:"run_id"`
	Started  time.Time      `json:"started" yaml:"started"`
	Finished time.Time      `json:"finished" yaml:"finished"`
	BatchKey string         `json:"batch_key" yaml:"batch_key"`
	LabelKey string         `json:"label_key" yaml:"label_key"`
	Results  []MethodResult `json:"results" yaml:"results"`
}

func NewReport(opts Options) *Report {
	return &Report{
		RunID:    NewRunID(),
		Started:  time.Now(),
		BatchKey: opts.BatchKey,
		LabelKey: opts.LabelKey,
	}
}

// Write encodes the report as json, yaml or a plain-text table
func (r *Report) Write(w io.Writer, format string) error {
	switch strings.ToLower(format) {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case "table", "text":
		return r.writeTable(w)
	default:
		return fmt.Errorf("unsupported report format: %s", format)
	}
}

func (r *Report) writeTable(w io.Writer) error {
	seen := make(map[string]bool)
	var names []string
	for _, res := range r.Results {
		if res.Scores == nil {
			continue
		}
		for name := range res.Scores.Metrics {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)

	fmt.Fprintf(w, "%-28s", "metric")
	for _, res := range r.Results {
		fmt.Fprintf(w, " %14s", res.Method)
	}
	fmt.Fprintln(w)

	for _, name := range names {
		fmt.Fprintf(w, "%-28s", name)
		for _, res := range r.Results {
			if v, ok := res.value(name); ok {
				fmt.Fprintf(w, " %14.4f", v)
			} else {
				fmt.Fprintf(w, " %14s", "-")
			}
		}
		fmt.Fprintln(w)
	}

	for _, res := range r.Results {
		if res.Error != "" {
			if _, err := fmt.Fprintf(w, "%s failed: %s\n", res.Method, res.Error); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m MethodResult) value(name string) (float64, bool) {
	if m.Scores == nil {
		return 0, false
	}
	v, ok := m.Scores.Metrics[name]
	return v, ok
}
