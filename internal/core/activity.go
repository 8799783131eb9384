package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ActivityConfig holds a persona's posting rules.
// Values are always validated: build it through ParseActivityConfig.
type ActivityConfig struct {
	MaxDailyPosts      int     `json:"maxDailyPosts"`
	ReplyProbability   float64 `json:"replyProbability"`
	SummaryProbability float64 `json:"summaryProbability"`
	Temperature        float64 `json:"temperature"`
	MinWords           int     `json:"minWords"`
	MaxWords           int     `json:"maxWords"`
	AllowNewThreads    bool    `json:"allowNewThreads"`
}

// DefaultActivityConfig returns the rules used when a persona stores nothing
func DefaultActivityConfig() ActivityConfig {
	return ActivityConfig{
		MaxDailyPosts:      6,
		ReplyProbability:   0.6,
		SummaryProbability: 0.2,
		Temperature:        0.7,
		MinWords:           80,
		MaxWords:           220,
		AllowNewThreads:    true,
	}
}

// ParseActivityConfig decodes a loosely typed JSON blob into a valid config.
// Missing or malformed fields fall back to defaults; numeric fields are
// clamped into range. An empty blob yields the defaults.
func ParseActivityConfig(raw []byte) ActivityConfig {
	cfg := DefaultActivityConfig()
	if len(strings.TrimSpace(string(raw))) == 0 {
		return cfg
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return cfg
	}

	if v, ok := number(fields["maxDailyPosts"]); ok {
		cfg.MaxDailyPosts = int(v)
	}
	if v, ok := number(fields["replyProbability"]); ok {
		cfg.ReplyProbability = v
	}
	if v, ok := number(fields["summaryProbability"]); ok {
		cfg.SummaryProbability = v
	}
	if v, ok := number(fields["temperature"]); ok {
		cfg.Temperature = v
	}
	if v, ok := number(fields["minWords"]); ok {
		cfg.MinWords = int(v)
	}
	if v, ok := number(fields["maxWords"]); ok {
		cfg.MaxWords = int(v)
	}
	if v, ok := fields["allowNewThreads"].(bool); ok {
		cfg.AllowNewThreads = v
	}

	return cfg.Normalize()
}

// Normalize clamps every field into its allowed range
func (c ActivityConfig) Normalize() ActivityConfig {
	def := DefaultActivityConfig()

	if c.MaxDailyPosts < 1 {
		c.MaxDailyPosts = 1
	}
	c.ReplyProbability = clamp(c.ReplyProbability, 0, 1)
	c.SummaryProbability = clamp(c.SummaryProbability, 0, 1)
	c.Temperature = clamp(c.Temperature, 0, 1.5)

	if c.MinWords < 1 {
		c.MinWords = def.MinWords
	}
	if c.MaxWords <= c.MinWords {
		c.MaxWords = c.MinWords + (def.MaxWords - def.MinWords)
	}
	return c
}

// Validate reports whether the config already satisfies its invariants
func (c ActivityConfig) Validate() error {
	switch {
	case c.MaxDailyPosts < 1:
		return fmt.Errorf("%w: maxDailyPosts must be >= 1", ErrInvalidInput)
	case c.ReplyProbability < 0 || c.ReplyProbability > 1:
		return fmt.Errorf("%w: replyProbability out of range", ErrInvalidInput)
	case c.SummaryProbability < 0 || c.SummaryProbability > 1:
		return fmt.Errorf("%w: summaryProbability out of range", ErrInvalidInput)
	case c.Temperature < 0 || c.Temperature > 1.5:
		return fmt.Errorf("%w: temperature out of range", ErrInvalidInput)
	case c.MinWords >= c.MaxWords:
		return fmt.Errorf("%w: minWords must be below maxWords", ErrInvalidInput)
	}
	return nil
}

// ParseDomains decodes a JSON array of topic tags. Anything else yields nil.
func ParseDomains(raw []byte) []string {
	var items []interface{}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	domains := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			domains = append(domains, s)
		}
	}
	return domains
}

// ParseActiveDays decodes a schedule's weekday list. It accepts a JSON array
// of integers (or numeric strings) and, for hand-edited rows, a comma
// separated list. Every value must be within 0..6.
func ParseActiveDays(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty active days", ErrInvalidSchedule)
	}

	var items []interface{}
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, fmt.Errorf("%w: active days: %v", ErrInvalidSchedule, err)
		}
	} else {
		for _, part := range strings.Split(raw, ",") {
			items = append(items, strings.TrimSpace(part))
		}
	}

	days := make([]int, 0, len(items))
	for _, item := range items {
		var day int
		switch v := item.(type) {
		case float64:
			if v != float64(int(v)) {
				return nil, fmt.Errorf("%w: non-integer day %v", ErrInvalidSchedule, v)
			}
			day = int(v)
		case string:
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("%w: day %q", ErrInvalidSchedule, v)
			}
			day = n
		default:
			return nil, fmt.Errorf("%w: day %v", ErrInvalidSchedule, item)
		}
		if day < 0 || day > 6 {
			return nil, fmt.Errorf("%w: day %d out of range", ErrInvalidSchedule, day)
		}
		days = append(days, day)
	}
	return days, nil
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
