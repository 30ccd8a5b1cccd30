package xbroker

import (
	"fmt"
	"strings"
	"time"
)

// Options is a generic bag of keyword settings. It carries transport config
// blobs, per-route subscription options and command-line values.
// Getters tolerate the numeric types produced by YAML/JSON decoding.
type Options map[string]any

func (o Options) String(k, d string) string {
	switch v := o[k].(type) {
	case string:
		if v != "" {
			return v
		}
	case fmt.Stringer:
		return v.String()
	}
	return d
}

func (o Options) Int(k string, d int) int {
	switch v := o[k].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint:
		return int(v)
	case float64:
		return int(v)
	}
	return d
}

func (o Options) Int64(k string, d int64) int64 {
	switch v := o[k].(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return d
}

func (o Options) Bool(k string, d bool) bool {
	switch v := o[k].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(v) {
		case "true", "yes", "1":
			return true
		case "false", "no", "0":
			return false
		}
	}
	return d
}

// Duration accepts time.Duration, duration strings ("500ms") and raw nanoseconds.
func (o Options) Duration(k string, d time.Duration) time.Duration {
	switch v := o[k].(type) {
	case time.Duration:
		return v
	case string:
		if p, err := time.ParseDuration(v); err == nil {
			return p
		}
	case int:
		return time.Duration(v)
	case int64:
		return time.Duration(v)
	case float64:
		return time.Duration(v)
	}
	return d
}

// Strings accepts []string, []any and comma separated strings.
func (o Options) Strings(k string) []string {
	switch v := o[k].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			out = append(out, fmt.Sprint(s))
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return nil
}

// Has reports whether k is set.
func (o Options) Has(k string) bool {
	_, ok := o[k]
	return ok
}

// Merge returns a copy of o overlaid with other.
func (o Options) Merge(other Options) Options {
	out := make(Options, len(o)+len(other))
	for k, v := range o {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// mergeOptions flattens variadic option maps, later maps win.
func mergeOptions(opts []Options) Options {
	var out Options
	for _, o := range opts {
		if len(o) == 0 {
			continue
		}
		out = out.Merge(o)
	}
	return out
}
