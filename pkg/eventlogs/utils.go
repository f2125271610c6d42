// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package eventlogs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// withDefaults fills zero-valued settings from DefaultSettings.
func (cfg Settings) withDefaults() Settings {
	def := DefaultSettings()
	cfg.Endpoint = defaultString(strings.TrimSpace(cfg.Endpoint), def.Endpoint)
	cfg.OutputDir = defaultString(cfg.OutputDir, def.OutputDir)
	cfg.HistoryDir = defaultString(cfg.HistoryDir, def.HistoryDir)
	cfg.Timeout = defaultString(cfg.Timeout, def.Timeout)
	cfg.BackoffInitial = defaultString(cfg.BackoffInitial, def.BackoffInitial)
	cfg.BackoffMax = defaultString(cfg.BackoffMax, def.BackoffMax)
	cfg.Verify = defaultString(strings.ToLower(cfg.Verify), def.Verify)
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return cfg
}

// Validate checks settings after defaults have been applied.
func (cfg Settings) Validate() error {
	cfg = cfg.withDefaults()
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid setting %s: failed %q check (value %v)", fe.Field(), fe.Tag(), fe.Value())
		}
		return err
	}
	for name, v := range map[string]string{
		"timeout":         cfg.Timeout,
		"backoff-initial": cfg.BackoffInitial,
		"backoff-max":     cfg.BackoffMax,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

// backoff implements exponential backoff with jitter.
type backoff struct {
	next   time.Duration
	max    time.Duration
	mult   float64
	jitter time.Duration
}

// newRetry creates a new backoff instance from settings.
func newRetry(cfg Settings) *backoff {
	initial := 400 * time.Millisecond
	max := 10 * time.Second
	if d, err := time.ParseDuration(defaultString(cfg.BackoffInitial, "400ms")); err == nil {
		initial = d
	}
	if d, err := time.ParseDuration(defaultString(cfg.BackoffMax, "10s")); err == nil {
		max = d
	}
	return &backoff{next: initial, max: max, mult: 1.6, jitter: 120 * time.Millisecond}
}

// Next returns the next backoff duration.
func (b *backoff) Next() time.Duration {
	d := b.next + time.Duration(int64(b.jitter)*int64(time.Now().UnixNano()%3)/2)
	b.next = time.Duration(float64(b.next) * b.mult)
	if b.next > b.max {
		b.next = b.max
	}
	return d
}

// sleepCtx waits for d or returns false if ctx is canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// defaultString returns s if non-empty, otherwise def.
func defaultString(s string, def string) string {
	if s == "" {
		return def
	}
	return s
}

// newEmitter stamps events and tolerates a nil callback.
func newEmitter(progress ProgressFunc) func(ProgressEvent) {
	return func(ev ProgressEvent) {
		if progress == nil {
			return
		}
		if ev.Time.IsZero() {
			ev.Time = time.Now()
		}
		progress(ev)
	}
}
