// Package probe checks the reachability of external dependencies. Probes
// back the dependency components of the full health check and the
// synthetic alert rules.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Probe checks one dependency.
type Probe interface {
	Name() string
	Check(ctx context.Context) error
}

// Config describes an HTTP probe.
type Config struct {
	Name    string        `mapstructure:"name" yaml:"name"`
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// Critical dependencies turn the full health check unhealthy when down.
	Critical bool `mapstructure:"critical" yaml:"critical"`
}

// HTTP is a probe that succeeds when a GET returns a status below 400.
type HTTP struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTP creates an HTTP probe.
func NewHTTP(cfg Config) *HTTP {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTP{
		name:   cfg.Name,
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTP) Name() string { return p.name }

func (p *HTTP) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request; %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s; %w", p.name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s returned status %d", p.name, resp.StatusCode)
	}
	return nil
}

// Func adapts a function to Probe.
type Func struct {
	ProbeName string
	Fn        func(ctx context.Context) error
}

func (f Func) Name() string { return f.ProbeName }

func (f Func) Check(ctx context.Context) error { return f.Fn(ctx) }

// Result is the outcome of one probe run.
type Result struct {
	Name    string        `json:"name"`
	Err     error         `json:"-"`
	Latency time.Duration `json:"latency"`
	At      time.Time     `json:"at"`
}

// Run executes p with a timeout and measures its latency.
func Run(ctx context.Context, p Probe, timeout time.Duration) Result {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	err := p.Check(ctx)
	return Result{Name: p.Name(), Err: err, Latency: time.Since(start), At: start}
}
