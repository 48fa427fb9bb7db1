// Package http builds *http.Client values from a small ClientConfig, with
// presets for the outbound integrations the core talks to (LLM providers,
// Slack, Prometheus remote endpoints).
package http

import (
	"net"
	"net/http"
	"time"
)

// ClientConfig configures a pooled, timeout-bounded http.Client.
type ClientConfig struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
	DisableKeepAlives   bool
}

// DefaultClientConfig is a sane general-purpose baseline.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// SlackClientConfig favors low latency and a short timeout: a notification
// is best-effort and must never stall the job that triggered it.
func SlackClientConfig() ClientConfig {
	cfg := DefaultClientConfig()
	cfg.Timeout = 5 * time.Second
	cfg.MaxIdleConnsPerHost = 2
	return cfg
}

// PrometheusClientConfig is used for any outbound push (remote-write); long
// idle timeout since pushes are infrequent and bursty.
func PrometheusClientConfig() ClientConfig {
	cfg := DefaultClientConfig()
	cfg.Timeout = 10 * time.Second
	cfg.IdleConnTimeout = 5 * time.Minute
	return cfg
}

// LLMClientConfig is tuned for slow, large-payload provider calls: long
// timeout, small per-host pool since providers are rate-limited anyway.
func LLMClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             120 * time.Second,
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     60 * time.Second,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// NewClient builds an *http.Client from cfg.
func NewClient(cfg ClientConfig) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
		DialContext: (&net.Dialer{
			Timeout: cfg.DialTimeout,
		}).DialContext,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}
