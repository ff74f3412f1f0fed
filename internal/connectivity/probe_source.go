package connectivity

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// ProbeSource polls a health endpoint. Any HTTP response below 500 counts
// as online; transport errors and 5xx count as offline.
type ProbeSource struct {
	URL      string
	Interval time.Duration
	Jitter   float64
	Timeout  time.Duration
	Client   *http.Client
	Logger   Logger

	sample func() float64
}

func NewProbeSource(url string, interval time.Duration, jitter float64, logger Logger) *ProbeSource {
	return &ProbeSource{
		URL:      url,
		Interval: interval,
		Jitter:   clampJitterRatio(jitter),
		Logger:   logger,
	}
}

func (s *ProbeSource) Run(ctx context.Context, report func(online bool)) error {
	if strings.TrimSpace(s.URL) == "" {
		return errors.New("probe url is required")
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	sample := s.sample
	if sample == nil {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		sample = rng.Float64
	}

	reporter := newChangeReporter(report)
	for {
		reporter.set(s.probe(ctx))
		if err := waitWithContext(ctx, jitteredIntervalWithSample(interval, s.Jitter, sample())); err != nil {
			return nil
		}
	}
}

func (s *ProbeSource) probe(ctx context.Context) bool {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, s.URL, nil)
	if err != nil {
		warnf(s.Logger, "build probe request: %v", err)
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
