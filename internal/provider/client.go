package provider

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"transit-tracker/internal/logger"
)

// LoggingRoundTripper logs every outbound provider request.
type LoggingRoundTripper struct {
	Proxied http.RoundTripper
}

func (lrt *LoggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	log := logger.Named("provider.http")

	resp, err := lrt.Proxied.RoundTrip(req)
	duration := time.Since(start)
	if err != nil {
		log.Warn("provider request failed",
			zap.String("method", req.Method),
			zap.String("url", req.URL.String()),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, err
	}

	log.Debug("provider request completed",
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("duration", duration),
	)
	return resp, nil
}

// NewClient returns an http.Client with request logging. The per-request deadline comes from
// the caller's context; timeout is only a safety net.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &LoggingRoundTripper{Proxied: http.DefaultTransport},
		Timeout:   timeout,
	}
}
