package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/apm-collector/pkg/backoff"
	"github.com/apm-collector/pkg/fetch"
)

// maxResponseBytes 单个响应体读取上限
const maxResponseBytes = 32 << 20

// 识别的 Options 键
const (
	OptionContentType = "content_type"
	OptionAccept      = "accept"
)

// HTTPFetcher 基于 net/http 的 FetchRaw 实现。
// 非 2xx 视为可重试错误，401/403 视为不可重试（凭据错误重试无意义）。
type HTTPFetcher struct {
	client *http.Client
	logger *zap.Logger
}

// NewHTTPFetcher client 为 nil 时使用 http.DefaultTransport
func NewHTTPFetcher(client *http.Client, logger *zap.Logger) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPFetcher{client: client, logger: logger}
}

func (f *HTTPFetcher) FetchRaw(ctx context.Context, job fetch.Job) ([]byte, error) {
	var body io.Reader
	if job.Body() != "" {
		body = strings.NewReader(job.Body())
	}
	req, err := http.NewRequestWithContext(ctx, job.Method(), job.URL(), body)
	if err != nil {
		return nil, backoff.NewPermanentError(fmt.Errorf("build request %s: %s", job.MaskedURL(), job.Masked(err.Error())))
	}
	for k, v := range job.Headers() {
		req.Header.Set(k, v)
	}
	opts := job.Options()
	if ct := opts[OptionContentType]; ct != "" {
		req.Header.Set("Content-Type", ct)
	} else if job.Body() != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if a := opts[OptionAccept]; a != "" {
		req.Header.Set("Accept", a)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		// url.Error 会带上完整 URL，必须脱敏
		return nil, fmt.Errorf("%s %s: %s", job.Method(), job.MaskedURL(), job.Masked(err.Error()))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response of %s: %w", job.MaskedURL(), err)
	}
	f.logger.Debug("http fetch",
		zap.String("method", job.Method()),
		zap.String("url", job.MaskedURL()),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("%s %s: unexpected status %d: %s",
			job.Method(), job.MaskedURL(), resp.StatusCode, job.Masked(snippet(data)))
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, backoff.NewPermanentError(err)
		}
		return nil, backoff.NewTransientError(err)
	}
	return data, nil
}

func snippet(b []byte) string {
	const n = 256
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
