package adapters

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/apm-collector/pkg/aggregate"
)

// FilePersister 以 JSON lines 追加写入文件，每条记录一行
type FilePersister struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

func NewFilePersister(path string, logger *zap.Logger) (*FilePersister, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FilePersister{path: path, logger: logger}, nil
}

func (p *FilePersister) Persist(ctx context.Context, meta aggregate.Metadata, records []aggregate.MetricRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", p.path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return false, fmt.Errorf("encode record %s: %w", r.Identity(), err)
		}
	}
	if err := w.Flush(); err != nil {
		return false, fmt.Errorf("write %s: %w", p.path, err)
	}

	p.logger.Debug("records persisted",
		zap.String("path", p.path),
		zap.String("account_id", meta.AccountID),
		zap.String("state_execution_id", meta.StateExecutionID),
		zap.Int("records", len(records)))
	return true, nil
}
