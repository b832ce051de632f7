package task

import (
	"context"

	"github.com/apm-collector/pkg/aggregate"
	"github.com/apm-collector/pkg/fetch"
)

// Decrypter 解密密钥引用，任务启动时调用一次
type Decrypter interface {
	Decrypt(ctx context.Context, ref string) (string, error)
}

// Normalizer 把某个拉取任务的原始响应转换为记录。
// 记录中缺失的 host/group/timestamp 由引擎补齐。
type Normalizer interface {
	Normalize(job fetch.Job, body []byte) ([]aggregate.MetricRecord, error)
}

// LogStreamer 面向用户的执行日志，发送即忘，不在重试关键路径上
type LogStreamer interface {
	StreamLog(ctx context.Context, line string)
}

// Persister 见 aggregate.Persister
type Persister = aggregate.Persister

// Fetcher 见 fetch.Fetcher
type Fetcher = fetch.Fetcher

// Collaborators 引擎依赖的全部外部协作方
type Collaborators struct {
	Decrypter  Decrypter
	Fetcher    Fetcher
	Normalizer Normalizer
	Persister  Persister
	Logs       LogStreamer
}

type nopStreamer struct{}

func (nopStreamer) StreamLog(context.Context, string) {}
