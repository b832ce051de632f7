package adapters

import (
	"bytes"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/apm-collector/pkg/aggregate"
	"github.com/apm-collector/pkg/fetch"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// rawRecord 后端响应中的单条记录；timestamp 为毫秒
type rawRecord struct {
	Name      string             `json:"name"`
	Host      string             `json:"host"`
	Group     string             `json:"group"`
	Timestamp int64              `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
}

type rawEnvelope struct {
	Records []rawRecord `json:"records"`
}

// JSONNormalizer 解析 [{...}] 或 {"records": [{...}]} 两种格式。
// 记录没有 name 时使用拉取任务的指标名；host/group/timestamp 留空由引擎补齐。
type JSONNormalizer struct{}

func NewJSONNormalizer() *JSONNormalizer { return &JSONNormalizer{} }

func (JSONNormalizer) Normalize(job fetch.Job, body []byte) ([]aggregate.MetricRecord, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	var raws []rawRecord
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, fmt.Errorf("decode record array for metric %s: %w", job.Metric(), err)
		}
	case '{':
		var env rawEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("decode record envelope for metric %s: %w", job.Metric(), err)
		}
		raws = env.Records
	default:
		return nil, fmt.Errorf("metric %s: unexpected response starting with %q", job.Metric(), body[0])
	}

	out := make([]aggregate.MetricRecord, 0, len(raws))
	for _, r := range raws {
		name := r.Name
		if name == "" {
			name = job.Metric()
		}
		rec := aggregate.MetricRecord{
			Name:      name,
			Host:      r.Host,
			GroupName: r.Group,
			Values:    r.Values,
		}
		if r.Timestamp > 0 {
			rec.Timestamp = time.UnixMilli(r.Timestamp).UTC()
		}
		out = append(out, rec)
	}
	return out, nil
}
