package fetch

import (
	"maps"
	"strings"
	"time"
)

// JobSpec 构造 Job 的参数
type JobSpec struct {
	Metric  string
	Host    string
	Hosts   []string // 批量宏展开时本批次的主机
	Group   string
	Method  string
	URL     string
	Body    string
	Headers map[string]string
	Options map[string]string
	Mask    map[string]string // 原文 -> 脱敏文本
	Start   time.Time
	End     time.Time
}

// Job 一个完全解析好的拉取请求，构造后不可变
type Job struct {
	metric  string
	host    string
	hosts   []string
	group   string
	method  string
	url     string
	body    string
	headers map[string]string
	options map[string]string
	mask    map[string]string
	start   time.Time
	end     time.Time
}

// NewJob 复制 JobSpec 中所有可变字段
func NewJob(s JobSpec) Job {
	method := strings.ToUpper(s.Method)
	if method == "" {
		method = "GET"
	}
	return Job{
		metric:  s.Metric,
		host:    s.Host,
		hosts:   append([]string(nil), s.Hosts...),
		group:   s.Group,
		method:  method,
		url:     s.URL,
		body:    s.Body,
		headers: maps.Clone(s.Headers),
		options: maps.Clone(s.Options),
		mask:    maps.Clone(s.Mask),
		start:   s.Start,
		end:     s.End,
	}
}

func (j Job) Metric() string { return j.metric }
func (j Job) Host() string { return j.host }
func (j Job) Group() string { return j.group }
func (j Job) Method() string { return j.method }
func (j Job) URL() string { return j.url }
func (j Job) Body() string { return j.body }
func (j Job) Start() time.Time { return j.start }
func (j Job) End() time.Time { return j.end }
func (j Job) Hosts() []string { return append([]string(nil), j.hosts...) }
func (j Job) IsBatch() bool { return len(j.hosts) > 0 }
func (j Job) Header(k string) string { return j.headers[k] }

// Headers 返回请求头副本
func (j Job) Headers() map[string]string { return maps.Clone(j.headers) }

// Options 返回请求选项副本
func (j Job) Options() map[string]string { return maps.Clone(j.options) }

// Masked 把 s 中出现的密钥原文替换为脱敏文本，用于任何对外可见的日志
func (j Job) Masked(s string) string {
	for raw, masked := range j.mask {
		if raw == "" {
			continue
		}
		s = strings.ReplaceAll(s, raw, masked)
	}
	return s
}

// MaskedURL 脱敏后的 URL
func (j Job) MaskedURL() string { return j.Masked(j.url) }
