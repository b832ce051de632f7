package task

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/apm-collector/pkg/aggregate"
	"github.com/apm-collector/pkg/backoff"
	"github.com/apm-collector/pkg/fetch"
	"github.com/apm-collector/pkg/template"
	"github.com/apm-collector/pkg/window"
)

const (
	defaultGroup = aggregate.DefaultGroupName
	canaryMetric = "canary"
)

// passResult 一次成功 pass 的产出，由 commit 应用到任务状态
type passResult struct {
	end        time.Time
	covered    int
	records    int
	heartbeats int
}

// safePass 把 pass 中的 panic 转为不可重试错误
func (e *Engine) safePass(ctx context.Context) (res *passResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = backoff.NewPermanentError(fmt.Errorf("tick pass panicked: %v", r))
		}
	}()
	return e.pass(ctx)
}

// pass 一次完整的采集流程：
// 1. 计算窗口
// 2. 构建拉取任务
// 3. 并发拉取
// 4. 归一化、打逻辑分钟、合并
// 5. 合成心跳
// 6. 持久化
func (e *Engine) pass(ctx context.Context) (*passResult, error) {
	// 1. 窗口每次尝试都重新计算
	clock := e.state.Clock()
	primary := e.resolver.Primary(clock)
	e.mu.Lock()
	e.state.CurrentEnd = primary.End
	e.mu.Unlock()
	e.resolver.RecordLookBackStarts(e.hostNames(), clock, e.state.HostStarts)

	// 2. 模板解析失败属于配置错误，不重试
	jobs, err := e.buildJobs(primary)
	if err != nil {
		return nil, err
	}

	// 3.
	outcomes := e.executor.Run(ctx, jobs)

	// 4.
	table := aggregate.NewTable()
	var firstErr error
	failed, discarded := 0, 0
	for _, o := range outcomes {
		if !o.OK() {
			failed++
			if firstErr == nil {
				firstErr = o.Err
			}
			continue
		}
		recs, err := e.c.Normalizer.Normalize(o.Job, o.Body)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("normalize response of %s: %w", o.Job.MaskedURL(), err)
			}
			continue
		}
		recs = e.stamp(o.Job, recs, primary.End)
		kept, n := aggregate.AssignMinutes(recs, func(r aggregate.MetricRecord) (int, bool) {
			return e.resolver.LogicalMinute(r.Timestamp, r.Host, clock, e.state.HostStarts)
		})
		discarded += n
		table.Merge(kept...)
	}
	if len(jobs) > 0 && failed == len(jobs) {
		return nil, fmt.Errorf("all %d fetch jobs failed: %w", failed, firstErr)
	}
	if failed > 0 {
		e.logger.Warn("some fetch jobs failed, continuing with partial data",
			zap.Int("failed", failed),
			zap.Int("jobs", len(jobs)),
			zap.String("first_error", e.masked(firstErr.Error())))
	}
	if discarded > 0 {
		e.logger.Debug("discarded records from the past", zap.Int("count", discarded))
	}

	// 5.
	covered := max(int(primary.End.Sub(clock.LastEnd)/time.Minute), 0)
	hbMinute := e.heartbeatMinute(table, clock, primary.End)
	heartbeats := table.SynthesizeHeartbeats(e.observedGroups(table), hbMinute, primary.End.Add(-time.Minute), e.params.Metadata)

	// 6.
	if _, err := table.Flush(ctx, e.c.Persister, e.params.Metadata); err != nil {
		return nil, err
	}
	e.metrics.Persisted(table.Len()+table.HeartbeatCount(), heartbeats)

	return &passResult{
		end:        primary.End,
		covered:    covered,
		records:    table.Len(),
		heartbeats: table.HeartbeatCount(),
	}, nil
}

// heartbeatMinute always_on 取本次观测到的最大逻辑分钟，bounded 取窗口最后一分钟（与数据记录同一原点）
func (e *Engine) heartbeatMinute(table *aggregate.Table, clock window.Clock, end time.Time) int {
	last := end.Add(-time.Minute)
	if e.params.Mode == window.AlwaysOn {
		if m, ok := table.MaxMinute(); ok {
			return m
		}
		return int(last.Unix() / 60)
	}
	return max(int(window.MinuteFloor(last).Sub(e.resolver.Origin(clock))/time.Minute), 0)
}

// stamp 补齐记录缺失的 host/group/timestamp 与任务标识
func (e *Engine) stamp(job fetch.Job, recs []aggregate.MetricRecord, end time.Time) []aggregate.MetricRecord {
	for i := range recs {
		r := &recs[i]
		if r.Host == "" {
			r.Host = job.Host()
		}
		if r.GroupName == "" {
			r.GroupName = e.groupOf(r.Host)
		}
		if r.Timestamp.IsZero() {
			r.Timestamp = end
		}
		if r.Values == nil {
			r.Values = map[string]float64{}
		}
		r.TaskMetadata = e.params.Metadata
	}
	return recs
}

func (e *Engine) hostNames() []string {
	names := make([]string, len(e.params.Hosts))
	for i, h := range e.params.Hosts {
		names[i] = h.Name
	}
	return names
}

func (e *Engine) groupOf(host string) string {
	if g, ok := e.hostGroups[host]; ok {
		return g
	}
	if strings.HasPrefix(host, e.params.ControlHostPrefix+"-") {
		if g, ok := e.hostGroups[e.params.TestHost]; ok {
			return g
		}
	}
	return defaultGroup
}

// observedGroups 配置中的分组加上本次记录中出现的分组
func (e *Engine) observedGroups(table *aggregate.Table) []string {
	set := make(map[string]struct{})
	for _, g := range e.hostGroups {
		set[g] = struct{}{}
	}
	if e.params.CanaryURL != "" {
		set[e.groupOf(e.params.TestHost)] = struct{}{}
	}
	for _, g := range table.Groups() {
		set[g] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for g := range set {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// buildJobs 为本次 tick 生成全部拉取任务
func (e *Engine) buildJobs(primary window.Window) ([]fetch.Job, error) {
	var jobs []fetch.Job
	for _, m := range e.params.Metrics {
		urlTmpl := joinURL(e.params.BaseURL, m.Path)

		if template.HasBatchMacro(urlTmpl) || template.HasBatchMacro(m.Body) {
			batch, err := e.batchJobs(m, urlTmpl, primary)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, batch...)
			continue
		}

		for _, h := range e.params.Hosts {
			for _, w := range e.resolver.ForHost(h.Name, primary, e.state.HostStarts) {
				j, err := e.newJob(m.Name, m.Method, urlTmpl, m.Body, w, e.groupOf(w.Host), nil)
				if err != nil {
					return nil, err
				}
				jobs = append(jobs, j)
			}
		}
	}

	if e.params.CanaryURL != "" && e.params.Strategy == window.Comparative {
		w := primary
		w.Host = e.params.TestHost
		j, err := e.newJob(canaryMetric, "GET", e.params.CanaryURL, "", w, e.groupOf(w.Host), nil)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// batchJobs URL 与 Body 中的批量宏按同样的主机切分，第 i 批的 URL 与 Body 对应同一批主机
func (e *Engine) batchJobs(m MetricTemplate, urlTmpl string, primary window.Window) ([]fetch.Job, error) {
	hosts := e.hostNames()
	urlBatches := template.ExpandBatches(urlTmpl, hosts)
	bodyBatches := template.ExpandBatches(m.Body, hosts)
	n := max(len(urlBatches), len(bodyBatches))

	jobs := make([]fetch.Job, 0, n)
	for i := 0; i < n; i++ {
		u, b := urlTmpl, m.Body
		var batchHosts []string
		if urlBatches != nil {
			u = urlBatches[i].Template
			batchHosts = urlBatches[i].Hosts
		}
		if bodyBatches != nil {
			b = bodyBatches[i].Template
			batchHosts = bodyBatches[i].Hosts
		}
		j, err := e.newJob(m.Name, m.Method, u, b, primary, defaultGroup, batchHosts)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (e *Engine) newJob(metric, method, urlTmpl, bodyTmpl string, w window.Window, group string, batchHosts []string) (fetch.Job, error) {
	rc := template.Context{StartTime: w.Start, EndTime: w.End, Host: w.Host, Secrets: e.secrets}

	u, err := template.Resolve(urlTmpl, rc)
	if err != nil {
		return fetch.Job{}, fmt.Errorf("metric %s url: %w", metric, err)
	}
	body, err := template.Resolve(bodyTmpl, rc)
	if err != nil {
		return fetch.Job{}, fmt.Errorf("metric %s body: %w", metric, err)
	}
	headers, err := template.ResolveMap(e.params.Headers, rc)
	if err != nil {
		return fetch.Job{}, fmt.Errorf("metric %s headers: %w", metric, err)
	}
	options, err := template.ResolveMap(e.params.Options, rc)
	if err != nil {
		return fetch.Job{}, fmt.Errorf("metric %s options: %w", metric, err)
	}

	return fetch.NewJob(fetch.JobSpec{
		Metric:  metric,
		Host:    w.Host,
		Hosts:   batchHosts,
		Group:   group,
		Method:  method,
		URL:     u,
		Body:    body,
		Headers: headers,
		Options: options,
		Mask:    e.mask,
		Start:   w.Start,
		End:     w.End,
	}), nil
}

// joinURL path 为完整 URL 时直接使用
func joinURL(base, path string) string {
	switch {
	case path == "":
		return base
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
		return path
	case base == "":
		return path
	default:
		return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
	}
}
