// Package aggregate 单个 tick 内的记录聚合表：按 (name+host, timestamp) 去重，
// 合成分组心跳，并按逻辑分钟有序地交给持久化层。
//
// Table 只在一个 tick 的线程内使用，不做并发保护。
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrPersistRejected 持久化层返回 false
var ErrPersistRejected = errors.New("persister rejected records")

// Persister 持久化协作方；返回 false 与返回 error 同样视为失败
type Persister interface {
	Persist(ctx context.Context, meta Metadata, records []MetricRecord) (bool, error)
}

// MinuteFunc 计算记录的逻辑分钟，false 表示记录应丢弃
type MinuteFunc func(MetricRecord) (int, bool)

type key struct {
	identity string
	ts       int64
}

// Table 聚合表
type Table struct {
	records    map[key]MetricRecord
	heartbeats map[string]MetricRecord

	maxMinute int
	hasMinute bool
}

func NewTable() *Table {
	return &Table{
		records:    make(map[key]MetricRecord),
		heartbeats: make(map[string]MetricRecord),
	}
}

// AssignMinutes 为记录打上逻辑分钟，返回保留的记录与被丢弃的数量
func AssignMinutes(records []MetricRecord, fn MinuteFunc) ([]MetricRecord, int) {
	kept := make([]MetricRecord, 0, len(records))
	discarded := 0
	for _, r := range records {
		m, ok := fn(r)
		if !ok {
			discarded++
			continue
		}
		r.DataCollectionMinute = m
		kept = append(kept, r)
	}
	return kept, discarded
}

// Merge 合并记录，同一标识后写覆盖先写；返回当前表中数据记录数
func (t *Table) Merge(records ...MetricRecord) int {
	for _, r := range records {
		if r.IsHeartbeat() {
			if r.GroupName == "" {
				r.GroupName = DefaultGroupName
			}
			t.heartbeats[r.GroupName] = r
			continue
		}
		t.records[key{identity: r.Identity(), ts: r.Timestamp.UnixNano()}] = r
		if !t.hasMinute || r.DataCollectionMinute > t.maxMinute {
			t.maxMinute = r.DataCollectionMinute
			t.hasMinute = true
		}
	}
	return len(t.records)
}

// Len 数据记录数（不含心跳）
func (t *Table) Len() int { return len(t.records) }

// HeartbeatCount 心跳记录数
func (t *Table) HeartbeatCount() int { return len(t.heartbeats) }

// MaxMinute 本 tick 观测到的最大逻辑分钟
func (t *Table) MaxMinute() (int, bool) { return t.maxMinute, t.hasMinute }

// Groups 数据记录中出现过的分组
func (t *Table) Groups() []string {
	set := make(map[string]struct{})
	for _, r := range t.records {
		g := r.GroupName
		if g == "" {
			g = DefaultGroupName
		}
		set[g] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for g := range set {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// SynthesizeHeartbeats 为尚无心跳的每个分组追加一条心跳，返回新增数量
func (t *Table) SynthesizeHeartbeats(groups []string, minute int, ts time.Time, meta Metadata) int {
	added := 0
	for _, g := range groups {
		if g == "" {
			g = DefaultGroupName
		}
		if _, ok := t.heartbeats[g]; ok {
			continue
		}
		t.heartbeats[g] = NewHeartbeat(g, minute, ts, meta)
		added++
	}
	return added
}

// Records 按 (逻辑分钟, 时间戳, 标识) 排序后的全部记录，心跳排在同一位置的数据记录之后
func (t *Table) Records() []MetricRecord {
	out := make([]MetricRecord, 0, len(t.records)+len(t.heartbeats))
	for _, r := range t.records {
		out = append(out, r)
	}
	for _, r := range t.heartbeats {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DataCollectionMinute != b.DataCollectionMinute {
			return a.DataCollectionMinute < b.DataCollectionMinute
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.IsHeartbeat() != b.IsHeartbeat() {
			return !a.IsHeartbeat()
		}
		if a.Identity() != b.Identity() {
			return a.Identity() < b.Identity()
		}
		return a.GroupName < b.GroupName
	})
	return out
}

// Flush 把全部记录交给持久化层。失败时不修改表，由调用方决定是否重试。
func (t *Table) Flush(ctx context.Context, p Persister, meta Metadata) (bool, error) {
	ok, err := p.Persist(ctx, meta, t.Records())
	if err != nil {
		return false, fmt.Errorf("persist: %w", err)
	}
	if !ok {
		return false, ErrPersistRejected
	}
	return true, nil
}

// Reset 清空表
func (t *Table) Reset() {
	t.records = make(map[key]MetricRecord)
	t.heartbeats = make(map[string]MetricRecord)
	t.maxMinute = 0
	t.hasMinute = false
}
