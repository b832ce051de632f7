package template

import (
	"regexp"
	"strings"
)

// MaxHostsPerBatch 单个批量宏最多展开的主机数
const MaxHostsPerBatch = 15

// $harness_batch{<hostPattern>,'<separator>'}
var batchPattern = regexp.MustCompile(`\$harness_batch\{(.+?),\s*'([^']*)'\}`)

// Batch 一个批次展开后的模板以及对应的主机
type Batch struct {
	Template string
	Hosts    []string
}

// HasBatchMacro 判断模板中是否有批量宏
func HasBatchMacro(tmpl string) bool {
	return batchPattern.MatchString(tmpl)
}

// ExpandBatches 按主机顺序把主机切成最多 MaxHostsPerBatch 个一批，
// 每批生成一份模板：模板中每一个宏都替换成 pattern(${host}=h) 以 separator 连接的结果。
// 模板中没有宏时返回 nil。
func ExpandBatches(tmpl string, hosts []string) []Batch {
	if !HasBatchMacro(tmpl) || len(hosts) == 0 {
		return nil
	}
	batches := make([]Batch, 0, (len(hosts)+MaxHostsPerBatch-1)/MaxHostsPerBatch)
	for start := 0; start < len(hosts); start += MaxHostsPerBatch {
		end := min(start+MaxHostsPerBatch, len(hosts))
		chunk := append([]string(nil), hosts[start:end]...)

		expanded := batchPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
			sub := batchPattern.FindStringSubmatch(m)
			pattern, sep := sub[1], sub[2]
			items := make([]string, len(chunk))
			for i, h := range chunk {
				items[i] = strings.ReplaceAll(pattern, Host, h)
			}
			return strings.Join(items, sep)
		})
		batches = append(batches, Batch{Template: expanded, Hosts: chunk})
	}
	return batches
}
