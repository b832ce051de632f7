// Package template 负责把请求模板中的时间、主机、密钥占位符替换成具体值，
// 并展开 $harness_batch{...} 批量主机宏。所有函数都是纯函数。
package template

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/apm-collector/pkg/backoff"
)

// 内置占位符
const (
	StartTime        = "${start_time}"
	EndTime          = "${end_time}"
	StartTimeSeconds = "${start_time_seconds}"
	EndTimeSeconds   = "${end_time_seconds}"
	StartTimeISO     = "${start_time_iso}"
	EndTimeISO       = "${end_time_iso}"
	Host             = "${host}"
)

var (
	// ErrUnresolvedPlaceholder 模板中存在无法解析的 ${name}
	ErrUnresolvedPlaceholder = errors.New("unresolved placeholder")

	placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)
)

// Context 一次解析所需的上下文
type Context struct {
	StartTime time.Time
	EndTime   time.Time
	Host      string
	Secrets   map[string]string
}

// Resolve 按固定顺序替换：毫秒时间 → 秒级时间 → ISO 时间 → 主机 → 通用 ${name}（从 Secrets 查找）。
// 通用占位符在 Secrets 中不存在时返回 Permanent 错误，任务无法继续。
func Resolve(tmpl string, rc Context) (string, error) {
	if tmpl == "" {
		return "", nil
	}
	s := strings.ReplaceAll(tmpl, StartTime, strconv.FormatInt(rc.StartTime.UnixMilli(), 10))
	s = strings.ReplaceAll(s, EndTime, strconv.FormatInt(rc.EndTime.UnixMilli(), 10))
	s = strings.ReplaceAll(s, StartTimeSeconds, strconv.FormatInt(rc.StartTime.Unix(), 10))
	s = strings.ReplaceAll(s, EndTimeSeconds, strconv.FormatInt(rc.EndTime.Unix(), 10))
	s = strings.ReplaceAll(s, StartTimeISO, rc.StartTime.UTC().Format(time.RFC3339))
	s = strings.ReplaceAll(s, EndTimeISO, rc.EndTime.UTC().Format(time.RFC3339))
	s = strings.ReplaceAll(s, Host, rc.Host)

	var missing []string
	s = placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		if v, ok := lookupSecret(rc.Secrets, name); ok {
			return v
		}
		missing = append(missing, name)
		return m
	})
	if len(missing) > 0 {
		return "", backoff.NewPermanentError(fmt.Errorf("%w: %s", ErrUnresolvedPlaceholder, strings.Join(missing, ",")))
	}
	return s, nil
}

// ResolveMap 对 map 的每个值执行 Resolve，返回新的 map
func ResolveMap(in map[string]string, rc Context) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for k, v := range in {
		r, err := Resolve(v, rc)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", k, err)
		}
		out[k] = r
	}
	return out, nil
}

// lookupSecret 先精确匹配，再按小写匹配（viper 会把配置键转成小写）
func lookupSecret(secrets map[string]string, name string) (string, bool) {
	if v, ok := secrets[name]; ok {
		return v, true
	}
	v, ok := secrets[strings.ToLower(name)]
	return v, ok
}
