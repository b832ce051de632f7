package template

import (
	"encoding/base64"
	"regexp"
)

var base64FuncPattern = regexp.MustCompile(`encodeWithBase64\(([^)]*)\)`)

// EvaluateFunctions 在密钥值入库前计算其中的 encodeWithBase64(...) 调用，
// 与占位符替换无关。返回新的 map，不修改入参。
func EvaluateFunctions(secrets map[string]string) map[string]string {
	out := make(map[string]string, len(secrets))
	for k, v := range secrets {
		out[k] = base64FuncPattern.ReplaceAllStringFunc(v, func(m string) string {
			arg := base64FuncPattern.FindStringSubmatch(m)[1]
			return base64.StdEncoding.EncodeToString([]byte(arg))
		})
	}
	return out
}

// MaskMap 为每个非空密钥值生成脱敏映射（原值 -> "******"）
func MaskMap(secrets map[string]string) map[string]string {
	out := make(map[string]string, len(secrets))
	for _, v := range secrets {
		if v == "" {
			continue
		}
		out[v] = "******"
	}
	return out
}
