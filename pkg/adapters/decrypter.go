// Package adapters 引擎外部协作方的默认实现：密钥解密、HTTP 拉取、JSON 归一化、
// JSON lines 文件持久化与执行日志。
package adapters

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/apm-collector/pkg/backoff"
)

// ErrUnsupportedRef 不支持的密钥引用格式
var ErrUnsupportedRef = errors.New("unsupported secret reference")

// EnvDecrypter 支持两种引用：
//
//	env:NAME     读取环境变量 NAME
//	plain:value  直接使用 value
type EnvDecrypter struct {
	lookup func(string) (string, bool)
}

func NewEnvDecrypter() *EnvDecrypter {
	return &EnvDecrypter{lookup: os.LookupEnv}
}

func (d *EnvDecrypter) Decrypt(_ context.Context, ref string) (string, error) {
	scheme, value, ok := strings.Cut(ref, ":")
	if !ok {
		return "", backoff.NewPermanentError(fmt.Errorf("%w: %q has no scheme", ErrUnsupportedRef, ref))
	}
	switch scheme {
	case "env":
		v, found := d.lookup(value)
		if !found {
			return "", backoff.NewPermanentError(fmt.Errorf("environment variable %s is not set", value))
		}
		return v, nil
	case "plain":
		return value, nil
	default:
		return "", backoff.NewPermanentError(fmt.Errorf("%w: scheme %q", ErrUnsupportedRef, scheme))
	}
}
