package util

import (
	"fmt"

	"github.com/common-nighthawk/go-figure"
)

// 定义颜色常量
const (
	ColorReset  = "\x1b[0m"
	ColorRed    = "\x1b[1;31m"
	ColorGreen  = "\x1b[1;32m"
	ColorYellow = "\x1b[1;33m"
	ColorBlue   = "\x1b[1;34m"
	ColorCyan   = "\x1b[1;36m"
)

// 字符串转 ANSI 颜色码
func colorCode(name string) string {
	switch name {
	case "ColorRed":
		return ColorRed
	case "ColorGreen":
		return ColorGreen
	case "ColorYellow":
		return ColorYellow
	case "ColorBlue":
		return ColorBlue
	case "ColorCyan":
		return ColorCyan
	default:
		return ColorReset
	}
}

// BannerLines 生成 ASCII banner 的每一行
func BannerLines(text string) []string {
	return figure.NewFigure(text, "", true).Slicify()
}

// PrintBanner 打印整体统一颜色的 ASCII banner，后跟任务标识
func PrintBanner(text, color, subtitle string) {
	ansiColor := colorCode(color)
	for _, line := range BannerLines(text) {
		fmt.Println(ansiColor + line + ColorReset)
	}
	if subtitle != "" {
		fmt.Println(ansiColor + subtitle + ColorReset)
	}
}
