package viewer

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/nvisgen/internal/domain"
)

// Script 是随二进制打包的浏览器端 viewer（写出时逐字节复制，不做任何生成）。
//
//go:embed assets/nvis.js
var Script []byte

// IndexHTML 是固定的 HTML 外壳：加载 nvis.js，并用 "config.json" 调用 nvis.config。
//
//go:embed assets/index.html
var IndexHTML []byte

// BootCall 是 index.html 中必须出现的启动调用。
var BootCall = fmt.Sprintf("nvis.config(%q)", domain.ConfigFileName)

// CheckIndex 校验 HTML 是否能正确启动 viewer：
// - 存在 <script src="nvis.js">
// - 某个内联 <script> 含有 nvis.config("config.json")
//
// 用 HTML 解析而不是字符串匹配：注释里出现的同样文本不算数。
func CheckIndex(r io.Reader) error {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return err
	}

	hasScript := false
	doc.Find("script[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		if strings.TrimSpace(src) == domain.ScriptFileName {
			hasScript = true
			return false
		}
		return true
	})
	if !hasScript {
		return fmt.Errorf("缺少 <script src=%q>", domain.ScriptFileName)
	}

	hasBoot := false
	doc.Find("script").Not("[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(compact(s.Text()), BootCall) {
			hasBoot = true
			return false
		}
		return true
	})
	if !hasBoot {
		return errors.New("缺少启动调用 " + BootCall)
	}
	return nil
}

// CheckIndexBytes 是 CheckIndex 的便捷形式。
func CheckIndexBytes(b []byte) error {
	if len(b) == 0 {
		return errors.New("html 为空")
	}
	return CheckIndex(bytes.NewReader(b))
}

// compact 去掉所有空白，容忍 nvis.config( "config.json" ) 之类的排版差异。
func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}
