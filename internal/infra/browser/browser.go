package browser

import (
	"fmt"
	"os"

	pkgbrowser "github.com/pkg/browser"
)

// 可替换：测试里不真的拉起浏览器。
var openURL = pkgbrowser.OpenURL

func init() {
	// 打开命令的输出不能混进 stdout（stdout 只留给 index.html 路径）。
	pkgbrowser.Stdout = os.Stderr
}

// Open 用系统默认浏览器打开 url，等待打开命令退出。
func Open(url string) error {
	if err := openURL(url); err != nil {
		return fmt.Errorf("打开浏览器失败（%s）：%w", url, err)
	}
	return nil
}
