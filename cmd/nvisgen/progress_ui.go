package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/nvisgen/internal/app/generate"
	"github.com/John-Robertt/nvisgen/internal/config"
	"github.com/John-Robertt/nvisgen/internal/domain"
)

var _ generate.Observer = (*progressUI)(nil)

// progressUI 把生成过程的事件打印为简短的进度行。
//
// 所有输出都写到 stderr：stdout 只留给 index.html 路径。
type progressUI struct {
	w io.Writer

	mu        sync.Mutex
	startedAt time.Time
	now       func() time.Time
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{w: w, now: time.Now}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.startedAt = now

	fmt.Fprintf(p.w, "[%s] nvisgen\n", now.Format("15:04:05"))
	fmt.Fprintln(p.w, "配置（生效）:")
	fmt.Fprintf(p.w, "  root: %s\n", eff.Root)
	fmt.Fprintf(p.w, "  script: %s\n", scriptLabel(eff.Script))
	if eff.Serve {
		fmt.Fprintf(p.w, "  serve: %s open=%s\n", hostPort(bindLabel(eff.Bind), eff.Port), onOff(eff.Open))
	} else {
		fmt.Fprintln(p.w, "  serve: off")
	}
	fmt.Fprintln(p.w)
}

func (p *progressUI) OnStream(idx, total int, s domain.Stream, found int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	note := ""
	switch {
	case found == 0:
		note = " (没有图片)"
	case found > len(s.Images):
		note = fmt.Sprintf(" (共 %d 张，只取前 %d 张)", found, len(s.Images))
	}
	fmt.Fprintf(p.w, "[%d/%d] %s images=%d%s\n", idx, total, s.Name, len(s.Images), note)
}

func (p *progressUI) OnSkip(path string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.w, "警告：跳过 %s（%v）\n", path, err)
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case generate.StageScan:
		fmt.Fprintf(p.w, "扫描: streams=%d images=%d (%s)\n",
			intField(fields, "streams"), intField(fields, "images"), formatShortDuration(dur),
		)
	case generate.StageWrite:
		fmt.Fprintf(p.w, "写入: files=%d (%s) 总计 %s\n",
			intField(fields, "files"), formatShortDuration(dur), formatShortDuration(p.now().Sub(p.startedAt)),
		)
	default:
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}
}

func (p *progressUI) OnFileWritten(kind, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	label := kind
	switch kind {
	case generate.KindConfig:
		label = "生成"
	case generate.KindScript:
		label = "复制"
	case generate.KindIndex:
		label = "生成"
	}
	fmt.Fprintf(p.w, "%s %s\n", label, path)
}

func scriptLabel(path string) string {
	if strings.TrimSpace(path) == "" {
		return "内置 " + domain.ScriptFileName
	}
	return path
}

func bindLabel(bind string) string {
	if bind == "" {
		return "0.0.0.0"
	}
	return bind
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	switch x := fields[key].(type) {
	case int:
		return x
	case int64:
		return int(x)
	default:
		return 0
	}
}
