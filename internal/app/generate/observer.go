package generate

import (
	"time"

	"github.com/John-Robertt/nvisgen/internal/config"
	"github.com/John-Robertt/nvisgen/internal/domain"
)

// 产物种类（OnFileWritten 的 kind）。
const (
	KindConfig = "config"
	KindScript = "script"
	KindIndex  = "index"
)

// Observer 把“进度/产物”事件从生成流程中解耦出来。
//
// 约束：generate 包只负责发事件，不做任何输出；打印格式由 CLI 决定。
type Observer interface {
	// OnStart 在 ExecuteWithObserver 开始时调用。
	OnStart(eff config.EffectiveConfig)
	// OnStream 在每个 stream 构建完成后调用；found 是截断前找到的图片数。
	OnStream(idx, total int, s domain.Stream, found int)
	// OnSkip 在实验目录内某个目录无法读取、被当作空目录时调用（path 为绝对路径）。
	OnSkip(path string, err error)
	// OnPhaseDone 在阶段结束时调用（"scan"、"write"）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnFileWritten 在某个产物写入成功后调用（path 为绝对路径）。
	OnFileWritten(kind, path string)
}
