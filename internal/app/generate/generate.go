package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/John-Robertt/nvisgen/internal/config"
	"github.com/John-Robertt/nvisgen/internal/domain"
	"github.com/John-Robertt/nvisgen/internal/infra/fsx"
	"github.com/John-Robertt/nvisgen/internal/scan"
	"github.com/John-Robertt/nvisgen/internal/viewer"
)

const (
	StageScan   = "scan"
	StageScript = "script"
	StageWrite  = "write"
)

// Error 是生成阶段的可追溯错误：哪个阶段、哪个路径。
type Error struct {
	Stage string
	Path  string
	Err   error
}

func (e *Error) Error() string {
	switch e.Stage {
	case StageScan:
		return fmt.Sprintf("扫描 %q 失败：%v", e.Path, e.Err)
	case StageScript:
		return fmt.Sprintf("读取 viewer 脚本 %q 失败：%v", e.Path, e.Err)
	case StageWrite:
		return fmt.Sprintf("写入 %q 失败：%v", e.Path, e.Err)
	default:
		return fmt.Sprintf("stage=%s path=%q: %v", e.Stage, e.Path, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Stage 从 error 中提取阶段名；若不是 *Error 则返回空串。
func Stage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

// Execute 扫描 eff.Root 并写出 config.json / nvis.js / index.html。
//
// 任何错误都是致命的：不重试、不降级。脚本在任何写入之前读取，
// 所以“脚本缺失”不会留下新生成的 config.json。
func Execute(ctx context.Context, eff config.EffectiveConfig) (domain.Output, error) {
	return ExecuteWithObserver(ctx, eff, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度（由上层决定是否启用）。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, obs Observer) (domain.Output, error) {
	if obs != nil {
		obs.OnStart(eff)
	}

	root := filepath.Clean(eff.Root)
	fsys := osfs.New(root)

	script, err := loadScript(eff.Script)
	if err != nil {
		return domain.Output{}, err
	}

	scanStarted := time.Now()
	m, err := buildManifest(ctx, fsys, rootName(root), obs)
	if err != nil {
		var ge *Error
		if errors.As(err, &ge) {
			return domain.Output{}, err
		}
		return domain.Output{}, &Error{Stage: StageScan, Path: root, Err: err}
	}
	if obs != nil {
		images := 0
		for _, s := range m.Streams {
			images += len(s.Images)
		}
		obs.OnPhaseDone(StageScan, map[string]any{
			"streams": len(m.Streams),
			"images":  images,
		}, time.Since(scanStarted))
	}

	cfg, err := EncodeManifest(m)
	if err != nil {
		return domain.Output{}, err
	}

	out := domain.Output{
		Root:       root,
		ConfigPath: filepath.Join(root, domain.ConfigFileName),
		ScriptPath: filepath.Join(root, domain.ScriptFileName),
		IndexPath:  filepath.Join(root, domain.IndexFileName),
		Manifest:   m,
	}

	files := []struct {
		kind string
		name string
		path string
		data []byte
	}{
		{KindConfig, domain.ConfigFileName, out.ConfigPath, cfg},
		{KindScript, domain.ScriptFileName, out.ScriptPath, script},
		{KindIndex, domain.IndexFileName, out.IndexPath, viewer.IndexHTML},
	}
	// 先整体检查目标路径：任何一个不可写都在落盘前失败，不留下半套产物。
	for _, f := range files {
		if err := fsx.CheckTarget(fsys, f.name); err != nil {
			return domain.Output{}, &Error{Stage: StageWrite, Path: f.path, Err: err}
		}
	}

	writeStarted := time.Now()
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return domain.Output{}, err
		}
		if err := fsx.WriteFileReplace(fsys, "", f.name, f.data); err != nil {
			return domain.Output{}, &Error{Stage: StageWrite, Path: f.path, Err: err}
		}
		if obs != nil {
			obs.OnFileWritten(f.kind, f.path)
		}
	}
	if obs != nil {
		obs.OnPhaseDone(StageWrite, map[string]any{"files": len(files)}, time.Since(writeStarted))
	}

	return out, nil
}

// BuildManifest 基于 fsys 的根目录构建 manifest（name 为根目录的 base name）。
func BuildManifest(ctx context.Context, fsys billy.Filesystem, name string) (domain.Manifest, error) {
	return buildManifest(ctx, fsys, name, nil)
}

func buildManifest(ctx context.Context, fsys billy.Filesystem, name string, obs Observer) (domain.Manifest, error) {
	exps, err := scan.ListExperiments(fsys, "")
	if err != nil {
		return domain.Manifest{}, err
	}

	m := domain.Manifest{
		Name:    name,
		Streams: make([]domain.Stream, 0, len(exps)),
	}
	for i, exp := range exps {
		if err := ctx.Err(); err != nil {
			return domain.Manifest{}, err
		}

		// 实验目录内部读不了的子目录只告警，不中断；只有 root 本身读不了才是致命错误。
		paths := scan.ScanImages(fsys, exp, func(path string, err error) {
			if obs != nil {
				obs.OnSkip(fsys.Join(fsys.Root(), path), err)
			}
		})
		// paths 已是相对 fsys 根目录（即 root）的路径。
		rel := make([]string, 0, len(paths))
		for _, p := range paths {
			rel = append(rel, scan.ToSlashRel(p))
		}

		s := domain.NewStream(exp, rel)
		m.Streams = append(m.Streams, s)
		if obs != nil {
			obs.OnStream(i+1, len(exps), s, len(rel))
		}
	}
	return m, nil
}

// rootName 返回 manifest 的 name；文件系统根目录（"/"）没有名字，返回空串。
func rootName(root string) string {
	base := filepath.Base(filepath.Clean(root))
	if base == string(filepath.Separator) || base == "." {
		return ""
	}
	return base
}

// EncodeManifest 输出 4 空格缩进的 JSON（带结尾换行）。
//
// 关闭 HTML 转义：路径中的 '&' 等字符应原样保留，浏览器端直接使用。
func EncodeManifest(m domain.Manifest) ([]byte, error) {
	if m.Streams == nil {
		m.Streams = []domain.Stream{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// loadScript 返回要写出的 nvis.js 内容：空路径使用内置脚本。
func loadScript(path string) ([]byte, error) {
	if path == "" {
		return viewer.Script, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Stage: StageScript, Path: path, Err: err}
	}
	return b, nil
}
