package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/John-Robertt/nvisgen/internal/config"
	"github.com/John-Robertt/nvisgen/internal/domain"
	"github.com/John-Robertt/nvisgen/internal/infra/fsx"
	"github.com/John-Robertt/nvisgen/internal/viewer"
)

func TestExecute_EmptyRoot_WritesAllThreeFiles(t *testing.T) {
	root := filepath.Join(t.TempDir(), "foo")
	mkdir(t, root)

	out, err := Execute(context.Background(), config.EffectiveConfig{Root: root})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if out.IndexPath != filepath.Join(root, domain.IndexFileName) {
		t.Fatalf("IndexPath 不正确：%q", out.IndexPath)
	}

	m := readManifest(t, root)
	if m.Name != "foo" {
		t.Fatalf("期望 name=foo，实际=%q", m.Name)
	}
	if m.Streams == nil || len(m.Streams) != 0 {
		t.Fatalf("期望空 streams，实际=%v", m.Streams)
	}

	// streams 必须输出为 []，不能是 null。
	raw := readFile(t, filepath.Join(root, domain.ConfigFileName))
	if !bytes.Contains(raw, []byte(`"streams": []`)) {
		t.Fatalf("streams 应输出为 []：%s", raw)
	}

	if got := readFile(t, filepath.Join(root, domain.ScriptFileName)); !bytes.Equal(got, viewer.Script) {
		t.Fatalf("nvis.js 必须与内置脚本逐字节一致")
	}
	html := readFile(t, filepath.Join(root, domain.IndexFileName))
	if err := viewer.CheckIndexBytes(html); err != nil {
		t.Fatalf("index.html 无法启动 viewer：%v", err)
	}
}

func TestExecute_TruncatesTo10RootRelative(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 15; i++ {
		touch(t, filepath.Join(root, "exp", fmt.Sprintf("%02d.png", i)))
	}

	if _, err := Execute(context.Background(), config.EffectiveConfig{Root: root}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	m := readManifest(t, root)
	if len(m.Streams) != 1 {
		t.Fatalf("期望 1 个 stream，实际 %d", len(m.Streams))
	}
	s := m.Streams[0]
	if s.Name != "exp" || !s.Window {
		t.Fatalf("stream 字段不正确：%+v", s)
	}
	if len(s.Images) != domain.MaxImagesPerStream {
		t.Fatalf("期望 %d 张，实际 %d", domain.MaxImagesPerStream, len(s.Images))
	}
	for _, img := range s.Images {
		if filepath.IsAbs(img) || !strings.HasPrefix(img, "exp/") {
			t.Fatalf("图片路径必须相对 root：%q", img)
		}
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(img))); err != nil {
			t.Fatalf("图片路径无法在 root 下解析：%q", img)
		}
	}
}

func TestExecute_JpgBeforePng(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 3; i++ {
		touch(t, filepath.Join(root, "exp", fmt.Sprintf("a%d.png", i)))
		touch(t, filepath.Join(root, "exp", fmt.Sprintf("b%d.jpg", i)))
	}

	if _, err := Execute(context.Background(), config.EffectiveConfig{Root: root}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	got := readManifest(t, root).Streams[0].Images
	want := []string{"exp/b0.jpg", "exp/b1.jpg", "exp/b2.jpg", "exp/a0.png", "exp/a1.png", "exp/a2.png"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("期望 %v，实际 %v", want, got)
	}
}

func TestExecute_StrayFileExcludedAndEmptyDirKept(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "stray.png"))
	touch(t, filepath.Join(root, "b", "1.jpg"))
	mkdir(t, filepath.Join(root, "a_empty"))

	if _, err := Execute(context.Background(), config.EffectiveConfig{Root: root}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	m := readManifest(t, root)
	names := make([]string, 0, len(m.Streams))
	for _, s := range m.Streams {
		names = append(names, s.Name)
	}
	if want := []string{"a_empty", "b"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("期望 streams=%v，实际 %v", want, names)
	}
	if m.Streams[0].Images == nil || len(m.Streams[0].Images) != 0 {
		t.Fatalf("空目录应得到空图片列表：%v", m.Streams[0].Images)
	}
}

func TestExecute_TwiceIsIdempotentAndDropsStale(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a", "1.png"))
	touch(t, filepath.Join(root, "b", "1.png"))

	if _, err := Execute(context.Background(), config.EffectiveConfig{Root: root}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	first := snapshot(t, root)

	if _, err := Execute(context.Background(), config.EffectiveConfig{Root: root}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if second := snapshot(t, root); !reflect.DeepEqual(first, second) {
		t.Fatalf("相同输入两次运行的输出应一致")
	}

	// 删除一个实验后重跑：旧条目不应残留。
	if err := os.RemoveAll(filepath.Join(root, "b")); err != nil {
		t.Fatalf("删除目录失败：%v", err)
	}
	if _, err := Execute(context.Background(), config.EffectiveConfig{Root: root}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	m := readManifest(t, root)
	if len(m.Streams) != 1 || m.Streams[0].Name != "a" {
		t.Fatalf("不应残留旧 stream：%+v", m.Streams)
	}
}

func TestExecute_IgnoresOwnOutputs(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "exp", "1.png"))

	for i := 0; i < 2; i++ {
		if _, err := Execute(context.Background(), config.EffectiveConfig{Root: root}); err != nil {
			t.Fatalf("不期望错误：%v", err)
		}
	}
	// config.json / index.html / nvis.js 是 root 下的文件，不是 stream。
	if m := readManifest(t, root); len(m.Streams) != 1 {
		t.Fatalf("期望 1 个 stream，实际 %+v", m.Streams)
	}
}

func TestExecute_CustomScriptCopiedByteForByte(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "root")
	mkdir(t, root)
	script := filepath.Join(dir, "custom.js")
	content := []byte("var nvis = {config: function () {}};\n")
	if err := os.WriteFile(script, content, 0o644); err != nil {
		t.Fatalf("写入脚本失败：%v", err)
	}

	if _, err := Execute(context.Background(), config.EffectiveConfig{Root: root, Script: script}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if got := readFile(t, filepath.Join(root, domain.ScriptFileName)); !bytes.Equal(got, content) {
		t.Fatalf("nvis.js 内容不一致：%q", got)
	}
}

func TestExecute_MissingScript_FailsBeforeWriting(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "root")
	mkdir(t, root)
	missing := filepath.Join(dir, "js", "nvis.js")

	_, err := Execute(context.Background(), config.EffectiveConfig{Root: root, Script: missing})
	if err == nil {
		t.Fatalf("期望错误，但得到 nil")
	}
	if Stage(err) != StageScript {
		t.Fatalf("期望 stage=%q，实际 %q (%v)", StageScript, Stage(err), err)
	}
	if !strings.Contains(err.Error(), missing) {
		t.Fatalf("错误信息应包含路径 %q：%v", missing, err)
	}
	if _, err := os.Stat(filepath.Join(root, domain.ConfigFileName)); !os.IsNotExist(err) {
		t.Fatalf("脚本缺失时不应写出 config.json")
	}
}

func TestExecute_MissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "missing")

	_, err := Execute(context.Background(), config.EffectiveConfig{Root: root})
	if err == nil {
		t.Fatalf("期望错误，但得到 nil")
	}
	if Stage(err) != StageScan || !strings.Contains(err.Error(), root) {
		t.Fatalf("错误应指向 root：%v", err)
	}
}

func TestExecute_OutputPathIsDir(t *testing.T) {
	root := t.TempDir()
	mkdir(t, filepath.Join(root, domain.IndexFileName))

	_, err := Execute(context.Background(), config.EffectiveConfig{Root: root})
	if err == nil {
		t.Fatalf("期望错误，但得到 nil")
	}
	if Stage(err) != StageWrite || !fsx.IsPathTypeConflict(err) {
		t.Fatalf("期望写入阶段的路径类型冲突，实际：%T %v", err, err)
	}
	if !strings.Contains(err.Error(), filepath.Join(root, domain.IndexFileName)) {
		t.Fatalf("错误信息应包含路径：%v", err)
	}
	if _, err := os.Stat(filepath.Join(root, domain.ConfigFileName)); !os.IsNotExist(err) {
		t.Fatalf("目标冲突时不应写出任何产物")
	}
}

func TestExecute_CancelledContext(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "exp", "1.png"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Execute(ctx, config.EffectiveConfig{Root: root}); err == nil {
		t.Fatalf("期望 ctx 取消错误，但得到 nil")
	}
}

func TestBuildManifest_InMemory(t *testing.T) {
	fsys := memfs.New()
	for _, p := range []string{"run2/x.exr", "run2/x.png", "run1/sub/y.jpeg", "notes.txt"} {
		if err := util.WriteFile(fsys, p, []byte("x"), 0o644); err != nil {
			t.Fatalf("写入文件失败：%v", err)
		}
	}

	m, err := BuildManifest(context.Background(), fsys, "exps")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	want := domain.Manifest{
		Name: "exps",
		Streams: []domain.Stream{
			{Name: "run1", Window: true, Images: []string{"run1/sub/y.jpeg"}},
			{Name: "run2", Window: true, Images: []string{"run2/x.png", "run2/x.exr"}},
		},
	}
	if !reflect.DeepEqual(m, want) {
		t.Fatalf("期望 %+v，实际 %+v", want, m)
	}
}

func TestRootName(t *testing.T) {
	cases := map[string]string{
		"/":           "",
		"/data/exps":  "exps",
		"/data/exps/": "exps",
		"rel/dir":     "dir",
	}
	for in, want := range cases {
		if got := rootName(filepath.FromSlash(in)); got != want {
			t.Fatalf("rootName(%q)：期望 %q，实际 %q", in, want, got)
		}
	}
}

func TestEncodeManifest_FormatAndNoHTMLEscape(t *testing.T) {
	b, err := EncodeManifest(domain.Manifest{
		Name:    "r&d",
		Streams: []domain.Stream{domain.NewStream("a", []string{"a/<1>.png"})},
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	want := `{
    "name": "r&d",
    "streams": [
        {
            "name": "a",
            "window": true,
            "images": [
                "a/<1>.png"
            ]
        }
    ]
}
`
	if string(b) != want {
		t.Fatalf("输出格式不符合预期：\n%s", b)
	}
}

func readManifest(t *testing.T, root string) domain.Manifest {
	t.Helper()
	var m domain.Manifest
	if err := json.Unmarshal(readFile(t, filepath.Join(root, domain.ConfigFileName)), &m); err != nil {
		t.Fatalf("config.json 不是合法 JSON：%v", err)
	}
	return m
}

func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	for _, name := range []string{domain.ConfigFileName, domain.IndexFileName, domain.ScriptFileName} {
		out[name] = string(readFile(t, filepath.Join(root, name)))
	}
	return out
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取文件失败：%v", err)
	}
	return b
}

func mkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	mkdir(t, filepath.Dir(path))
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
}
