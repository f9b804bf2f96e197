package scan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
)

// ImageExts 既是匹配规则，也是输出分组顺序：所有 .jpg 在 .jpeg 之前，依此类推。
//
// 匹配是大小写敏感的字面后缀（X.PNG 不算 .png）。
var ImageExts = []string{".jpg", ".jpeg", ".png", ".exr", ".pfm"}

// ListExperiments 返回 root 下的直接子目录名（字典序）。
//
// 规则：
// - 非目录条目（散落的文件等）直接跳过
// - 指向目录的符号链接视为目录
// - 隐藏目录不跳过：root 的每个直接子目录都是一个实验
func ListExperiments(fsys billy.Filesystem, root string) ([]string, error) {
	infos, err := fsys.ReadDir(root)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		if isDir(fsys, fsys.Join(root, fi.Name()), fi) {
			names = append(names, fi.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// SkipFunc 在 dir 之下某个目录无法读取时调用；扫描不会因此中断。
type SkipFunc func(path string, err error)

// maxLinkHops 限制一条遍历路径上跟随符号链接的次数（与内核的 ELOOP 上限同量级）。
const maxLinkHops = 40

var errTooManyLinks = errors.New("符号链接层数过多")

// ScanImages 递归收集 dir 下的图片文件，返回 fsys 内的路径（与 dir 同一基准）。
//
// 规则（硬约束）：
// - 结果按 ImageExts 分组拼接；组内保持遍历顺序（这里是字典序）
// - 以 '.' 开头的文件与目录不匹配、不进入（与 shell glob 的行为一致）
// - 名字以图片后缀结尾的目录不算图片
// - 指向目录的符号链接会被跟随；链接目标若是当前路径上的祖先目录则不再进入
// - 读不了的目录（包括 dir 本身）当作空目录，交给 onSkip（可为 nil）
//
// 注意：只看文件名，不读文件内容。
func ScanImages(fsys billy.Filesystem, dir string, onSkip SkipFunc) []string {
	groups := make([][]string, len(ImageExts))

	w := &walker{
		fsys:   fsys,
		onSkip: onSkip,
		chain:  map[string]bool{},
		visit: func(path, name string) {
			if i := extGroup(name); i >= 0 {
				groups[i] = append(groups[i], path)
			}
		},
	}
	w.walk(dir, filepath.Clean(dir), 0)

	n := 0
	for _, g := range groups {
		n += len(g)
	}
	out := make([]string, 0, n)
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

type walker struct {
	fsys   billy.Filesystem
	onSkip SkipFunc
	visit  func(path, name string)

	// chain 记录当前遍历路径上各目录的“真实”位置，用来截断符号链接环。
	chain map[string]bool
}

// walk 遍历 dir；real 是 dir 解析符号链接后的位置（fsys 内的相对路径）。
func (w *walker) walk(dir, real string, hops int) {
	w.chain[real] = true
	defer delete(w.chain, real)

	infos, err := w.fsys.ReadDir(dir)
	if err != nil {
		w.skip(dir, err)
		return
	}
	// 不依赖具体 billy 实现的返回顺序。
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })

	for _, fi := range infos {
		name := fi.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		path := w.fsys.Join(dir, name)

		switch {
		case fi.IsDir():
			w.walk(path, filepath.Join(real, name), hops)
		case fi.Mode()&os.ModeSymlink != 0:
			st, err := w.fsys.Stat(path)
			if err != nil {
				// 悬空链接：当作普通条目跳过。
				continue
			}
			if !st.IsDir() {
				w.visit(path, name)
				continue
			}
			if hops >= maxLinkHops {
				w.skip(path, errTooManyLinks)
				continue
			}
			target := w.resolve(path, real, name)
			if w.chain[target] {
				continue
			}
			w.walk(path, target, hops+1)
		default:
			w.visit(path, name)
		}
	}
}

// resolve 返回符号链接 link 指向的位置；parentReal 是 link 所在目录的真实位置。
// 读不出链接目标时退回到链接自身的位置（仍受 maxLinkHops 约束）。
func (w *walker) resolve(link, parentReal, name string) string {
	t, err := w.fsys.Readlink(link)
	if err != nil {
		return filepath.Join(parentReal, name)
	}
	t = filepath.FromSlash(t)
	if filepath.IsAbs(t) || strings.HasPrefix(t, string(filepath.Separator)) {
		// chroot 文件系统把绝对目标改写成相对 root 的 "/x"；root 之外的是 "/../x"。
		return filepath.Clean(strings.TrimLeft(t, string(filepath.Separator)))
	}
	return filepath.Join(parentReal, t)
}

func (w *walker) skip(path string, err error) {
	if w.onSkip != nil {
		w.onSkip(path, fmt.Errorf("读取目录 %q 失败：%w", path, err))
	}
}

// extGroup 返回 name 所属的分组下标；不是图片则返回 -1。
func extGroup(name string) int {
	for i, ext := range ImageExts {
		// 仅有后缀（例如 ".png"）的名字已被隐藏文件规则排除，这里无需再判断。
		if strings.HasSuffix(name, ext) {
			return i
		}
	}
	return -1
}

func isDir(fsys billy.Filesystem, path string, fi os.FileInfo) bool {
	if fi.IsDir() {
		return true
	}
	if fi.Mode()&os.ModeSymlink == 0 {
		return false
	}
	st, err := fsys.Stat(path)
	if err != nil {
		// 悬空链接：当作普通条目跳过。
		return false
	}
	return st.IsDir()
}

// ToSlashRel 把 fsys 内路径转换成 manifest 使用的 '/' 分隔形式。
func ToSlashRel(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}
