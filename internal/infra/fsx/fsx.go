package fsx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-git/go-billy/v5"
)

// 通过可替换的函数指针，让测试能稳定模拟 rename 失败。
var renameFunc = func(fsys billy.Filesystem, from, to string) error {
	return fsys.Rename(from, to)
}

// PathTypeConflictError 表示目标路径类型冲突（例如期望文件但实际是目录）。
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("目标路径类型冲突：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// WriteFileReplace 在 fsys 的 dir 下写入 name，已存在则覆盖。
//
// 做法：同目录临时文件 + rename，写到一半失败不会留下半截的目标文件。
// 目标路径若是目录/非常规文件，返回 PathTypeConflictError（不做任何修改）。
func WriteFileReplace(fsys billy.Filesystem, dir, name string, data []byte) error {
	return writeFile(fsys, dir, name, data, 0o644)
}

func writeFile(fsys billy.Filesystem, dir, name string, data []byte, perm os.FileMode) error {
	dst := fsys.Join(dir, name)
	if err := checkRegularOrMissing(fsys, dst); err != nil {
		return err
	}
	if dir != "" {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp, tmpName, err := createTemp(fsys, dir, name, perm)
	if err != nil {
		return err
	}
	renamed := false
	defer func() {
		_ = tmp.Close()
		if !renamed {
			_ = fsys.Remove(tmpName)
		}
	}()

	if err := writeAll(tmp, data); err != nil {
		return err
	}
	if s, ok := tmp.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := renameFunc(fsys, tmpName, dst); err != nil {
		return err
	}
	renamed = true
	return nil
}

// createTemp 在 dir 下以 O_EXCL 创建临时文件。
//
// 不用 fsys.TempFile：osfs 的临时文件固定为 0600，而 chroot 封装不支持 Chmod，
// 生成的 viewer 文件需要能被静态服务器读取。
// 前缀带 '.'：即使残留也会被扫描规则忽略。
func createTemp(fsys billy.Filesystem, dir, name string, perm os.FileMode) (billy.File, string, error) {
	var lastErr error
	for i := 0; i < 10; i++ {
		tmpName := fsys.Join(dir, fmt.Sprintf(".%s.tmp-%d-%d", name, os.Getpid(), time.Now().UnixNano()+int64(i)))
		f, err := fsys.OpenFile(tmpName, os.O_RDWR|os.O_CREATE|os.O_EXCL, perm)
		if err == nil {
			return f, tmpName, nil
		}
		if !os.IsExist(err) {
			return nil, "", err
		}
		lastErr = err
	}
	return nil, "", lastErr
}

// CheckTarget 校验 path 可以被 WriteFileReplace 覆盖：不存在，或是常规文件（含指向常规文件的链接）。
func CheckTarget(fsys billy.Filesystem, path string) error {
	return checkRegularOrMissing(fsys, path)
}

func checkRegularOrMissing(fsys billy.Filesystem, path string) error {
	fi, err := fsys.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if fi.IsDir() {
		return &PathTypeConflictError{Path: path, Want: "file", Got: "dir"}
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		// 指向常规文件的链接允许覆盖（rename 会替换链接本身）。
		st, err := fsys.Stat(path)
		if err == nil && st.IsDir() {
			return &PathTypeConflictError{Path: path, Want: "file", Got: "symlink to dir"}
		}
		return nil
	}
	if !fi.Mode().IsRegular() {
		return &PathTypeConflictError{Path: path, Want: "regular file", Got: fi.Mode().Type().String()}
	}
	return nil
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
