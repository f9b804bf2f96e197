// Package verify 重新读取一次生成的产物（config.json / index.html / nvis.js），
// 检查它们是否仍然能被 viewer 正确打开。
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/John-Robertt/nvisgen/internal/domain"
	"github.com/John-Robertt/nvisgen/internal/viewer"
)

// Execute 检查 root 下的产物，返回已 Finalize 的报告。
//
// 检查本身不会失败：所有问题都体现为 report.Issues。
func Execute(ctx context.Context, root string) domain.VerifyReport {
	root = filepath.Clean(root)
	return Check(ctx, osfs.New(root), root)
}

// Check 与 Execute 相同，但允许注入文件系统（root 只用于报告展示）。
func Check(ctx context.Context, fsys billy.Filesystem, root string) domain.VerifyReport {
	rr := domain.VerifyReport{
		Root:      root,
		StartedAt: time.Now().UTC(),
		Issues:    make([]domain.Issue, 0, 8),
	}

	checkManifest(ctx, fsys, &rr)
	checkIndex(fsys, &rr)
	checkScript(fsys, &rr)

	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()
	return rr
}

func checkManifest(ctx context.Context, fsys billy.Filesystem, rr *domain.VerifyReport) {
	b, err := util.ReadFile(fsys, domain.ConfigFileName)
	if err != nil {
		rr.Issues = append(rr.Issues, domain.Issue{
			Code: domain.IssueConfigInvalid,
			Path: domain.ConfigFileName,
			Msg:  fmt.Sprintf("读取失败：%v", err),
		})
		return
	}

	var m domain.Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		rr.Issues = append(rr.Issues, domain.Issue{
			Code: domain.IssueConfigInvalid,
			Path: domain.ConfigFileName,
			Msg:  fmt.Sprintf("JSON 解析失败：%v", err),
		})
		return
	}

	for _, s := range m.Streams {
		if ctx.Err() != nil {
			return
		}
		rr.Summary.Streams++
		rr.Summary.Images += len(s.Images)

		// stream 名字是 root 的直接子目录名：不能为空、不能带路径分隔符或是 "."/".."。
		if !validStreamName(s.Name) {
			rr.Issues = append(rr.Issues, domain.Issue{
				Code:   domain.IssueConfigInvalid,
				Path:   domain.ConfigFileName,
				Stream: s.Name,
				Msg:    fmt.Sprintf("stream 名字 %q 不是 root 下的目录名", s.Name),
			})
			continue
		}
		if fi, err := fsys.Stat(s.Name); err != nil || !fi.IsDir() {
			rr.Issues = append(rr.Issues, domain.Issue{
				Code:   domain.IssueStreamMissing,
				Path:   s.Name,
				Stream: s.Name,
				Msg:    "stream 对应的目录不存在",
			})
		}
		if len(s.Images) > domain.MaxImagesPerStream {
			rr.Issues = append(rr.Issues, domain.Issue{
				Code:   domain.IssueStreamTooLarge,
				Path:   s.Name,
				Stream: s.Name,
				Msg:    fmt.Sprintf("图片数 %d 超过上限 %d", len(s.Images), domain.MaxImagesPerStream),
			})
		}
		for _, img := range s.Images {
			if msg := missingImage(fsys, img); msg != "" {
				rr.Issues = append(rr.Issues, domain.Issue{
					Code:   domain.IssueImageMissing,
					Path:   img,
					Stream: s.Name,
					Msg:    msg,
				})
			}
		}
	}
}

func validStreamName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// missingImage 返回问题描述；图片存在且是文件时返回空串。
func missingImage(fsys billy.Filesystem, img string) string {
	if img == "" || filepath.IsAbs(filepath.FromSlash(img)) {
		return "图片路径必须相对 root"
	}
	fi, err := fsys.Stat(filepath.FromSlash(img))
	if err != nil {
		if os.IsNotExist(err) {
			return "图片不存在"
		}
		// 例如 ../ 越过 root（billy.ErrCrossedBoundary）。
		return err.Error()
	}
	if fi.IsDir() {
		return "路径是目录而不是图片"
	}
	return ""
}

func checkIndex(fsys billy.Filesystem, rr *domain.VerifyReport) {
	b, err := util.ReadFile(fsys, domain.IndexFileName)
	if err != nil {
		rr.Issues = append(rr.Issues, domain.Issue{
			Code: domain.IssueIndexInvalid,
			Path: domain.IndexFileName,
			Msg:  fmt.Sprintf("读取失败：%v", err),
		})
		return
	}
	if err := viewer.CheckIndexBytes(b); err != nil {
		rr.Issues = append(rr.Issues, domain.Issue{
			Code: domain.IssueIndexInvalid,
			Path: domain.IndexFileName,
			Msg:  err.Error(),
		})
	}
}

func checkScript(fsys billy.Filesystem, rr *domain.VerifyReport) {
	fi, err := fsys.Stat(domain.ScriptFileName)
	switch {
	case err != nil:
		rr.Issues = append(rr.Issues, domain.Issue{
			Code: domain.IssueScriptMissing,
			Path: domain.ScriptFileName,
			Msg:  fmt.Sprintf("读取失败：%v", err),
		})
	case fi.IsDir() || fi.Size() == 0:
		rr.Issues = append(rr.Issues, domain.Issue{
			Code: domain.IssueScriptMissing,
			Path: domain.ScriptFileName,
			Msg:  "不是有效的脚本文件",
		})
	}
}
