package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	IssueConfigInvalid  = "config_invalid"
	IssueStreamMissing  = "stream_missing"
	IssueStreamTooLarge = "stream_too_large"
	IssueImageMissing   = "image_missing"
	IssueIndexInvalid   = "index_invalid"
	IssueScriptMissing  = "script_missing"
)

// VerifyReport 是 verify 命令对外稳定输出（stdout JSON）的结构。
type VerifyReport struct {
	Root string `json:"root"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary VerifySummary `json:"summary"`
	Issues  []Issue       `json:"issues"`
}

type VerifySummary struct {
	Streams int `json:"streams"`
	Images  int `json:"images"`
	Issues  int `json:"issues"`
}

// Issue 是一条检查结果。Path 相对 root（'/' 分隔）；与具体文件无关时可为空。
type Issue struct {
	Code   string `json:"code"`
	Path   string `json:"path"`
	Stream string `json:"stream,omitempty"`
	Msg    string `json:"msg"`
}

// OK 表示没有任何问题。
func (r VerifyReport) OK() bool { return len(r.Issues) == 0 }

// Finalize 做三件事：
// 1) 时间统一为 UTC
// 2) issues 稳定排序：按 path、再按 code；path=="" 的条目排在最后
// 3) summary.issues 由 issues 计算得出（streams/images 由调用方填写）
func (r *VerifyReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	if r.Issues == nil {
		r.Issues = []Issue{}
	}

	sort.SliceStable(r.Issues, func(i, j int) bool {
		a, b := r.Issues[i], r.Issues[j]
		if a.Path == "" || b.Path == "" {
			return a.Path != "" && b.Path == ""
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Code < b.Code
	})

	r.Summary.Issues = len(r.Issues)
}

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
func (r VerifyReport) MarshalJSON() ([]byte, error) {
	type Alias VerifyReport
	return json.Marshal(Alias(r))
}
