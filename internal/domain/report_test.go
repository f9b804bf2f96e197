package domain

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestVerifyReport_Finalize_SortAndSummaryAndUTC(t *testing.T) {
	r := VerifyReport{
		Root:       "/abs/root",
		StartedAt:  time.Date(2026, 2, 9, 10, 0, 0, 0, time.FixedZone("X", 8*3600)),
		FinishedAt: time.Date(2026, 2, 9, 10, 0, 1, 0, time.FixedZone("X", 8*3600)),
		Issues: []Issue{
			{Code: IssueImageMissing, Path: "b/1.png"},
			{Code: IssueConfigInvalid, Path: ""},
			{Code: IssueStreamTooLarge, Path: "a"},
			{Code: IssueImageMissing, Path: "a"},
		},
	}

	r.Finalize()

	got := []string{r.Issues[0].Path + ":" + r.Issues[0].Code, r.Issues[1].Path + ":" + r.Issues[1].Code, r.Issues[2].Path, r.Issues[3].Path}
	want := []string{"a:" + IssueImageMissing, "a:" + IssueStreamTooLarge, "b/1.png", ""}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("issues 排序不符合契约：%v", got)
		}
	}
	if r.Summary.Issues != 4 {
		t.Fatalf("summary 统计不正确：%+v", r.Summary)
	}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("json.Marshal 失败：%v", err)
	}
	if !bytes.Contains(b, []byte("\"started_at\":\"2026-02-09T02:00:00Z\"")) {
		t.Fatalf("started_at 不是 UTC RFC3339：%s", string(b))
	}
}

func TestVerifyReport_Finalize_EmptyIssuesIsArray(t *testing.T) {
	r := VerifyReport{Root: "/abs/root"}
	r.Finalize()

	if !r.OK() {
		t.Fatalf("期望 OK")
	}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("json.Marshal 失败：%v", err)
	}
	if !bytes.Contains(b, []byte(`"issues":[]`)) {
		t.Fatalf("issues 应输出为 []：%s", string(b))
	}
}
