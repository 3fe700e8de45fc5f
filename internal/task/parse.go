package task

import (
	"regexp"
	"strconv"
	"strings"
)

// The planner and coder emit loosely-structured XML-ish blocks. Models drift,
// so the grammar is forgiving: regex extraction per tag, defaults on absence.

var (
	rePlan       = regexp.MustCompile(`<plan>([\s\S]*?)</plan>`)
	reIntent     = regexp.MustCompile(`<intent>([\s\S]*?)</intent>`)
	reConfidence = regexp.MustCompile(`<confidence>([\d.]+)</confidence>`)
	reClarify    = regexp.MustCompile(`<clarify>([\s\S]*?)</clarify>`)
	reTask       = regexp.MustCompile(`<task\s+id=["']?(\d+)["']?>([\s\S]*?)</task>`)
	reDesc       = regexp.MustCompile(`<description>([\s\S]*?)</description>`)
	reCriteria   = regexp.MustCompile(`<criteria>([\s\S]*?)</criteria>`)
	reDepends    = regexp.MustCompile(`<depends>([\s\S]*?)</depends>`)

	reResult  = regexp.MustCompile(`<result>([\s\S]*?)</result>`)
	reStatus  = regexp.MustCompile(`<status>([\s\S]*?)</status>`)
	reSummary = regexp.MustCompile(`<summary>([\s\S]*?)</summary>`)
	reFiles   = regexp.MustCompile(`<files>([\s\S]*?)</files>`)
	reTested  = regexp.MustCompile(`<tested>([\s\S]*?)</tested>`)
	reErrors  = regexp.MustCompile(`<errors>([\s\S]*?)</errors>`)
)

// ParsePlan extracts a <plan> block from planner output.
// Returns nil when no plan block is present.
func ParsePlan(content string) *Plan {
	m := rePlan.FindStringSubmatch(content)
	if m == nil {
		return nil
	}
	planText := m[1]

	plan := &Plan{Confidence: 0.5}

	if im := reIntent.FindStringSubmatch(planText); im != nil {
		plan.Intent = strings.TrimSpace(im[1])
	}
	if cm := reConfidence.FindStringSubmatch(planText); cm != nil {
		if f, err := strconv.ParseFloat(cm[1], 64); err == nil {
			plan.Confidence = f
		}
	}
	if qm := reClarify.FindStringSubmatch(planText); qm != nil {
		plan.NeedsClarification = strings.TrimSpace(qm[1])
	}

	for _, tm := range reTask.FindAllStringSubmatch(planText, -1) {
		id, body := tm[1], tm[2]
		t := Task{ID: id, Status: StatusPending}
		if dm := reDesc.FindStringSubmatch(body); dm != nil {
			t.Description = strings.TrimSpace(dm[1])
		}
		if cm := reCriteria.FindStringSubmatch(body); cm != nil {
			t.SuccessCriteria = strings.TrimSpace(cm[1])
		}
		if dm := reDepends.FindStringSubmatch(body); dm != nil {
			for _, d := range strings.Split(dm[1], ",") {
				if d = strings.TrimSpace(d); d != "" {
					t.Dependencies = append(t.Dependencies, d)
				}
			}
		}
		plan.Tasks = append(plan.Tasks, t)
	}

	return plan
}

// statusMap translates the free-text status vocabulary the coder uses
// into the closed Status set.
var statusMap = map[string]Status{
	"success":   StatusCompleted,
	"completed": StatusCompleted,
	"partial":   StatusInProgress,
	"failed":    StatusFailed,
	"error":     StatusFailed,
}

// ParseResult extracts a <result> block from coder output.
// Returns nil when no result block is present.
func ParseResult(content string) *Result {
	m := reResult.FindStringSubmatch(content)
	if m == nil {
		return nil
	}
	resultText := m[1]

	statusStr := "failed"
	if sm := reStatus.FindStringSubmatch(resultText); sm != nil {
		statusStr = strings.ToLower(strings.TrimSpace(sm[1]))
	}
	status, ok := statusMap[statusStr]
	if !ok {
		status = StatusFailed
	}

	res := &Result{Status: status}

	if sm := reSummary.FindStringSubmatch(resultText); sm != nil {
		res.Summary = strings.TrimSpace(sm[1])
	}
	if fm := reFiles.FindStringSubmatch(resultText); fm != nil {
		for _, f := range strings.Split(fm[1], ",") {
			if f = strings.TrimSpace(f); f != "" {
				res.FilesChanged = append(res.FilesChanged, f)
			}
		}
	}
	if tm := reTested.FindStringSubmatch(resultText); tm != nil {
		v := strings.ToLower(strings.TrimSpace(tm[1]))
		res.Tested = v == "true" || v == "yes" || v == "1"
	}
	if em := reErrors.FindStringSubmatch(resultText); em != nil {
		if e := strings.TrimSpace(em[1]); e != "" {
			res.Errors = []string{e}
		}
	}

	return res
}
