package template

import (
	"regexp"
	"strings"

	"github.com/cleargate-io/cleargate/pkg/pack"
)

// CheckResult grades a single template QC check.
type CheckResult string

const (
	CheckPass CheckResult = "PASS"
	CheckFail CheckResult = "FAIL"
	CheckWarn CheckResult = "WARN"
)

// Check is one graded template QC check.
type Check struct {
	Name   string      `json:"name"`
	Result CheckResult `json:"result"`
	Detail string      `json:"detail,omitempty"`
}

// QCReport is the combined outcome of the five template QC checks.
// PublishRecommendation is APPROVE only when every check passes.
type QCReport struct {
	Checks                []Check `json:"checks"`
	PublishRecommendation string  `json:"publish_recommendation"` // APPROVE or REVISE
}

// vaguePhrases flag non-deterministic generation instructions.
var vaguePhrases = []string{
	"the usual",
	"standard approach",
	"as appropriate",
	"use your judgment",
	"and so on",
}

// certaintyPhrases flag absolute-certainty language that has no place in a
// professional deliverable.
var certaintyPhrases = []string{
	"definitely",
	"guarantee",
	"guaranteed",
	"cannot be wrong",
	"100% certain",
	"always correct",
}

// packKeywords maps each jurisdiction to the phrases that reveal its rules
// are being referenced.
var packKeywords = map[string][]string{
	"MT": {"malta", "maltese", "mfsa", "cfr.gov.mt"},
	"RW": {"rwanda", "rwandan", "rra", "rdb.rw"},
}

// clientNamePattern catches a capitalized entity name followed by a company
// suffix, the usual sign that a specific client leaked into a template.
var clientNamePattern = regexp.MustCompile(`\b[A-Z][A-Za-z]+(?: [A-Z][A-Za-z]+)* (?:Ltd|Limited|plc|PLC|Inc|LLC|GmbH|S\.A\.)\b`)

// RunQC runs the five independent template QC checks.
func RunQC(tmpl Template) QCReport {
	report := QCReport{
		Checks: []Check{
			checkDeterminism(tmpl),
			checkEvidenceDiscipline(tmpl),
			checkSafeLanguage(tmpl),
			checkPackCorrectness(tmpl),
			checkClientLeakage(tmpl),
		},
		PublishRecommendation: "APPROVE",
	}
	for _, check := range report.Checks {
		if check.Result != CheckPass {
			report.PublishRecommendation = "REVISE"
			break
		}
	}
	return report
}

func checkDeterminism(tmpl Template) Check {
	joined := strings.ToLower(strings.Join(tmpl.Instructions, " "))
	for _, phrase := range vaguePhrases {
		if strings.Contains(joined, phrase) {
			return Check{Name: "determinism", Result: CheckFail,
				Detail: "instructions contain vague phrasing: " + phrase}
		}
	}
	return Check{Name: "determinism", Result: CheckPass}
}

func checkEvidenceDiscipline(tmpl Template) Check {
	if len(tmpl.Evidence.RequiredTypes) == 0 && tmpl.Evidence.MinItems == 0 {
		result := CheckWarn
		if tmpl.Risk == RiskHigh {
			result = CheckFail
		}
		return Check{Name: "evidence_discipline", Result: result,
			Detail: "template declares no evidence requirements"}
	}
	return Check{Name: "evidence_discipline", Result: CheckPass}
}

func checkSafeLanguage(tmpl Template) Check {
	corpus := strings.ToLower(tmpl.Purpose + " " + strings.Join(tmpl.Instructions, " "))
	for _, phrase := range certaintyPhrases {
		if strings.Contains(corpus, phrase) {
			return Check{Name: "safe_language", Result: CheckFail,
				Detail: "absolute-certainty language: " + phrase}
		}
	}
	return Check{Name: "safe_language", Result: CheckPass}
}

func checkPackCorrectness(tmpl Template) Check {
	corpus := strings.ToLower(tmpl.Purpose + " " + strings.Join(tmpl.Instructions, " "))
	own := jurisdictionPrefix(tmpl.Pack)
	for prefix, keywords := range packKeywords {
		if prefix == own {
			continue
		}
		for _, keyword := range keywords {
			if strings.Contains(corpus, keyword) {
				if own == "" {
					// GLOBAL templates should stay jurisdiction neutral.
					return Check{Name: "pack_correctness", Result: CheckWarn,
						Detail: "global template references jurisdiction-specific rules: " + keyword}
				}
				return Check{Name: "pack_correctness", Result: CheckFail,
					Detail: "instructions reference another jurisdiction's rules: " + keyword}
			}
		}
	}
	return Check{Name: "pack_correctness", Result: CheckPass}
}

func jurisdictionPrefix(p pack.Pack) string {
	s := string(p)
	if idx := strings.Index(s, "_"); idx > 0 {
		return s[:idx]
	}
	return "" // GLOBAL
}

func checkClientLeakage(tmpl Template) Check {
	corpus := tmpl.Purpose + " " + strings.Join(tmpl.Instructions, " ")
	if match := clientNamePattern.FindString(corpus); match != "" {
		return Check{Name: "no_client_leakage", Result: CheckFail,
			Detail: "template appears to embed a client name: " + match}
	}
	return Check{Name: "no_client_leakage", Result: CheckPass}
}
