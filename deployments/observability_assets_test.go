package deployments

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"
)

func TestGrafanaDashboardJSONIsValid(t *testing.T) {
	root := repoRoot(t)
	path := filepath.Join(root, "deployments", "observability", "grafana", "sqlagent_slo_dashboard.json")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read dashboard file: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(content, &decoded); err != nil {
		t.Fatalf("dashboard JSON parse error: %v", err)
	}

	title, _ := decoded["title"].(string)
	if strings.TrimSpace(title) == "" {
		t.Fatal("dashboard title is required")
	}
	panels, ok := decoded["panels"].([]any)
	if !ok || len(panels) == 0 {
		t.Fatal("dashboard must include at least one panel")
	}
}

func TestPrometheusRulesContainExpectedAlerts(t *testing.T) {
	root := repoRoot(t)
	path := filepath.Join(root, "deployments", "observability", "prometheus", "sqlagent_rules.yaml")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read rules file: %v", err)
	}
	text := string(content)

	requiredAlerts := []string{
		"SQLAgentRunLatencyP95High",
		"SQLAgentRunFailuresHigh",
		"SQLAgentRunsExhaustingBudget",
		"SQLAgentModelErrorsHigh",
		"SQLAgentToolFailuresHigh",
		"SQLAgentHTTPErrorRateHigh",
	}
	for _, alertName := range requiredAlerts {
		if !strings.Contains(text, "alert: "+alertName) {
			t.Fatalf("rules missing alert %q", alertName)
		}
	}

	requiredMetrics := []string{
		"sqlagent:slo_run_duration_seconds_p95",
		"sqlagent:slo_run_failure_ratio_15m",
		"sqlagent:slo_run_exhausted_ratio_15m",
		"sqlagent:slo_model_error_ratio_5m",
		"sqlagent:slo_tool_failure_ratio_15m",
		"sqlagent:slo_http_error_rate_5m",
	}
	for _, metricName := range requiredMetrics {
		matched, err := regexp.MatchString(regexp.QuoteMeta(metricName), text)
		if err != nil {
			t.Fatalf("regexp error for metric %q: %v", metricName, err)
		}
		if !matched {
			t.Fatalf("rules missing metric reference %q", metricName)
		}
	}
}

func TestPrometheusScrapeExampleContainsMetricsPathAndRules(t *testing.T) {
	root := repoRoot(t)
	path := filepath.Join(root, "deployments", "observability", "prometheus", "prometheus-scrape.example.yaml")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read scrape example: %v", err)
	}
	text := string(content)

	for _, token := range []string{
		"metrics_path: /v1/metrics",
		"sqlagent_rules.yaml",
		"sqlagent_recording_rules.yaml",
		"job_name: sqlagent-api",
	} {
		if !strings.Contains(text, token) {
			t.Fatalf("scrape example missing %q", token)
		}
	}
}

func TestPrometheusRecordingRulesContainExpectedRecords(t *testing.T) {
	root := repoRoot(t)
	path := filepath.Join(root, "deployments", "observability", "prometheus", "sqlagent_recording_rules.yaml")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read recording rules file: %v", err)
	}
	text := string(content)

	requiredRecords := []string{
		"sqlagent:slo_run_duration_seconds_p95",
		"sqlagent:slo_run_iterations_p95",
		"sqlagent:slo_run_failure_ratio_15m",
		"sqlagent:slo_run_exhausted_ratio_15m",
		"sqlagent:slo_model_error_ratio_5m",
		"sqlagent:slo_model_call_seconds_p95",
		"sqlagent:slo_tool_failure_ratio_15m",
		"sqlagent:slo_empty_replies_15m",
		"sqlagent:slo_http_error_rate_5m",
	}
	for _, recordName := range requiredRecords {
		if !strings.Contains(text, "record: "+recordName) {
			t.Fatalf("recording rules missing record %q", recordName)
		}
	}
}

func TestRulesOnlyReferenceExportedMetrics(t *testing.T) {
	root := repoRoot(t)
	exported := map[string]bool{
		"sqlagent_runs_total":                  true,
		"sqlagent_run_iterations":              true,
		"sqlagent_run_duration_seconds":        true,
		"sqlagent_tool_calls_total":            true,
		"sqlagent_model_call_duration_seconds": true,
		"sqlagent_empty_replies_total":         true,
		"sqlagent_threads_evicted_total":       true,
		"sqlagent_http_requests_total":         true,
	}
	series := regexp.MustCompile(`\bsqlagent_[a-z_]+`)
	suffix := regexp.MustCompile(`_(bucket|count|sum)$`)
	for _, name := range []string{
		filepath.Join("prometheus", "sqlagent_recording_rules.yaml"),
		filepath.Join("grafana", "sqlagent_slo_dashboard.json"),
	} {
		content, err := os.ReadFile(filepath.Join(root, "deployments", "observability", name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		for _, match := range series.FindAllString(string(content), -1) {
			if !exported[suffix.ReplaceAllString(match, "")] {
				t.Fatalf("%s references unknown metric %q", name, match)
			}
		}
	}
}

func TestAlertmanagerExampleContainsSeverityRouting(t *testing.T) {
	root := repoRoot(t)
	path := filepath.Join(root, "deployments", "observability", "alertmanager", "alertmanager.example.yaml")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read alertmanager example: %v", err)
	}
	text := string(content)

	requiredTokens := []string{
		"receiver: sqlagent-default",
		"severity=\"critical\"",
		"severity=\"warning\"",
		"name: sqlagent-critical",
		"name: sqlagent-warning",
		"inhibit_rules:",
		"group_by: [alertname, service, severity]",
	}
	for _, token := range requiredTokens {
		if !strings.Contains(text, token) {
			t.Fatalf("alertmanager example missing token %q", token)
		}
	}
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), ".."))
}
