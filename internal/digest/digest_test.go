package digest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosight/gosight/analyzer/internal/insights"
	"github.com/gosight/gosight/analyzer/internal/metrics"
	"github.com/gosight/gosight/analyzer/internal/telemetry"
)

type stubAnalyzer struct {
	issues []insights.Issue
	err    error
	calls  int
}

func (a *stubAnalyzer) AnalyzeAll(context.Context) ([]insights.Issue, error) {
	a.calls++
	return a.issues, a.err
}

type stubSnapshots struct{}

func (stubSnapshots) Snapshot(context.Context) (*metrics.Snapshot, error) {
	return &metrics.Snapshot{TotalEvents: 40, TotalSessions: 7, GeneratedAt: time.Unix(0, 0)}, nil
}

func issue(rule string, sev insights.Severity) insights.Issue {
	return insights.Issue{RuleID: rule, Severity: sev, PageURL: "/"}
}

func TestRunOnceBuildsReport(t *testing.T) {
	an := &stubAnalyzer{issues: []insights.Issue{
		issue(insights.RuleLowScrollDepth, insights.SeverityLow),
		issue(insights.RuleDeadClicks, insights.SeverityMedium),
		issue(insights.RuleRageClicks, insights.SeverityHigh),
		issue(insights.RuleRageClicks, insights.SeverityHigh),
	}}
	s := New(an, stubSnapshots{}, telemetry.New())

	r, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(40), r.TotalEvents)
	assert.Equal(t, map[string]int{
		insights.RuleLowScrollDepth: 1,
		insights.RuleDeadClicks:     1,
		insights.RuleRageClicks:     2,
	}, r.IssuesByRule)
	require.Len(t, r.TopIssues, 4)
	assert.Equal(t, insights.SeverityHigh, r.TopIssues[0].Severity)
	assert.Equal(t, insights.SeverityLow, r.TopIssues[3].Severity)
}

func TestRunOncePropagatesFailure(t *testing.T) {
	s := New(&stubAnalyzer{err: errors.New("read failed")}, stubSnapshots{}, nil)
	_, err := s.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestStartWithoutScheduleIsDisabled(t *testing.T) {
	s := New(&stubAnalyzer{}, stubSnapshots{}, nil)
	require.NoError(t, s.Start(""))
	assert.False(t, s.Running())
	s.Stop()
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := New(&stubAnalyzer{}, stubSnapshots{}, nil)
	assert.Error(t, s.Start("every tuesday"))
}

func TestStartSchedulesJob(t *testing.T) {
	s := New(&stubAnalyzer{}, stubSnapshots{}, nil)
	require.NoError(t, s.Start("0 6 * * *"))
	assert.True(t, s.Running())
	s.Stop()
}
