// Package digest runs the rule engine on a cron schedule and reports what it
// found.
package digest

import (
	"context"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/analyzer/internal/insights"
	"github.com/gosight/gosight/analyzer/internal/metrics"
	"github.com/gosight/gosight/analyzer/internal/telemetry"
)

type Analyzer interface {
	AnalyzeAll(ctx context.Context) ([]insights.Issue, error)
}

type Snapshotter interface {
	Snapshot(ctx context.Context) (*metrics.Snapshot, error)
}

// Report is the outcome of one digest run.
type Report struct {
	TotalEvents   int64
	TotalSessions int64
	IssuesByRule  map[string]int
	TopIssues     []insights.Issue
	GeneratedAt   time.Time
}

const topIssues = 5

var severityRank = map[insights.Severity]int{
	insights.SeverityHigh:   0,
	insights.SeverityMedium: 1,
	insights.SeverityLow:    2,
}

type Scheduler struct {
	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
	analyzer  Analyzer
	snapshots Snapshotter
	telemetry *telemetry.Metrics
}

func New(an Analyzer, snaps Snapshotter, tel *telemetry.Metrics) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:      cron.New(cron.WithLocation(time.UTC)),
		ctx:       ctx,
		cancel:    cancel,
		analyzer:  an,
		snapshots: snaps,
		telemetry: tel,
	}
}

// Start schedules the digest. An empty schedule leaves it disabled.
func (s *Scheduler) Start(schedule string) error {
	if schedule == "" {
		log.Info().Msg("Digest schedule not set, scheduler disabled")
		return nil
	}

	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.RunOnce(s.ctx); err != nil {
			log.Error().Err(err).Msg("Digest run failed")
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	log.Info().Str("schedule", schedule).Msg("Digest scheduler started")
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.cancel()
	log.Info().Msg("Digest scheduler stopped")
}

func (s *Scheduler) Running() bool {
	return len(s.cron.Entries()) > 0
}

// RunOnce builds a report, logs it and refreshes the issue gauges.
func (s *Scheduler) RunOnce(ctx context.Context) (*Report, error) {
	snap, err := s.snapshots.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	issues, err := s.analyzer.AnalyzeAll(ctx)
	if err != nil {
		return nil, err
	}

	r := buildReport(snap, issues)
	s.telemetry.SetIssueCounts(r.IssuesByRule)

	ev := log.Info().
		Int64("events", r.TotalEvents).
		Int64("sessions", r.TotalSessions).
		Int("issues", len(issues))
	for rule, n := range r.IssuesByRule {
		ev = ev.Int(rule, n)
	}
	ev.Msg("Analysis digest")

	for _, iss := range r.TopIssues {
		log.Info().
			Str("rule", iss.RuleID).
			Str("severity", string(iss.Severity)).
			Str("page", iss.PageURL).
			Msg(iss.Description)
	}
	return r, nil
}

func buildReport(snap *metrics.Snapshot, issues []insights.Issue) *Report {
	r := &Report{
		TotalEvents:   snap.TotalEvents,
		TotalSessions: snap.TotalSessions,
		IssuesByRule:  map[string]int{},
		GeneratedAt:   snap.GeneratedAt,
	}
	for _, iss := range issues {
		r.IssuesByRule[iss.RuleID]++
	}

	ranked := append([]insights.Issue(nil), issues...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return severityRank[ranked[i].Severity] < severityRank[ranked[j].Severity]
	})
	if len(ranked) > topIssues {
		ranked = ranked[:topIssues]
	}
	r.TopIssues = ranked
	return r
}
