package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/activity-fanout/pkg/logger"
	"github.com/angelmondragon/activity-fanout/pkg/metrics"
)

type fakeLock struct {
	acquired bool
	held     bool
	released int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held || f.acquired {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.acquired = false
	f.released++
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

func TestServiceRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test"})
	success := &testJob{name: "success"}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	lock := &fakeLock{}
	service, err := NewService(ServiceParams{
		Logger:   logg,
		Registry: NewRegistry(success, failure),
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if success.runs != 1 {
		t.Fatalf("expected success job to run once, ran %d", success.runs)
	}
	if failure.runs != 1 {
		t.Fatalf("expected failure job to run once, ran %d", failure.runs)
	}
	if lock.released != 1 {
		t.Fatalf("expected lock released once, got %d", lock.released)
	}
}

func TestServiceRunCycleSkipsWhenLockHeld(t *testing.T) {
	reg := prometheus.NewRegistry()
	job := &testJob{name: "digest"}
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(job),
		Lock:     &fakeLock{held: true},
		Metrics:  metrics.NewCronJobMetrics(reg),
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("expected job skipped, ran %d", job.runs)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var skipped float64
	for _, family := range families {
		if family.GetName() == "cron_cycle_skipped" {
			skipped = family.GetMetric()[0].GetCounter().GetValue()
		}
	}
	if skipped != 1 {
		t.Fatalf("expected one skipped cycle, got %v", skipped)
	}
}

func TestServiceScheduleParsing(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 30, 0, time.UTC)
	cases := []struct {
		schedule string
		next     time.Time
	}{
		{"", base.Add(time.Minute)},
		{"@every 5m", base.Add(5 * time.Minute)},
		{"0 * * * *", time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)},
		{"@daily", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		service, err := NewService(ServiceParams{
			Logger:   logger.Nop(),
			Lock:     &fakeLock{},
			Schedule: tc.schedule,
		})
		if err != nil {
			t.Fatalf("schedule %q: %v", tc.schedule, err)
		}
		if got := service.Next(base); !got.Equal(tc.next) {
			t.Fatalf("schedule %q: expected %s, got %s", tc.schedule, tc.next, got)
		}
	}
}

func TestNewServiceValidates(t *testing.T) {
	if _, err := NewService(ServiceParams{Lock: &fakeLock{}}); err == nil {
		t.Fatal("expected logger error")
	}
	if _, err := NewService(ServiceParams{Logger: logger.Nop()}); err == nil {
		t.Fatal("expected lock error")
	}
	if _, err := NewService(ServiceParams{Logger: logger.Nop(), Lock: &fakeLock{}, Schedule: "every tuesday"}); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	job := &testJob{name: "once"}
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(job),
		Lock:     &fakeLock{},
		Schedule: "@every 1h",
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := service.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if job.runs != 1 {
		t.Fatalf("expected the startup cycle to run once, ran %d", job.runs)
	}
}
