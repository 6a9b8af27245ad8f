package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterAndGather(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()

	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() returned error: %v", err)
	}

	m.JobFinished(OutcomeDone, 1.5)
	m.VersionCreated("ai")
	m.ScoringRetried()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() returned error: %v", err)
	}

	expected := map[string]bool{
		MetricReanalysisJobsTotal:    false,
		MetricReanalysisJobsDuration: false,
		MetricVersionsCreatedTotal:   false,
		MetricScoringRetriesTotal:    false,
	}
	for _, family := range families {
		if _, ok := expected[family.GetName()]; ok {
			expected[family.GetName()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("metric %s not found in gathered metrics", name)
		}
	}
}

func TestDuplicateRegistrationFails(t *testing.T) {
	m1 := New()
	m2 := New()
	reg := prometheus.NewRegistry()

	if err := m1.Register(reg); err != nil {
		t.Fatalf("first Register() returned error: %v", err)
	}
	if err := m2.Register(reg); err == nil {
		t.Error("second Register() should have returned an error")
	}
}

func TestCollectorsCount(t *testing.T) {
	if n := len(New().Collectors()); n != 4 {
		t.Errorf("have %d collectors, want 4", n)
	}
}
