package agent

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSetActivityShiftsLast(t *testing.T) {
	a := New("John Lin", "Lin Family Home: Kitchen", "Making breakfast", nil, nil)
	if !a.SetActivity("Walking to the pharmacy") {
		t.Fatal("expected activity change")
	}
	v := a.View()
	if v.CurrentActivity != "Walking to the pharmacy" {
		t.Errorf("got current %q", v.CurrentActivity)
	}
	if v.LastActivity != "Making breakfast" {
		t.Errorf("got last %q, want Making breakfast", v.LastActivity)
	}
	if a.SetActivity("Walking to the pharmacy") {
		t.Error("same activity should not count as a change")
	}
}

func TestPlanNaturalLanguage(t *testing.T) {
	day := time.Date(2023, 2, 13, 0, 0, 0, 0, time.UTC)
	p := Plan{Activity: "Walk to the school", Start: day.Add(9 * time.Hour), End: day.Add(9*time.Hour + 30*time.Minute)}
	want := "Walk to the school from 9:00am to 9:30am"
	if got := p.NaturalLanguage(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if !p.Active(day.Add(9*time.Hour + 10*time.Minute)) {
		t.Error("plan should be active at 9:10")
	}
	if p.Active(day.Add(9*time.Hour + 30*time.Minute)) {
		t.Error("plan end is exclusive")
	}
}

func TestReplacePlansCopies(t *testing.T) {
	a := New("Eddy Lin", "Home", "Sleeping", nil, nil)
	plans := []Plan{{Activity: "Practice piano"}}
	a.ReplacePlans(plans)
	plans[0].Activity = "changed"
	if got := a.Plans()[0].Activity; got != "Practice piano" {
		t.Fatalf("got %q, plans were aliased", got)
	}
}

func TestPrunePlansDropsFinished(t *testing.T) {
	day := time.Date(2023, 2, 13, 0, 0, 0, 0, time.UTC)
	a := New("Eddy Lin", "Home", "Sleeping", nil, nil)
	a.ReplacePlans([]Plan{
		{Activity: "Breakfast", Start: day.Add(8 * time.Hour), End: day.Add(9 * time.Hour)},
		{Activity: "School", Start: day.Add(9 * time.Hour), End: day.Add(15 * time.Hour)},
		{Activity: "Piano", Start: day.Add(16 * time.Hour), End: day.Add(17 * time.Hour)},
	})

	if n := a.PrunePlans(day.Add(9 * time.Hour)); n != 2 {
		t.Fatalf("got %d plans left, want 2", n)
	}
	if got := a.Plans()[0].Activity; got != "School" {
		t.Errorf("first plan %q, want School", got)
	}
	if n := a.PrunePlans(day.Add(72 * time.Hour)); n != 0 || len(a.Plans()) != 0 {
		t.Errorf("plans left three days later: %v", a.Plans())
	}
}

func TestRestoreKeepsState(t *testing.T) {
	start := time.Date(2023, 2, 13, 9, 0, 0, 0, time.UTC)
	v := View{
		Name:            "Amy",
		Description:     []string{"Amy runs the cafe"},
		CurrentActivity: "Serving coffee",
		LastActivity:    "Opening the cafe",
		Location:        "Cafe",
		Emoji:           "☕",
		Plans:           []Plan{{Activity: "Serve coffee", Start: start, End: start.Add(time.Hour)}},
		UpdatedAt:       start,
	}
	got := Restore(v, nil).View()
	if got.LastActivity != v.LastActivity || got.Emoji != v.Emoji || got.Status != StatusIdle {
		t.Errorf("unexpected restored view: %+v", got)
	}
	if len(got.Plans) != 1 || !got.UpdatedAt.Equal(start) {
		t.Errorf("plans or timestamp lost: %+v", got)
	}
}

func TestRegistryUniqueNames(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	if err := r.Register(New("Mei Lin", "Home", "Reading", nil, nil)); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := r.Register(New("Mei Lin", "Park", "Walking", nil, nil))
	if !errors.Is(err, ErrAgentExists) {
		t.Fatalf("got %v, want ErrAgentExists", err)
	}
	if _, ok := r.Get("Mei Lin"); !ok {
		t.Fatal("agent not found")
	}
	if names := r.Names(); len(names) != 1 || names[0] != "Mei Lin" {
		t.Fatalf("got names %v", names)
	}
}
