package prompt

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/smallville/internal/agent"
	"github.com/nidhogg/smallville/internal/errs"
	"github.com/nidhogg/smallville/internal/memory"
	"github.com/nidhogg/smallville/internal/world"
)

var now = time.Date(2023, 2, 13, 9, 5, 0, 0, time.UTC)

func testView() agent.View {
	return agent.View{
		Name:            "John Lin",
		Description:     []string{"John is a pharmacy shopkeeper", "John loves his family"},
		CurrentActivity: "Making breakfast",
		LastActivity:    "Sleeping",
		Location:        "Red House: Kitchen",
		Plans: []agent.Plan{
			{Activity: "Open the pharmacy", Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)},
		},
	}
}

func testSnapshot() world.Snapshot {
	return world.Snapshot{
		Time: now,
		Locations: []world.Location{
			{Name: "Red House"},
			{Name: "Kitchen", Parent: "Red House"},
		},
		Objects: []world.Object{
			{Name: "Stove", Location: "Red House: Kitchen", State: "off"},
		},
		Residents: []world.Resident{
			{Name: "John Lin", Location: "Red House: Kitchen", Activity: "Making breakfast"},
			{Name: "Mei Lin", Location: "Red House", Activity: "Reading the paper"},
		},
	}
}

func testMemories() []memory.Memory {
	return []memory.Memory{
		{Description: "Mei asked John to buy milk"},
		{Description: "Eddy has a piano recital tomorrow"},
	}
}

func base() Builder {
	return New().WithAgent(testView()).WithWorld(testSnapshot()).WithMemories(testMemories())
}

func TestBuildWithoutTemplateFails(t *testing.T) {
	_, err := base().Build()
	if !errors.Is(err, errs.ErrPromptState) {
		t.Fatalf("got %v, want PromptStateError", err)
	}
	_, err = New().Build()
	if !errors.Is(err, errs.ErrPromptState) {
		t.Fatalf("empty builder: got %v, want PromptStateError", err)
	}
}

func TestBuildWithoutAgentFails(t *testing.T) {
	_, err := New().WithWorld(testSnapshot()).FuturePlans().Build()
	if !errors.Is(err, errs.ErrPromptState) {
		t.Fatalf("got %v, want PromptStateError for unresolved agent tokens", err)
	}
}

func TestEveryTemplateResolvesAllPlaceholders(t *testing.T) {
	mei, _ := testSnapshot().Resident("Mei Lin")
	selections := map[string]func(Builder) Builder{
		"future plans":     func(b Builder) Builder { return b.FuturePlans() },
		"current activity": func(b Builder) Builder { return b.CurrentActivity() },
		"reaction":         func(b Builder) Builder { return b.Reaction("Mei Lin is reading the paper") },
		"memory rank":      func(b Builder) Builder { return b.MemoryRank(testMemories()) },
		"ask question":     func(b Builder) Builder { return b.AskQuestion("What will you cook?") },
		"conversation":     func(b Builder) Builder { return b.Conversation(mei) },
		"object states": func(b Builder) Builder {
			return b.ObjectStates(PastAndPresent("John Lin", "Sleeping", "Making breakfast"))
		},
	}
	if len(selections) != len(templates) {
		t.Fatalf("test covers %d templates, %d defined", len(selections), len(templates))
	}

	for name, sel := range selections {
		t.Run(name, func(t *testing.T) {
			p, err := sel(base()).Build()
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if tok := placeholderRe.FindString(p.Content()); tok != "" {
				t.Fatalf("unresolved token %q in:\n%s", tok, p.Content())
			}
			if p.Role() != RoleUser {
				t.Errorf("got role %q", p.Role())
			}
		})
	}

	// Re-selecting a template replaces the previous one entirely.
	chained := base().FuturePlans().Reaction("x").AskQuestion("y").CurrentActivity()
	p, err := chained.Build()
	if err != nil {
		t.Fatalf("chained build: %v", err)
	}
	if p.Template() != TemplateCurrentActivity {
		t.Fatalf("got template %q", p.Template())
	}
	if tok := placeholderRe.FindString(p.Content()); tok != "" {
		t.Fatalf("unresolved token %q", tok)
	}
}

func TestBuilderIsImmutable(t *testing.T) {
	b := base()
	withQuestion := b.AskQuestion("Where is Mei?")
	if _, err := b.Build(); !errors.Is(err, errs.ErrPromptState) {
		t.Fatal("selecting a template on a derived builder changed the original")
	}
	other := withQuestion.AskQuestion("Where is Eddy?")
	p1, _ := withQuestion.Build()
	p2, _ := other.Build()
	if !strings.Contains(p1.Content(), "Where is Mei?") || strings.Contains(p1.Content(), "Eddy?") {
		t.Fatalf("first branch content changed:\n%s", p1.Content())
	}
	if !strings.Contains(p2.Content(), "Where is Eddy?") {
		t.Fatalf("second branch missing its question:\n%s", p2.Content())
	}
}

func TestValuesCarryNoPlaceholders(t *testing.T) {
	v := testView()
	v.Description = append(v.Description, "John reads [Agent Name] aloud")
	p, err := New().WithAgent(v).WithWorld(testSnapshot()).WithMemories([]memory.Memory{
		{Description: "Mei wrote %relevant_memories% on the fridge"},
	}).AskQuestion("What does %other_name% mean in [Current Time]?").Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if tok := placeholderRe.FindString(p.Content()); tok != "" {
		t.Fatalf("placeholder %s left in:\n%s", tok, p.Content())
	}
	for _, want := range []string{
		"What does other_name mean in (Current Time)?",
		"John reads (Agent Name) aloud",
		"Mei wrote relevant_memories on the fridge",
	} {
		if !strings.Contains(p.Content(), want) {
			t.Errorf("missing %q in:\n%s", want, p.Content())
		}
	}
}

func TestMemoryRankContent(t *testing.T) {
	p, err := base().MemoryRank(testMemories()).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	c := p.Content()
	if !strings.Contains(c, "respond with [1, 3, 5]") {
		t.Error("list example should stay literal")
	}
	if !strings.Contains(c, "Memories: Mei asked John to buy milk, Eddy has a piano recital tomorrow") {
		t.Errorf("memories not joined with commas:\n%s", c)
	}
}

func TestConversationContent(t *testing.T) {
	mei, _ := testSnapshot().Resident("Mei Lin")
	p, err := base().Conversation(mei).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	c := p.Content()
	for _, want := range []string{"Name: Mei Lin", "between John Lin and Mei Lin", `respond with "No conversation"`} {
		if !strings.Contains(c, want) {
			t.Errorf("missing %q in:\n%s", want, c)
		}
	}
}

func TestAtomicFragments(t *testing.T) {
	if got := TimeString(now); got != "9:05am on Monday, February 13" {
		t.Errorf("TimeString = %q", got)
	}
	if got := PastAndPresent("John Lin", "I am sleeping", "Making coffee"); got != "John Lin is no longer sleeping and is now making coffee" {
		t.Errorf("PastAndPresent = %q", got)
	}
	wd := WorldDescription(testSnapshot())
	if !strings.Contains(wd, "Red House: Kitchen (Stove is off)") {
		t.Errorf("WorldDescription = %q", wd)
	}
	if got := Objects(testSnapshot().ObjectsAt("Red House")); got != "Stove: off" {
		t.Errorf("Objects = %q", got)
	}
}

func TestStatus(t *testing.T) {
	if got := Status("Mei Lin", "I am Reading the paper"); got != "Mei Lin is reading the paper" {
		t.Errorf("Status = %q", got)
	}
}
