package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/smallville/internal/agent"
	"github.com/nidhogg/smallville/internal/memory"
	"github.com/nidhogg/smallville/internal/world"
)

// The functions in this file render single facts as text. They are the
// building blocks the templates are filled with.

// AgentSummary describes an agent in a few lines.
func AgentSummary(v agent.View) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Name: %s", v.Name)
	if len(v.Description) > 0 {
		fmt.Fprintf(&sb, "\nDescription: %s", strings.Join(v.Description, ". "))
	}
	if v.Location != "" {
		fmt.Fprintf(&sb, "\nLocation: %s", v.Location)
	}
	return sb.String()
}

// ResidentSummary describes another resident as seen in a snapshot.
func ResidentSummary(r world.Resident) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Name: %s", r.Name)
	if len(r.Description) > 0 {
		fmt.Fprintf(&sb, "\nDescription: %s", strings.Join(r.Description, ". "))
	}
	if r.Activity != "" {
		fmt.Fprintf(&sb, "\nCurrent activity: %s", r.Activity)
	}
	return sb.String()
}

// WorldDescription lists each location with the state of its objects.
func WorldDescription(s world.Snapshot) string {
	if len(s.Locations) == 0 {
		return "The world is empty."
	}
	var sb strings.Builder
	sb.WriteString("Locations:")
	for _, l := range s.Locations {
		name := l.FullName()
		sb.WriteString("\n- ")
		sb.WriteString(name)
		var objs []string
		for _, o := range s.Objects {
			if o.Location == name {
				objs = append(objs, fmt.Sprintf("%s is %s", o.Name, o.State))
			}
		}
		if len(objs) > 0 {
			sb.WriteString(" (")
			sb.WriteString(strings.Join(objs, ", "))
			sb.WriteString(")")
		}
	}
	return sb.String()
}

// TimeString renders t as "9:05am on Monday, February 13".
func TimeString(t time.Time) string {
	return strings.ToLower(t.Format("3:04pm")) + t.Format(" on Monday, January 2")
}

// RelevantMemories renders memories as a bullet list.
func RelevantMemories(ms []memory.Memory) string {
	if len(ms) == 0 {
		return "Nothing relevant comes to mind."
	}
	lines := make([]string, len(ms))
	for i, m := range ms {
		lines[i] = "- " + m.Description
	}
	return strings.Join(lines, "\n")
}

// MemoryList joins memory descriptions with commas, the format the ranking
// template asks the model to score.
func MemoryList(ms []memory.Memory) string {
	descs := make([]string, len(ms))
	for i, m := range ms {
		descs[i] = m.Description
	}
	return strings.Join(descs, ", ")
}

// Plans renders plans one per line.
func Plans(plans []agent.Plan) string {
	if len(plans) == 0 {
		return "none"
	}
	lines := make([]string, len(plans))
	for i, p := range plans {
		lines[i] = p.NaturalLanguage()
	}
	return strings.Join(lines, "\n")
}

// Objects renders objects as "<name>: <state>" lines.
func Objects(objs []world.Object) string {
	if len(objs) == 0 {
		return "none"
	}
	lines := make([]string, len(objs))
	for i, o := range objs {
		lines[i] = fmt.Sprintf("%s: %s", o.Name, o.State)
	}
	return strings.Join(lines, "\n")
}

// PastAndPresent states an activity change in one sentence.
func PastAndPresent(name, last, current string) string {
	if last == "" {
		return fmt.Sprintf("%s is now %s", name, lowerFirst(current))
	}
	return fmt.Sprintf("%s is no longer %s and is now %s", name, lowerFirst(last), lowerFirst(current))
}

// Status renders "<name> is <activity>", dropping a leading "I am".
func Status(name, activity string) string {
	return name + " is " + lowerFirst(activity)
}

func lowerFirst(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "I am ")
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
