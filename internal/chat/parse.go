package chat

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nidhogg/smallville/internal/agent"
	"github.com/nidhogg/smallville/internal/conversation"
	"github.com/nidhogg/smallville/internal/errs"
	"github.com/nidhogg/smallville/internal/memory"
	"github.com/nidhogg/smallville/internal/prompt"
	"github.com/nidhogg/smallville/internal/world"
)

var (
	bulletRe   = regexp.MustCompile(`^\s*(?:\d+\s*[.)]|[-*•])\s*`)
	clockExpr  = `(\d{1,2})(?::(\d{2}))?\s*([ap])\.?\s*m\.?`
	planLineRe = regexp.MustCompile(`(?i)^(.+?)\s+from\s+` + clockExpr + `\s*(?:-|–|to)\s*` + clockExpr)
)

// ParsePlans reads "<activity> from <start>-<end>" lines. Times are placed
// on the day of now; an end before its start rolls over to the next day.
// Lines that do not match are skipped.
func ParsePlans(text string, now time.Time) []agent.Plan {
	var plans []agent.Plan
	for line := range strings.Lines(text) {
		line = bulletRe.ReplaceAllString(strings.TrimSpace(line), "")
		m := planLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		start, ok := clock(now, m[2], m[3], m[4])
		if !ok {
			continue
		}
		end, ok := clock(now, m[5], m[6], m[7])
		if !ok {
			continue
		}
		if !end.After(start) {
			end = end.Add(24 * time.Hour)
		}
		activity := strings.TrimRight(strings.TrimSpace(m[1]), ",;:")
		if activity == "" {
			continue
		}
		plans = append(plans, agent.Plan{Activity: activity, Start: start, End: end})
	}
	return plans
}

func clock(day time.Time, hour, minute, meridiem string) (time.Time, bool) {
	h, err := strconv.Atoi(hour)
	if err != nil || h < 1 || h > 12 {
		return time.Time{}, false
	}
	mins := 0
	if minute != "" {
		mins, err = strconv.Atoi(minute)
		if err != nil || mins > 59 {
			return time.Time{}, false
		}
	}
	h %= 12
	if strings.EqualFold(meridiem, "p") {
		h += 12
	}
	y, mo, d := day.Date()
	return time.Date(y, mo, d, h, mins, 0, 0, day.Location()), true
}

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// firstObject decodes the first JSON object found in text into v. Trailing
// commas before a closing brace or bracket are tolerated.
func firstObject(op, text string, v any) error {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return errs.Malformed(op, "no JSON object in reply")
	}
	depth, inString, escaped := 0, false, false
	end := -1
scan:
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				end = i
				break scan
			}
		}
	}
	if end < 0 {
		return errs.Malformed(op, "unterminated JSON object")
	}
	raw := trailingCommaRe.ReplaceAllString(text[start:end+1], "$1")
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return errs.Malformed(op, "decode JSON: %v", err)
	}
	return nil
}

// Reaction is the model's decision about an observation.
type Reaction struct {
	React    bool   `json:"react"`
	Action   string `json:"action"`
	Location string `json:"location"`
	Emoji    string `json:"emoji"`
}

type reactionReply struct {
	React    json.RawMessage `json:"react"`
	Action   string          `json:"action"`
	Location string          `json:"location"`
	Emoji    string          `json:"emoji"`
}

// ParseReaction reads the first JSON object of text. "react" must be
// present and read as yes/no or a boolean.
func ParseReaction(text string) (Reaction, error) {
	var r reactionReply
	if err := firstObject("parse reaction", text, &r); err != nil {
		return Reaction{}, err
	}
	react, ok := yesNo(r.React)
	if !ok {
		return Reaction{}, errs.Malformed("parse reaction", "react is %q", string(r.React))
	}
	return Reaction{
		React:    react,
		Action:   strings.TrimSpace(r.Action),
		Location: strings.TrimSpace(r.Location),
		Emoji:    strings.TrimSpace(r.Emoji),
	}, nil
}

func yesNo(raw json.RawMessage) (bool, bool) {
	if len(raw) == 0 {
		return false, false
	}
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return b, true
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return false, false
	}
	switch strings.ToLower(strings.Trim(strings.TrimSpace(s), ".!")) {
	case "yes", "y", "true":
		return true, true
	case "no", "n", "false":
		return false, true
	}
	return false, false
}

// Activity is the model's account of what an agent is doing now.
type Activity struct {
	LastActivity string `json:"last_activity"`
	Location     string `json:"location"`
	Activity     string `json:"activity"`
	Emoji        string `json:"emoji"`
}

// ParseActivity reads the first JSON object of text. "activity" is
// required.
func ParseActivity(text string) (Activity, error) {
	var a Activity
	if err := firstObject("parse activity", text, &a); err != nil {
		return Activity{}, err
	}
	a.Activity = strings.TrimSpace(a.Activity)
	if a.Activity == "" {
		return Activity{}, errs.Malformed("parse activity", "missing activity")
	}
	a.LastActivity = strings.TrimSpace(a.LastActivity)
	a.Location = strings.TrimSpace(a.Location)
	a.Emoji = strings.TrimSpace(a.Emoji)
	return a, nil
}

// ParseRanking reads a bracketed list of integers and checks there is one
// score per memory, each within the importance scale.
func ParseRanking(text string, want int) ([]int, error) {
	open := strings.IndexByte(text, '[')
	if open < 0 {
		return nil, errs.Malformed("parse ranking", "no list in reply")
	}
	closing := strings.IndexByte(text[open:], ']')
	if closing < 0 {
		return nil, errs.Malformed("parse ranking", "unterminated list")
	}
	var scores []int
	for field := range strings.SplitSeq(text[open+1:open+closing], ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil {
			return nil, errs.Malformed("parse ranking", "score %q is not an integer", field)
		}
		if n < memory.MinImportance || n > memory.MaxImportance {
			return nil, errs.Malformed("parse ranking", "score %d outside %d-%d", n, memory.MinImportance, memory.MaxImportance)
		}
		scores = append(scores, n)
	}
	if len(scores) != want {
		return nil, errs.Malformed("parse ranking", "%d scores for %d memories", len(scores), want)
	}
	return scores, nil
}

// ObjectState is one "Object: State" line.
type ObjectState struct {
	Object string
	State  string
}

// ParseObjectStates reads "Object: State" lines and ignores everything
// else.
func ParseObjectStates(text string) []ObjectState {
	var out []ObjectState
	for line := range strings.Lines(text) {
		line = bulletRe.ReplaceAllString(strings.TrimSpace(line), "")
		name, state, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name, state = strings.TrimSpace(name), strings.TrimSpace(state)
		if name == "" || state == "" {
			continue
		}
		out = append(out, ObjectState{Object: name, State: state})
	}
	return out
}

// IsNoConversation reports whether text is the decline sentinel, ignoring
// case, quotes and surrounding punctuation.
func IsNoConversation(text string) bool {
	t := strings.TrimFunc(text, func(r rune) bool {
		return strings.ContainsRune(" \t\r\n\"'`.!,", r)
	})
	return strings.EqualFold(t, prompt.NoConversation)
}

// ParseConversation reads "Name: message" lines spoken by agent or other.
// A speaker may be named by full or first name. Other lines are dropped.
func ParseConversation(text, agentName, other string) []conversation.Dialog {
	if IsNoConversation(text) {
		return nil
	}
	var out []conversation.Dialog
	for line := range strings.Lines(text) {
		name, msg, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		msg = strings.TrimSpace(msg)
		if msg == "" {
			continue
		}
		speaker := matchSpeaker(strings.Trim(strings.TrimSpace(name), "*"), agentName, other)
		if speaker == "" {
			continue
		}
		out = append(out, conversation.Dialog{Speaker: speaker, Message: msg})
	}
	return out
}

func matchSpeaker(name string, candidates ...string) string {
	for _, c := range candidates {
		if strings.EqualFold(name, c) {
			return c
		}
	}
	for _, c := range candidates {
		first, _, _ := strings.Cut(c, " ")
		if strings.EqualFold(name, first) {
			return c
		}
	}
	return ""
}

// resolveObjects places parsed states on objects near the agent. Names that
// match no nearby object are returned separately.
func resolveObjects(states []ObjectState, near []world.Object) (updates []world.ObjectUpdate, unknown []string) {
	for _, s := range states {
		found := false
		for _, o := range near {
			if strings.EqualFold(o.Name, s.Object) {
				updates = append(updates, world.ObjectUpdate{Location: o.Location, Object: o.Name, State: s.State})
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, s.Object)
		}
	}
	return updates, unknown
}
