// Package prompt turns agent and world state into prompts for the language
// model. Atomic functions render single facts; the Builder picks a template
// and fills every placeholder in one pass.
package prompt

import (
	"maps"
	"regexp"
	"strings"
	"time"

	"github.com/nidhogg/smallville/internal/agent"
	"github.com/nidhogg/smallville/internal/errs"
	"github.com/nidhogg/smallville/internal/memory"
	"github.com/nidhogg/smallville/internal/world"
)

// Role is the chat role a prompt is sent as.
type Role string

const RoleUser Role = "user"

// Message is one chat message on the wire.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Prompt is a finished prompt. The zero value is empty and only Build
// produces non-empty ones.
type Prompt struct {
	template Template
	role     Role
	content  string
}

func (p Prompt) Template() Template { return p.template }
func (p Prompt) Role() Role         { return p.role }
func (p Prompt) Content() string    { return p.content }

// Messages returns the prompt as chat messages.
func (p Prompt) Messages() []Message {
	return []Message{{Role: p.role, Content: p.content}}
}

// placeholderRe matches "[Agent Name]" style and "%other_name%" style tokens.
// Bracket tokens must start with a letter so list examples like "[1, 3, 5]"
// stay literal.
var placeholderRe = regexp.MustCompile(`\[[A-Z][A-Za-z ]*\]|%[a-z_]+%`)

// Builder accumulates the inputs of a prompt. Every method returns a new
// Builder and leaves the receiver untouched, so a partially configured
// Builder can be shared and branched.
type Builder struct {
	view     agent.View
	hasAgent bool
	snapshot world.Snapshot
	now      time.Time
	memories []memory.Memory
	template Template
	values   map[string]string
}

// New returns an empty builder.
func New() Builder { return Builder{} }

// WithAgent attaches the agent the prompt is about.
func (b Builder) WithAgent(v agent.View) Builder {
	b.view = v
	b.hasAgent = true
	return b
}

// WithWorld attaches the tick's world snapshot.
func (b Builder) WithWorld(s world.Snapshot) Builder {
	b.snapshot = s
	if b.now.IsZero() {
		b.now = s.Time
	}
	return b
}

// WithTime sets the time the prompt speaks of.
func (b Builder) WithTime(t time.Time) Builder {
	b.now = t
	return b
}

// WithMemories attaches relevant memories, most relevant first.
func (b Builder) WithMemories(ms []memory.Memory) Builder {
	b.memories = ms
	return b
}

func (b Builder) choose(t Template, kv ...string) Builder {
	b.template = t
	b.values = make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		b.values[kv[i]] = kv[i+1]
	}
	return b
}

// FuturePlans asks for the rest of the day as a list of timed activities.
func (b Builder) FuturePlans() Builder { return b.choose(TemplateFuturePlans) }

// CurrentActivity asks what the agent is doing right now.
func (b Builder) CurrentActivity() Builder { return b.choose(TemplateCurrentActivity) }

// Reaction asks whether the agent reacts to an observation.
func (b Builder) Reaction(observation string) Builder {
	return b.choose(TemplateReaction, "%observation%", observation)
}

// MemoryRank asks for a poignancy score per memory.
func (b Builder) MemoryRank(ms []memory.Memory) Builder {
	return b.choose(TemplateMemoryRank, "%memories%", MemoryList(ms))
}

// AskQuestion asks the agent a question answered in first person.
func (b Builder) AskQuestion(question string) Builder {
	return b.choose(TemplateAskQuestion, "%question%", question)
}

// Conversation asks whether the agent talks to other and, if so, for the
// dialog.
func (b Builder) Conversation(other world.Resident) Builder {
	return b.choose(TemplateConversation,
		"%other_summary_description%", ResidentSummary(other),
		"%other_name%", other.Name)
}

// ObjectStates asks how objects around the agent changed given a status
// sentence such as the output of PastAndPresent.
func (b Builder) ObjectStates(status string) Builder {
	return b.choose(TemplateObjectStates, "%status%", status)
}

// Build resolves every placeholder of the selected template in one pass.
// Values are inserted with their own placeholder syntax defused, so the
// built prompt holds no token at all. It fails with a prompt-state error
// when no template was selected, when the template needs an agent and none
// is attached, or when a token has no value.
func (b Builder) Build() (Prompt, error) {
	if b.template == "" {
		return Prompt{}, errs.PromptState("build prompt", "no template selected")
	}
	tmpl, ok := templates[b.template]
	if !ok {
		return Prompt{}, errs.PromptState("build prompt", "unknown template "+string(b.template))
	}

	values := maps.Clone(b.values)
	if values == nil {
		values = make(map[string]string)
	}
	if b.hasAgent {
		values["[Agent Name]"] = b.view.Name
		values["[Agent Summary Description]"] = AgentSummary(b.view)
		values["[Current Activity]"] = b.view.CurrentActivity
		values["[Last Activity]"] = b.view.LastActivity
		values["[Future Plans]"] = "Plans: " + Plans(b.view.Plans)
	}
	values["[World Description]"] = WorldDescription(b.snapshot)
	values["%relevant_memories%"] = RelevantMemories(b.memories)
	values["%objects%"] = Objects(b.snapshot.ObjectsAt(b.view.Location))
	now := b.now
	if now.IsZero() {
		now = time.Now()
	}
	values["[Current Time]"] = TimeString(now)

	var missing []string
	content := placeholderRe.ReplaceAllStringFunc(tmpl, func(token string) string {
		v, ok := values[token]
		if !ok {
			missing = append(missing, token)
			return token
		}
		return defuse(v)
	})
	if len(missing) > 0 {
		return Prompt{}, errs.PromptState("build prompt",
			"unresolved placeholders "+strings.Join(missing, ", ")+" in "+string(b.template))
	}
	return Prompt{template: b.template, role: RoleUser, content: content}, nil
}

// defuse rewrites placeholder syntax inside a value: "[Agent Name]" becomes
// "(Agent Name)" and "%other_name%" becomes "other_name".
func defuse(v string) string {
	return placeholderRe.ReplaceAllStringFunc(v, func(token string) string {
		if strings.HasPrefix(token, "%") {
			return strings.Trim(token, "%")
		}
		return "(" + token[1:len(token)-1] + ")"
	})
}
