// Package providertest provides a scripted Gateway for tests.
package providertest

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/nidhogg/smallville/internal/prompt"
)

// Dimension is the length of every vector the fake returns.
const Dimension = 8

// Reply is a scripted answer to one chat call.
type Reply struct {
	Text string
	Err  error
}

// Gateway answers chat calls by template, falling back to Default. Embed
// returns a deterministic bag-of-words vector so similar texts land close.
type Gateway struct {
	Name    string
	Default Reply
	// EmbedErr, when set, fails every Embed call.
	EmbedErr error

	mu      sync.Mutex
	scripts map[prompt.Template][]Reply
	calls   []prompt.Prompt
	embeds  int
}

// New creates a fake with the given ID.
func New(name string) *Gateway {
	return &Gateway{Name: name, scripts: make(map[prompt.Template][]Reply)}
}

func (g *Gateway) ID() string { return g.Name }

// On queues replies for a template. Once the queue drains the last reply
// repeats.
func (g *Gateway) On(t prompt.Template, replies ...Reply) *Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scripts[t] = append(g.scripts[t], replies...)
	return g
}

// Say is shorthand for On with text replies.
func (g *Gateway) Say(t prompt.Template, texts ...string) *Gateway {
	replies := make([]Reply, len(texts))
	for i, s := range texts {
		replies[i] = Reply{Text: s}
	}
	return g.On(t, replies...)
}

func (g *Gateway) SendChat(_ context.Context, p prompt.Prompt, _ float64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, p)

	queue := g.scripts[p.Template()]
	if len(queue) == 0 {
		return g.Default.Text, g.Default.Err
	}
	r := queue[0]
	if len(queue) > 1 {
		g.scripts[p.Template()] = queue[1:]
	}
	return r.Text, r.Err
}

func (g *Gateway) Embed(_ context.Context, text string) ([]float32, error) {
	g.mu.Lock()
	g.embeds++
	err := g.EmbedErr
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	vec := make([]float32, Dimension)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(w, ".,!?")))
		vec[h.Sum32()%Dimension]++
	}
	return vec, nil
}

// Calls returns the prompts sent so far.
func (g *Gateway) Calls() []prompt.Prompt {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]prompt.Prompt(nil), g.calls...)
}

// CallsFor returns how many prompts used template t.
func (g *Gateway) CallsFor(t prompt.Template) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, p := range g.calls {
		if p.Template() == t {
			n++
		}
	}
	return n
}

// Embeds returns how many Embed calls were made.
func (g *Gateway) Embeds() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.embeds
}
