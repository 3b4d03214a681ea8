// Package feed mirrors what happens in town to chat platforms. Residents
// speak in Slack or Discord channels under their own names.
package feed

import (
	"context"
	"time"
)

// Sink is one chat platform the town posts to.
type Sink interface {
	Platform() string
	Post(ctx context.Context, p Post) error
	Close() error
}

// Post is a single line shown in a channel.
type Post struct {
	Agent string    `json:"agent"`
	Emoji string    `json:"emoji,omitempty"`
	Kind  string    `json:"kind"`
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

// Line renders the post without the speaker's name. Platforms that can show
// a per-message username use this.
func (p Post) Line() string {
	if p.Emoji == "" {
		return p.Text
	}
	return p.Emoji + " " + p.Text
}

// String renders the post with the speaker's name.
func (p Post) String() string {
	if p.Agent == "" {
		return p.Line()
	}
	if p.Emoji == "" {
		return p.Agent + ": " + p.Text
	}
	return p.Emoji + " " + p.Agent + ": " + p.Text
}
