package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type agentView struct {
	Name            string `json:"name"`
	CurrentActivity string `json:"current_activity"`
	Location        string `json:"location"`
	Emoji           string `json:"emoji"`
}

type stateView struct {
	Time     time.Time   `json:"time"`
	Tick     int64       `json:"tick"`
	Agents   []agentView `json:"agents"`
	LastTick *struct {
		Events []struct {
			Agent string `json:"agent"`
			Text  string `json:"text"`
		} `json:"events"`
		Errors []string `json:"errors"`
	} `json:"last_tick"`
}

func main() {
	server := flag.String("server", "http://localhost:8080", "Smallville server URL")
	flag.Parse()

	c := &client{base: strings.TrimRight(*server, "/"), http: &http.Client{Timeout: 5 * time.Minute}}

	fmt.Println("Smallville console")
	fmt.Printf("Server: %s\n", c.base)
	fmt.Println("Type 'exit' or 'quit' to leave. Ask a resident with @Name question.")
	fmt.Println("Commands: /agents, /state, /tick, /feed")
	fmt.Println("---")

	c.agents()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		switch {
		case input == "":
		case input == "exit" || input == "quit":
			fmt.Println("Bye!")
			return
		case input == "/agents":
			c.agents()
		case input == "/state":
			c.state(http.MethodGet)
		case input == "/tick":
			c.state(http.MethodPost)
		case input == "/feed":
			c.feed()
		case strings.HasPrefix(input, "@"):
			name, question, _ := strings.Cut(input[1:], " ")
			c.ask(name, strings.TrimSpace(question))
		default:
			printError("Unknown input. Use @Name question or a /command.")
		}
	}
}

type client struct {
	base string
	http *http.Client
}

func (c *client) do(method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(data))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) agents() {
	var agents []agentView
	if err := c.do(http.MethodGet, "/api/agents", nil, &agents); err != nil {
		printError("Failed to fetch agents: %v", err)
		return
	}
	if len(agents) == 0 {
		fmt.Println("No residents yet.")
		return
	}
	fmt.Println("Residents:")
	for _, a := range agents {
		printAgent(a)
	}
}

func (c *client) state(method string) {
	var s stateView
	if err := c.do(method, "/api/state", nil, &s); err != nil {
		printError("State request failed: %v", err)
		return
	}
	fmt.Printf("\033[1m%s\033[0m (tick %d)\n", s.Time.Format("Monday Jan 2 15:04"), s.Tick)
	for _, a := range s.Agents {
		printAgent(a)
	}
	if method == http.MethodPost && s.LastTick != nil {
		for _, e := range s.LastTick.Events {
			fmt.Printf("  \033[36m[%s]\033[0m %s\n", e.Agent, e.Text)
		}
		for _, e := range s.LastTick.Errors {
			printError("  %s", e)
		}
	}
}

func (c *client) ask(name, question string) {
	if name == "" || question == "" {
		printError("Usage: @Name question")
		return
	}
	var out struct {
		Agent  string `json:"agent"`
		Answer string `json:"answer"`
	}
	if err := c.do(http.MethodPost, "/api/agents/"+name+"/ask", map[string]string{"question": question}, &out); err != nil {
		printError("Ask failed: %v", err)
		return
	}
	fmt.Printf("\033[36m[%s]\033[0m %s\n", out.Agent, out.Answer)
}

func (c *client) feed() {
	var records []struct {
		Post struct {
			Agent string `json:"agent"`
			Emoji string `json:"emoji"`
			Text  string `json:"text"`
		} `json:"post"`
	}
	if err := c.do(http.MethodGet, "/api/feed?limit=20", nil, &records); err != nil {
		printError("Failed to fetch feed: %v", err)
		return
	}
	if len(records) == 0 {
		fmt.Println("Nothing posted yet.")
		return
	}
	for _, r := range records {
		p := r.Post
		fmt.Printf("  %s \033[36m%s\033[0m %s\n", p.Emoji, p.Agent, p.Text)
	}
}

func printAgent(a agentView) {
	fmt.Printf("  %s @%s at %s: %s\n", a.Emoji, a.Name, a.Location, a.CurrentActivity)
}

func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
