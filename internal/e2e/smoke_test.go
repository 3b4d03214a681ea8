//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

var baseURL string

func TestMain(m *testing.M) {
	baseURL = os.Getenv("SMALLVILLE_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	// Wait for server readiness (up to 30s)
	ready := false
	for i := 0; i < 30; i++ {
		resp, err := http.Get(baseURL + "/api/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				ready = true
				break
			}
		}
		time.Sleep(1 * time.Second)
	}
	if !ready {
		fmt.Fprintf(os.Stderr, "server at %s not ready after 30s\n", baseURL)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

var client = &http.Client{Timeout: 5 * time.Minute}

// call sends body as JSON and decodes the response into out. Any status
// other than want fails the test.
func call(t *testing.T, method, path string, body, out any, want int) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, baseURL+path, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if resp.StatusCode != want {
		t.Fatalf("%s %s: status %d, want %d: %s", method, path, resp.StatusCode, want, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("unmarshal response: %v (body: %s)", err, raw)
		}
	}
}

// resident returns a name unique to this run, so the suite can be pointed
// at a server with persisted state.
func resident(base string) string {
	return fmt.Sprintf("%s%d", base, time.Now().UnixNano()%100000)
}

type agentView struct {
	Name            string `json:"name"`
	CurrentActivity string `json:"current_activity"`
	Location        string `json:"location"`
	Emoji           string `json:"emoji"`
	Memories        int    `json:"memories"`
	Plans           []struct {
		Activity string `json:"activity"`
	} `json:"plans"`
}

func seed(t *testing.T, name string) {
	t.Helper()
	call(t, http.MethodPost, "/api/locations", map[string]string{"name": "Hobbs Cafe"}, nil, http.StatusCreated)
	call(t, http.MethodPost, "/api/locations", map[string]string{"name": "Counter", "parent": "Hobbs Cafe"}, nil, http.StatusCreated)
	call(t, http.MethodPost, "/api/objects", map[string]string{
		"name": "Coffee machine", "parent": "Hobbs Cafe: Counter", "state": "off",
	}, nil, http.StatusCreated)
	call(t, http.MethodPost, "/api/agents", map[string]any{
		"name":        name,
		"location":    "Hobbs Cafe",
		"activity":    "Waking up",
		"description": []string{name + " runs Hobbs Cafe", name + " loves jazz"},
		"memories":    []string{name + " opened the cafe yesterday at 8am"},
	}, nil, http.StatusCreated)
}

func TestCreateResident(t *testing.T) {
	name := resident("Isabella")
	seed(t, name)

	var a agentView
	call(t, http.MethodGet, "/api/agents/"+name, nil, &a, http.StatusOK)
	if a.Location != "Hobbs Cafe" || a.Memories != 1 {
		t.Errorf("unexpected resident: %+v", a)
	}
}

func TestAskResident(t *testing.T) {
	name := resident("Isabella")
	seed(t, name)

	var out struct {
		Answer string `json:"answer"`
	}
	call(t, http.MethodPost, "/api/agents/"+name+"/ask",
		map[string]string{"question": "What kind of music do you like?"}, &out, http.StatusOK)
	if len(out.Answer) <= 10 {
		t.Errorf("expected a meaningful answer, got %q", out.Answer)
	}
	t.Logf("answer: %.300s", out.Answer)
}

func TestAdvanceTick(t *testing.T) {
	name := resident("Klaus")
	seed(t, name)

	var before struct {
		Time time.Time `json:"time"`
		Tick int64     `json:"tick"`
	}
	call(t, http.MethodGet, "/api/state", nil, &before, http.StatusOK)

	var after struct {
		Time     time.Time   `json:"time"`
		Tick     int64       `json:"tick"`
		Agents   []agentView `json:"agents"`
		LastTick struct {
			Errors []string `json:"errors"`
		} `json:"last_tick"`
	}
	call(t, http.MethodPost, "/api/state", nil, &after, http.StatusOK)

	if !after.Time.After(before.Time) || after.Tick <= before.Tick {
		t.Errorf("world did not advance: %v/%d -> %v/%d", before.Time, before.Tick, after.Time, after.Tick)
	}
	for _, a := range after.Agents {
		if a.Name != name {
			continue
		}
		if a.CurrentActivity == "" || a.CurrentActivity == "Waking up" {
			t.Errorf("activity not updated: %+v", a)
		}
		if len(a.Plans) == 0 {
			t.Errorf("no plans after tick: %+v", a)
		}
		t.Logf("%s %s: %s", a.Emoji, a.Name, a.CurrentActivity)
		return
	}
	t.Errorf("resident %s missing from state (errors: %s)", name, strings.Join(after.LastTick.Errors, "; "))
}

func TestUnknownResident(t *testing.T) {
	call(t, http.MethodGet, "/api/agents/nobody-"+resident("x"), nil, nil, http.StatusNotFound)
}
