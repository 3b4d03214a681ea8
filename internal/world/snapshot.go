package world

import (
	"slices"
	"strings"
	"time"
)

// Resident is the part of an agent other agents can observe.
type Resident struct {
	Name        string   `json:"name"`
	Description []string `json:"description"`
	Location    string   `json:"location"`
	Activity    string   `json:"activity"`
}

// Snapshot is the read-only view of the world taken at the start of a tick.
// Every agent task in the tick reads the same snapshot.
type Snapshot struct {
	Time      time.Time  `json:"time"`
	Locations []Location `json:"locations"`
	Objects   []Object   `json:"objects"`
	Residents []Resident `json:"residents"`
}

// Snapshot captures the town together with the given residents at time now.
func (t *Town) Snapshot(now time.Time, residents []Resident) Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rs := make([]Resident, len(residents))
	for i, r := range residents {
		r.Description = slices.Clone(r.Description)
		rs[i] = r
	}
	return Snapshot{
		Time:      now,
		Locations: slices.Clone(t.locations),
		Objects:   slices.Clone(t.objects),
		Residents: rs,
	}
}

// Resident returns the named resident.
func (s Snapshot) Resident(name string) (Resident, bool) {
	for _, r := range s.Residents {
		if r.Name == name {
			return r, true
		}
	}
	return Resident{}, false
}

// ResidentsNear returns the residents sharing the top-level area of location,
// excluding the named agent.
func (s Snapshot) ResidentsNear(location, except string) []Resident {
	area := topLevel(location)
	var out []Resident
	for _, r := range s.Residents {
		if r.Name == except {
			continue
		}
		if strings.EqualFold(topLevel(r.Location), area) {
			out = append(out, r)
		}
	}
	return out
}

// ObjectsAt returns the objects inside location or any of its areas.
func (s Snapshot) ObjectsAt(location string) []Object {
	area := topLevel(location)
	var out []Object
	for _, o := range s.Objects {
		if inside(o.Location, area) {
			out = append(out, o)
		}
	}
	return out
}

func topLevel(location string) string {
	if i := strings.Index(location, ": "); i >= 0 {
		return location[:i]
	}
	return location
}

// ResolveLocation maps a full or leaf location name to its full name.
func (s Snapshot) ResolveLocation(name string) (string, bool) {
	loc, ok := resolveLocation(s.Locations, name)
	if !ok {
		return "", false
	}
	return loc.FullName(), true
}
