package world

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrLocationNotFound is returned when a name does not resolve to a location.
var ErrLocationNotFound = fmt.Errorf("location not found")

// ErrObjectNotFound is returned when an object does not exist at a location.
var ErrObjectNotFound = fmt.Errorf("object not found")

// Location is a place in the town. Areas nest one level under a parent,
// e.g. "Red House: Kitchen".
type Location struct {
	Name   string `json:"name"`
	Parent string `json:"parent,omitempty"`
}

// FullName renders "<parent>: <name>" for nested areas.
func (l Location) FullName() string {
	if l.Parent == "" {
		return l.Name
	}
	return l.Parent + ": " + l.Name
}

// Object is a stateful thing inside a location.
type Object struct {
	Name     string `json:"name"`
	Location string `json:"location"` // full location name
	State    string `json:"state"`
}

// ObjectUpdate is a state change produced during a tick and committed after it.
type ObjectUpdate struct {
	Location string `json:"location"`
	Object   string `json:"object"`
	State    string `json:"state"`
}

// Town owns the locations and objects. Only the tick driver and the API
// write to it; agents see it through Snapshots.
type Town struct {
	locations []Location
	objects   []Object
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewTown creates an empty town.
func NewTown(logger *zap.Logger) *Town {
	return &Town{logger: logger}
}

// AddLocation registers a location. The parent, if any, must exist.
func (t *Town) AddLocation(name, parent string) (Location, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	name = strings.TrimSpace(name)
	if name == "" {
		return Location{}, fmt.Errorf("add location: empty name")
	}
	loc := Location{Name: name}
	if parent != "" {
		p, ok := t.resolve(parent)
		if !ok {
			return Location{}, fmt.Errorf("add location %s under %s: %w", name, parent, ErrLocationNotFound)
		}
		loc.Parent = p.FullName()
	}
	if _, exists := t.resolve(loc.FullName()); exists {
		return loc, nil
	}
	t.locations = append(t.locations, loc)
	t.logger.Info("location added", zap.String("location", loc.FullName()))
	return loc, nil
}

// AddObject places an object in a location, replacing any object of the
// same name there.
func (t *Town) AddObject(name, location, state string) (Object, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	loc, ok := t.resolve(location)
	if !ok {
		return Object{}, fmt.Errorf("add object %s: %w: %s", name, ErrLocationNotFound, location)
	}
	obj := Object{Name: name, Location: loc.FullName(), State: state}
	for i, o := range t.objects {
		if o.Location == obj.Location && strings.EqualFold(o.Name, name) {
			t.objects[i] = obj
			return obj, nil
		}
	}
	t.objects = append(t.objects, obj)
	t.logger.Info("object added",
		zap.String("object", name),
		zap.String("location", obj.Location),
		zap.String("state", state))
	return obj, nil
}

// ResolveLocation returns the canonical full name for a full or leaf name.
func (t *Town) ResolveLocation(name string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	loc, ok := t.resolve(name)
	if !ok {
		return "", false
	}
	return loc.FullName(), true
}

func (t *Town) resolve(name string) (Location, bool) {
	return resolveLocation(t.locations, name)
}

func resolveLocation(locations []Location, name string) (Location, bool) {
	name = strings.TrimSpace(name)
	for _, l := range locations {
		if strings.EqualFold(l.FullName(), name) {
			return l, true
		}
	}
	for _, l := range locations {
		if strings.EqualFold(l.Name, name) {
			return l, true
		}
	}
	return Location{}, false
}

// Commit applies object updates collected during a tick. Unknown objects are
// skipped and reported in the returned error; known ones are still applied.
func (t *Town) Commit(updates []ObjectUpdate) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	applied := 0
	var missing []string
	for _, u := range updates {
		found := false
		for i, o := range t.objects {
			if strings.EqualFold(o.Name, u.Object) && (u.Location == "" || inside(o.Location, u.Location)) {
				t.objects[i].State = u.State
				found = true
				applied++
				break
			}
		}
		if !found {
			missing = append(missing, u.Object)
		}
	}
	if len(missing) > 0 {
		return applied, fmt.Errorf("commit: %w: %s", ErrObjectNotFound, strings.Join(missing, ", "))
	}
	return applied, nil
}

// inside reports whether location is area or nested within it.
func inside(location, area string) bool {
	return strings.EqualFold(location, area) ||
		strings.HasPrefix(strings.ToLower(location), strings.ToLower(area)+": ")
}

// Locations returns all locations in insertion order.
func (t *Town) Locations() []Location {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.locations)
}

// Objects returns all objects in insertion order.
func (t *Town) Objects() []Object {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.objects)
}
