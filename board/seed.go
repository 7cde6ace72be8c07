package board

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/CrowderSoup/kanban/ordering"
)

//go:embed seed/default.yaml
var defaultSeed []byte

type seedFile struct {
	Boards []seedBoard `yaml:"boards"`
}

type seedBoard struct {
	ID              string        `yaml:"id"`
	Title           string        `yaml:"title"`
	BackgroundColor string        `yaml:"backgroundColor"`
	Visibility      Visibility    `yaml:"visibility"`
	Members         []BoardMember `yaml:"members"`
	Lists           []seedList    `yaml:"lists"`
}

type seedList struct {
	ID    string     `yaml:"id"`
	Title string     `yaml:"title"`
	Tasks []seedTask `yaml:"tasks"`
}

type seedTask struct {
	ID          string     `yaml:"id"`
	Title       string     `yaml:"title"`
	Description string     `yaml:"description"`
	Labels      []Label    `yaml:"labels"`
	AssignedTo  []User     `yaml:"assignedTo"`
	DueDate     *time.Time `yaml:"dueDate"`
	CreatedBy   string     `yaml:"createdBy"`
}

// DefaultSeed returns the demo boards bundled with the binary.
func DefaultSeed(now time.Time) ([]*Snapshot, error) {
	return LoadSeed(bytes.NewReader(defaultSeed), now)
}

// LoadSeed reads boards from YAML. Lists and tasks are ranked in file order; missing ids
// are generated.
func LoadSeed(r io.Reader, now time.Time) ([]*Snapshot, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode seed: %w", err)
	}

	snaps := make([]*Snapshot, 0, len(f.Boards))
	boardIDs := make(map[string]bool)
	for _, sb := range f.Boards {
		if sb.Title == "" {
			return nil, fmt.Errorf("seed board %q has no title: %w", sb.ID, ErrInvalidRequest)
		}
		if sb.ID != "" {
			if boardIDs[sb.ID] {
				return nil, fmt.Errorf("duplicate seed board id %q: %w", sb.ID, ErrInvalidRequest)
			}
			boardIDs[sb.ID] = true
		}
		snap := &Snapshot{
			Board: Board{
				ID:              idOr(sb.ID),
				Title:           sb.Title,
				BackgroundColor: sb.BackgroundColor,
				Visibility:      sb.Visibility,
				Members:         sb.Members,
				CreatedAt:       now,
				UpdatedAt:       now,
			},
			Tasks: make(map[string][]Task),
		}
		if snap.Board.BackgroundColor == "" {
			snap.Board.BackgroundColor = DefaultBackgroundColor
		}
		if snap.Board.Visibility == "" {
			snap.Board.Visibility = VisibilityPrivate
		}
		if !snap.Board.Visibility.Valid() {
			return nil, fmt.Errorf("seed board %q visibility %q: %w", sb.Title, sb.Visibility, ErrInvalidRequest)
		}
		for _, m := range sb.Members {
			if !m.Role.Valid() {
				return nil, fmt.Errorf("seed board %q member %q role %q: %w", sb.Title, m.ID, m.Role, ErrInvalidRequest)
			}
		}

		seen := make(map[string]bool)
		unique := func(kind, id string) error {
			if seen[id] {
				return fmt.Errorf("seed board %q has duplicate %s id %q: %w", sb.Title, kind, id, ErrInvalidRequest)
			}
			seen[id] = true
			return nil
		}

		lists := ordering.NewContainer(snap.Board.ID, []List{})
		for _, sl := range sb.Lists {
			list := List{ID: idOr(sl.ID), BoardID: snap.Board.ID, Title: sl.Title, CreatedAt: now, UpdatedAt: now}
			if err := unique("list", list.ID); err != nil {
				return nil, err
			}
			lists = ordering.Append(lists, list)

			tasks := ordering.NewContainer(list.ID, []Task{})
			for _, st := range sl.Tasks {
				taskID := idOr(st.ID)
				if err := unique("task", taskID); err != nil {
					return nil, err
				}
				labels := st.Labels
				if labels == nil {
					labels = []Label{}
				}
				tasks = ordering.Append(tasks, Task{
					ID:          taskID,
					ListID:      list.ID,
					BoardID:     snap.Board.ID,
					Title:       st.Title,
					Description: st.Description,
					Labels:      labels,
					AssignedTo:  st.AssignedTo,
					DueDate:     st.DueDate,
					CreatedBy:   st.CreatedBy,
					CreatedAt:   now,
					UpdatedAt:   now,
				})
			}
			snap.Tasks[list.ID] = tasks.Items
		}
		snap.Lists = lists.Items
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func idOr(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}
