package database

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/CrowderSoup/kanban/board"
	"github.com/CrowderSoup/kanban/ordering"
)

// LegacyData is the single-board export format of the old todo app: one set of columns
// per user with tasks pointing at columns by id.
type LegacyData struct {
	Columns             []Column `json:"columns"`
	Tasks               []Task   `json:"tasks"`
	UnassignedTasks     []Task   `json:"unassignedTasks,omitempty"` // For backward compatibility
	UnassignedCollapsed bool     `json:"unassignedCollapsed"`
}

type Column struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Order   int    `json:"order"`
	Deleted bool   `json:"deleted,omitempty"`
	Hidden  bool   `json:"hidden,omitempty"`
}

type Task struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	DueDate     string  `json:"dueDate"`
	Priority    *string `json:"priority"`
	ColumnID    *string `json:"columnId"`
	Deleted     bool    `json:"deleted,omitempty"`
	Hidden      bool    `json:"hidden,omitempty"`
}

// UnassignedTitle names the list that collects tasks without a column.
const UnassignedTitle = "Unassigned"

// ToSnapshot converts legacy data into a board owned by owner. Columns keep their
// relative order, deleted records are dropped, and tasks without a live column land in
// a trailing "Unassigned" list. Priorities become labels.
func (d *LegacyData) ToSnapshot(owner board.User, title string, now time.Time) *board.Snapshot {
	boardID := uuid.NewString()
	snap := &board.Snapshot{
		Board: board.Board{
			ID:              boardID,
			Title:           title,
			BackgroundColor: board.DefaultBackgroundColor,
			Visibility:      board.VisibilityPrivate,
			Members:         []board.BoardMember{{User: owner, Role: board.RoleAdmin}},
			CreatedAt:       now,
			UpdatedAt:       now,
		},
		Tasks: make(map[string][]board.Task),
	}

	columns := make([]Column, 0, len(d.Columns))
	for _, c := range d.Columns {
		if !c.Deleted {
			columns = append(columns, c)
		}
	}
	sort.SliceStable(columns, func(i, j int) bool { return columns[i].Order < columns[j].Order })

	lists := ordering.NewContainer(boardID, []board.List{})
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		lists = ordering.Append(lists, board.List{ID: c.ID, BoardID: boardID, Title: c.Title, CreatedAt: now, UpdatedAt: now})
		known[c.ID] = true
	}

	var unassigned *ordering.Container[board.Task]
	tasks := make(map[string]ordering.Container[board.Task])
	all := append(append([]Task(nil), d.Tasks...), d.UnassignedTasks...)
	for _, lt := range all {
		if lt.Deleted {
			continue
		}
		t := board.Task{
			ID:          lt.ID,
			BoardID:     boardID,
			Title:       lt.Title,
			Description: lt.Description,
			Labels:      priorityLabels(lt.Priority),
			CreatedBy:   owner.ID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if due, err := time.Parse("2006-01-02", lt.DueDate); err == nil {
			t.DueDate = &due
		}

		if lt.ColumnID != nil && known[*lt.ColumnID] {
			c, ok := tasks[*lt.ColumnID]
			if !ok {
				c = ordering.NewContainer(*lt.ColumnID, []board.Task{})
			}
			t.ListID = c.ID
			tasks[c.ID] = ordering.Append(c, t)
			continue
		}
		if unassigned == nil {
			c := ordering.NewContainer(uuid.NewString(), []board.Task{})
			unassigned = &c
		}
		t.ListID = unassigned.ID
		*unassigned = ordering.Append(*unassigned, t)
	}

	if unassigned != nil {
		lists = ordering.Append(lists, board.List{ID: unassigned.ID, BoardID: boardID, Title: UnassignedTitle, CreatedAt: now, UpdatedAt: now})
		tasks[unassigned.ID] = *unassigned
	}

	snap.Lists = lists.Items
	for _, l := range snap.Lists {
		snap.Tasks[l.ID] = tasks[l.ID].Items
		if snap.Tasks[l.ID] == nil {
			snap.Tasks[l.ID] = []board.Task{}
		}
	}
	return snap
}

func priorityLabels(p *string) []board.Label {
	if p == nil || *p == "" {
		return []board.Label{}
	}
	color := "#FBBF24"
	switch *p {
	case "high":
		color = "#F87171"
	case "low":
		color = "#60A5FA"
	}
	return []board.Label{{ID: "priority-" + *p, Name: *p + " priority", Color: color}}
}
