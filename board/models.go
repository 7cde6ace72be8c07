package board

import (
	"sort"
	"time"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleEditor || r == RoleViewer
}

type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
	VisibilityTeam    Visibility = "team"
)

func (v Visibility) Valid() bool {
	return v == VisibilityPrivate || v == VisibilityPublic || v == VisibilityTeam
}

type EntityKind string

const (
	EntityBoard EntityKind = "board"
	EntityList  EntityKind = "list"
	EntityTask  EntityKind = "task"
)

type User struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email" yaml:"email"`
	Image string `json:"image,omitempty" yaml:"image,omitempty"`
}

type BoardMember struct {
	User `yaml:",inline"`
	Role Role `json:"role" yaml:"role"`
}

type Board struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	BackgroundColor string        `json:"backgroundColor"`
	Visibility      Visibility    `json:"visibility"`
	Members         []BoardMember `json:"members"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// Member returns the membership record for userID, if any.
func (b Board) Member(userID string) (BoardMember, bool) {
	for _, m := range b.Members {
		if m.ID == userID {
			return m, true
		}
	}
	return BoardMember{}, false
}

type List struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"boardId"`
	Title     string    `json:"title"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (l List) RankKey() string { return l.ID }
func (l List) Rank() int       { return l.Order }

func (l List) Ranked(order int) List {
	l.Order = order
	return l
}

type Label struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Color string `json:"color" yaml:"color"`
}

type Task struct {
	ID          string     `json:"id"`
	ListID      string     `json:"listId"`
	BoardID     string     `json:"boardId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Labels      []Label    `json:"labels"`
	AssignedTo  []User     `json:"assignedTo,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Order       int        `json:"order"`
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (t Task) RankKey() string { return t.ID }
func (t Task) Rank() int       { return t.Order }

func (t Task) Ranked(order int) Task {
	t.Order = order
	return t
}

// Rehomed moves the task to another list on the same board.
func (t Task) Rehomed(listID string) Task {
	t.ListID = listID
	return t
}

type Activity struct {
	ID          string     `json:"id"`
	BoardID     string     `json:"boardId"`
	UserID      string     `json:"userId"`
	User        User       `json:"user"`
	Action      string     `json:"action"`
	Entity      EntityKind `json:"entity"`
	EntityID    string     `json:"entityId"`
	EntityTitle string     `json:"entityTitle"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Snapshot is everything stored for one board. Lists are kept in order and Tasks is
// keyed by list id, each slice in order.
type Snapshot struct {
	Board      Board             `json:"board"`
	Lists      []List            `json:"lists"`
	Tasks      map[string][]Task `json:"tasks"`
	Activities []Activity        `json:"activities"`
}

// Normalize sorts lists and tasks by their stored order so positions match ranks.
// Records with equal ranks keep their relative position.
func (s *Snapshot) Normalize() {
	if s.Tasks == nil {
		s.Tasks = make(map[string][]Task)
	}
	sort.SliceStable(s.Lists, func(i, j int) bool { return s.Lists[i].Order < s.Lists[j].Order })
	for _, l := range s.Lists {
		tasks := s.Tasks[l.ID]
		sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Order < tasks[j].Order })
		if tasks == nil {
			tasks = []Task{}
		}
		s.Tasks[l.ID] = tasks
	}
}

// Clone returns a deep enough copy for the service to mutate without touching s.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Board:      s.Board,
		Lists:      append([]List(nil), s.Lists...),
		Tasks:      make(map[string][]Task, len(s.Tasks)),
		Activities: append([]Activity(nil), s.Activities...),
	}
	out.Board.Members = append([]BoardMember(nil), s.Board.Members...)
	for id, tasks := range s.Tasks {
		out.Tasks[id] = append([]Task(nil), tasks...)
	}
	return out
}

// findTask returns the list id and index of taskID.
func (s *Snapshot) findTask(taskID string) (string, int, bool) {
	for listID, tasks := range s.Tasks {
		for i, t := range tasks {
			if t.ID == taskID {
				return listID, i, true
			}
		}
	}
	return "", -1, false
}

func (s *Snapshot) findList(listID string) (List, bool) {
	for _, l := range s.Lists {
		if l.ID == listID {
			return l, true
		}
	}
	return List{}, false
}
