package board

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/CrowderSoup/kanban/ordering"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidRequest = errors.New("invalid request")
)

const (
	DefaultBackgroundColor = "#3B82F6"

	// Oldest activities are dropped past this many per board.
	maxActivities = 200
)

// Event types published to board subscribers.
const (
	EventBoardUpdated = "board.updated"
	EventListsChanged = "lists.changed"
	EventTasksChanged = "tasks.changed"
	EventTaskUpdated  = "task.updated"
)

// Store persists board snapshots. LoadBoard returns an error wrapping ErrNotFound for
// unknown ids.
type Store interface {
	LoadBoard(ctx context.Context, boardID string) (*Snapshot, error)
	SaveBoard(ctx context.Context, snap *Snapshot) error
	ListBoards(ctx context.Context) ([]Board, error)
	DeleteBoard(ctx context.Context, boardID string) error
}

// CommittedLoader is implemented by stores that cache reads. LoadBoardCommitted reads
// the durable copy, skipping the cache.
type CommittedLoader interface {
	LoadBoardCommitted(ctx context.Context, boardID string) (*Snapshot, error)
}

// LoadCommitted loads the durable copy of a board. Every read that feeds a write goes
// through here so a stale cached snapshot can never be saved back.
func LoadCommitted(ctx context.Context, store Store, boardID string) (*Snapshot, error) {
	if cl, ok := store.(CommittedLoader); ok {
		return cl.LoadBoardCommitted(ctx, boardID)
	}
	return store.LoadBoard(ctx, boardID)
}

// Directory resolves registered users by email.
type Directory interface {
	LookupUser(ctx context.Context, email string) (User, error)
}

// Notifier fans board changes out to connected clients.
type Notifier interface {
	Publish(boardID, eventType string, data any)
}

// Service applies board mutations one at a time per board.
type Service struct {
	store     Store
	notifier  Notifier
	directory Directory
	log       logrus.FieldLogger

	now   func() time.Time
	newID func() string

	mu    sync.Mutex
	locks map[string]*boardLock
}

// boardLock is dropped from Service.locks once nobody holds or waits on it.
type boardLock struct {
	sync.Mutex
	refs int
}

func NewService(store Store, notifier Notifier, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		store:    store,
		notifier: notifier,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		locks:    make(map[string]*boardLock),
	}
}

// WithDirectory sets the user lookup used by AddMember.
func (s *Service) WithDirectory(d Directory) *Service {
	s.directory = d
	return s
}

// change describes a successful mutation for the activity feed and subscribers.
type change struct {
	action string
	entity EntityKind
	id     string
	title  string
	event  string
	data   any
}

// MoveResult is returned from HandleMove. Lists is set for list reorders and Tasks holds
// the touched lists for task moves.
type MoveResult struct {
	Outcome ordering.Outcome  `json:"outcome"`
	Message string            `json:"message,omitempty"`
	Lists   []List            `json:"lists,omitempty"`
	Tasks   map[string][]Task `json:"tasks,omitempty"`
}

// TaskPatch holds the editable task fields. Nil fields are left alone.
type TaskPatch struct {
	Title        *string    `json:"title,omitempty"`
	Description  *string    `json:"description,omitempty"`
	Labels       *[]Label   `json:"labels,omitempty"`
	AssignedTo   *[]User    `json:"assignedTo,omitempty"`
	DueDate      *time.Time `json:"dueDate,omitempty"`
	ClearDueDate bool       `json:"clearDueDate,omitempty"`
}

func (s *Service) lock(boardID string) func() {
	s.mu.Lock()
	l, ok := s.locks[boardID]
	if !ok {
		l = &boardLock{}
		s.locks[boardID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, boardID)
		}
		s.mu.Unlock()
	}
}

// CreateBoard creates an empty board with the user as its admin.
func (s *Service) CreateBoard(ctx context.Context, user User, title, color string, visibility Visibility) (*Snapshot, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("board title is required: %w", ErrInvalidRequest)
	}
	if color == "" {
		color = DefaultBackgroundColor
	}
	switch visibility {
	case "":
		visibility = VisibilityPrivate
	case VisibilityPrivate, VisibilityPublic, VisibilityTeam:
	default:
		return nil, fmt.Errorf("visibility %q: %w", visibility, ErrInvalidRequest)
	}

	now := s.now()
	snap := &Snapshot{
		Board: Board{
			ID:              s.newID(),
			Title:           title,
			BackgroundColor: color,
			Visibility:      visibility,
			Members:         []BoardMember{{User: user, Role: RoleAdmin}},
			CreatedAt:       now,
			UpdatedAt:       now,
		},
		Lists: []List{},
		Tasks: map[string][]Task{},
	}

	unlock := s.lock(snap.Board.ID)
	defer unlock()

	s.record(snap, user, change{action: "created", entity: EntityBoard, id: snap.Board.ID, title: title})
	if err := s.store.SaveBoard(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to save board: %w", err)
	}
	s.log.WithFields(logrus.Fields{"board_id": snap.Board.ID, "user_id": user.ID}).Info("Board created")
	return snap, nil
}

// Boards lists the boards user can see, most recently updated first.
func (s *Service) Boards(ctx context.Context, user User) ([]Board, error) {
	all, err := s.store.ListBoards(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list boards: %w", err)
	}
	visible := make([]Board, 0, len(all))
	for _, b := range all {
		if canView(b, user) == nil {
			visible = append(visible, b)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool { return visible[i].UpdatedAt.After(visible[j].UpdatedAt) })
	return visible, nil
}

// Board returns the full snapshot of a board, without its activity feed.
func (s *Service) Board(ctx context.Context, user User, boardID string) (*Snapshot, error) {
	snap, err := s.store.LoadBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if err := canView(snap.Board, user); err != nil {
		return nil, err
	}
	snap.Normalize()
	out := snap.Clone()
	out.Activities = nil
	return out, nil
}

// Activities returns the board's activity feed, newest first.
func (s *Service) Activities(ctx context.Context, user User, boardID string) ([]Activity, error) {
	snap, err := s.store.LoadBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if err := canView(snap.Board, user); err != nil {
		return nil, err
	}
	out := make([]Activity, len(snap.Activities))
	for i, a := range snap.Activities {
		out[len(out)-1-i] = a
	}
	return out, nil
}

// DeleteBoard removes a board. Only admins may delete.
func (s *Service) DeleteBoard(ctx context.Context, user User, boardID string) error {
	unlock := s.lock(boardID)
	defer unlock()

	snap, err := LoadCommitted(ctx, s.store, boardID)
	if err != nil {
		return err
	}
	if m, ok := snap.Board.Member(user.ID); !ok || m.Role != RoleAdmin {
		return fmt.Errorf("delete board %s: %w", boardID, ErrForbidden)
	}
	if err := s.store.DeleteBoard(ctx, boardID); err != nil {
		return fmt.Errorf("failed to delete board: %w", err)
	}
	s.publish(boardID, EventBoardUpdated, map[string]any{"deleted": true})
	return nil
}

// RenameBoard changes a board's title.
func (s *Service) RenameBoard(ctx context.Context, user User, boardID, title string) (Board, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Board{}, fmt.Errorf("board title is required: %w", ErrInvalidRequest)
	}

	snap, err := s.update(ctx, user, boardID, func(snap *Snapshot) (*change, error) {
		snap.Board.Title = title
		return &change{action: "renamed", entity: EntityBoard, id: boardID, title: title, event: EventBoardUpdated, data: snap.Board}, nil
	})
	if err != nil {
		return Board{}, err
	}
	return snap.Board, nil
}

// AddMember invites the registered user with email to the board, or changes their role
// if they are already a member. Only admins manage members.
func (s *Service) AddMember(ctx context.Context, user User, boardID, email string, role Role) (BoardMember, error) {
	if !role.Valid() {
		return BoardMember{}, fmt.Errorf("role %q: %w", role, ErrInvalidRequest)
	}
	if s.directory == nil {
		return BoardMember{}, errors.New("no user directory configured")
	}
	invitee, err := s.directory.LookupUser(ctx, email)
	if err != nil {
		return BoardMember{}, err
	}

	var added BoardMember
	_, err = s.update(ctx, user, boardID, func(snap *Snapshot) (*change, error) {
		if err := requireAdmin(snap.Board, user); err != nil {
			return nil, err
		}
		member := BoardMember{User: invitee, Role: role}
		members := append([]BoardMember(nil), snap.Board.Members...)
		action := "member added"
		if i := memberIndex(members, invitee.ID); i >= 0 {
			if members[i].Role == RoleAdmin && role != RoleAdmin && adminCount(members) == 1 {
				return nil, fmt.Errorf("board %s needs an admin: %w", boardID, ErrInvalidRequest)
			}
			members[i] = member
			action = "member updated"
		} else {
			members = append(members, member)
		}
		snap.Board.Members = members
		added = member
		return &change{action: action, entity: EntityBoard, id: boardID, title: invitee.Name, event: EventBoardUpdated, data: snap.Board}, nil
	})
	return added, err
}

// RemoveMember takes a user off the board. Admins may remove anyone and members may
// remove themselves, but the last admin always stays.
func (s *Service) RemoveMember(ctx context.Context, user User, boardID, memberID string) error {
	unlock := s.lock(boardID)
	defer unlock()

	snap, err := LoadCommitted(ctx, s.store, boardID)
	if err != nil {
		return err
	}
	if memberID != user.ID {
		if err := requireAdmin(snap.Board, user); err != nil {
			return err
		}
	}
	members := snap.Board.Members
	i := memberIndex(members, memberID)
	if i < 0 {
		return fmt.Errorf("member %s: %w", memberID, ErrNotFound)
	}
	if members[i].Role == RoleAdmin && adminCount(members) == 1 {
		return fmt.Errorf("board %s needs an admin: %w", boardID, ErrInvalidRequest)
	}

	snap.Normalize()
	next := snap.Clone()
	removed := members[i]
	next.Board.Members = append(append([]BoardMember(nil), members[:i]...), members[i+1:]...)
	next.Board.UpdatedAt = s.now()
	s.record(next, user, change{action: "member removed", entity: EntityBoard, id: boardID, title: removed.Name})
	if err := s.store.SaveBoard(ctx, next); err != nil {
		return fmt.Errorf("failed to save board %s: %w", boardID, err)
	}
	s.publish(boardID, EventBoardUpdated, next.Board)
	return nil
}

// CreateList appends a list to the board.
func (s *Service) CreateList(ctx context.Context, user User, boardID, title string) (List, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return List{}, fmt.Errorf("list title is required: %w", ErrInvalidRequest)
	}

	var created List
	_, err := s.update(ctx, user, boardID, func(snap *Snapshot) (*change, error) {
		now := s.now()
		lists := ordering.Append(ordering.NewContainer(boardID, snap.Lists), List{
			ID:        s.newID(),
			BoardID:   boardID,
			Title:     title,
			CreatedAt: now,
			UpdatedAt: now,
		})
		snap.Lists = lists.Items
		created = lists.Items[len(lists.Items)-1]
		snap.Tasks[created.ID] = []Task{}
		return &change{action: "created", entity: EntityList, id: created.ID, title: title, event: EventListsChanged, data: snap.Lists}, nil
	})
	return created, err
}

// RenameList changes a list's title.
func (s *Service) RenameList(ctx context.Context, user User, boardID, listID, title string) (List, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return List{}, fmt.Errorf("list title is required: %w", ErrInvalidRequest)
	}

	var renamed List
	_, err := s.update(ctx, user, boardID, func(snap *Snapshot) (*change, error) {
		for i := range snap.Lists {
			if snap.Lists[i].ID != listID {
				continue
			}
			snap.Lists[i].Title = title
			snap.Lists[i].UpdatedAt = s.now()
			renamed = snap.Lists[i]
			return &change{action: "renamed", entity: EntityList, id: listID, title: title, event: EventListsChanged, data: snap.Lists}, nil
		}
		return nil, fmt.Errorf("list %s: %w", listID, ErrNotFound)
	})
	return renamed, err
}

// DeleteList removes a list and every task in it.
func (s *Service) DeleteList(ctx context.Context, user User, boardID, listID string) error {
	_, err := s.update(ctx, user, boardID, func(snap *Snapshot) (*change, error) {
		list, ok := snap.findList(listID)
		if !ok {
			return nil, fmt.Errorf("list %s: %w", listID, ErrNotFound)
		}
		lists, _ := ordering.Remove(ordering.NewContainer(boardID, snap.Lists), listID)
		snap.Lists = lists.Items
		delete(snap.Tasks, listID)
		return &change{action: "deleted", entity: EntityList, id: listID, title: list.Title, event: EventListsChanged, data: snap.Lists}, nil
	})
	return err
}

// CreateTask appends a task to the end of a list.
func (s *Service) CreateTask(ctx context.Context, user User, boardID, listID, title, description string) (Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Task{}, fmt.Errorf("task title is required: %w", ErrInvalidRequest)
	}

	var created Task
	_, err := s.update(ctx, user, boardID, func(snap *Snapshot) (*change, error) {
		if _, ok := snap.findList(listID); !ok {
			return nil, fmt.Errorf("list %s: %w", listID, ErrNotFound)
		}
		now := s.now()
		tasks := ordering.Append(ordering.NewContainer(listID, snap.Tasks[listID]), Task{
			ID:          s.newID(),
			ListID:      listID,
			BoardID:     boardID,
			Title:       title,
			Description: strings.TrimSpace(description),
			Labels:      []Label{},
			CreatedBy:   user.ID,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		snap.Tasks[listID] = tasks.Items
		created = tasks.Items[len(tasks.Items)-1]
		return &change{action: "created", entity: EntityTask, id: created.ID, title: title, event: EventTasksChanged,
			data: map[string][]Task{listID: tasks.Items}}, nil
	})
	return created, err
}

// UpdateTask edits task details. Position and list are only changed by HandleMove.
func (s *Service) UpdateTask(ctx context.Context, user User, boardID, taskID string, patch TaskPatch) (Task, error) {
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return Task{}, fmt.Errorf("task title is required: %w", ErrInvalidRequest)
	}

	var updated Task
	_, err := s.update(ctx, user, boardID, func(snap *Snapshot) (*change, error) {
		listID, idx, ok := snap.findTask(taskID)
		if !ok {
			return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}
		t := snap.Tasks[listID][idx]
		if patch.Title != nil {
			t.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Description != nil {
			t.Description = *patch.Description
		}
		if patch.Labels != nil {
			t.Labels = append([]Label{}, (*patch.Labels)...)
		}
		if patch.AssignedTo != nil {
			t.AssignedTo = append([]User(nil), (*patch.AssignedTo)...)
		}
		if patch.ClearDueDate {
			t.DueDate = nil
		} else if patch.DueDate != nil {
			due := patch.DueDate.UTC()
			t.DueDate = &due
		}
		t.UpdatedAt = s.now()

		tasks := append([]Task(nil), snap.Tasks[listID]...)
		tasks[idx] = t
		snap.Tasks[listID] = tasks
		updated = t
		return &change{action: "updated", entity: EntityTask, id: t.ID, title: t.Title, event: EventTaskUpdated, data: t}, nil
	})
	return updated, err
}

// DeleteTask removes a task and closes the gap in its list.
func (s *Service) DeleteTask(ctx context.Context, user User, boardID, taskID string) error {
	_, err := s.update(ctx, user, boardID, func(snap *Snapshot) (*change, error) {
		listID, idx, ok := snap.findTask(taskID)
		if !ok {
			return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}
		title := snap.Tasks[listID][idx].Title
		tasks, _ := ordering.Remove(ordering.NewContainer(listID, snap.Tasks[listID]), taskID)
		snap.Tasks[listID] = tasks.Items
		return &change{action: "deleted", entity: EntityTask, id: taskID, title: title, event: EventTasksChanged,
			data: map[string][]Task{listID: tasks.Items}}, nil
	})
	return err
}

// HandleMove applies a finished drag. Cancelled drags and drops at the origin are
// checked against the board and the caller's rights but change nothing.
func (s *Service) HandleMove(ctx context.Context, user User, boardID string, req ordering.Request) (MoveResult, error) {
	if req.Kind != ordering.KindContainer && req.Kind != ordering.KindItem {
		return MoveResult{}, fmt.Errorf("drag kind %q: %w", req.Kind, ErrInvalidRequest)
	}

	res := MoveResult{Outcome: ordering.Classify(req)}
	if res.Outcome == ordering.OutcomeCancelled || res.Outcome == ordering.OutcomeNoOp {
		snap, err := s.store.LoadBoard(ctx, boardID)
		if err != nil {
			return MoveResult{}, err
		}
		if err := canEdit(snap.Board, user); err != nil {
			return MoveResult{}, err
		}
		s.log.WithFields(logrus.Fields{"board_id": boardID, "outcome": res.Outcome}).Debug("Drag ignored")
		return res, nil
	}

	var apply func(snap *Snapshot) (*change, error)
	switch req.Kind {
	case ordering.KindContainer:
		apply = func(snap *Snapshot) (*change, error) {
			out, err := ordering.ApplyReorder(req, ordering.NewContainer(boardID, snap.Lists))
			if err != nil {
				return nil, err
			}
			snap.Lists = out.Source.Items
			res.Lists = out.Source.Items
			res.Message = fmt.Sprintf("List %q moved successfully", out.Item.Title)
			return &change{action: "moved", entity: EntityList, id: out.Item.ID, title: out.Item.Title, event: EventListsChanged, data: snap.Lists}, nil
		}
	case ordering.KindItem:
		apply = func(snap *Snapshot) (*change, error) {
			out, err := ordering.Apply(req, func(id string) (ordering.Container[Task], bool) {
				if _, ok := snap.findList(id); !ok {
					return ordering.Container[Task]{}, false
				}
				return ordering.NewContainer(id, snap.Tasks[id]), true
			})
			if err != nil {
				return nil, err
			}

			moved := out.Item
			moved.UpdatedAt = s.now()
			out.Dest.Items[req.DestIndex] = moved

			snap.Tasks[out.Source.ID] = out.Source.Items
			snap.Tasks[out.Dest.ID] = out.Dest.Items
			res.Tasks = map[string][]Task{out.Source.ID: out.Source.Items, out.Dest.ID: out.Dest.Items}

			if out.Outcome == ordering.OutcomeMove {
				from, _ := snap.findList(out.Source.ID)
				to, _ := snap.findList(out.Dest.ID)
				res.Message = fmt.Sprintf("Task moved from %q to %q", from.Title, to.Title)
			}
			return &change{action: "moved", entity: EntityTask, id: moved.ID, title: moved.Title, event: EventTasksChanged, data: res.Tasks}, nil
		}
	}

	if _, err := s.update(ctx, user, boardID, apply); err != nil {
		s.log.WithFields(logrus.Fields{"board_id": boardID, "kind": req.Kind}).WithError(err).Warn("Move rejected")
		return MoveResult{}, err
	}
	return res, nil
}

// update loads a board, checks edit rights, runs fn on a copy and persists the copy.
func (s *Service) update(ctx context.Context, user User, boardID string, fn func(*Snapshot) (*change, error)) (*Snapshot, error) {
	unlock := s.lock(boardID)
	defer unlock()

	snap, err := LoadCommitted(ctx, s.store, boardID)
	if err != nil {
		return nil, err
	}
	if err := canEdit(snap.Board, user); err != nil {
		return nil, err
	}
	snap.Normalize()

	next := snap.Clone()
	c, err := fn(next)
	if err != nil {
		return nil, err
	}

	next.Board.UpdatedAt = s.now()
	s.record(next, user, *c)
	if err := s.store.SaveBoard(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to save board %s: %w", boardID, err)
	}

	s.log.WithFields(logrus.Fields{
		"board_id": boardID,
		"user_id":  user.ID,
		"entity":   c.entity,
		"action":   c.action,
	}).Debug("Board updated")
	s.publish(boardID, c.event, c.data)
	return next, nil
}

func (s *Service) record(snap *Snapshot, user User, c change) {
	snap.Activities = append(snap.Activities, Activity{
		ID:          s.newID(),
		BoardID:     snap.Board.ID,
		UserID:      user.ID,
		User:        user,
		Action:      c.action,
		Entity:      c.entity,
		EntityID:    c.id,
		EntityTitle: c.title,
		CreatedAt:   s.now(),
	})
	if n := len(snap.Activities); n > maxActivities {
		snap.Activities = append([]Activity(nil), snap.Activities[n-maxActivities:]...)
	}
}

func (s *Service) publish(boardID, event string, data any) {
	if s.notifier == nil || event == "" {
		return
	}
	s.notifier.Publish(boardID, event, data)
}

func canView(b Board, user User) error {
	if b.Visibility == VisibilityPublic {
		return nil
	}
	if _, ok := b.Member(user.ID); ok {
		return nil
	}
	return fmt.Errorf("board %s: %w", b.ID, ErrForbidden)
}

func canEdit(b Board, user User) error {
	m, ok := b.Member(user.ID)
	if !ok || m.Role == RoleViewer {
		return fmt.Errorf("board %s: %w", b.ID, ErrForbidden)
	}
	return nil
}

func requireAdmin(b Board, user User) error {
	if m, ok := b.Member(user.ID); !ok || m.Role != RoleAdmin {
		return fmt.Errorf("manage board %s: %w", b.ID, ErrForbidden)
	}
	return nil
}

func memberIndex(members []BoardMember, userID string) int {
	for i, m := range members {
		if m.ID == userID {
			return i
		}
	}
	return -1
}

func adminCount(members []BoardMember) int {
	n := 0
	for _, m := range members {
		if m.Role == RoleAdmin {
			n++
		}
	}
	return n
}
