package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/CrowderSoup/kanban/board"
	"github.com/CrowderSoup/kanban/ordering"
	"github.com/CrowderSoup/kanban/services"
)

// BoardHandler handles board, list, task and drag endpoints
type BoardHandler struct {
	boards   *board.Service
	hub      *services.Hub
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

func NewBoardHandler(boards *board.Service, hub *services.Hub, logger logrus.FieldLogger, checkOrigin func(*http.Request) bool) *BoardHandler {
	return &BoardHandler{
		boards: boards,
		hub:    hub,
		log:    logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin,
		},
	}
}

// ListBoards returns the boards visible to the caller
func (h *BoardHandler) ListBoards(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	boards, err := h.boards.Boards(r.Context(), user)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, boards)
}

// CreateBoard creates a board owned by the caller
func (h *BoardHandler) CreateBoard(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req struct {
		Title           string           `json:"title"`
		BackgroundColor string           `json:"backgroundColor"`
		Visibility      board.Visibility `json:"visibility"`
	}
	if !decode(w, r, &req) {
		return
	}

	snap, err := h.boards.CreateBoard(r.Context(), user, req.Title, req.BackgroundColor, req.Visibility)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, snap.Board)
}

// GetBoard returns a board with its lists and tasks
func (h *BoardHandler) GetBoard(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	snap, err := h.boards.Board(r.Context(), user, mux.Vars(r)["boardID"])
	if err != nil {
		h.fail(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, snap)
}

// DeleteBoard removes a board
func (h *BoardHandler) DeleteBoard(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	if err := h.boards.DeleteBoard(r.Context(), user, mux.Vars(r)["boardID"]); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenameBoard changes a board's title
func (h *BoardHandler) RenameBoard(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if !decode(w, r, &req) {
		return
	}

	b, err := h.boards.RenameBoard(r.Context(), user, mux.Vars(r)["boardID"], req.Title)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, b)
}

// AddMember shares a board with a registered user by email
func (h *BoardHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req struct {
		Email string     `json:"email"`
		Role  board.Role `json:"role"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Role == "" {
		req.Role = board.RoleEditor
	}

	member, err := h.boards.AddMember(r.Context(), user, mux.Vars(r)["boardID"], req.Email, req.Role)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, member)
}

// RemoveMember takes a user off a board
func (h *BoardHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	if err := h.boards.RemoveMember(r.Context(), user, vars["boardID"], vars["userID"]); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Activity returns the board's activity feed
func (h *BoardHandler) Activity(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	acts, err := h.boards.Activities(r.Context(), user, mux.Vars(r)["boardID"])
	if err != nil {
		h.fail(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, acts)
}

// CreateList appends a list to a board
func (h *BoardHandler) CreateList(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if !decode(w, r, &req) {
		return
	}

	list, err := h.boards.CreateList(r.Context(), user, mux.Vars(r)["boardID"], req.Title)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, list)
}

// RenameList changes a list title
func (h *BoardHandler) RenameList(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if !decode(w, r, &req) {
		return
	}

	vars := mux.Vars(r)
	list, err := h.boards.RenameList(r.Context(), user, vars["boardID"], vars["listID"], req.Title)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, list)
}

// DeleteList removes a list and its tasks
func (h *BoardHandler) DeleteList(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	if err := h.boards.DeleteList(r.Context(), user, vars["boardID"], vars["listID"]); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateTask appends a task to a list
func (h *BoardHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if !decode(w, r, &req) {
		return
	}

	vars := mux.Vars(r)
	task, err := h.boards.CreateTask(r.Context(), user, vars["boardID"], vars["listID"], req.Title, req.Description)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, task)
}

// UpdateTask edits task details
func (h *BoardHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var patch board.TaskPatch
	if !decode(w, r, &patch) {
		return
	}

	vars := mux.Vars(r)
	task, err := h.boards.UpdateTask(r.Context(), user, vars["boardID"], vars["taskID"], patch)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, task)
}

// DeleteTask removes a task
func (h *BoardHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	if err := h.boards.DeleteTask(r.Context(), user, vars["boardID"], vars["taskID"]); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Move applies a finished drag
func (h *BoardHandler) Move(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req ordering.Request
	if !decode(w, r, &req) {
		return
	}

	res, err := h.boards.HandleMove(r.Context(), user, mux.Vars(r)["boardID"], req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

// HandleWebSocket subscribes the connection to a board's events
func (h *BoardHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	boardID := mux.Vars(r)["boardID"]

	// Only viewers of the board may subscribe
	if _, err := h.boards.Board(r.Context(), user, boardID); err != nil {
		h.fail(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("Error upgrading to WebSocket")
		return
	}
	h.hub.Attach(conn, user.ID, boardID)
}

func (h *BoardHandler) user(w http.ResponseWriter, r *http.Request) (board.User, bool) {
	user, ok := userFromContext(r.Context())
	if !ok {
		http.Error(w, "user not found", http.StatusUnauthorized)
	}
	return user, ok
}

// fail maps domain errors to HTTP status codes
func (h *BoardHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, board.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, board.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, board.ErrInvalidRequest),
		errors.Is(err, ordering.ErrInvalidIndex),
		errors.Is(err, ordering.ErrSameContainer):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ordering.ErrUnknownItem),
		errors.Is(err, ordering.ErrUnknownContainer):
		// The caller's snapshot is stale.
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.log.WithError(err).Error("Board request failed")
		http.Error(w, "Server error", http.StatusInternalServerError)
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "Invalid request format", http.StatusBadRequest)
		return false
	}
	return true
}
