package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// NewRouter wires every API route. staticDir, when set, is served for all other paths.
func NewRouter(auth *AuthHandler, boards *BoardHandler, mw *AuthMiddleware, logger logrus.FieldLogger, staticDir string) *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestLogger(logger))

	api := r.PathPrefix("/api").Subrouter()

	// Auth routes
	api.HandleFunc("/auth/register", auth.Register).Methods("POST")
	api.HandleFunc("/auth/login", auth.Login).Methods("POST")
	api.Handle("/auth/verify", mw.Auth(http.HandlerFunc(auth.VerifyToken))).Methods("GET")

	// Board routes (protected)
	protected := api.PathPrefix("/boards").Subrouter()
	protected.Use(mw.Auth)
	protected.HandleFunc("", boards.ListBoards).Methods("GET")
	protected.HandleFunc("", boards.CreateBoard).Methods("POST")
	protected.HandleFunc("/{boardID}", boards.GetBoard).Methods("GET")
	protected.HandleFunc("/{boardID}", boards.DeleteBoard).Methods("DELETE")
	protected.HandleFunc("/{boardID}", boards.RenameBoard).Methods("PATCH")
	protected.HandleFunc("/{boardID}/members", boards.AddMember).Methods("POST")
	protected.HandleFunc("/{boardID}/members/{userID}", boards.RemoveMember).Methods("DELETE")
	protected.HandleFunc("/{boardID}/activity", boards.Activity).Methods("GET")
	protected.HandleFunc("/{boardID}/lists", boards.CreateList).Methods("POST")
	protected.HandleFunc("/{boardID}/lists/{listID}", boards.RenameList).Methods("PATCH")
	protected.HandleFunc("/{boardID}/lists/{listID}", boards.DeleteList).Methods("DELETE")
	protected.HandleFunc("/{boardID}/lists/{listID}/tasks", boards.CreateTask).Methods("POST")
	protected.HandleFunc("/{boardID}/tasks/{taskID}", boards.UpdateTask).Methods("PATCH")
	protected.HandleFunc("/{boardID}/tasks/{taskID}", boards.DeleteTask).Methods("DELETE")
	protected.HandleFunc("/{boardID}/moves", boards.Move).Methods("POST")

	// WebSocket route for real-time updates
	protected.HandleFunc("/{boardID}/ws", boards.HandleWebSocket)

	if staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	}
	return r
}
