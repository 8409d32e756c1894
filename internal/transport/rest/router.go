package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/swaggo/swag"

	_ "rollcall/docs"
	"rollcall/internal/service"
	"rollcall/internal/transport/rest/handler"
	"rollcall/internal/transport/rest/middleware"
	"rollcall/internal/transport/ws"
)

// Container holds all dependencies for the relay router
type Container struct {
	AuthService    *service.AuthService
	RoomService    *service.RoomService
	WSHub          *ws.Hub
	AllowedOrigins []string
}

// NewRouter creates the relay API router with all endpoints
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()

	// Initialize handlers
	authHandler := handler.NewAuthHandler(c.AuthService)
	roomHandler := handler.NewRoomHandler(c.RoomService)
	wsHandler := ws.NewHandler(c.WSHub, c.AuthService, c.RoomService)

	// Initialize middleware
	authMW := middleware.NewAuthMiddleware(c.AuthService)
	r.Use(middleware.RequestLogger)

	// API v1 routes
	v1 := r.PathPrefix("/v1").Subrouter()

	// Public routes
	v1.HandleFunc("/auth/login", authHandler.Login).Methods("POST", "OPTIONS")
	v1.HandleFunc("/rooms/{code}", roomHandler.Get).Methods("GET", "OPTIONS")
	v1.HandleFunc("/rooms/{code}/join", roomHandler.Join).Methods("POST", "OPTIONS")

	// WebSocket relay (token in query param)
	v1.HandleFunc("/ws/rooms/{code}", wsHandler.RoomWS).Methods("GET")

	r.HandleFunc("/health", health).Methods("GET")
	r.HandleFunc("/swagger/doc.json", swaggerDoc).Methods("GET")

	// Host routes (require host auth)
	hostRoutes := v1.NewRoute().Subrouter()
	hostRoutes.Use(authMW.RequireHost)

	hostRoutes.HandleFunc("/rooms/{code}/authority", roomHandler.RegisterAuthority).Methods("POST", "OPTIONS")
	hostRoutes.HandleFunc("/rooms/{code}/end", roomHandler.End).Methods("POST", "OPTIONS")

	return withCORS(r, c.AllowedOrigins)
}

// NewAgentRouter creates the agent's local API for one room
func NewAgentRouter(svc handler.Presence, room string, allowedOrigins []string) http.Handler {
	r := mux.NewRouter()
	h := handler.NewAttendanceHandler(svc, room)
	r.Use(middleware.RequestLogger)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/observations/join", h.ObserveJoin).Methods("POST", "OPTIONS")
	v1.HandleFunc("/observations/leave", h.ObserveLeave).Methods("POST", "OPTIONS")
	v1.HandleFunc("/attendance", h.Snapshot).Methods("GET", "OPTIONS")
	v1.HandleFunc("/attendance/status", h.Status).Methods("GET", "OPTIONS")
	v1.HandleFunc("/attendance/export", h.Export).Methods("GET", "OPTIONS")
	v1.HandleFunc("/attendance/sync", h.Sync).Methods("POST", "OPTIONS")
	v1.HandleFunc("/attendance/teardown", h.Teardown).Methods("POST", "OPTIONS")

	r.HandleFunc("/health", health).Methods("GET")

	return withCORS(r, allowedOrigins)
}

func withCORS(h http.Handler, origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		ExposedHeaders: []string{"Content-Disposition"},
	})
	return c.Handler(h)
}

func health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func swaggerDoc(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		http.Error(w, `{"error":"swagger doc unavailable"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(doc))
}
