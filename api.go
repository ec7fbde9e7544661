package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"pigeonvc/store"
)

// Version is the current server version. Set at build time via -ldflags.
var Version = "0.1.0-dev"

// APIServer exposes the admin HTTP surface: read-only room/event status
// plus ban and recording management, on a separate TCP port from the UDP
// voice socket.
type APIServer struct {
	server *Server
	store  *store.Store
	echo   *echo.Echo
}

// NewAPIServer constructs an APIServer and registers all routes.
func NewAPIServer(s *Server, st *store.Store) *APIServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Printf("[api] %s %s %d", v.Method, v.URI, v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = jsonErrorHandler

	a := &APIServer{server: s, store: st, echo: e}
	a.registerRoutes()
	return a
}

func (a *APIServer) registerRoutes() {
	a.echo.GET("/health", a.handleHealth)
	a.echo.GET("/api/rooms", a.handleRooms)
	a.echo.GET("/api/rooms/:id/users", a.handleRoomUsers)
	a.echo.GET("/api/stats", a.handleStats)
	a.echo.GET("/api/bans", a.handleGetBans)
	a.echo.POST("/api/bans", a.handlePostBan)
	a.echo.DELETE("/api/bans/:hwid", a.handleDeleteBan)
	a.echo.GET("/api/recordings", a.handleListRecordings)
	a.echo.POST("/api/rooms/:id/recording/start", a.handleStartRecording)
	a.echo.POST("/api/rooms/:id/recording/stop", a.handleStopRecording)
	a.echo.GET("/api/version", a.handleVersion)
}

// Run starts the Echo HTTP server on addr and blocks until ctx is cancelled.
func (a *APIServer) Run(ctx context.Context, addr string) {
	go func() {
		if err := a.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()
	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.echo.Shutdown(shutCtx); err != nil {
		log.Printf("[api] shutdown: %v", err)
	}
}

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (a *APIServer) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// RoomResponse is an element in the GET /api/rooms array.
type RoomResponse struct {
	ID      uint16 `json:"id"`
	Name    string `json:"name"`
	Members int    `json:"members"`
}

func (a *APIServer) handleRooms(c echo.Context) error {
	ids := a.server.allRoomIDs()
	resp := make([]RoomResponse, 0, len(ids))
	for _, id := range ids {
		room, ok := a.server.getRoom(id)
		if !ok {
			continue
		}
		resp = append(resp, RoomResponse{ID: room.ID, Name: room.Name, Members: room.memberCount()})
	}
	return c.JSON(http.StatusOK, resp)
}

func (a *APIServer) handleRoomUsers(c echo.Context) error {
	id, err := parseRoomID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid room id")
	}
	room, ok := a.server.getRoom(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "room not found")
	}
	users := room.snapshot()
	if users == nil {
		users = []JoinedUser{}
	}
	return c.JSON(http.StatusOK, users)
}

// StatsResponse is the payload for GET /api/stats.
type StatsResponse struct {
	Users      int    `json:"users"`
	Rooms      int    `json:"rooms"`
	Datagrams  uint64 `json:"datagrams"`
	AudioBytes uint64 `json:"audio_bytes"`
	NextSeq    uint64 `json:"next_seq"`
	HistoryLen int    `json:"history_len"`
}

func (a *APIServer) handleStats(c echo.Context) error {
	datagrams, audioBytes, users, rooms := a.server.Stats()

	a.server.eventLog.mu.Lock()
	nextSeq := a.server.eventLog.nextSeq
	historyLen := len(a.server.eventLog.history)
	a.server.eventLog.mu.Unlock()

	return c.JSON(http.StatusOK, StatsResponse{
		Users:      users,
		Rooms:      rooms,
		Datagrams:  datagrams,
		AudioBytes: audioBytes,
		NextSeq:    nextSeq,
		HistoryLen: historyLen,
	})
}

// BanRequest is the body for POST /api/bans.
type BanRequest struct {
	HWID     string `json:"hwid"`
	Reason   string `json:"reason"`
	BannedBy string `json:"banned_by"`
}

func (a *APIServer) handleGetBans(c echo.Context) error {
	bans, err := a.store.GetBans()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if bans == nil {
		bans = []store.Ban{}
	}
	return c.JSON(http.StatusOK, bans)
}

func (a *APIServer) handlePostBan(c echo.Context) error {
	var req BanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.HWID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "hwid is required")
	}
	if err := a.store.InsertBan(req.HWID, req.Reason, req.BannedBy); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusCreated)
}

func (a *APIServer) handleDeleteBan(c echo.Context) error {
	hwid := c.Param("hwid")
	if err := a.store.DeleteBan(hwid); err != nil {
		if err == sql.ErrNoRows {
			return echo.NewHTTPError(http.StatusNotFound, "ban not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *APIServer) handleListRecordings(c echo.Context) error {
	var recordings []RecordingInfo
	a.server.recorders.Range(func(_, v any) bool {
		recordings = append(recordings, v.(*RoomRecorder).Info())
		return true
	})
	if recordings == nil {
		recordings = []RecordingInfo{}
	}
	return c.JSON(http.StatusOK, recordings)
}

func (a *APIServer) handleStartRecording(c echo.Context) error {
	id, err := parseRoomID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid room id")
	}
	if _, ok := a.server.getRoom(id); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "room not found")
	}
	if err := a.server.StartRoomRecording(id); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusCreated)
}

func (a *APIServer) handleStopRecording(c echo.Context) error {
	id, err := parseRoomID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid room id")
	}
	if err := a.server.StopRoomRecording(id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// VersionResponse is the payload for GET /api/version.
type VersionResponse struct {
	Version string `json:"version"`
}

func (a *APIServer) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, VersionResponse{Version: Version})
}

func parseRoomID(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}

// jsonErrorHandler ensures all error responses have a consistent JSON body:
//
//	{"error": "message"}
func jsonErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	if !c.Response().Committed {
		if c.Request().Method == http.MethodHead {
			c.NoContent(code) //nolint:errcheck
		} else {
			c.JSON(code, map[string]string{"error": msg}) //nolint:errcheck
		}
	}
}
