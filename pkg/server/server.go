// Package server exposes the call-control HTTP API and owns the live
// call sessions.
package server

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"siplink/internal/config"
	"siplink/pkg/logic/codec"
	"siplink/pkg/logic/events"
)

type Server struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *codec.Registry

	mu       sync.Mutex
	sessions map[string]*CallSession
}

func NewServer(cfg *config.Config, log *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		log:      log,
		registry: codec.NewRegistry(log),
		sessions: make(map[string]*CallSession),
	}
}

// RegisterRoutes mounts the call-control API.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.handleHealth)
	r.POST("/calls", s.handleCreateCall)
	r.POST("/calls/:id/answered", s.handleAnswered)
	r.GET("/calls/:id", s.handleGetCall)
	r.DELETE("/calls/:id", s.handleDeleteCall)
}

func (s *Server) handleHealth(c *gin.Context) {
	s.mu.Lock()
	active := len(s.sessions)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "active_calls": active})
}

// handleCreateCall allocates a session: RTP port bound, realtime AI
// session connected, SDP offer ready for the SIP INVITE.
func (s *Server) handleCreateCall(c *gin.Context) {
	id := uuid.NewString()

	session, err := NewCallSession(id, s.cfg, s.registry, s.removeSession, s.log)
	if err != nil {
		s.log.Error("call setup failed", zap.String("call_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	c.JSON(http.StatusCreated, gin.H{
		"call_id":  id,
		"rtp_port": session.RTPPort(),
		"sdp":      session.SDPOffer(),
	})
}

type answeredRequest struct {
	PayloadType uint8  `json:"payload_type"`
	RemoteHost  string `json:"remote_host" binding:"required"`
	RemotePort  int    `json:"remote_port" binding:"required"`
}

// handleAnswered applies the far end's SDP answer to the session.
func (s *Server) handleAnswered(c *gin.Context) {
	session, ok := s.lookup(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown call"})
		return
	}

	var req answeredRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := session.HandleSIPEvent(events.CallAnswered{
		PayloadType: req.PayloadType,
		RemoteHost:  req.RemoteHost,
		RemotePort:  req.RemotePort,
	})
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleGetCall(c *gin.Context) {
	session, ok := s.lookup(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown call"})
		return
	}
	c.JSON(http.StatusOK, session.Stats())
}

func (s *Server) handleDeleteCall(c *gin.Context) {
	session, ok := s.lookup(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown call"})
		return
	}
	session.HandleSIPEvent(events.CallEnded{})
	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

func (s *Server) lookup(id string) (*CallSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	return session, ok
}

func (s *Server) removeSession(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Shutdown ends every live call.
func (s *Server) Shutdown() {
	s.mu.Lock()
	sessions := make([]*CallSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		session.End("server shutdown")
	}
}
