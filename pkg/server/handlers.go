package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/boristopalov/slicewise/pkg/algostore"
	"github.com/boristopalov/slicewise/pkg/core"
	"github.com/boristopalov/slicewise/pkg/environment"
)

type playStartReq struct {
	Env        string `json:"env" binding:"required,oneof=bernoulli gaussian"`
	NActions   int    `json:"n_actions" binding:"required,gte=2,lte=100"`
	Iterations int    `json:"iterations" binding:"required,gte=1,lte=10000"`
	Seed       *int64 `json:"seed"`
}

type playStepReq struct {
	SessionID string `json:"session_id" binding:"required"`
	Action    *int   `json:"action" binding:"required,gte=0"`
}

type playSessionReq struct {
	SessionID string `json:"session_id" binding:"required"`
}

type plotReq struct {
	SessionID        string   `json:"session_id" binding:"required"`
	Algorithms       []string `json:"algorithms"`
	CustomAlgorithms []string `json:"custom_algorithms"`
	Iterations       *int     `json:"iterations" binding:"omitempty,gte=1,lte=10000"`
}

type algorithmMeta struct {
	Name   string `json:"name"`
	Entry  string `json:"entry"`
	SHA256 string `json:"sha256"`
}

type algorithmResp struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Entry    string `json:"entry"`
	SHA256   string `json:"sha256"`
}

// invalidPayload turns a binding failure into the wire error, including
// per-field detail when the validator produced any.
func invalidPayload(err error) gin.H {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		detail := make([]gin.H, 0, len(verrs))
		for _, fe := range verrs {
			detail = append(detail, gin.H{"field": fe.Field(), "rule": fe.Tag()})
		}
		return gin.H{"error": "invalid payload", "detail": detail}
	}
	return gin.H{"error": "invalid payload"}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "service": "slicewise", "version": 1})
}

func (s *Server) handlePlayStart(c *gin.Context) {
	var req playStartReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, invalidPayload(err))
		return
	}

	snap, err := s.store.Start(req.Env, req.NActions, req.Iterations, req.Seed)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sessionsStarted.Inc()

	c.JSON(http.StatusOK, gin.H{
		"session_id": snap.ID,
		"env":        snap.Env,
		"t":          snap.T,
		"iterations": snap.Iterations,
	})
}

func (s *Server) handlePlayStep(c *gin.Context) {
	var req playStepReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, invalidPayload(err))
		return
	}

	res, err := s.store.Step(req.SessionID, *req.Action)
	switch {
	case errors.Is(err, core.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid session"})
		return
	case errors.Is(err, core.ErrOutOfRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": "action out of range"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if res.Event == nil {
		// Terminal no-op: horizon already reached.
		c.JSON(http.StatusOK, gin.H{"t": res.T, "done": true})
		return
	}
	stepsTaken.Inc()

	out := gin.H{
		"t":      res.Event.T,
		"action": res.Event.Action,
		"reward": res.Event.Reward,
		"done":   res.Done,
	}
	if res.Event.Accepted != nil {
		out["accepted"] = *res.Event.Accepted
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handlePlayLog(c *gin.Context) {
	snap, err := s.store.Log(c.Query("session_id"))
	if errors.Is(err, core.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"t":          snap.T,
		"iterations": snap.Iterations,
		"history":    snap.History,
		"env":        snap.Env,
	})
}

func (s *Server) handlePlayEnd(c *gin.Context) {
	var req playSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, invalidPayload(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": s.store.End(req.SessionID)})
}

func (s *Server) handlePlayReset(c *gin.Context) {
	var req playSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, invalidPayload(err))
		return
	}
	if err := s.store.Reset(req.SessionID); errors.Is(err, core.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "t": 0})
}

func (s *Server) handlePlot(c *gin.Context) {
	var req plotReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, invalidPayload(err))
		return
	}

	snap, err := s.store.Get(req.SessionID)
	if errors.Is(err, core.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid session"})
		return
	}

	// Rebuild an environment with the same arm parameters but a fresh RNG
	// seeded like the session's; the live session is untouched.
	env, err := environment.Replicate(snap.Env, snap.Seed)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	iterations := snap.Iterations
	if req.Iterations != nil {
		iterations = *req.Iterations
	}

	policies, warnings := s.runner.BuildPolicies(req.Algorithms, req.CustomAlgorithms, snap.Env.NActions, snap.Seed)
	result := s.runner.Run(env, policies, iterations, warnings)
	plotsRun.Inc()

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleUploadAlgorithm(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file missing"})
		return
	}

	var meta algorithmMeta
	if raw := c.PostForm("meta"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid meta JSON"})
			return
		}
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}

	rec, err := s.algos.Put(algostore.Upload{
		Filename: fh.Filename,
		Content:  content,
		Name:     meta.Name,
		Entry:    meta.Entry,
		SHA256:   meta.SHA256,
	})
	if err != nil {
		status := http.StatusBadRequest
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	algorithmsUploaded.Inc()

	c.JSON(http.StatusCreated, toAlgorithmResp(rec))
}

func (s *Server) handleListAlgorithms(c *gin.Context) {
	records, err := s.algos.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	items := make([]algorithmResp, 0, len(records))
	for _, rec := range records {
		items = append(items, toAlgorithmResp(rec))
	}
	c.JSON(http.StatusOK, items)
}

func toAlgorithmResp(rec algostore.Record) algorithmResp {
	return algorithmResp{
		ID:       rec.ID,
		Name:     rec.Name,
		Language: rec.Language,
		Entry:    rec.Entry,
		SHA256:   rec.SHA256,
	}
}
