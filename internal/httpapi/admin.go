package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/roach88/railverify/internal/store"
	"github.com/roach88/railverify/internal/verify"
)

func (s *Server) listRails(c *gin.Context) {
	items, err := s.store.ListRails(c.Request.Context())
	if err != nil {
		s.logger.Error("list rails failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error"})
		return
	}
	out := make([]railJSON, 0, len(items))
	for _, it := range items {
		out = append(out, toRailJSON(it))
	}
	c.JSON(http.StatusOK, gin.H{"items": out})
}

func (s *Server) upsertRail(c *gin.Context) {
	var req upsertRailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request", Meta: map[string]any{"detail": err.Error()}})
		return
	}
	rail, err := verify.ParseRail(strings.ToLower(req.Rail))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "unsupported_rail"})
		return
	}
	if rail.UsesChainID() && (req.ChainID == nil || *req.ChainID <= 0) {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "chainId_required"})
		return
	}

	cfg := verify.RailConfig{
		Rail:             rail,
		ChainID:          req.ChainID,
		Currency:         strings.ToUpper(strings.TrimSpace(req.Currency)),
		Treasury:         strings.TrimSpace(req.Treasury),
		RPCURL:           strings.TrimSpace(req.RPCURL),
		Enabled:          req.Enabled,
		MinConfirmations: req.MinConfirmations,
		Metadata:         req.Metadata,
	}
	if err := s.store.UpsertRail(c.Request.Context(), cfg); err != nil {
		s.logger.Error("upsert rail failed", "rail", cfg.Key(), "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error"})
		return
	}

	item, err := s.store.GetRail(c.Request.Context(), cfg.Rail, cfg.ChainID)
	if err != nil {
		s.logger.Error("reload rail failed", "rail", cfg.Key(), "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error"})
		return
	}
	s.logger.Info("payment rail upserted", "rail", item.Key(), "enabled", item.Enabled)
	c.JSON(http.StatusCreated, gin.H{"item": toRailJSON(item)})
}

func (s *Server) setRailEnabled(c *gin.Context) {
	var req railEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request"})
		return
	}
	rail, err := verify.ParseRail(strings.ToLower(req.Rail))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "unsupported_rail"})
		return
	}
	chainID := req.ChainID
	if !rail.UsesChainID() {
		chainID = nil
	} else if chainID == nil || *chainID <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "chainId_required"})
		return
	}

	err = s.store.SetRailEnabled(c.Request.Context(), rail, chainID, req.Enabled)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "rail_not_configured"})
		return
	}
	if err != nil {
		s.logger.Error("set rail enabled failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error"})
		return
	}

	item, err := s.store.GetRail(c.Request.Context(), rail, chainID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error"})
		return
	}
	s.logger.Info("payment rail toggled", "rail", item.Key(), "enabled", item.Enabled)
	c.JSON(http.StatusOK, gin.H{"item": toRailJSON(item)})
}
