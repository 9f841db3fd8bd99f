package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"futures-rollover-bot/internal/broker"
	"futures-rollover-bot/internal/models"
	"futures-rollover-bot/internal/queue"
	"futures-rollover-bot/internal/registry"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type webhookRequest struct {
	StrategyID uint   `json:"strategyId"`
	Qty        int    `json:"qty"`
	Side       string `json:"side"`
}

// webhookHandler accepts a trade signal and queues it. Validation failures
// are rejected here and never reach the queue.
func (s *Server) webhookHandler(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "malformed request body"})
		return
	}

	if req.StrategyID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "strategyId is required"})
		return
	}
	if req.Qty <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "qty must be a positive integer"})
		return
	}
	if req.Side != broker.SideBuy && req.Side != broker.SideSell {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "side must be either 'buy' or 'sell'"})
		return
	}

	if _, err := s.registry.Get(req.StrategyID); err != nil {
		if errors.Is(err, registry.ErrStrategyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "strategy not found"})
			return
		}
		s.logger.Error("Failed to load strategy for webhook", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "internal server error"})
		return
	}

	jobID, err := s.queue.EnqueueTrade(queue.TradePayload{
		StrategyID: req.StrategyID,
		Qty:        req.Qty,
		Side:       req.Side,
	})
	if err != nil {
		s.logger.Error("Failed to enqueue trade", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "failed to enqueue trade"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "jobId": jobID})
}

type rolloverRequest struct {
	At *time.Time `json:"at"`
}

// rolloverHandler queues a rollover for a strategy, optionally delayed to a
// given timestamp.
func (s *Server) rolloverHandler(c *gin.Context) {
	strategyID, ok := s.pathID(c)
	if !ok {
		return
	}

	strategy, err := s.registry.Get(strategyID)
	if err != nil {
		if errors.Is(err, registry.ErrStrategyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "strategy not found"})
			return
		}
		s.logger.Error("Failed to load strategy for rollover", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "internal server error"})
		return
	}

	var req rolloverRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "malformed request body"})
			return
		}
	}

	var jobID string
	if req.At != nil {
		jobID, err = s.queue.ScheduleRollover(strategy.ID, strategy.InstrumentID, *req.At)
	} else {
		jobID, err = s.queue.EnqueueRollover(strategy.ID, strategy.InstrumentID)
	}
	if err != nil {
		s.logger.Error("Failed to enqueue rollover", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "failed to enqueue rollover"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "jobId": jobID})
}

// jobStatusHandler returns the status and, if failed, the last error of a job.
func (s *Server) jobStatusHandler(c *gin.Context) {
	status, err := s.queue.JobStatus(c.Param("id"))
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "job not found"})
			return
		}
		s.logger.Error("Failed to load job status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "internal server error"})
		return
	}

	resp := gin.H{
		"jobId":    status.ID,
		"kind":     status.Kind,
		"status":   status.Status,
		"attempts": status.Attempts,
	}
	if status.Result != "" {
		resp["result"] = status.Result
	}
	if status.LastError != "" {
		resp["lastError"] = status.LastError
	}
	c.JSON(http.StatusOK, resp)
}

type strategyRequest struct {
	Name               string     `json:"name"`
	Description        string     `json:"description"`
	InstrumentID       uint       `json:"instrumentId"`
	BrokerCredentialID uint       `json:"brokerCredentialId"`
	Status             string     `json:"status"`
	RolloverOn         *time.Time `json:"rolloverOn"`
}

func (s *Server) listStrategiesHandler(c *gin.Context) {
	strategies, err := s.registry.List()
	if err != nil {
		s.logger.Error("Failed to list strategies", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": strategies})
}

func (s *Server) createStrategyHandler(c *gin.Context) {
	var req strategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "malformed request body"})
		return
	}
	if req.Name == "" || req.InstrumentID == 0 || req.BrokerCredentialID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "name, instrumentId and brokerCredentialId are required"})
		return
	}

	strategy := models.Strategy{
		Name:               req.Name,
		Description:        req.Description,
		InstrumentID:       req.InstrumentID,
		BrokerCredentialID: req.BrokerCredentialID,
		Status:             req.Status,
		RolloverOn:         req.RolloverOn,
	}
	if err := s.registry.Create(&strategy); err != nil {
		s.respondRegistryError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "success", "data": strategy})
}

func (s *Server) updateStrategyHandler(c *gin.Context) {
	strategyID, ok := s.pathID(c)
	if !ok {
		return
	}

	strategy, err := s.registry.Get(strategyID)
	if err != nil {
		if errors.Is(err, registry.ErrStrategyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "strategy not found"})
			return
		}
		s.logger.Error("Failed to load strategy", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "internal server error"})
		return
	}

	var req strategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "malformed request body"})
		return
	}

	if req.Name != "" {
		strategy.Name = req.Name
	}
	if req.Description != "" {
		strategy.Description = req.Description
	}
	if req.InstrumentID != 0 {
		strategy.InstrumentID = req.InstrumentID
	}
	if req.BrokerCredentialID != 0 {
		strategy.BrokerCredentialID = req.BrokerCredentialID
	}
	if req.Status != "" {
		if req.Status != models.StrategyStatusRunning && req.Status != models.StrategyStatusStopped {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "status must be 'running' or 'stopped'"})
			return
		}
		strategy.Status = req.Status
	}
	if req.RolloverOn != nil {
		strategy.RolloverOn = req.RolloverOn
	}

	if err := s.registry.Update(strategy); err != nil {
		s.respondRegistryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": strategy})
}

func (s *Server) deleteStrategyHandler(c *gin.Context) {
	strategyID, ok := s.pathID(c)
	if !ok {
		return
	}
	if err := s.registry.Delete(strategyID); err != nil {
		if errors.Is(err, registry.ErrStrategyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "strategy not found"})
			return
		}
		s.logger.Error("Failed to delete strategy", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (s *Server) pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid strategy id"})
		return 0, false
	}
	return uint(id), true
}

func (s *Server) respondRegistryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, registry.ErrInstrumentMissing),
		errors.Is(err, registry.ErrInstrumentExpired),
		errors.Is(err, registry.ErrRolloverAfterExpiry),
		errors.Is(err, registry.ErrRolloverInPast):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
	default:
		s.logger.Error("Registry operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "internal server error"})
	}
}
