package handler

import (
	"log/slog"

	"github.com/cuongbtq/queue-runner/internal/broker"
	"github.com/cuongbtq/queue-runner/internal/results"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	Store  *results.Store
	Broker broker.Conn
}

// JobHandler serves result lookups and job submission
type JobHandler struct {
	logger *slog.Logger
	store  *results.Store
	broker broker.Conn
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		store:  deps.Store,
		broker: deps.Broker,
	}
}
