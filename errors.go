package mixengine

import (
	"errors"
	"fmt"

	"github.com/shaban/mixengine/engine/plugin"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotInitialized     = errors.New("engine not initialized")
	ErrAlreadyInitialized = errors.New("engine already initialized")
	ErrInvalidSpec        = errors.New("invalid audio spec")
	ErrInvalidConfig      = errors.New("invalid engine config")
	ErrNodeNotFound       = errors.New("node not found")
	ErrTrackNotFound      = errors.New("track not found")
	ErrBusNotFound        = errors.New("bus not found")
	ErrCycle              = errors.New("routing would create a cycle")
	ErrPluginLoad         = errors.New("plugin could not be loaded")
	ErrPluginNotFound     = errors.New("plugin slot not found")
	ErrParameterNotFound  = errors.New("parameter not found")
	ErrTransportState     = errors.New("invalid transport state")
	ErrMasterImmutable    = errors.New("master bus cannot be removed or routed")
	ErrEngineClosed       = errors.New("engine closed")
	ErrInvalidState       = errors.New("invalid engine state")
	ErrNoInstrument       = errors.New("track has no instrument")
	ErrMIDIQueueFull      = errors.New("MIDI queue full")
)

// RTError is a failure reported by the real-time thread. The node that
// produced it was silenced for one tick.
type RTError struct {
	NodeID   string        `json:"nodeId"`
	SlotID   string        `json:"slotId,omitempty"` // empty when the source failed
	Status   plugin.Status `json:"status"`
	Position int64         `json:"position"`
}

func (e RTError) Error() string {
	if e.SlotID == "" {
		return fmt.Sprintf("node %s: %s at frame %d", e.NodeID, e.Status, e.Position)
	}
	return fmt.Sprintf("node %s slot %s: %s at frame %d", e.NodeID, e.SlotID, e.Status, e.Position)
}

// ErrorHandler defines the interface for handling engine errors
type ErrorHandler interface {
	HandleError(error)
}

// DefaultErrorHandler logs errors through logrus
type DefaultErrorHandler struct {
	Logger *logrus.Logger // nil uses the standard logger
}

// HandleError implements ErrorHandler interface with structured logging
func (h *DefaultErrorHandler) HandleError(err error) {
	logger := h.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	entry := logger.WithError(err)
	var rt RTError
	if errors.As(err, &rt) {
		entry.WithFields(logrus.Fields{
			"node":     rt.NodeID,
			"slot":     rt.SlotID,
			"status":   rt.Status.String(),
			"position": rt.Position,
		}).Warn("real-time processing failure")
		return
	}
	entry.Error("engine error")
}

// LoggingErrorHandler wraps another handler and logs errors
type LoggingErrorHandler struct {
	underlying ErrorHandler
	logger     func(error)
}

// NewLoggingErrorHandler creates a new logging error handler
func NewLoggingErrorHandler(underlying ErrorHandler, logger func(error)) *LoggingErrorHandler {
	return &LoggingErrorHandler{
		underlying: underlying,
		logger:     logger,
	}
}

// HandleError implements ErrorHandler interface with logging
func (h *LoggingErrorHandler) HandleError(err error) {
	if h.logger != nil {
		h.logger(err)
	}
	if h.underlying != nil {
		h.underlying.HandleError(err)
	}
}

// PanicErrorHandler panics on any error (useful for development)
type PanicErrorHandler struct{}

// HandleError implements ErrorHandler interface by panicking
func (h *PanicErrorHandler) HandleError(err error) {
	panic(fmt.Sprintf("Engine error: %v", err))
}
