// Package errorhandling reports failures of user-facing operations: the full
// error goes to the log, a one-line message goes to the user.
package errorhandling

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// Handler logs errors and prints a short notice to its writer. It never
// panics and is safe for concurrent use.
type Handler struct {
	logger *zap.Logger
	mu     sync.Mutex
	out    io.Writer
}

// New returns a handler. A nil logger discards log output; a nil writer
// suppresses user notices.
func New(logger *zap.Logger, out io.Writer) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{logger: logger, out: out}
}

// Handle records err raised while doing contextName. message is shown to
// the user; when empty the error text is shown instead.
func (h *Handler) Handle(err error, contextName, message string) {
	if h == nil || err == nil {
		return
	}
	h.logger.Error(message,
		zap.String("context", contextName),
		zap.Error(err),
	)
	if h.out == nil {
		return
	}
	line := message
	if line == "" {
		line = err.Error()
	} else {
		line = fmt.Sprintf("%s: %v", message, err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintf(h.out, "Error [%s]: %s\n", contextName, line)
}
