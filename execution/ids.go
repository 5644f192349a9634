package execution

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewExecutionID returns a fresh globally-unique execution identifier.
func NewExecutionID() string {
	return fmt.Sprintf("exec-%s", uuid.New().String())
}

// NewCorrelationID returns a fresh correlation identifier. Correlation ids
// group an execution tree; children inherit the root's id.
func NewCorrelationID() string {
	return fmt.Sprintf("corr-%s", uuid.New().String())
}

// NewTraceID returns a 32-hex-character trace identifier, shaped like a
// W3C trace-context trace id.
func NewTraceID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewSpanID returns a 16-character span identifier. Every context gets its
// own span id, including children that share the parent's trace id.
func NewSpanID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}
