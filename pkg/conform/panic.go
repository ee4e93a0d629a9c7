package conform

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/Mindburn-Labs/mismo/pkg/contracts"
)

// PanicFinding is the system finding recorded when a stage panics.
func PanicFinding(stage string, recovered any) contracts.Finding {
	f := contracts.Errorf(contracts.CategorySystem, ReasonStagePanic, "", "%s stage panicked: %v", stage, recovered)
	f.Stage = stage
	return f
}

// Guard runs fn and converts a panic into a single system finding so one
// broken stage never takes down the caller. The stack is logged, not
// reported.
func Guard(stage string, fn func() []contracts.Finding) (findings []contracts.Finding) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().With("component", "conform").Error("stage panic recovered",
				"stage", stage,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			findings = []contracts.Finding{PanicFinding(stage, r)}
		}
	}()
	return fn()
}
