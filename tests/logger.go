package testutil

import (
	"go.uber.org/zap"

	"github.com/sunschool/sunschool/core"
	logsvc "github.com/sunschool/sunschool/services/logger"
)

// NewLogger returns a silent logger with Rollbar reporting disabled.
func NewLogger() core.Logger {
	l := logsvc.NewRollbarLogger(zap.NewNop(), &core.Config{Env: "TEST"})
	l.Enable(false)
	return l
}
