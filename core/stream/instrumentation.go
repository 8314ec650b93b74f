package stream

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/Hadskad/Bloom-Academia-sub003/core/stream"

var logger = otelslog.NewLogger(scopeName)
