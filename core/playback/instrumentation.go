package playback

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/Hadskad/Bloom-Academia-sub003/core/playback"

var logger = otelslog.NewLogger(scopeName)
