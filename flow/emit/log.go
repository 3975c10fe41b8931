package emit

import "github.com/rs/zerolog"

// LogEmitter renders events through a zerolog logger, one structured log
// line per event.
//
// Example output (JSON mode):
//
//	{"level":"info","run_id":"run-001","step":1,"node_id":"profile","message":"node_executed"}
type LogEmitter struct {
	log zerolog.Logger
}

// NewLogEmitter creates a LogEmitter writing through the given logger.
func NewLogEmitter(log zerolog.Logger) *LogEmitter {
	return &LogEmitter{log: log}
}

// Emit writes the event as a structured log line (implements Emitter).
func (l *LogEmitter) Emit(event Event) {
	e := l.log.Info().Str("run_id", event.RunID)
	if event.Step > 0 {
		e = e.Int("step", event.Step)
	}
	if event.NodeID != "" {
		e = e.Str("node_id", event.NodeID)
	}
	if len(event.Meta) > 0 {
		e = e.Fields(event.Meta)
	}
	e.Msg(event.Msg)
}
