// Package logging builds the service's zap logger.
//
// Production mode writes JSON; development mode writes colored console
// output with stack traces. The level can be changed at runtime.
//
//	logger, err := logging.New(logging.Config{Level: "debug"})
//	logger.Component("pool").Info("context replaced", zap.String("context_id", id))
package logging
