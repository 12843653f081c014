// Package logger provides structured logging for stagepipe using zerolog.
//
// Loggers are scoped by component (scheduler, executor, server) and carry
// pipeline fields such as the stage index and item id, so a single item can
// be followed through every stage it visits.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.NewDefault("stagepipe").WithComponent("scheduler")
//	log.Info("stage completed", logger.Fields(logger.FieldStage, 1, logger.FieldItemID, 42))
package logger
