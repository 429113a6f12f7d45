// Package logging wraps zap for vendorflow services.
//
// A Logger writes JSON (or console) entries to stdout through an encoder
// that masks secret-bearing keys and values, and optionally tees them to
// an OpenTelemetry log provider via otelzap. Entries below error level
// are sampled; errors never are.
//
// The context-taking methods prepend the trace and entity ids carried by
// ctx:
//
//	ctx = logging.WithThreadID(ctx, threadID)
//	ctx = logging.WithRelationshipID(ctx, relID)
//	logger.Info(ctx, "status applied", zap.String("to", "booked"))
//
// Components that log without a context take Underlying().
package logging
