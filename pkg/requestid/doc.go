// Package requestid attaches a correlation identifier to every incoming
// HTTP request. On the billing surface the interesting case is webhook
// redeliveries: each gateway retry of the same event gets its own
// request ID, so log records from separate delivery attempts can be told
// apart even though they carry the same payment reference.
//
// Middleware reuses a client-supplied "X-Request-ID" header when it
// passes validation, generates a UUID otherwise, stores the ID in the
// request context, and echoes it back in the response header.
// FromContext reads it anywhere downstream. LoggerExtractor plugs into
// the logger package's context extractor chain:
//
//	log := logger.New(
//		logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//
// The package never returns errors. Invalid or oversized client IDs are
// silently replaced with a fresh UUID.
package requestid
