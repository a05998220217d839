// Package history keeps a local record of apparatus readings and consumer
// commands in SQLite.
//
// Readings are recorded on change only: the Recorder remembers the last
// value seen per device attribute and writes rows for differences. Rows
// older than the configured retention are pruned periodically.
//
// History is an audit trail for consumers. It is never read back into the
// gateway cache.
package history
