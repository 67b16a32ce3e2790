// Package device records the state history of SmartCare channel bindings.
//
// Every time a channel's resolved state changes, the bridge appends a row to
// the state_history table with the channel name, the bound device ID, the
// wire form of the state and its kind. The REST API serves this history
// and operators use it to audit what the bridge published.
//
// The live snapshot of upstream device records is not stored here; it is
// held in memory by the poller and replaced wholesale on every poll.
//
// # Retention
//
// PruneHistory removes old rows. The bridge calls it once a day with the
// configured retention period.
package device
