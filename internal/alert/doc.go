// Package alert provides the business boundary for Sentinel's alert
// pipeline. It defines the domain models, the Store interface (persistence),
// the Service (intake validation, lifecycle, stats) and the Dispatcher
// (fire-and-forget bot notification).
package alert
