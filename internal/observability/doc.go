// Package observability records resolution workflow events as JSON Lines
// and derives metrics and alerts from them on demand.
package observability
