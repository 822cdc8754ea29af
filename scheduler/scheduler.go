package scheduler

// Package scheduler provides scheduled maintenance for the chart engine.
// It handles:
// - Hot cache TTL sweeps
// - Durable cache expiry pruning
// - Result memo age-based pruning
// - Periodic instance pool rewarming from the watchlist
//
// The main scheduler is implemented in jobs.go
