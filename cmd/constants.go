package cmd

const version = "0.3.0"

const (
	// DefaultHistoryShown is how many build attempts status commands list.
	DefaultHistoryShown = 5
)
