package main

import (
	"time"

	"github.com/astrarise/nifty-options-bot/internal/config"
)

// nowIn returns the current time in the market timezone.
func nowIn(cfg *config.Config) time.Time {
	return time.Now().In(cfg.Location())
}
