package main

import "time"

const (
	defaultCacheTTL  = 10 * time.Minute
	defaultDedupeTTL = 24 * time.Hour
)
