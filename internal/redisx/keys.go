package redisx

import "time"

const (
	// Session payload: session:{token} -> JSON session data
	KeySession = "session:%s"

	// Dedup event processing: dedup:{scope}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLSession = 14 * 24 * time.Hour
	TTLDedup   = 48 * time.Hour
)
