package snapshot

import "time"

// Metadata is the persisted record of the currently-served snapshot
// (spec §3 "Content Metadata"). It is written only after a successful
// swap and is tolerant of corruption: a read failure is treated as
// "absent", never fatal.
type Metadata struct {
	CommitHash string    `json:"commitHash"`
	FetchTime  time.Time `json:"fetchTime"`
	Branch     string    `json:"branch"`
	Repository string    `json:"repository"`
	TotalFiles int       `json:"totalFiles"`
}
