package server

import (
	"time"
)

// A ContainerInfo is the catalog record the server keeps for each container
// in the store. The summary fields are computed once at upload, so browsing
// them does not need to touch the (possibly remote) container bytes.
type ContainerInfo struct {
	Key       string    `json:"key"`        // the container's key in the store
	Size      int64     `json:"size"`       // size of the container blob in bytes
	NodeCount int       `json:"node_count"` // number of nodes in the tree
	Depth     int       `json:"depth"`      // longest root-to-leaf chain, root counts as 1
	Payload   int64     `json:"payload"`    // total payload bytes over all nodes
	MD5       string    `json:"md5"`        // hex checksum of the container blob
	SHA256    string    `json:"sha256"`     // hex checksum of the container blob
	Uploaded  time.Time `json:"uploaded"`   // when this container was stored
	Creator   string    `json:"creator"`    // the user who uploaded it
}

// A Catalog holds a ContainerInfo record for every container in the store.
// Implementations need to be safe for concurrent use.
type Catalog interface {
	// Lookup returns the record for the given key, or nil if there is none.
	Lookup(key string) *ContainerInfo

	// Set adds or replaces the record for the given key.
	Set(key string, info *ContainerInfo)

	// Delete removes the record for the given key, if there is one.
	Delete(key string)
}

// A Fixity is a single fixity check, either one scheduled for the future or
// the recorded outcome of one already run.
type Fixity struct {
	ID            int64     `json:"id"`
	Key           string    `json:"key"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Status        string    `json:"status"` // "scheduled", "ok", "error", or "mismatch"
	Notes         string    `json:"notes"`
}

// A FixityDB tracks the fixity check history of containers. It is the
// interface the background checking process uses to decide what needs to be
// checksummed next and to record outcomes. Implementations need to be safe
// for concurrent use.
type FixityDB interface {
	// NextFixity returns the id of the earliest scheduled check due on or
	// before the cutoff time. 0 means no check is due.
	NextFixity(cutoff time.Time) int64

	// GetFixity returns the record with the given id, or nil if there is
	// none.
	GetFixity(id int64) *Fixity

	// SearchFixity returns every record falling inside the given time
	// window, narrowed to the given key and status when those are not
	// empty. Zero times leave that end of the window open.
	SearchFixity(start, end time.Time, key string, status string) []*Fixity

	// UpdateFixity updates the record with the given ID, or adds a new
	// record if the ID is 0. An empty status on a new record defaults to
	// "scheduled". Only records still in the "scheduled" state are
	// changed; the rest are history and are left alone. Returns the id of
	// the record.
	UpdateFixity(fx Fixity) (int64, error)

	// DeleteFixity removes a scheduled check. Checks that have already
	// run are part of the historical record and are not deleted.
	DeleteFixity(id int64) error

	// LookupCheck returns the time of the earliest scheduled check for
	// the key, or the zero time if none is scheduled.
	LookupCheck(key string) (time.Time, error)
}
