package locator

import (
	"sort"
	"strings"
	"time"
)

// Load is one row of the load registry, populated by the external sheet sync.
// The core only reads it by load_id/vin and writes back the driver linkage.
type Load struct {
	ID               uint   `gorm:"primaryKey"`
	VIN              string `gorm:"uniqueIndex;size:32"`
	LoadID           string `gorm:"index;size:8"` // last 6 of VIN; collisions possible and tolerated
	PickupLocation   *string
	DeliveryLocation *string
	DriverPhone      *string `gorm:"size:20"`
	DriverID         *uint   `gorm:"index"`
	SyncedAt         time.Time
}

// DeriveLoadID returns the lookup key for a VIN: last 6 characters, upper-cased.
func DeriveLoadID(vin string) string {
	v := strings.ToUpper(strings.TrimSpace(vin))
	if len(v) <= 6 {
		return v
	}
	return v[len(v)-6:]
}

type Driver struct {
	ID          uint   `gorm:"primaryKey"`
	PhoneNumber string `gorm:"uniqueIndex;size:20"` // E.164
	Name        string `gorm:"size:128"`
	CompanyName string `gorm:"size:128"`
	Notes       string `gorm:"type:text"`
	// OptedOut is terminal: once true the discovery pipeline never writes to
	// this driver again and outward targeting must exclude them.
	OptedOut  bool `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Location struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"uniqueIndex;size:255"` // canonical, human-readable
	City        string `gorm:"size:64"`
	State       string `gorm:"size:32"`
	ZipCode     string `gorm:"size:10"`
	AuctionName string `gorm:"size:128"`
	AuctionType string `gorm:"size:16"` // copart, iaai, other, or empty when unknown
	CreatedAt   time.Time
}

// DriverLocation links one driver to one yard. At most one row exists per
// (driver, location) pair; rediscovery bumps MatchCount and LastSeenAt.
type DriverLocation struct {
	ID         uint   `gorm:"primaryKey"`
	DriverID   uint   `gorm:"uniqueIndex:uniq_driver_location"`
	LocationID uint   `gorm:"uniqueIndex:uniq_driver_location"`
	Source     string `gorm:"size:32"`
	MatchCount int
	LastSeenAt time.Time `gorm:"index"`
	CreatedAt  time.Time
}

// LocationAlias maps a lower-cased raw location string to its canonical
// Location so repeated raw strings resolve without fuzzy work.
type LocationAlias struct {
	ID         uint   `gorm:"primaryKey"`
	Alias      string `gorm:"uniqueIndex;size:255"`
	LocationID uint   `gorm:"index"`
	CreatedAt  time.Time
}

// UnknownDriver stages phone numbers whose extracted load ids have not yet
// resolved against the registry. Retired by flipping Matched, never deleted.
type UnknownDriver struct {
	ID          uint   `gorm:"primaryKey"`
	PhoneNumber string `gorm:"uniqueIndex;size:20"`
	LoadIDs     string `gorm:"size:512"` // comma-joined sorted set
	RawLocation *string
	Matched     bool `gorm:"index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LoadIDSet decodes the serialized load-id set.
func (u *UnknownDriver) LoadIDSet() map[string]struct{} {
	out := make(map[string]struct{})
	for _, id := range strings.Split(u.LoadIDs, ",") {
		id = strings.ToUpper(strings.TrimSpace(id))
		if id != "" {
			out[id] = struct{}{}
		}
	}
	return out
}

// SetLoadIDs re-serializes the set in sorted order for stable storage.
func (u *UnknownDriver) SetLoadIDs(set map[string]struct{}) {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	u.LoadIDs = strings.Join(ids, ",")
}

// The SID fields pin their column names: the default namer would render the
// suffix as "s_id", and the raw queries address conversation_sid/message_sid.
type Conversation struct {
	ID              uint   `gorm:"primaryKey"`
	ConversationSID string `gorm:"column:conversation_sid;uniqueIndex;size:64"`
	PhoneNumber     string `gorm:"index;size:20"`
	LastActivityAt  time.Time
	// LastParsedAt is the reprocessing watermark; nil means never parsed.
	LastParsedAt *time.Time
}

type Message struct {
	ID              uint      `gorm:"primaryKey"`
	MessageSID      string    `gorm:"column:message_sid;uniqueIndex;size:64"`
	ConversationSID string    `gorm:"column:conversation_sid;index;size:64"`
	Direction       string    `gorm:"size:12"` // incoming, outgoing
	From            string    `gorm:"size:20"`
	Body            string    `gorm:"type:text"`
	SentAt          time.Time `gorm:"index"`
}

// IngestedFile tracks conversation dump files already consumed from the
// transport drop directory, keyed on path+sha so rewritten files re-ingest.
type IngestedFile struct {
	ID          uint      `gorm:"primaryKey"`
	Path        string    `gorm:"uniqueIndex:uniq_path_sha;size:1024"`
	SHA256      string    `gorm:"uniqueIndex:uniq_path_sha;size:64"`
	ProcessedAt time.Time `gorm:"index"`
	LastError   string    `gorm:"type:text"`
}
