package locator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// LinkOutcome reports what a discovery upsert did. EdgeNew and
// LocationCreated feed batch-run metrics only; control flow never depends on
// them.
type LinkOutcome struct {
	Driver          *Driver
	Location        *Location
	EdgeNew         bool
	LocationCreated bool
	Skipped         bool // driver has opted out
}

// FindOrCreateDriver returns the driver for a phone number, creating it when
// absent. A uniqueness violation on create means a concurrent run won the
// race; the existing row is returned instead.
func (s *Store) FindOrCreateDriver(phone, note string) (*Driver, bool, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, false, fmt.Errorf("empty phone number")
	}
	var d Driver
	err := s.db.Where("phone_number = ?", phone).First(&d).Error
	if err == nil {
		return &d, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	d = Driver{PhoneNumber: phone, Notes: note}
	if cerr := s.db.Create(&d).Error; cerr != nil {
		var existing Driver
		if ferr := s.db.Where("phone_number = ?", phone).First(&existing).Error; ferr == nil {
			return &existing, false, nil
		}
		return nil, false, cerr
	}
	return &d, true, nil
}

// MarkOptedOut flags a driver as permanently excluded from discovery and
// targeting, creating the row first if needed so future attempts are
// pre-suppressed. One-way: nothing in the pipeline ever clears it.
func (s *Store) MarkOptedOut(phone string) error {
	d, created, err := s.FindOrCreateDriver(phone, "opted out via /STOP")
	if err != nil {
		return err
	}
	if d.OptedOut {
		return nil
	}
	updates := map[string]any{"opted_out": true}
	if !created && strings.TrimSpace(d.Notes) == "" {
		updates["notes"] = "opted out via /STOP"
	}
	return s.db.Model(&Driver{}).Where("id = ?", d.ID).Updates(updates).Error
}

// FindOrCreateLocation looks the name up via the normalizer chain and creates
// a fresh Location on a miss. Freshly created locations get one gazetteer
// pass to backfill auction metadata; already-set fields are never overwritten.
func (s *Store) FindOrCreateLocation(rawName string) (*Location, bool, error) {
	loc, normalized, err := s.ResolveLocation(rawName)
	if err != nil {
		return nil, false, err
	}
	if loc != nil {
		return loc, false, nil
	}
	if strings.TrimSpace(normalized) == "" {
		return nil, false, fmt.Errorf("empty location name")
	}

	fresh := Location{Name: normalized}
	if res := s.gazetteer.MatchAddress(rawName); res != nil {
		fresh.City = res.Site.City
		fresh.State = res.Site.State
		fresh.ZipCode = res.Site.Zip
		fresh.AuctionName = res.Site.FormattedName
		fresh.AuctionType = res.Site.AuctionType
		s.debugf("gazetteer backfill %q via %s -> %s (%s)", rawName, res.Strategy, res.Site.FormattedName, res.Site.AuctionType)
	}
	if cerr := s.db.Create(&fresh).Error; cerr != nil {
		var existing Location
		if ferr := s.db.Where("name = ?", normalized).First(&existing).Error; ferr == nil {
			return &existing, false, nil
		}
		return nil, false, cerr
	}
	return &fresh, true, nil
}

// BackfillAuctionMetadata fills unset auction fields on an existing location
// from a gazetteer result, in the row and on loc itself. Set fields stay as
// they are.
func (s *Store) BackfillAuctionMetadata(loc *Location, res *AuctionLocationResult) error {
	if loc == nil || res == nil {
		return nil
	}
	updates := map[string]any{}
	if loc.City == "" && res.Site.City != "" {
		updates["city"] = res.Site.City
		loc.City = res.Site.City
	}
	if loc.State == "" && res.Site.State != "" {
		updates["state"] = res.Site.State
		loc.State = res.Site.State
	}
	if loc.ZipCode == "" && res.Site.Zip != "" {
		updates["zip_code"] = res.Site.Zip
		loc.ZipCode = res.Site.Zip
	}
	if loc.AuctionName == "" && res.Site.FormattedName != "" {
		updates["auction_name"] = res.Site.FormattedName
		loc.AuctionName = res.Site.FormattedName
	}
	if loc.AuctionType == "" && res.Site.AuctionType != "" {
		updates["auction_type"] = res.Site.AuctionType
		loc.AuctionType = res.Site.AuctionType
	}
	if len(updates) == 0 {
		return nil
	}
	return s.db.Model(&Location{}).Where("id = ?", loc.ID).Updates(updates).Error
}

// LinkDriverToLocation is the idempotent discovery upsert: find-or-create the
// driver, find-or-create the location, then find-or-create the edge. Opted
// out drivers short-circuit with Skipped set. A driver holding many edges is
// expected (works multiple yards), not a data-quality problem.
func (s *Store) LinkDriverToLocation(phone, rawLocation, source string) (*LinkOutcome, error) {
	driver, _, err := s.FindOrCreateDriver(phone, "auto-created by "+source)
	if err != nil {
		return nil, err
	}
	if driver.OptedOut {
		s.debugf("skip opted-out driver %s", phone)
		return &LinkOutcome{Driver: driver, Skipped: true}, nil
	}

	loc, created, err := s.FindOrCreateLocation(rawLocation)
	if err != nil {
		return nil, err
	}
	if !created && loc.AuctionType == "" {
		// rediscovery of a location that predates the gazetteer datasets
		if err := s.BackfillAuctionMetadata(loc, s.gazetteer.MatchAddress(rawLocation)); err != nil {
			return nil, err
		}
	}

	edgeNew, err := s.upsertEdge(driver.ID, loc.ID, source)
	if err != nil {
		return nil, err
	}
	return &LinkOutcome{Driver: driver, Location: loc, EdgeNew: edgeNew, LocationCreated: created}, nil
}

// upsertEdge keeps the (driver, location) pair unique: rediscovery bumps
// MatchCount and LastSeenAt instead of inserting. A create that loses a
// uniqueness race is folded into the rediscovery path.
func (s *Store) upsertEdge(driverID, locationID uint, source string) (bool, error) {
	now := time.Now().UTC()

	var edge DriverLocation
	err := s.db.Where("driver_id = ? AND location_id = ?", driverID, locationID).First(&edge).Error
	if err == nil {
		return false, s.touchEdge(edge.ID, source, now)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	edge = DriverLocation{
		DriverID:   driverID,
		LocationID: locationID,
		Source:     source,
		MatchCount: 1,
		LastSeenAt: now,
	}
	if cerr := s.db.Create(&edge).Error; cerr != nil {
		var existing DriverLocation
		if ferr := s.db.Where("driver_id = ? AND location_id = ?", driverID, locationID).First(&existing).Error; ferr == nil {
			return false, s.touchEdge(existing.ID, source, now)
		}
		return false, cerr
	}
	return true, nil
}

func (s *Store) touchEdge(edgeID uint, source string, now time.Time) error {
	return s.db.Model(&DriverLocation{}).
		Where("id = ?", edgeID).
		Updates(map[string]any{
			"match_count":  gorm.Expr("match_count + 1"),
			"last_seen_at": now,
			"source":       source,
		}).Error
}
