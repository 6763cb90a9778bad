package locator

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// SaveUnknownDriver stages a phone number with extracted load ids that did
// not resolve yet. Re-saving for the same phone merges the id sets (union)
// rather than replacing, and keeps the first raw location seen.
func (s *Store) SaveUnknownDriver(phone string, loadIDs []string, rawLocation *string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return fmt.Errorf("empty phone number")
	}

	incoming := make(map[string]struct{})
	for _, id := range loadIDs {
		id = strings.ToUpper(strings.TrimSpace(id))
		if id != "" {
			incoming[id] = struct{}{}
		}
	}
	if len(incoming) == 0 {
		return nil
	}

	var u UnknownDriver
	err := s.db.Where("phone_number = ?", phone).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		u = UnknownDriver{PhoneNumber: phone, RawLocation: rawLocation}
		u.SetLoadIDs(incoming)
		if cerr := s.db.Create(&u).Error; cerr != nil {
			// lost a create race; merge into the winner
			if ferr := s.db.Where("phone_number = ?", phone).First(&u).Error; ferr != nil {
				return cerr
			}
			return s.mergeUnknownDriver(&u, incoming, rawLocation)
		}
		return nil
	}
	if err != nil {
		return err
	}
	return s.mergeUnknownDriver(&u, incoming, rawLocation)
}

func (s *Store) mergeUnknownDriver(u *UnknownDriver, incoming map[string]struct{}, rawLocation *string) error {
	set := u.LoadIDSet()
	for id := range incoming {
		set[id] = struct{}{}
	}
	u.SetLoadIDs(set)

	updates := map[string]any{"load_ids": u.LoadIDs}
	if u.RawLocation == nil && rawLocation != nil && strings.TrimSpace(*rawLocation) != "" {
		updates["raw_location"] = *rawLocation
	}
	return s.db.Model(&UnknownDriver{}).Where("id = ?", u.ID).Updates(updates).Error
}

// MatchUnknownStats summarizes one batch-matcher pass.
type MatchUnknownStats struct {
	MatchedCount     int
	LocationsCreated int
	TotalChecked     int
}

// MatchUnknownDrivers retries every still-unmatched staged driver against the
// refreshed load registry. All loads matching any stored id contribute their
// pickup locations (distinct, non-null union); each distinct location goes
// through the discovery upsert, and only after all of them succeed is the row
// retired with matched=true. Zero registry hits leave it unmatched for the
// next run, which is the expected path while the sheet sync catches up. A
// failure on one driver never aborts the batch.
func (s *Store) MatchUnknownDrivers() (MatchUnknownStats, error) {
	var stats MatchUnknownStats

	var pending []UnknownDriver
	if err := s.db.Where("matched = ?", false).Find(&pending).Error; err != nil {
		return stats, err
	}

	for i := range pending {
		u := &pending[i]
		stats.TotalChecked++

		ids := make([]string, 0)
		for id := range u.LoadIDSet() {
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			continue
		}

		var loads []Load
		if err := s.db.Where("load_id IN ?", ids).Find(&loads).Error; err != nil {
			s.debugf("unknown-driver %s: registry lookup failed: %v", u.PhoneNumber, err)
			continue
		}

		locations := distinctPickupLocations(loads)
		if len(locations) == 0 {
			continue // retry next run
		}

		allLinked := true
		for _, raw := range locations {
			outcome, err := s.LinkDriverToLocation(u.PhoneNumber, raw, "unknown-driver-batch")
			if err != nil {
				s.debugf("unknown-driver %s: link %q failed: %v", u.PhoneNumber, raw, err)
				allLinked = false
				continue
			}
			if outcome.LocationCreated {
				stats.LocationsCreated++
			}
		}
		if !allLinked {
			continue // leave unmatched so the failed location is retried
		}

		if err := s.db.Model(&UnknownDriver{}).Where("id = ?", u.ID).Update("matched", true).Error; err != nil {
			s.debugf("unknown-driver %s: retire failed: %v", u.PhoneNumber, err)
			continue
		}
		stats.MatchedCount++
	}
	return stats, nil
}

func distinctPickupLocations(loads []Load) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, l := range loads {
		if l.PickupLocation == nil {
			continue
		}
		raw := strings.TrimSpace(*l.PickupLocation)
		if raw == "" {
			continue
		}
		key := strings.ToLower(raw)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, raw)
	}
	return out
}
