package locator

import (
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "locator_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	return db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(newTestDB(t), testGazetteer())
}

// testGazetteer mirrors the production shape: a handful of copart yards and
// one iaai yard, including the same-named-city trap in two states.
func testGazetteer() *Gazetteer {
	copart := []AuctionSite{
		{State: "FL", City: "Miami", Address: "12000 NW 27th Ave", Zip: "33167", FormattedName: "Miami North"},
		{State: "WA", City: "Vancouver", Address: "10318 NE 88th St", Zip: "98662", FormattedName: "Vancouver WA"},
		{State: "AZ", City: "Glendale", Address: "11811 W Glendale Ave", Zip: "85307", FormattedName: "Phoenix West"},
		{State: "TX", City: "Houston", Address: "2535 East Mount Houston Road", Zip: "77093", FormattedName: "Houston"},
		{State: "OH", City: "Dayton", Address: "2663 Needmore Road Building 5", Zip: "45414", FormattedName: "Dayton"},
	}
	iaai := []AuctionSite{
		{State: "FL", City: "Opa Locka", Address: "3300 NW 112th Ave", Zip: "33168", FormattedName: "Miami-North IAA"},
		{State: "WA", City: "Glendale", Address: "5757 Glendale Heights Rd", Zip: "98198", FormattedName: "Seattle South"},
	}
	return NewGazetteer(copart, iaai)
}

func strPtr(s string) *string { return &s }

func mustCreateLoad(t *testing.T, db *gorm.DB, vin string, pickup, delivery *string) Load {
	t.Helper()
	load := Load{
		VIN:              vin,
		LoadID:           DeriveLoadID(vin),
		PickupLocation:   pickup,
		DeliveryLocation: delivery,
		SyncedAt:         time.Now().UTC(),
	}
	if err := db.Create(&load).Error; err != nil {
		t.Fatal(err)
	}
	return load
}

func countRows(t *testing.T, db *gorm.DB, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	q := db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	return n
}
