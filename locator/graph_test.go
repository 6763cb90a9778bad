package locator

import "testing"

func TestLinkDriverToLocation_CreatesDriverLocationEdge(t *testing.T) {
	s := newTestStore(t)

	outcome, err := s.LinkDriverToLocation("+15551234567", "Miami, Florida", "sms-load-match")
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Skipped {
		t.Fatal("unexpected skip")
	}
	if !outcome.EdgeNew || !outcome.LocationCreated {
		t.Fatalf("expected fresh driver/location/edge, got %+v", outcome)
	}
	if outcome.Location.Name != "Miami, FL" {
		t.Fatalf("location not normalized: %q", outcome.Location.Name)
	}

	var edge DriverLocation
	if err := s.db.First(&edge).Error; err != nil {
		t.Fatal(err)
	}
	if edge.MatchCount != 1 || edge.Source != "sms-load-match" {
		t.Fatalf("unexpected edge %+v", edge)
	}
}

func TestLinkDriverToLocation_RediscoveryNeverDuplicates(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		if _, err := s.LinkDriverToLocation("+15551234567", "Miami, FL", "sms-load-match"); err != nil {
			t.Fatal(err)
		}
	}
	// raw variants of the same place resolve to the same row via normalizer
	if _, err := s.LinkDriverToLocation("+15551234567", "miami, florida", "unknown-driver-batch"); err != nil {
		t.Fatal(err)
	}

	if n := countRows(t, s.db, &DriverLocation{}, ""); n != 1 {
		t.Fatalf("expected exactly 1 edge, got %d", n)
	}
	var edge DriverLocation
	if err := s.db.First(&edge).Error; err != nil {
		t.Fatal(err)
	}
	if edge.MatchCount != 4 {
		t.Fatalf("expected matchCount 4, got %d", edge.MatchCount)
	}
	if edge.Source != "unknown-driver-batch" {
		t.Fatalf("source should follow the latest rediscovery, got %q", edge.Source)
	}
	if n := countRows(t, s.db, &Location{}, ""); n != 1 {
		t.Fatalf("expected 1 location, got %d", n)
	}
}

func TestLinkDriverToLocation_ManyEdgesPerDriverAreExpected(t *testing.T) {
	s := newTestStore(t)
	for _, raw := range []string{"Miami, FL", "Houston, TX", "Vancouver, WA"} {
		if _, err := s.LinkDriverToLocation("+15551234567", raw, "sms-load-match"); err != nil {
			t.Fatal(err)
		}
	}
	if n := countRows(t, s.db, &DriverLocation{}, ""); n != 3 {
		t.Fatalf("expected 3 edges for one driver, got %d", n)
	}
	if n := countRows(t, s.db, &Driver{}, ""); n != 1 {
		t.Fatalf("expected 1 driver, got %d", n)
	}
}

func TestLinkDriverToLocation_OptedOutDriverIsNeverWritten(t *testing.T) {
	s := newTestStore(t)
	if err := s.MarkOptedOut("+15551234567"); err != nil {
		t.Fatal(err)
	}

	outcome, err := s.LinkDriverToLocation("+15551234567", "Miami, FL", "sms-load-match")
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Skipped {
		t.Fatal("expected opted-out driver to be skipped")
	}
	if n := countRows(t, s.db, &DriverLocation{}, ""); n != 0 {
		t.Fatalf("expected no edges, got %d", n)
	}

	// terminal: repeated opt-out and repeated discovery attempts never flip it
	if err := s.MarkOptedOut("+15551234567"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LinkDriverToLocation("+15551234567", "Houston, TX", "unknown-driver-batch"); err != nil {
		t.Fatal(err)
	}
	var d Driver
	if err := s.db.Where("phone_number = ?", "+15551234567").First(&d).Error; err != nil {
		t.Fatal(err)
	}
	if !d.OptedOut {
		t.Fatal("opt-out must be terminal")
	}
}

func TestMarkOptedOut_PreSuppressesUnknownDrivers(t *testing.T) {
	s := newTestStore(t)
	// opt-out before the driver was ever discovered creates the row
	if err := s.MarkOptedOut("+15550000001"); err != nil {
		t.Fatal(err)
	}
	var d Driver
	if err := s.db.Where("phone_number = ?", "+15550000001").First(&d).Error; err != nil {
		t.Fatal(err)
	}
	if !d.OptedOut {
		t.Fatal("expected pre-created driver to be opted out")
	}
}

func TestFindOrCreateLocation_GazetteerBackfillOnFreshOnly(t *testing.T) {
	s := newTestStore(t)

	loc, created, err := s.FindOrCreateLocation("Miami FL 33167")
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected fresh location")
	}
	if loc.AuctionType != AuctionTypeCopart || loc.AuctionName != "Miami North" || loc.ZipCode != "33167" {
		t.Fatalf("gazetteer backfill missing: %+v", loc)
	}

	// existing locations are never overwritten by later discoveries
	again, created2, err := s.FindOrCreateLocation("Miami FL 33167")
	if err != nil {
		t.Fatal(err)
	}
	if created2 || again.ID != loc.ID || again.AuctionName != "Miami North" {
		t.Fatalf("expected stable existing row, got created=%v %+v", created2, again)
	}
}

func TestFindOrCreateLocation_NoGazetteerMatchLeavesMetadataEmpty(t *testing.T) {
	s := newTestStore(t)
	loc, created, err := s.FindOrCreateLocation("Nowhereville, KS")
	if err != nil {
		t.Fatal(err)
	}
	if !created || loc.AuctionType != "" || loc.AuctionName != "" {
		t.Fatalf("expected bare location on gazetteer miss, got %+v", loc)
	}
}

func TestLinkDriverToLocation_RediscoveryBackfillsBareLocation(t *testing.T) {
	s := newTestStore(t)
	// location created before the gazetteer datasets were configured
	bare := Location{Name: "Miami, FL"}
	if err := s.db.Create(&bare).Error; err != nil {
		t.Fatal(err)
	}

	outcome, err := s.LinkDriverToLocation("+15551234567", "Miami FL 33167", "sms-load-match")
	if err != nil {
		t.Fatal(err)
	}
	if outcome.LocationCreated || outcome.Location.ID != bare.ID {
		t.Fatalf("expected rediscovery of the existing row, got %+v", outcome)
	}
	if outcome.Location.AuctionName != "Miami North" || outcome.Location.AuctionType != AuctionTypeCopart {
		t.Fatalf("backfill not reflected on outcome: %+v", outcome.Location)
	}

	var got Location
	if err := s.db.First(&got, bare.ID).Error; err != nil {
		t.Fatal(err)
	}
	if got.ZipCode != "33167" || got.City != "Miami" || got.State != "FL" {
		t.Fatalf("bare location not backfilled: %+v", got)
	}
}

func TestBackfillAuctionMetadata_OnlyFillsUnsetFields(t *testing.T) {
	s := newTestStore(t)
	loc := Location{Name: "Miami, FL", City: "Miami", State: "FL"}
	if err := s.db.Create(&loc).Error; err != nil {
		t.Fatal(err)
	}

	res := s.gazetteer.MatchAddress("Miami FL 33167")
	if res == nil {
		t.Fatal("expected gazetteer hit")
	}
	if err := s.BackfillAuctionMetadata(&loc, res); err != nil {
		t.Fatal(err)
	}

	var got Location
	if err := s.db.First(&got, loc.ID).Error; err != nil {
		t.Fatal(err)
	}
	if got.City != "Miami" || got.State != "FL" {
		t.Fatalf("set fields were overwritten: %+v", got)
	}
	if got.AuctionName != "Miami North" || got.AuctionType != AuctionTypeCopart || got.ZipCode != "33167" {
		t.Fatalf("unset fields not backfilled: %+v", got)
	}
}
