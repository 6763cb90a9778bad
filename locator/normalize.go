package locator

import (
	"errors"
	"regexp"
	"strings"

	"gorm.io/gorm"
)

var zipOnlyRe = regexp.MustCompile(`^\d{5}$`)

// NormalizeLocationText canonicalizes a raw location string into "City, ST"
// form where possible, expanding full state names ("Miami, Florida" ->
// "Miami, FL"). State-only and zip-only inputs pass through as the code/zip.
// Anything unparseable comes back whitespace-collapsed but otherwise as-is;
// this function never fails.
func NormalizeLocationText(raw string) string {
	s := strings.Join(strings.Fields(strings.TrimSpace(raw)), " ")
	if s == "" {
		return ""
	}
	if zipOnlyRe.MatchString(s) {
		return s
	}
	if code, ok := StateCode(s); ok {
		return code
	}
	if city, state, ok := splitCityState(s); ok {
		return titleCase(city) + ", " + state
	}
	return s
}

// splitCityState splits on the last comma, or on a trailing state token when
// no comma is present. A trailing zip after the state is tolerated.
func splitCityState(s string) (string, string, bool) {
	if i := strings.LastIndex(s, ","); i >= 0 {
		city := strings.TrimSpace(s[:i])
		rest := strings.Fields(strings.TrimSpace(s[i+1:]))
		rest = dropTrailingZip(rest)
		if code, ok := StateCode(strings.Join(rest, " ")); ok && city != "" {
			return city, code, true
		}
		return "", "", false
	}

	f := dropTrailingZip(strings.Fields(s))
	if len(f) >= 2 {
		if code, ok := StateCode(f[len(f)-1]); ok {
			return strings.Join(f[:len(f)-1], " "), code, true
		}
	}
	if len(f) >= 3 {
		// full two-word state names ("Staten Island New York")
		if code, ok := StateCode(strings.Join(f[len(f)-2:], " ")); ok {
			return strings.Join(f[:len(f)-2], " "), code, true
		}
	}
	return "", "", false
}

func dropTrailingZip(fields []string) []string {
	if len(fields) > 0 && zipOnlyRe.MatchString(fields[len(fields)-1]) {
		return fields[:len(fields)-1]
	}
	return fields
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

type resolveStep struct {
	name string
	fn   func(s *Store, raw, aliasKey, normalized string) (*Location, error)
}

// Resolution order is load-bearing: alias lookup must run first so previously
// learned raw strings short-circuit, and the fuzzy fallback runs last.
var resolveSteps = []resolveStep{
	{"alias", func(s *Store, raw, aliasKey, normalized string) (*Location, error) {
		return s.resolveByAlias(aliasKey)
	}},
	{"exact-name", func(s *Store, raw, aliasKey, normalized string) (*Location, error) {
		return s.locationByName(strings.TrimSpace(raw))
	}},
	{"normalized-name", func(s *Store, raw, aliasKey, normalized string) (*Location, error) {
		return s.resolveByNormalizedName(aliasKey, normalized)
	}},
	{"fuzzy-city", func(s *Store, raw, aliasKey, normalized string) (*Location, error) {
		return s.resolveByFuzzyCity(aliasKey, normalized)
	}},
}

// ResolveLocation resolves a raw location string to a known Location. The
// second return is the canonical name on a hit, or the normalized form of the
// input on a miss; callers that need a Location on a miss create one from it.
// Resolution misses are not errors.
func (s *Store) ResolveLocation(raw string) (*Location, string, error) {
	normalized := NormalizeLocationText(raw)
	aliasKey := strings.ToLower(strings.TrimSpace(raw))
	if aliasKey == "" {
		return nil, normalized, nil
	}
	for _, step := range resolveSteps {
		loc, err := step.fn(s, raw, aliasKey, normalized)
		if err != nil {
			return nil, normalized, err
		}
		if loc != nil {
			s.debugf("resolve %q via %s -> %q", raw, step.name, loc.Name)
			return loc, loc.Name, nil
		}
	}
	return nil, normalized, nil
}

func (s *Store) resolveByAlias(aliasKey string) (*Location, error) {
	var alias LocationAlias
	err := s.db.Where("alias = ?", aliasKey).First(&alias).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var loc Location
	if err := s.db.First(&loc, alias.LocationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// stale alias (location deleted by admin); ignore it
			return nil, nil
		}
		return nil, err
	}
	return &loc, nil
}

func (s *Store) locationByName(name string) (*Location, error) {
	if name == "" {
		return nil, nil
	}
	var loc Location
	err := s.db.Where("lower(name) = ?", strings.ToLower(name)).First(&loc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

func (s *Store) resolveByNormalizedName(aliasKey, normalized string) (*Location, error) {
	if normalized == "" || strings.EqualFold(normalized, aliasKey) {
		return nil, nil
	}
	loc, err := s.locationByName(normalized)
	if err != nil || loc == nil {
		return loc, err
	}
	if err := s.createAlias(aliasKey, loc.ID); err != nil {
		return nil, err
	}
	return loc, nil
}

func (s *Store) resolveByFuzzyCity(aliasKey, normalized string) (*Location, error) {
	city := normalized
	if i := strings.Index(city, ","); i >= 0 {
		city = city[:i]
	}
	city = strings.ToLower(strings.TrimSpace(city))
	if len(city) < 3 {
		return nil, nil
	}

	var locs []Location
	if err := s.db.Find(&locs).Error; err != nil {
		return nil, err
	}
	for i := range locs {
		if containsEitherWay(city, strings.ToLower(locs[i].City)) ||
			containsEitherWay(city, strings.ToLower(locs[i].Name)) {
			if err := s.createAlias(aliasKey, locs[i].ID); err != nil {
				return nil, err
			}
			return &locs[i], nil
		}
	}
	return nil, nil
}

func containsEitherWay(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// createAlias records a learned alias. A uniqueness violation means another
// run already learned it, which is fine.
func (s *Store) createAlias(aliasKey string, locationID uint) error {
	alias := LocationAlias{Alias: aliasKey, LocationID: locationID}
	if err := s.db.Create(&alias).Error; err != nil {
		var existing LocationAlias
		if ferr := s.db.Where("alias = ?", aliasKey).First(&existing).Error; ferr == nil {
			return nil
		}
		return err
	}
	return nil
}
