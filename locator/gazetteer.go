package locator

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

const (
	AuctionTypeCopart = "copart"
	AuctionTypeIAAI   = "iaai"
	AuctionTypeOther  = "other"
)

// AuctionSite is one flattened yard from a reference dataset.
type AuctionSite struct {
	State         string
	City          string
	Address       string
	Zip           string
	FormattedName string
	AuctionType   string
}

// AuctionLocationResult is what MatchAddress hands back to callers; Strategy
// names the tier that produced the hit, for logging only.
type AuctionLocationResult struct {
	Site     AuctionSite
	Strategy string
}

// gazetteerState is the on-disk dataset shape: a list of states each holding
// its yards.
type gazetteerState struct {
	State     string `json:"state"`
	Locations []struct {
		Name    string `json:"name"`
		City    string `json:"city"`
		Address string `json:"address"`
		Zip     string `json:"zip"`
	} `json:"locations"`
}

// Gazetteer holds both operators' yards flattened into one ordered list,
// copart before iaai: copart is the fixed priority when both could match.
type Gazetteer struct {
	sites []AuctionSite
}

func NewGazetteer(copart, iaai []AuctionSite) *Gazetteer {
	sites := make([]AuctionSite, 0, len(copart)+len(iaai))
	for _, s := range copart {
		s.AuctionType = AuctionTypeCopart
		sites = append(sites, s)
	}
	for _, s := range iaai {
		s.AuctionType = AuctionTypeIAAI
		sites = append(sites, s)
	}
	return &Gazetteer{sites: sites}
}

// LoadGazetteer reads and flattens both dataset files. Either path may be
// empty; an empty gazetteer simply never matches.
func LoadGazetteer(copartPath, iaaiPath string) (*Gazetteer, error) {
	copart, err := loadDataset(copartPath)
	if err != nil {
		return nil, fmt.Errorf("load copart dataset: %w", err)
	}
	iaai, err := loadDataset(iaaiPath)
	if err != nil {
		return nil, fmt.Errorf("load iaai dataset: %w", err)
	}
	return NewGazetteer(copart, iaai), nil
}

func loadDataset(path string) ([]AuctionSite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var states []gazetteerState
	if err := json.Unmarshal(b, &states); err != nil {
		return nil, err
	}
	var out []AuctionSite
	for _, st := range states {
		code, ok := StateCode(st.State)
		if !ok {
			code = strings.ToUpper(strings.TrimSpace(st.State))
		}
		for _, l := range st.Locations {
			out = append(out, AuctionSite{
				State:         code,
				City:          strings.TrimSpace(l.City),
				Address:       strings.TrimSpace(l.Address),
				Zip:           strings.TrimSpace(l.Zip),
				FormattedName: strings.TrimSpace(l.Name),
			})
		}
	}
	return out, nil
}

func (g *Gazetteer) Len() int {
	if g == nil {
		return 0
	}
	return len(g.sites)
}

// ParsedAddress is the regex decomposition of a free-text address.
type ParsedAddress struct {
	Zip   string
	State string
	City  string
}

var (
	addrZipRe        = regexp.MustCompile(`\b(\d{5})(?:-\d{4})?\b`)
	addrStateTokenRe = regexp.MustCompile(`\b[A-Z]{2}\b`)
	addrWordRe       = regexp.MustCompile(`[A-Za-z0-9]+`)
)

// ParseAddress pulls {zip, state, city} candidates out of a raw address:
// last 5-digit run as zip (street numbers come first), last standalone
// 2-letter uppercase token as state, and up to 3 tokens preceding the state
// token as city.
func ParseAddress(addr string) ParsedAddress {
	var p ParsedAddress
	if ms := addrZipRe.FindAllStringSubmatch(addr, -1); len(ms) > 0 {
		p.Zip = ms[len(ms)-1][1]
	}

	stateLocs := addrStateTokenRe.FindAllStringIndex(addr, -1)
	if len(stateLocs) == 0 {
		return p
	}
	last := stateLocs[len(stateLocs)-1]
	p.State = addr[last[0]:last[1]]

	before := addr[:last[0]]
	words := addrWordRe.FindAllString(before, -1)
	// drop trailing numeric runs (street numbers, zips) from the city window
	for len(words) > 0 && isNumericWord(words[len(words)-1]) {
		words = words[:len(words)-1]
	}
	if len(words) > 3 {
		words = words[len(words)-3:]
	}
	p.City = strings.Join(words, " ")
	return p
}

type matchStrategy struct {
	name string
	fn   func(p ParsedAddress, addrLower string, site AuctionSite) bool
}

// The five tiers run strictly in order, each sweeping the full copart-then-
// iaai site list before the next tier is tried, so a zip hit always beats a
// city-text hit. Tiers 4 and 5 carry the state-must-match guard: when the
// address parsed to a state, a candidate in a different state is rejected
// even if its city name appears in the text. Dropping that guard brings back
// cross-state false positives from common city names.
var matchStrategies = []matchStrategy{
	{"zip", func(p ParsedAddress, addrLower string, site AuctionSite) bool {
		return p.Zip != "" && p.Zip == site.Zip
	}},
	{"state-city", func(p ParsedAddress, addrLower string, site AuctionSite) bool {
		if p.State == "" || p.City == "" || site.City == "" {
			return false
		}
		if !strings.EqualFold(p.State, site.State) {
			return false
		}
		return containsEitherWay(strings.ToLower(p.City), strings.ToLower(site.City))
	}},
	{"state-address-city", func(p ParsedAddress, addrLower string, site AuctionSite) bool {
		if p.State == "" || site.City == "" {
			return false
		}
		if !strings.EqualFold(p.State, site.State) {
			return false
		}
		return strings.Contains(addrLower, strings.ToLower(site.City))
	}},
	{"city-in-address", func(p ParsedAddress, addrLower string, site AuctionSite) bool {
		if len(site.City) <= 3 {
			return false
		}
		if !strings.Contains(addrLower, strings.ToLower(site.City)) {
			return false
		}
		return stateGuard(p, site)
	}},
	{"token-overlap", func(p ParsedAddress, addrLower string, site AuctionSite) bool {
		if site.Address == "" {
			return false
		}
		if !stateGuard(p, site) {
			return false
		}
		return tokenOverlap(addrLower, strings.ToLower(site.Address)) >= 2
	}},
}

// stateGuard: if the address parsed to a state it must equal the candidate's.
func stateGuard(p ParsedAddress, site AuctionSite) bool {
	return p.State == "" || strings.EqualFold(p.State, site.State)
}

// streetStopwords are street-type and direction words that carry no identity
// signal for the token-overlap tier.
var streetStopwords = map[string]struct{}{
	"road": {}, "street": {}, "avenue": {}, "drive": {}, "boulevard": {},
	"lane": {}, "court": {}, "circle": {}, "highway": {}, "parkway": {},
	"suite": {}, "north": {}, "south": {}, "east": {}, "west": {},
}

func isNumericWord(w string) bool {
	for _, r := range w {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(w) > 0
}

func significantWords(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range addrWordRe.FindAllString(s, -1) {
		if len(w) <= 3 || isNumericWord(w) {
			continue
		}
		if _, stop := streetStopwords[w]; stop {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

func tokenOverlap(a, b string) int {
	wa := significantWords(a)
	wb := significantWords(b)
	n := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			n++
		}
	}
	return n
}

// MatchAddress runs the ranked strategies against the flattened site list and
// returns the first hit, or nil when nothing matched. A nil result is a
// normal outcome, not an error.
func (g *Gazetteer) MatchAddress(fullAddress string) *AuctionLocationResult {
	if g == nil || len(g.sites) == 0 {
		return nil
	}
	addr := strings.TrimSpace(fullAddress)
	if addr == "" {
		return nil
	}
	p := ParseAddress(addr)
	addrLower := strings.ToLower(addr)

	for _, strat := range matchStrategies {
		for i := range g.sites {
			if strat.fn(p, addrLower, g.sites[i]) {
				return &AuctionLocationResult{Site: g.sites[i], Strategy: strat.name}
			}
		}
	}
	return nil
}
