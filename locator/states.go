package locator

import "strings"

var stateNames = map[string]string{
	"alabama":              "AL",
	"alaska":               "AK",
	"arizona":              "AZ",
	"arkansas":             "AR",
	"california":           "CA",
	"colorado":             "CO",
	"connecticut":          "CT",
	"delaware":             "DE",
	"district of columbia": "DC",
	"florida":              "FL",
	"georgia":              "GA",
	"hawaii":               "HI",
	"idaho":                "ID",
	"illinois":             "IL",
	"indiana":              "IN",
	"iowa":                 "IA",
	"kansas":               "KS",
	"kentucky":             "KY",
	"louisiana":            "LA",
	"maine":                "ME",
	"maryland":             "MD",
	"massachusetts":        "MA",
	"michigan":             "MI",
	"minnesota":            "MN",
	"mississippi":          "MS",
	"missouri":             "MO",
	"montana":              "MT",
	"nebraska":             "NE",
	"nevada":               "NV",
	"new hampshire":        "NH",
	"new jersey":           "NJ",
	"new mexico":           "NM",
	"new york":             "NY",
	"north carolina":       "NC",
	"north dakota":         "ND",
	"ohio":                 "OH",
	"oklahoma":             "OK",
	"oregon":               "OR",
	"pennsylvania":         "PA",
	"rhode island":         "RI",
	"south carolina":       "SC",
	"south dakota":         "SD",
	"tennessee":            "TN",
	"texas":                "TX",
	"utah":                 "UT",
	"vermont":              "VT",
	"virginia":             "VA",
	"washington":           "WA",
	"west virginia":        "WV",
	"wisconsin":            "WI",
	"wyoming":              "WY",
}

var stateCodes = func() map[string]struct{} {
	out := make(map[string]struct{}, len(stateNames))
	for _, code := range stateNames {
		out[code] = struct{}{}
	}
	return out
}()

// StateCode maps a free-text state token ("FL", "fl", "Florida") to its
// 2-letter code. ok is false for anything that is not a US state.
func StateCode(token string) (string, bool) {
	t := strings.TrimSpace(token)
	if len(t) == 2 {
		up := strings.ToUpper(t)
		if _, ok := stateCodes[up]; ok {
			return up, true
		}
		return "", false
	}
	if code, ok := stateNames[strings.ToLower(t)]; ok {
		return code, true
	}
	return "", false
}
