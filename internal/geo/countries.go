package geo

import (
	_ "embed"
	"encoding/csv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

//go:embed countries.csv
var countriesCSV string

type country struct {
	ISO2     string
	ISO3     string
	Name     string
	Timezone string
}

var (
	countryOnce   sync.Once
	countryByCode map[string]country
	codeByName    map[string]string
)

func loadCountries() {
	countryOnce.Do(func() {
		countryByCode = make(map[string]country)
		codeByName = make(map[string]string)

		rows, err := csv.NewReader(strings.NewReader(countriesCSV)).ReadAll()
		if err != nil {
			log.Error("geo: parse embedded country table", "error", err)
			return
		}
		for i, row := range rows {
			if i == 0 || len(row) < 4 {
				continue
			}
			c := country{
				ISO2:     strings.ToUpper(strings.TrimSpace(row[0])),
				ISO3:     strings.ToUpper(strings.TrimSpace(row[1])),
				Name:     strings.TrimSpace(row[2]),
				Timezone: strings.TrimSpace(row[3]),
			}
			countryByCode[c.ISO2] = c
			countryByCode[c.ISO3] = c
			codeByName[strings.ToLower(c.Name)] = c.ISO2
		}
	})
}

// ResolveCountry maps a raw country value (ISO2, ISO3 or English name) to
// an ISO2 code and display name. Unknown values yield an empty code and the
// trimmed input as the name.
func ResolveCountry(raw string) (code, name string) {
	loadCountries()
	trimmed := strings.TrimSpace(raw)
	upper := strings.ToUpper(trimmed)

	if c, ok := countryByCode[upper]; ok {
		return c.ISO2, c.Name
	}
	if iso2, ok := codeByName[strings.ToLower(trimmed)]; ok {
		return iso2, countryByCode[iso2].Name
	}
	return "", trimmed
}

// TimezoneFor returns the representative timezone of an ISO2 country code.
func TimezoneFor(code string) string {
	loadCountries()
	return countryByCode[strings.ToUpper(strings.TrimSpace(code))].Timezone
}
