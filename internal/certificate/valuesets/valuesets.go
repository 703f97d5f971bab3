// Package valuesets resolves the coded values of a health certificate to display
// labels. Unknown codes render as "Unknown (<code>)".
package valuesets

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

var diseases = map[string]string{
	"840539006": "COVID-19",
}

var prophylaxis = map[string]string{
	"1119349007": "SARS-CoV-2 mRNA vaccine",
	"1119305005": "SARS-CoV-2 antigen vaccine",
	"J07BX03":    "COVID-19 vaccines",
}

var products = map[string]string{
	"EU/1/20/1528":                     "Comirnaty",
	"EU/1/20/1507":                     "COVID-19 Vaccine Moderna",
	"EU/1/21/1529":                     "Vaxzevria",
	"EU/1/20/1525":                     "COVID-19 Vaccine Janssen",
	"CVnCoV":                           "CVnCoV",
	"Sputnik-V":                        "Sputnik-V",
	"Convidecia":                       "Convidecia",
	"EpiVacCorona":                     "EpiVacCorona",
	"BBIBP-CorV":                       "BBIBP-CorV",
	"Inactivated-SARS-CoV-2-Vero-Cell": "Inactivated SARS-CoV-2 (Vero Cell)",
	"CoronaVac":                        "CoronaVac",
	"Covaxin":                          "Covaxin (also known as BBV152 A, B, C)",
}

var manufacturers = map[string]string{
	"ORG-100001699":               "AstraZeneca AB",
	"ORG-100030215":               "Biontech Manufacturing GmbH",
	"ORG-100001417":               "Janssen-Cilag International",
	"ORG-100031184":               "Moderna Biotech Spain S.L.",
	"ORG-100006270":               "Curevac AG",
	"ORG-100013793":               "CanSino Biologics",
	"ORG-100020693":               "China Sinopharm International Corp. - Beijing location",
	"ORG-100010771":               "Sinopharm Weiqida Europe Pharmaceutical s.r.o. - Prague location",
	"ORG-100024420":               "Sinopharm Zhijun (Shenzhen) Pharmaceutical Co. Ltd. - Shenzhen location",
	"ORG-100032020":               "Novavax CZ AS",
	"Gamaleya-Research-Institute": "Gamaleya Research Institute",
	"Vector-Institute":            "Vector Institute",
	"Sinovac-Biotech":             "Sinovac Biotech",
	"Bharat-Biotech":              "Bharat Biotech",
}

var testResults = map[string]string{
	"260415000": "Negative",
	"260373001": "Positive",
}

var testTypes = map[string]string{
	"LP6464-4":   "Nucleic acid amplification with probe detection",
	"LP217198-3": "Rapid immunoassay",
}

func lookup(table map[string]string, code string) string {
	if label, ok := table[code]; ok {
		return label
	}
	return "Unknown (" + code + ")"
}

func Disease(code string) string      { return lookup(diseases, code) }
func Prophylaxis(code string) string  { return lookup(prophylaxis, code) }
func Product(code string) string      { return lookup(products, code) }
func Manufacturer(code string) string { return lookup(manufacturers, code) }
func TestResult(code string) string   { return lookup(testResults, code) }
func TestType(code string) string     { return lookup(testTypes, code) }

var regionNamer = display.English.Regions()

// Country returns the English name of an ISO 3166-1 alpha-2 country code.
func Country(code string) string {
	region, err := language.ParseRegion(strings.TrimSpace(code))
	if err != nil || !region.IsCountry() {
		return lookup(nil, code)
	}
	if name := regionNamer.Name(region); name != "" {
		return name
	}
	return lookup(nil, code)
}
