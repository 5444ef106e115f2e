package eligibility

// Nationalities whose citizens travel visa-free to the Schengen Area and
// therefore need ETIAS authorization. Matching is exact and case-sensitive.
var eligibleNationalities = []string{
	"Albania", "Andorra", "Antigua and Barbuda", "Argentina", "Australia",
	"Bahamas", "Barbados", "Bosnia and Herzegovina", "Brazil", "Brunei",
	"Canada", "Chile", "Colombia", "Costa Rica", "Dominica",
	"El Salvador", "Georgia", "Grenada", "Guatemala", "Honduras",
	"Hong Kong", "Israel", "Japan", "Kiribati", "Macao",
	"Malaysia", "Marshall Islands", "Mauritius", "Mexico", "Micronesia",
	"Moldova", "Monaco", "Montenegro", "New Zealand", "Nicaragua",
	"North Macedonia", "Palau", "Panama", "Paraguay", "Peru",
	"Saint Kitts and Nevis", "Saint Lucia", "Saint Vincent and the Grenadines", "Samoa", "San Marino",
	"Serbia", "Seychelles", "Singapore", "Solomon Islands", "South Korea",
	"Taiwan", "Timor-Leste", "Tonga", "Trinidad and Tobago", "Tuvalu",
	"Ukraine", "United Arab Emirates", "United Kingdom", "United States", "Uruguay",
	"Vanuatu", "Vatican City", "Venezuela",
}

var schengenCountries = []string{
	"Austria", "Belgium", "Bulgaria", "Croatia", "Cyprus", "Czech Republic",
	"Denmark", "Estonia", "Finland", "France", "Germany",
	"Greece", "Hungary", "Iceland", "Italy", "Latvia",
	"Liechtenstein", "Lithuania", "Luxembourg", "Malta", "Netherlands",
	"Norway", "Poland", "Portugal", "Romania", "Slovakia",
	"Slovenia", "Spain", "Sweden", "Switzerland",
}

// Purpose is the declared reason for travel.
type Purpose string

const (
	PurposeTourism    Purpose = "tourism"
	PurposeBusiness   Purpose = "business"
	PurposeTransit    Purpose = "transit"
	PurposeMedical    Purpose = "medical"
	PurposeStudyShort Purpose = "study_short"
	PurposeOther      Purpose = "other"
)

var purposes = []Purpose{
	PurposeTourism, PurposeBusiness, PurposeTransit, PurposeMedical, PurposeStudyShort, PurposeOther,
}

var (
	eligibleSet = toSet(eligibleNationalities)
	schengenSet = toSet(schengenCountries)
)

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		set[s] = struct{}{}
	}
	return set
}

// EligibleNationalities returns a copy of the eligible nationality list.
func EligibleNationalities() []string {
	return append([]string(nil), eligibleNationalities...)
}

// SchengenCountries returns a copy of the destination country list.
func SchengenCountries() []string {
	return append([]string(nil), schengenCountries...)
}

// Purposes returns the accepted travel purposes.
func Purposes() []Purpose {
	return append([]Purpose(nil), purposes...)
}

// IsEligibleNationality reports exact membership in the eligible list.
func IsEligibleNationality(nationality string) bool {
	_, ok := eligibleSet[nationality]
	return ok
}

// IsSchengenCountry reports exact membership in the destination list.
func IsSchengenCountry(country string) bool {
	_, ok := schengenSet[country]
	return ok
}

// ValidPurpose reports whether p is one of the accepted purposes.
func ValidPurpose(p string) bool {
	for _, known := range purposes {
		if string(known) == p {
			return true
		}
	}
	return false
}
