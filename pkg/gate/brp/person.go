package brp

import (
	"regexp"
	"strconv"
)

// Person is the registry response.
type Person struct {
	Persoon *Persoon `json:"Persoon"`
}

// Persoon holds the person data of a registry response.
type Persoon struct {
	BSN              string           `json:"BSN,omitempty"`
	Persoonsgegevens Persoonsgegevens `json:"Persoonsgegevens"`
	Adres            Adres            `json:"Adres"`
}

// Persoonsgegevens are the personal details.
type Persoonsgegevens struct {
	Voornamen   string `json:"Voornamen"`
	Voorvoegsel string `json:"Voorvoegsel"`
	Achternaam  string `json:"Achternaam"`
	Naam        string `json:"Naam"`

	// Geboortedatum is formatted dd-mm-yyyy.
	Geboortedatum string `json:"Geboortedatum"`
}

// Adres is the registered address.
type Adres struct {
	Straat     string `json:"Straat"`
	Huisnummer string `json:"Huisnummer"`
	Postcode   string `json:"Postcode"`
	Woonplaats string `json:"Woonplaats"`
	Gemeente   string `json:"Gemeente"`
}

var houseNumber = regexp.MustCompile(`^(\d{1,5})(.*)`)

// HouseNumber splits Huisnummer into its leading number (1 to 5 digits)
// and the rest. A value without a leading number, such as "bij 12",
// yields 0 and the whole value as suffix.
func (a Adres) HouseNumber() (int, string) {
	m := houseNumber.FindStringSubmatch(a.Huisnummer)
	if m == nil {
		return 0, a.Huisnummer
	}
	n, _ := strconv.Atoi(m[1])
	return n, m[2]
}

// InMunicipality reports whether the address lies in the named municipality.
func (a Adres) InMunicipality(name string) bool {
	return a.Gemeente == name
}
