// Package i18n holds the user-facing texts of the gate in Dutch and English.
package i18n

import (
	"fmt"
	"net/http"
	"strings"
)

// Language represents a supported language
type Language string

const (
	// Dutch is the Dutch language
	Dutch Language = "nl"
	// English is the English language
	English Language = "en"
)

// DefaultLanguage is the fallback language
const DefaultLanguage = Dutch

// Translation maps message keys to texts.
type Translation map[string]string

// Translations holds all language translations
type Translations map[Language]Translation

// Translator looks up texts by language and key.
type Translator struct {
	translations Translations
}

// NewTranslator creates a translator with the built-in texts.
func NewTranslator() *Translator {
	return &Translator{translations: defaultTranslations}
}

// T translates key for lang, falling back to the default language and
// finally to the key itself.
func (t *Translator) T(lang Language, key string) string {
	if trans, ok := t.translations[lang]; ok {
		if text, ok := trans[key]; ok {
			return text
		}
	}
	if trans, ok := t.translations[DefaultLanguage]; ok {
		if text, ok := trans[key]; ok {
			return text
		}
	}
	return key
}

// Tf translates key and formats it with args.
func (t *Translator) Tf(lang Language, key string, args ...interface{}) string {
	return fmt.Sprintf(t.T(lang, key), args...)
}

// DetectLanguage picks the language from the lang query parameter, the lang
// cookie or the Accept-Language header, in that order.
func DetectLanguage(r *http.Request) Language {
	if lang := r.URL.Query().Get("lang"); lang != "" {
		return normalizeLanguage(lang)
	}

	if cookie, err := r.Cookie("lang"); err == nil {
		return normalizeLanguage(cookie.Value)
	}

	if accept := r.Header.Get("Accept-Language"); accept != "" {
		first := strings.TrimSpace(strings.Split(strings.Split(accept, ",")[0], ";")[0])
		return normalizeLanguage(first)
	}

	return DefaultLanguage
}

func normalizeLanguage(lang string) Language {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if len(lang) > 2 {
		lang = lang[:2]
	}

	switch lang {
	case "en":
		return English
	default:
		return DefaultLanguage
	}
}

var defaultTranslations = Translations{
	Dutch: Translation{
		"service.name": "BSN koppelen",

		"home.title":        "Controleer BRP-gegevens",
		"home.intro":        "Vul het BSN in om de gegevens uit de BRP te controleren voordat u de inwoner aan het contactmoment koppelt.",
		"home.bsn.label":    "BSN",
		"home.bsn.submit":   "Controleer",
		"home.result":       "Gegevens uit de BRP",
		"home.name":         "Naam",
		"home.birthday":     "Geboortedatum",
		"home.postcode":     "Postcode",
		"home.huisnummer":   "Huisnummer",
		"home.nijmegen":     "Woont in Nijmegen",
		"home.not_nijmegen": "Let op: deze persoon woont niet in Nijmegen.",
		"home.yes":          "Ja",
		"home.no":           "Nee",
		"home.link":         "Koppel aan contactmoment",
		"home.copy":         "kopieer",
		"home.busy":         "Bezig…",

		"bsn.invalid":         "Geen geldig bsn opgegeven: %s",
		"bsn.reason.length":   "Een BSN bestaat uit 9 cijfers.",
		"bsn.reason.digits":   "Een BSN bevat alleen cijfers.",
		"bsn.reason.checksum": "Het BSN voldoet niet aan de elfproef.",

		"error.generic":          "Er is iets misgegaan, probeer het opnieuw.",
		"error.person_not_found": "Er konden geen persoonsgegevens opgehaald worden.",

		"logout.title":   "Uitgelogd",
		"logout.heading": "U bent uitgelogd",
		"logout.message": "U bent succesvol uitgelogd.",
		"logout.login":   "Opnieuw inloggen",

		"nav.logout": "Uitloggen",
	},

	English: Translation{
		"service.name": "Link BSN",

		"home.title":        "Check BRP data",
		"home.intro":        "Enter the BSN to check the registry data before linking the citizen to the contact moment.",
		"home.bsn.label":    "BSN",
		"home.bsn.submit":   "Check",
		"home.result":       "Registry data",
		"home.name":         "Name",
		"home.birthday":     "Date of birth",
		"home.postcode":     "Postcode",
		"home.huisnummer":   "House number",
		"home.nijmegen":     "Lives in Nijmegen",
		"home.not_nijmegen": "Note: this person does not live in Nijmegen.",
		"home.yes":          "Yes",
		"home.no":           "No",
		"home.link":         "Link to contact moment",
		"home.copy":         "copy",
		"home.busy":         "Working…",

		"bsn.invalid":         "No valid BSN provided: %s",
		"bsn.reason.length":   "A BSN consists of 9 digits.",
		"bsn.reason.digits":   "A BSN contains digits only.",
		"bsn.reason.checksum": "The BSN fails the eleven check.",

		"error.generic":          "Something went wrong, please try again.",
		"error.person_not_found": "No personal data could be retrieved.",

		"logout.title":   "Logged out",
		"logout.heading": "You have been logged out",
		"logout.message": "You have been logged out successfully.",
		"logout.login":   "Log in again",

		"nav.logout": "Log out",
	},
}
