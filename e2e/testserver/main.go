// Command testserver runs the fake OIDC provider, registry and CRM for
// trying bsnlink locally:
//
//	go run ./e2e/testserver -port 8083
//
// and point the configuration at http://localhost:8083/oidc, /brp and /tribe.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/ideamans/bsnlink/e2e/upstream"
	"github.com/ideamans/bsnlink/pkg/gate/brp"
	"github.com/ideamans/bsnlink/pkg/shared/logging"
)

func main() {
	port := flag.Int("port", 8083, "Port to listen on")
	clientID := flag.String("client-id", "bsnlink", "Accepted OIDC client id")
	secret := flag.String("client-secret", "s3cret", "Accepted OIDC client secret")
	lifetime := flag.Duration("token-lifetime", 5*time.Minute, "Access token lifetime")
	flag.Parse()

	logger := logging.NewLogger("testserver", logging.LevelInfo, true)

	fake := upstream.New(upstream.Options{
		ClientID:      *clientID,
		ClientSecret:  *secret,
		TokenLifetime: *lifetime,
		Persons: map[string]*brp.Person{
			"999993653": {Persoon: &brp.Persoon{
				BSN: "999993653",
				Persoonsgegevens: brp.Persoonsgegevens{
					Voornamen: "Suzanne", Voorvoegsel: "van", Achternaam: "Dijk",
					Naam: "S. van Dijk", Geboortedatum: "21-03-1980",
				},
				Adres: brp.Adres{
					Straat: "Korte Nieuwstraat", Huisnummer: "6a", Postcode: "6511PP",
					Woonplaats: "Nijmegen", Gemeente: "Nijmegen",
				},
			}},
			"111222333": {Persoon: &brp.Persoon{
				BSN:              "111222333",
				Persoonsgegevens: brp.Persoonsgegevens{Voornamen: "Jan", Achternaam: "Jansen", Naam: "J. Jansen", Geboortedatum: "01-01-1970"},
				Adres:            brp.Adres{Straat: "Stationsplein", Huisnummer: "1", Postcode: "1012AB", Woonplaats: "Amsterdam", Gemeente: "Amsterdam"},
			}},
		},
	})

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("Test upstream server starting", "addr", addr, "client_id", *clientID)
	if err := http.ListenAndServe(addr, fake); err != nil {
		logger.Fatal("Test upstream server stopped", "error", err)
	}
}
