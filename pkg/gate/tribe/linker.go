package tribe

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ideamans/bsnlink/pkg/gate/brp"
	"github.com/ideamans/bsnlink/pkg/shared/logging"
)

// Linker stores a registry person in the CRM and links it to a contact moment.
type Linker struct {
	client        *Client
	entityURLBase string
	logger        logging.Logger
}

// NewLinker creates a linker. entityURLBase is the prefix of CRM entity pages.
func NewLinker(client *Client, entityURLBase string, logger logging.Logger) *Linker {
	if !strings.HasSuffix(entityURLBase, "/") {
		entityURLBase += "/"
	}
	return &Linker{client: client, entityURLBase: entityURLBase, logger: logger.WithModule("linker")}
}

// Link creates or updates the person and address for bsn and attaches the
// inwoner to contactID. The first failing call aborts the link.
func (l *Linker) Link(ctx context.Context, accessToken string, bsn brp.BSN, person *brp.Person, contactID string) error {
	if person == nil || person.Persoon == nil {
		return brp.ErrPersonNotFound
	}
	api := l.client.API(accessToken)
	pg := person.Persoon.Persoonsgegevens

	inw, found, err := api.FindInwoner(ctx, bsn)
	if err != nil {
		return err
	}

	rel := PersonRelation{FirstName: pg.Voornamen, LastName: pg.Achternaam, MiddleName: pg.Voorvoegsel}
	if found {
		rel.ID = inw.RelationID
		if _, err := api.PostRelation(ctx, rel); err != nil {
			return err
		}
	} else {
		rel.BSN = bsn.String()
		relationID, err := api.PostRelation(ctx, rel)
		if err != nil {
			return err
		}
		inwonerID, err := api.PostInwoner(ctx, pg.Voornamen, relationID)
		if err != nil {
			return err
		}
		inw = Inwoner{ID: inwonerID, RelationID: relationID}
		l.logger.Info("Created inwoner", "inwoner", inwonerID)
	}

	adres := person.Persoon.Adres
	number, suffix := adres.HouseNumber()
	addr := Address{
		ID:                inw.AddressID,
		City:              adres.Woonplaats,
		HouseNumber:       number,
		HouseNumberSuffix: suffix,
		Postalcode:        adres.Postcode,
		Street:            adres.Straat,
	}
	if _, err := api.PostAddress(ctx, addr, inw.RelationID); err != nil {
		return err
	}

	if _, err := api.PostContactMomentRelationship(ctx, contactID, inw.ID); err != nil {
		return fmt.Errorf("tribe: failed to link contact moment %s: %w", contactID, err)
	}

	l.logger.Info("Linked inwoner to contact moment", "inwoner", inw.ID, "contact", contactID, "existing", found)
	return nil
}

// EntityURL is the CRM page of the contact moment.
func (l *Linker) EntityURL(contactID string) string {
	return l.entityURLBase + url.PathEscape(contactID)
}
