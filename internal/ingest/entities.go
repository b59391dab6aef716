package ingest

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"pkb/internal/entityid"
	"pkb/internal/graphstore"
)

// ingestEmail upserts the Email side-facet, attaches it to its Document, and
// links sender/recipients as Person entities with SENT_BY/RECEIVED_BY edges.
func (p *Processor) ingestEmail(ctx context.Context, doc Document, email EmailInput, logger *zerolog.Logger) {
	bundle := graphstore.Bundle{
		Nodes: []graphstore.Node{{
			ID: email.MessageID, Labels: []string{"Email"},
			Props: map[string]any{
				"thread_id": email.ThreadID, "subject": email.Subject, "sent_at": email.SentAt,
				"sender": email.Sender, "recipients": email.Recipients,
				"cc_list": email.CCList, "bcc_list": email.BCCList, "snippet": email.Snippet,
			},
		}},
		Edges: []graphstore.Edge{{Source: email.MessageID, Rel: "ATTACHMENT", Target: doc.DocID}},
	}

	addresses := append([]string{email.Sender}, email.Recipients...)
	for _, address := range addresses {
		if address == "" {
			continue
		}
		personID := entityid.ForLower(entityid.KindPerson, address)
		bundle.Nodes = append(bundle.Nodes, graphstore.Node{
			ID: personID, Labels: []string{"Person"},
			Props: map[string]any{"full_name": displayName(address), "email_addresses": []string{address}},
		})
		rel := "RECEIVED_BY"
		if address == email.Sender {
			rel = "SENT_BY"
		}
		bundle.Edges = append(bundle.Edges, graphstore.Edge{Source: email.MessageID, Rel: rel, Target: personID})
	}

	if err := p.Graph.IngestBundle(ctx, bundle); err != nil {
		logger.Warn().Err(err).Str("message_id", email.MessageID).Msg("email ingest failed")
	}
}

// ingestImage upserts the Image side-facet and links it to the first image
// file in this payload via a DERIVED_FROM edge.
func (p *Processor) ingestImage(ctx context.Context, img ImageInput, fileNodes []graphstore.Node, logger *zerolog.Logger) {
	bundle := graphstore.Bundle{
		Nodes: []graphstore.Node{{
			ID: img.ImageID, Labels: []string{"Image"},
			Props: map[string]any{
				"capture_time_utc": img.CaptureTimeUTC, "capture_time_local": img.CaptureTimeLocal,
				"gps_coords": img.GPSCoords, "image_type": img.ImageType,
			},
		}},
	}
	for _, f := range fileNodes {
		if mt, _ := f.Props["mime_type"].(string); strings.HasPrefix(mt, "image/") {
			bundle.Edges = append(bundle.Edges, graphstore.Edge{Source: img.ImageID, Rel: "DERIVED_FROM", Target: f.ID})
			break
		}
	}
	if err := p.Graph.IngestBundle(ctx, bundle); err != nil {
		logger.Warn().Err(err).Str("image_id", img.ImageID).Msg("image ingest failed")
	}
}

// ingestEntities upserts every extracted Person, Organization, Project,
// Place, and Event reference with its content-addressed ID.
func (p *Processor) ingestEntities(ctx context.Context, entities EntitiesInput, logger *zerolog.Logger) {
	var nodes []graphstore.Node

	for _, person := range entities.People {
		identifier, ok := person.asString("email")
		if !ok {
			continue
		}
		nodes = append(nodes, graphstore.Node{
			ID: entityid.ForLower(entityid.KindPerson, identifier), Labels: []string{"Person"},
			Props: map[string]any{"full_name": displayName(identifier), "email_addresses": []string{identifier}},
		})
	}

	for _, org := range entities.Organizations {
		name, ok := org.asString("name")
		if !ok {
			continue
		}
		nodes = append(nodes, graphstore.Node{
			ID: entityid.ForLower(entityid.KindOrganization, name), Labels: []string{"Organization"},
			Props: map[string]any{"org_name": name},
		})
	}

	for _, project := range entities.Projects {
		name, ok := project.asString("name")
		if !ok {
			continue
		}
		var tags any
		if obj := project.object(); obj != nil {
			tags = obj["tags"]
		}
		nodes = append(nodes, graphstore.Node{
			ID: entityid.ForLower(entityid.KindProject, name), Labels: []string{"Project"},
			Props: map[string]any{"project_name": name, "tags": tags},
		})
	}

	for _, place := range entities.Places {
		name, ok := place.asString("name")
		if !ok {
			continue
		}
		var geo any
		if obj := place.object(); obj != nil {
			geo = obj["geo_coordinates"]
		}
		nodes = append(nodes, graphstore.Node{
			ID: entityid.ForLower(entityid.KindPlace, name), Labels: []string{"Place"},
			Props: map[string]any{"place_name": name, "geo_coordinates": geo},
		})
	}

	for _, event := range entities.Events {
		obj := event.object()
		if obj == nil {
			continue
		}
		title, _ := obj["title"].(string)
		eventID, _ := obj["event_id"].(string)
		if eventID == "" {
			eventID = entityid.For(entityid.KindEvent, title)
		}
		props := map[string]any{}
		for k, v := range obj {
			props[k] = v
		}
		props["event_id"] = eventID
		nodes = append(nodes, graphstore.Node{ID: eventID, Labels: []string{"Event"}, Props: props})
	}

	if len(nodes) == 0 {
		return
	}
	if err := p.Graph.IngestBundle(ctx, graphstore.Bundle{Nodes: nodes}); err != nil {
		logger.Warn().Err(err).Msg("entity ingest failed")
	}
}

func displayName(address string) string {
	return strings.SplitN(address, "@", 2)[0]
}
