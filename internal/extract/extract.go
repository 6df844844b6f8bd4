// Package extract reads the venue map and the ticket listings out of a ready
// event page.
package extract

import (
	"context"
	"fmt"
	"strings"
	"ticketwatch/internal/browser"
	"ticketwatch/internal/components/chrono"
	"ticketwatch/internal/components/telemetry"
	"ticketwatch/internal/models"
	"ticketwatch/lib/htmlutil"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("internal/extract")

type Selectors struct {
	// StadiumMap is tried in order, the first candidate present wins.
	StadiumMap []string
	// Section matches every section of the venue map.
	Section string

	// Listing matches a single ticket listing, the rest are looked up inside it.
	Listing           string
	ListingSectionRow string
	ListingSection    string
	ListingRow        string
	ListingPrice      string
	ListingType       string
}

func DefaultSelectors() Selectors {
	return Selectors{
		StadiumMap: []string{
			`[data-testid="venue-map"] svg`,
			`svg[data-component="svg"]`,
			`#map-container svg`,
			`.seatmap svg`,
			`svg.map`,
		},
		Section: `[data-section-id], [data-section-name], path[id^="section"], g[id^="section"], .section`,

		Listing:           `[data-testid="listing"], [data-bdd="quick-picks-list-item"], .ticket-listing`,
		ListingSectionRow: `[data-testid="section-row"], .section-row`,
		ListingSection:    `[data-testid="section"], .section-name`,
		ListingRow:        `[data-testid="row"], .row-name`,
		ListingPrice:      `[data-testid="price"], .quick-picks__price, .price`,
		ListingType:       `[data-testid="ticket-type"], .offer-type, .ticket-type`,
	}
}

type Options struct {
	// ProbeTimeout bounds the wait for a single stadium map candidate.
	ProbeTimeout time.Duration
	// StadiumAttempts is how many times the stadium map is looked for.
	StadiumAttempts int
	// StadiumRetryPause is the pause between two stadium attempts.
	StadiumRetryPause time.Duration
	Selectors         Selectors
}

func DefaultOptions() Options {
	return Options{
		ProbeTimeout:      1500 * time.Millisecond,
		StadiumAttempts:   3,
		StadiumRetryPause: 2 * time.Second,
		Selectors:         DefaultSelectors(),
	}
}

type Extractor struct {
	opts  Options
	clock chrono.TimeAPI
	tel   telemetry.API
}

func NewExtractor(opts Options, clock chrono.TimeAPI, tel telemetry.API) Extractor {
	if opts.StadiumAttempts <= 0 {
		opts.StadiumAttempts = 1
	}
	return Extractor{
		opts:  opts,
		clock: clock,
		tel:   telemetry.NewScopedAPI("extract", tel),
	}
}

func document(ctx context.Context, page browser.Page) (*goquery.Document, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read page html: %w", err)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// Stadium returns the venue layout, or nil when no map is on the page yet.
func (e Extractor) Stadium(ctx context.Context, page browser.Page) (*models.StadiumLayout, error) {
	ctx, span := tracer.Start(ctx, "Stadium")
	defer span.End()

	for attempt := 1; attempt <= e.opts.StadiumAttempts; attempt++ {
		layout, err := e.stadiumOnce(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "stadium extraction interrupted")
				return nil, ctx.Err()
			}
			e.tel.ReportWarning("extractor.stadium", err, attempt)
		}
		if layout != nil {
			span.SetAttributes(
				attribute.Int("attempts", attempt),
				attribute.Int("sections", len(layout.LayoutData)),
			)
			return layout, nil
		}
		if attempt < e.opts.StadiumAttempts {
			err = chrono.Sleep(ctx, e.opts.StadiumRetryPause)
			if err != nil {
				return nil, err
			}
		}
	}

	e.tel.ReportDebug("no stadium map found")
	return nil, nil
}

func (e Extractor) stadiumOnce(ctx context.Context, page browser.Page) (*models.StadiumLayout, error) {
	for _, candidate := range e.opts.Selectors.StadiumMap {
		found, err := page.Exists(ctx, candidate, e.opts.ProbeTimeout)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}

		doc, err := document(ctx, page)
		if err != nil {
			return nil, err
		}
		mapSel := doc.Find(candidate).First()
		if mapSel.Length() == 0 {
			// the map went away between the probe and the read
			continue
		}
		return ParseStadium(doc, mapSel, e.opts.Selectors.Section)
	}
	return nil, nil
}

// ParseStadium builds a layout from the map element and every section found
// in doc.
func ParseStadium(doc *goquery.Document, mapSel *goquery.Selection, sectionSelector string) (*models.StadiumLayout, error) {
	layout := &models.StadiumLayout{
		LayoutData: []models.Section{},
	}

	markup, err := goquery.OuterHtml(mapSel)
	if err != nil {
		return nil, fmt.Errorf("serialize stadium map: %w", err)
	}
	layout.StadiumImage = &markup

	if sectionSelector == "" {
		return layout, nil
	}
	doc.Find(sectionSelector).Each(func(i int, sel *goquery.Selection) {
		layout.LayoutData = append(layout.LayoutData, parseSection(i, sel))
	})
	return layout, nil
}

func parseSection(index int, sel *goquery.Selection) models.Section {
	id, ok := htmlutil.FirstAttr(sel, "id", "data-section-id")
	if !ok {
		id = fmt.Sprintf("section-%d", index)
	}

	name, ok := htmlutil.FirstAttr(sel, "data-section-name", "aria-label", "title")
	if !ok {
		name = htmlutil.Text(sel)
	}
	if name == "" {
		name = id
	}

	section := models.Section{ID: id, Name: name}
	coords, ok := htmlutil.FirstAttr(sel, "d", "points", "coords", "transform")
	if ok {
		section.Coordinates = &coords
	}
	return section
}

// Tickets returns every listing on the page, an empty page yields an empty
// slice.
func (e Extractor) Tickets(ctx context.Context, page browser.Page) ([]models.TicketListing, error) {
	ctx, span := tracer.Start(ctx, "Tickets")
	defer span.End()

	doc, err := document(ctx, page)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read page")
		return nil, err
	}
	listings := ParseTickets(doc, e.opts.Selectors, e.clock.Now())
	span.SetAttributes(attribute.Int("listings", len(listings)))
	return listings, nil
}

// ParseTickets maps every listing element in doc to a TicketListing. Missing
// fields are left empty.
func ParseTickets(doc *goquery.Document, selectors Selectors, at time.Time) []models.TicketListing {
	listings := []models.TicketListing{}
	if selectors.Listing == "" {
		return listings
	}

	doc.Find(selectors.Listing).Each(func(_ int, sel *goquery.Selection) {
		listings = append(listings, models.TicketListing{
			SectionRow: sectionRow(sel, selectors),
			Price:      subText(sel, selectors.ListingPrice),
			Type:       subText(sel, selectors.ListingType),
			Timestamp:  at,
		})
	})
	return listings
}

func subText(sel *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return htmlutil.Text(sel.Find(selector).First())
}

func sectionRow(sel *goquery.Selection, selectors Selectors) string {
	joined := subText(sel, selectors.ListingSectionRow)
	if joined != "" {
		return joined
	}

	var parts []string
	for _, selector := range []string{selectors.ListingSection, selectors.ListingRow} {
		text := subText(sel, selector)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
