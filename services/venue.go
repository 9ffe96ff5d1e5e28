package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"ice-telegram/models"
	"ice-telegram/sheet"
)

const (
	venueColID = iota
	venueColName
	venueColAddress
	venueColPrice
	venueCols
)

// VenueHeader is row 1 of the venues table.
var VenueHeader = []string{"ID", "Название", "Адрес", "Цена за кг"}

// VenueDirectory reads and writes the venues table. There is no cache: every
// Get is a fresh read so manual price edits in the sheet apply immediately.
type VenueDirectory struct {
	table sheet.Table
}

func NewVenueDirectory(table sheet.Table) *VenueDirectory {
	return &VenueDirectory{table: table}
}

func (d *VenueDirectory) Create(ctx context.Context, v models.Venue) error {
	if strings.TrimSpace(v.ID) == "" {
		return fmt.Errorf("create venue: empty id")
	}
	return storeErr("create venue", d.table.Append(ctx, venueRow(v)))
}

// Get returns ErrVenueNotFound when no row carries the id.
func (d *VenueDirectory) Get(ctx context.Context, id string) (*models.Venue, error) {
	v, _, err := d.find(ctx, id)
	return v, err
}

// Update rewrites the venue's row in place.
func (d *VenueDirectory) Update(ctx context.Context, v models.Venue) error {
	_, rowNum, err := d.find(ctx, v.ID)
	if err != nil {
		return err
	}
	return storeErr("update venue", d.table.UpdateRow(ctx, rowNum, venueRow(v)))
}

// All returns every venue keyed by id; rollover uses it to avoid one read per order.
func (d *VenueDirectory) All(ctx context.Context) (map[string]*models.Venue, error) {
	rows, err := d.table.Rows(ctx)
	if err != nil {
		return nil, storeErr("read venues", err)
	}
	out := make(map[string]*models.Venue, len(rows))
	for _, r := range rows {
		v, err := parseVenue(r)
		if err != nil {
			continue
		}
		if _, dup := out[v.ID]; !dup {
			out[v.ID] = v
		}
	}
	return out, nil
}

func (d *VenueDirectory) find(ctx context.Context, id string) (*models.Venue, int, error) {
	rows, err := d.table.Rows(ctx)
	if err != nil {
		return nil, 0, storeErr("read venues", err)
	}
	for _, r := range rows {
		if strings.TrimSpace(r.Cell(venueColID)) != id {
			continue
		}
		v, err := parseVenue(r)
		if err != nil {
			return nil, 0, err
		}
		return v, r.Num, nil
	}
	return nil, 0, ErrVenueNotFound
}

func venueRow(v models.Venue) []string {
	row := make([]string, venueCols)
	row[venueColID] = v.ID
	row[venueColName] = v.Name
	row[venueColAddress] = v.Address
	row[venueColPrice] = v.UnitPrice.String()
	return row
}

func parseVenue(r sheet.Row) (*models.Venue, error) {
	id := strings.TrimSpace(r.Cell(venueColID))
	if id == "" {
		return nil, fmt.Errorf("venues row %d: empty id", r.Num)
	}
	price, err := parsePrice(r.Cell(venueColPrice))
	if err != nil {
		return nil, fmt.Errorf("venues row %d: price: %w", r.Num, err)
	}
	return &models.Venue{
		ID:        id,
		Name:      r.Cell(venueColName),
		Address:   r.Cell(venueColAddress),
		UnitPrice: price,
	}, nil
}

// parsePrice accepts what operators type into a sheet: "150", "150,5", " 1 500 ".
func parsePrice(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
