package decode

import (
	"context"

	"github.com/cardog-ai/corgi/internal/catalog"
	"github.com/cardog-ai/corgi/internal/vin"
)

// wmiResolution is the outcome of the WMI stage: the chosen row plus its
// resolved names.
type wmiResolution struct {
	row          catalog.Wmi
	makeID       int64
	manufacturer string
	makeName     string
	country      string
	region       string
	vehicleType  string
}

// resolveWMI finds the applicable WMI row for a VIN. The 6-character
// low-volume extension (positions 1-3 + 12-14) is probed before the plain
// 3-character code. A nil resolution with nil error means no row matched.
func (d *Decoder) resolveWMI(ctx context.Context, v vin.VIN) (*wmiResolution, error) {
	rows, err := d.store.WMIByCode(ctx, v.ExtendedWMI())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		rows, err = d.store.WMIByCode(ctx, v.WMI())
		if err != nil {
			return nil, err
		}
	}
	if len(rows) == 0 {
		return nil, nil
	}

	row, err := d.chooseWMI(ctx, rows)
	if err != nil {
		return nil, err
	}

	w := &wmiResolution{row: row, makeID: row.MakeID}
	if w.makeID == 0 {
		// Fall back to the Wmi_Make join for rows without an inline make.
		makeIDs, err := d.store.WmiMakeIDs(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		if len(makeIDs) > 0 {
			w.makeID = makeIDs[0]
		}
	}

	w.manufacturer, _, err = d.store.LookupName(ctx, "Manufacturer", row.ManufacturerID)
	if err != nil {
		return nil, err
	}
	if w.makeID != 0 {
		w.makeName, _, err = d.store.LookupName(ctx, "Make", w.makeID)
		if err != nil {
			return nil, err
		}
	}
	w.country, _, err = d.store.LookupName(ctx, "Country", row.CountryID)
	if err != nil {
		return nil, err
	}
	w.region = regionForCountry(w.country)
	w.vehicleType, _, err = d.store.LookupName(ctx, "VehicleType", row.VehicleTypeID)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// chooseWMI applies the preference chain for codes shared across brands:
// rows with an inline make win over rows without one, then rows with an
// explicit Wmi_Make link, then the lowest id.
func (d *Decoder) chooseWMI(ctx context.Context, rows []catalog.Wmi) (catalog.Wmi, error) {
	best := rows[0]
	bestRank, err := d.wmiRank(ctx, best)
	if err != nil {
		return catalog.Wmi{}, err
	}
	for _, row := range rows[1:] {
		rank, err := d.wmiRank(ctx, row)
		if err != nil {
			return catalog.Wmi{}, err
		}
		if rank < bestRank || (rank == bestRank && row.ID < best.ID) {
			best, bestRank = row, rank
		}
	}
	return best, nil
}

func (d *Decoder) wmiRank(ctx context.Context, row catalog.Wmi) (int, error) {
	if row.MakeID != 0 {
		return 0, nil
	}
	makeIDs, err := d.store.WmiMakeIDs(ctx, row.ID)
	if err != nil {
		return 0, err
	}
	if len(makeIDs) > 0 {
		return 1, nil
	}
	return 2, nil
}

// countryRegions maps catalog country names to the coarse region shown in
// the WMI component.
var countryRegions = map[string]string{
	"United States":  "North America",
	"Canada":         "North America",
	"Mexico":         "North America",
	"Germany":        "Europe",
	"United Kingdom": "Europe",
	"France":         "Europe",
	"Italy":          "Europe",
	"Spain":          "Europe",
	"Sweden":         "Europe",
	"Austria":        "Europe",
	"Belgium":        "Europe",
	"Netherlands":    "Europe",
	"Czech Republic": "Europe",
	"Slovakia":       "Europe",
	"Poland":         "Europe",
	"Hungary":        "Europe",
	"Japan":          "Asia",
	"South Korea":    "Asia",
	"China":          "Asia",
	"Taiwan":         "Asia",
	"India":          "Asia",
	"Thailand":       "Asia",
	"Vietnam":        "Asia",
	"Australia":      "Oceania",
	"Brazil":         "South America",
	"Argentina":      "South America",
	"South Africa":   "Africa",
}

func regionForCountry(country string) string {
	return countryRegions[country]
}
