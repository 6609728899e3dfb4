package decode

import (
	"github.com/cardog-ai/corgi/internal/catalog"
	"github.com/cardog-ai/corgi/internal/vin"
)

// assemble folds the stage outputs into the grouped component view.
func (d *Decoder) assemble(res *Result, v vin.VIN, w *wmiResolution, my ModelYear, selected map[string]selectedAttr) {
	attr := func(name string) string {
		if a, ok := selected[name]; ok {
			return a.value
		}
		return ""
	}

	res.Components.WMI = WMIInfo{
		Code:         w.row.Code,
		Manufacturer: w.manufacturer,
		Make:         w.makeName,
		Country:      w.country,
		Region:       w.region,
		VehicleType:  w.vehicleType,
	}

	res.Components.Vehicle = Vehicle{
		Make:            w.makeName,
		Model:           attr(catalog.ElementModel),
		Year:            my.Year,
		Series:          attr(catalog.ElementSeries),
		Trim:            attr(catalog.ElementTrim),
		BodyStyle:       attr(catalog.ElementBodyClass),
		DriveType:       attr(catalog.ElementDriveType),
		FuelType:        attr(catalog.ElementFuelType),
		Electrification: attr(catalog.ElementElectrification),
		Doors:           attr(catalog.ElementDoors),
	}

	plantCountry := attr(catalog.ElementPlantCountry)
	if plantCountry == "" {
		// Assembly plants overwhelmingly sit in the WMI's country; patterns
		// override when the catalog knows better.
		plantCountry = w.country
	}
	res.Components.Plant = Plant{
		Country: plantCountry,
		City:    attr(catalog.ElementPlantCity),
		Code:    string(v.PlantCode()),
	}

	res.Components.Engine = Engine{
		Model:        attr(catalog.ElementEngineModel),
		Cylinders:    attr(catalog.ElementEngineCylinders),
		Displacement: attr(catalog.ElementDisplacement),
		Fuel:         attr(catalog.ElementFuelType),
	}

	res.Components.ModelYear = my
}
