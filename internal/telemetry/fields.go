// Package telemetry turns raw per-field telemetry rows into flights, charting
// series and current-state snapshots.
package telemetry

import "telemetry_read/internal/storage"

// Mapping associates a public field name with its storage column.
type Mapping struct {
	Public  string
	Storage string
}

// Mappings is the fixed field mapping, in response order.
var Mappings = []Mapping{
	{Public: "altitude", Storage: storage.FieldVarioAltitude},
	{Public: "speed", Storage: storage.FieldGPSSpeed},
	{Public: "heading", Storage: storage.FieldGPSHeading},
	{Public: "climb", Storage: storage.FieldVarioSpeed},
	{Public: "longitude", Storage: storage.FieldGPSLongitude},
	{Public: "latitude", Storage: storage.FieldGPSLatitude},
}

// publicName returns the public name for a storage column.
func publicName(storageName string) (string, bool) {
	for _, m := range Mappings {
		if m.Storage == storageName {
			return m.Public, true
		}
	}
	return "", false
}

func storageFields() []string {
	fields := make([]string, len(Mappings))
	for i, m := range Mappings {
		fields[i] = m.Storage
	}
	return fields
}
