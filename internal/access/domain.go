// Package access implements the vehicular access sub-module: door,
// vehicle-type and color catalogs, access event records, plate
// detection from camera captures, and the dashboards built on top.
package access

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Door is a physical entry point of the condominium.
type Door struct {
	ID          int64  `json:"id"`
	Name        string `json:"nombre"`
	Description string `json:"descripcion"`
	Active      bool   `json:"activa"`
}

// VehicleType is a catalog entry such as automóvil or motocicleta.
type VehicleType struct {
	ID     int64  `json:"id"`
	Name   string `json:"nombre"`
	Active bool   `json:"activo"`
}

// Color is a vehicle color catalog entry.
type Color struct {
	ID     int64  `json:"id"`
	Name   string `json:"nombre"`
	Active bool   `json:"activo"`
}

// Event classifies an access record.
type Event string

const (
	EventEntry Event = "entrada"
	EventExit  Event = "salida"
)

// Valid reports whether the event type is known.
func (e Event) Valid() bool {
	return e == EventEntry || e == EventExit
}

// Record is one vehicle passing a door.
type Record struct {
	ID            int64      `json:"id"`
	Plate         string     `json:"placa"`
	Event         Event      `json:"tipo_evento"`
	DoorID        int64      `json:"puerta_id"`
	DoorName      string     `json:"puerta"`
	VehicleTypeID int64      `json:"tipo_vehiculo_id"`
	VehicleType   string     `json:"tipo_vehiculo"`
	ColorID       int64      `json:"color_id"`
	Color         string     `json:"color"`
	Observations  string     `json:"observaciones"`
	RegisteredBy  int64      `json:"registrado_por"`
	OccurredAt    time.Time  `json:"fecha_hora"`
	Detection     *Detection `json:"deteccion,omitempty"`
}

var plateStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// NormalizePlate canonicalizes a license plate for storage and search:
// uppercase, no diacritics, no separators. "abc-123" and "ABC 123"
// collapse to the same value.
func NormalizePlate(plate string) string {
	stripped, _, err := transform.String(plateStripper, plate)
	if err != nil {
		stripped = plate
	}
	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}
