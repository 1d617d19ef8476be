package models

import "time"

// StationOnline is the station_status written on every liveness refresh.
const StationOnline = "Online"

// Data type tags attached to observations.
const (
	DataTypeSpectrum     = "spectrum"
	DataTypeMagnetometer = "magnetometer"
	DataTypeCSV          = "csv"
)

// Station is a registered field station. Only liveness is written here.
type Station struct {
	ID        int64      `db:"id" json:"id"`
	Code      string     `db:"station_id" json:"stationId"`
	Nickname  string     `db:"nickname" json:"nickname"`
	Latitude  *float64   `db:"latitude" json:"latitude,omitempty"`
	Longitude *float64   `db:"longitude" json:"longitude,omitempty"`
	Grid      string     `db:"grid" json:"grid"`
	LastAlive *time.Time `db:"last_alive" json:"lastAlive,omitempty"`
	Status    string     `db:"station_status" json:"stationStatus"`
}

// Instrument belongs to exactly one station.
type Instrument struct {
	ID        int64  `db:"id" json:"id"`
	Name      string `db:"instrument" json:"instrument"`
	TypeName  string `db:"instrument_type" json:"instrumentType"`
	StationID int64  `db:"station_id" json:"stationId"`
}

// Observation is one catalog row, keyed by (StationID, InstrumentID, FileName).
type Observation struct {
	ID                int64     `db:"id" json:"id"`
	StationID         int64     `db:"station_id" json:"stationId"`
	InstrumentID      int64     `db:"instrument_id" json:"instrumentId"`
	FileName          string    `db:"file_name" json:"fileName"`
	Path              string    `db:"path" json:"path"`
	DataRate          int64     `db:"data_rate" json:"dataRate"`
	Size              int64     `db:"size" json:"size"`
	StartDate         time.Time `db:"start_date" json:"startDate"`
	EndDate           time.Time `db:"end_date" json:"endDate"`
	PlotFile          string    `db:"plot_file" json:"plotFile,omitempty"`
	PlotPath          string    `db:"plot_path" json:"plotPath,omitempty"`
	CenterFrequencies []float64 `json:"centerFrequencies,omitempty"`
	DataType          string    `json:"dataType"`
}
