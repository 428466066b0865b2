package trajectory

import (
	"encoding/json"
	"io"
)

// Header describes the run a trajectory export came from.
type Header struct {
	Network  string             `json:"network"`
	Species  []string           `json:"species"`
	Engine   string             `json:"engine"`
	Strategy string             `json:"strategy"`
	Systems  int                `json:"systems"`
	TimeUnit string             `json:"time_unit"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
}

type ExportData struct {
	Header
	Samples int          `json:"samples"`
	Records []exportItem `json:"records"`
}

type exportItem struct {
	System     int       `json:"system"`
	Time       float64   `json:"time"`
	Abundances []float64 `json:"abundances"`
}

func ExportJSON(w io.Writer, header Header, recs []Record) error {
	data := ExportData{
		Header:  header,
		Samples: len(recs),
		Records: make([]exportItem, len(recs)),
	}
	for i, r := range recs {
		data.Records[i] = exportItem{System: r.System, Time: r.Time, Abundances: r.Y}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
