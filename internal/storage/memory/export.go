package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rflink/bridge/pkg/core"
)

// FlightExport is the root JSON structure of an exported recording.
type FlightExport struct {
	Session         core.Session    `json:"session"`
	SampleCount     int             `json:"sampleCount"`
	DurationSeconds float64         `json:"durationSeconds"`
	MaxAltitudeAGL  float64         `json:"maxAltitudeAgl"`
	MaxAirspeed     float64         `json:"maxAirspeed"`
	Samples         []core.Sample   `json:"samples"`
	Track           json.RawMessage `json:"track,omitempty"` // GeoJSON Feature
}

var fileNameReplacer = strings.NewReplacer(" ", "_", ":", "_", "/", "_", `\`, "_")

// exportJSON writes the session to a JSON file, gzipped when configured.
// Callers hold b.mu.
func (b *Backend) exportJSON() error {
	export, err := b.buildExport()
	if err != nil {
		return err
	}

	name := fileNameReplacer.Replace(b.session.Name)
	if name == "" {
		name = "flight"
	}
	timestamp := b.session.Started.Format("20060102_150405")

	var filename string
	if b.cfg.CompressOutput {
		filename = fmt.Sprintf("%s_%s.json.gz", name, timestamp)
	} else {
		filename = fmt.Sprintf("%s_%s.json", name, timestamp)
	}

	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if b.cfg.CompressOutput {
		err = writeGzipJSON(outputPath, export)
	} else {
		err = writeJSON(outputPath, export)
	}
	if err != nil {
		return err
	}

	b.lastExportPath = outputPath
	return nil
}

func (b *Backend) buildExport() (FlightExport, error) {
	export := FlightExport{
		Session:         *b.session,
		SampleCount:     len(b.samples),
		DurationSeconds: b.session.Ended.Sub(b.session.Started).Seconds(),
		Samples:         b.samples,
	}
	if export.Samples == nil {
		export.Samples = []core.Sample{}
	}
	for i := range b.samples {
		st := &b.samples[i].State
		export.MaxAltitudeAGL = max(export.MaxAltitudeAGL, st.AltitudeAGL)
		export.MaxAirspeed = max(export.MaxAirspeed, st.Airspeed)
	}

	if b.track.Len() >= 2 {
		track, err := b.track.GeoJSON(map[string]any{
			"session": b.session.ID,
			"name":    b.session.Name,
			"samples": b.track.Len(),
		})
		if err != nil {
			return FlightExport{}, fmt.Errorf("building track: %w", err)
		}
		export.Track = track
	}
	return export, nil
}

func writeJSON(path string, data FlightExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	return encoder.Encode(data)
}

func writeGzipJSON(path string, data FlightExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	encoder := json.NewEncoder(gzWriter)
	if err := encoder.Encode(data); err != nil {
		_ = gzWriter.Close()
		return err
	}
	return gzWriter.Close()
}
