// README: YAML pricing configuration file source.
package pricing

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"haulbid/internal/types"
)

type fileWindow struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type fileVehicle struct {
	PricePerKm   float64 `yaml:"price_per_km"`
	PricePerHour float64 `yaml:"price_per_hour"`
	MinimumPrice float64 `yaml:"minimum_price"`
}

type fileConfig struct {
	Currency string             `yaml:"currency"`
	Timezone string             `yaml:"timezone"`
	TripType map[string]float64 `yaml:"trip_type"`
	TimeSlot struct {
		Weekend      float64      `yaml:"weekend"`
		Peak         float64      `yaml:"peak"`
		Night        float64      `yaml:"night"`
		PeakWindows  []fileWindow `yaml:"peak_windows"`
		NightWindows []fileWindow `yaml:"night_windows"`
	} `yaml:"time_slot"`
	Traffic      map[string]float64     `yaml:"traffic"`
	ConvoyeurFee float64                `yaml:"convoyeur_fee"`
	Band         fileBand               `yaml:"band"`
	Vehicles     map[string]fileVehicle `yaml:"vehicles"`
}

type fileBand struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Load reads the file on every call so edits apply without a restart;
// wrap it in a CachedSource to avoid the disk read per quote.
func (f *FileSource) Load(context.Context) (Config, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return Config{}, fmt.Errorf("read pricing file: %w", err)
	}
	return ParseYAML(raw)
}

func ParseYAML(raw []byte) (Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return Config{}, fmt.Errorf("parse pricing yaml: %w", err)
	}
	cfg := Config{
		Currency:     fc.Currency,
		Timezone:     fc.Timezone,
		TripType:     map[types.TripType]decimal.Decimal{},
		Weekend:      decimal.NewFromFloat(fc.TimeSlot.Weekend),
		Peak:         decimal.NewFromFloat(fc.TimeSlot.Peak),
		Night:        decimal.NewFromFloat(fc.TimeSlot.Night),
		Traffic:      map[Traffic]decimal.Decimal{},
		ConvoyeurFee: decimal.NewFromFloat(fc.ConvoyeurFee),
		BandLow:      decimal.NewFromFloat(fc.Band.Low),
		BandHigh:     decimal.NewFromFloat(fc.Band.High),
		Vehicles:     map[types.VehicleType]VehicleParams{},
	}
	for k, v := range fc.TripType {
		cfg.TripType[types.TripType(k)] = decimal.NewFromFloat(v)
	}
	for k, v := range fc.Traffic {
		cfg.Traffic[Traffic(k)] = decimal.NewFromFloat(v)
	}
	for k, v := range fc.Vehicles {
		cfg.Vehicles[types.VehicleType(k)] = VehicleParams{
			PricePerKm:   decimal.NewFromFloat(v.PricePerKm),
			PricePerHour: decimal.NewFromFloat(v.PricePerHour),
			MinimumPrice: decimal.NewFromFloat(v.MinimumPrice),
		}
	}
	var err error
	if cfg.PeakWindows, err = parseWindows(fc.TimeSlot.PeakWindows); err != nil {
		return Config{}, err
	}
	if cfg.NightWindows, err = parseWindows(fc.TimeSlot.NightWindows); err != nil {
		return Config{}, err
	}
	if len(cfg.Vehicles) == 0 || len(cfg.TripType) == 0 || len(cfg.Traffic) == 0 {
		return Config{}, ErrMissingConfiguration
	}
	return cfg, nil
}

func parseWindows(in []fileWindow) ([]Window, error) {
	out := make([]Window, 0, len(in))
	for _, w := range in {
		pw, err := ParseWindow(w.Start, w.End)
		if err != nil {
			return nil, err
		}
		out = append(out, pw)
	}
	return out, nil
}
