package metric

import (
	"fmt"
	"os"

	"github.com/nergy-se/enpal/pkg/api/v1/types"
	"gopkg.in/yaml.v3"
)

// Overlay is the on-disk format for extra or replacement metrics:
//
//	metrics:
//	  - measurement: inverter
//	    field: Power.AC.Total
//	    name: AC power
//	    icon: mdi:flash
//	    deviceClass: power
type Overlay struct {
	Metrics []OverlayEntry `yaml:"metrics"`
}

type OverlayEntry struct {
	Measurement string `yaml:"measurement"`
	Field       string `yaml:"field"`
	Name        string `yaml:"name"`
	Icon        string `yaml:"icon"`
	DeviceClass string `yaml:"deviceClass"`
}

func ParseOverlay(b []byte) (*Overlay, error) {
	o := &Overlay{}
	if err := yaml.Unmarshal(b, o); err != nil {
		return nil, fmt.Errorf("error parsing metrics overlay: %w", err)
	}
	for i, e := range o.Metrics {
		if e.Measurement == "" || e.Field == "" || e.Name == "" {
			return nil, fmt.Errorf("metrics overlay entry %d: measurement, field and name are required", i)
		}
	}
	return o, nil
}

// LoadOverlay reads path and applies it to t. Empty path is a no-op.
func LoadOverlay(t *Table, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("error reading metrics overlay: %w", err)
	}
	o, err := ParseOverlay(b)
	if err != nil {
		return 0, err
	}
	o.Apply(t)
	return len(o.Metrics), nil
}

func (o *Overlay) Apply(t *Table) {
	for _, e := range o.Metrics {
		icon := e.Icon
		if icon == "" {
			icon = iconTestTube
		}
		t.Set(Key{e.Measurement, e.Field}, Metadata{
			Name:        e.Name,
			Icon:        icon,
			DeviceClass: types.DeviceClass(e.DeviceClass),
		})
	}
}
