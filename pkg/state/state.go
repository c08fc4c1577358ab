package state

import (
	"time"

	"github.com/nergy-se/enpal/pkg/api/v1/types"
)

// State is what a sensor currently shows. Value is nil when cleared after an error.
type State struct {
	Value       *float64          `json:"value"`
	Status      string            `json:"status,omitempty"`
	Icon        string            `json:"icon,omitempty"`
	DeviceClass types.DeviceClass `json:"-"`
	Unit        string            `json:"-"`
	StateClass  types.StateClass  `json:"-"`
	LastCheck   time.Time         `json:"last_check"`
	LastReset   *time.Time        `json:"last_reset,omitempty"`
	Field       string            `json:"field"`
	Measurement string            `json:"measurement"`
}

func (s State) HasError() bool {
	return s.Status == types.StatusError
}

// Map returns the extra attributes shown next to the value.
func (s State) Map() map[string]interface{} {
	m := make(map[string]interface{})
	if !s.LastCheck.IsZero() {
		m["last_check"] = s.LastCheck.Format(time.RFC3339)
	}
	if s.LastReset != nil {
		m["last_reset"] = s.LastReset.Format(time.RFC3339)
	}
	if s.Field != "" {
		m["field"] = s.Field
	}
	if s.Measurement != "" {
		m["measurement"] = s.Measurement
	}
	if s.Status != "" {
		m["status"] = s.Status
	}
	return m
}

func Pointer[K any](val K) *K {
	return &val
}
