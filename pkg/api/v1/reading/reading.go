package reading

import (
	"sort"
	"sync"
	"time"

	"github.com/nergy-se/enpal/pkg/state"
)

// Reading is the last published state of one sensor as served on /api/sensors.
type Reading struct {
	UniqueID    string    `json:"uniqueId"`
	Name        string    `json:"name"`
	Measurement string    `json:"measurement"`
	Field       string    `json:"field"`
	Value       *float64  `json:"value"`
	Unit        string    `json:"unit,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	Error       bool      `json:"error"`
	LastCheck   time.Time `json:"lastCheck"`

	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

func New(uniqueID, name string, st state.State) Reading {
	return Reading{
		UniqueID:    uniqueID,
		Name:        name,
		Measurement: st.Measurement,
		Field:       st.Field,
		Value:       st.Value,
		Unit:        st.Unit,
		Icon:        st.Icon,
		Error:       st.HasError(),
		LastCheck:   st.LastCheck,
		Attributes:  st.Map(),
	}
}

type Cache struct {
	data map[string]Reading
	sync.RWMutex
}

// Get returns all readings sorted by unique id.
func (c *Cache) Get() []Reading {
	c.RLock()
	defer c.RUnlock()
	out := make([]Reading, 0, len(c.data))
	for _, r := range c.data {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UniqueID < out[j].UniqueID })
	return out
}

func (c *Cache) Set(r Reading) {
	c.Lock()
	if c.data == nil {
		c.data = make(map[string]Reading)
	}
	c.data[r.UniqueID] = r
	c.Unlock()
}

// Reset drops all readings, used when the sensor set is replaced.
func (c *Cache) Reset() {
	c.Lock()
	c.data = nil
	c.Unlock()
}
