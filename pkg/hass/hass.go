// Package hass builds Home Assistant MQTT discovery payloads.
package hass

import (
	"encoding/json"
	"fmt"

	"github.com/nergy-se/enpal/pkg/metric"
	"github.com/nergy-se/enpal/pkg/sensor"
	"github.com/nergy-se/enpal/pkg/state"
)

const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

type Config struct {
	Name                string `json:"name"`
	UniqueID            string `json:"unique_id"`
	ObjectID            string `json:"object_id"`
	StateTopic          string `json:"state_topic"`
	ValueTemplate       string `json:"value_template"`
	JSONAttributesTopic string `json:"json_attributes_topic"`
	AvailabilityTopic   string `json:"availability_topic"`
	Icon                string `json:"icon,omitempty"`
	DeviceClass         string `json:"device_class,omitempty"`
	UnitOfMeasurement   string `json:"unit_of_measurement,omitempty"`
	StateClass          string `json:"state_class,omitempty"`
	Device              Device `json:"device"`
}

type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// Topics are the topic names for one configuration entry.
type Topics struct {
	Prefix  string
	EntryID string
}

func (t Topics) Config(objectID string) string {
	return fmt.Sprintf("%s/sensor/%s/%s/config", t.Prefix, t.EntryID, objectID)
}

func (t Topics) State(objectID string) string {
	return fmt.Sprintf("enpal/%s/%s/state", t.EntryID, objectID)
}

func (t Topics) Availability() string {
	return fmt.Sprintf("enpal/%s/status", t.EntryID)
}

func NewDevice(entryID, version string) Device {
	return Device{
		Identifiers:  []string{"enpal_" + entryID},
		Name:         "Enpal " + entryID,
		Manufacturer: "Enpal",
		Model:        "Solar box",
		SWVersion:    version,
	}
}

// NewConfig builds the discovery config for d. icon overrides the descriptor
// icon when set, the storage sensor changes icon with its level. Without a
// state class in st it follows the unit, energy units count up.
func NewConfig(t Topics, dev Device, d sensor.Descriptor, st state.State) Config {
	obj := d.ObjectID()
	icon := d.Icon
	if st.Icon != "" {
		icon = st.Icon
	}
	unit := d.Unit
	if st.Unit != "" {
		unit = st.Unit
	}
	stateClass := string(st.StateClass)
	if stateClass == "" {
		stateClass = string(metric.StateClassFor(unit))
	}
	return Config{
		Name:                d.Name,
		UniqueID:            d.UniqueID,
		ObjectID:            obj,
		StateTopic:          t.State(obj),
		ValueTemplate:       "{{ value_json.value }}",
		JSONAttributesTopic: t.State(obj),
		AvailabilityTopic:   t.Availability(),
		Icon:                icon,
		DeviceClass:         string(d.DeviceClass),
		UnitOfMeasurement:   unit,
		StateClass:          stateClass,
		Device:              dev,
	}
}

func (c Config) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

func StatePayload(st state.State) ([]byte, error) {
	return json.Marshal(st)
}
