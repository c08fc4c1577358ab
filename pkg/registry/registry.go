package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/nergy-se/enpal/pkg/hass"
	"github.com/nergy-se/enpal/pkg/mqtt"
	"github.com/nergy-se/enpal/pkg/sensor"
	"github.com/nergy-se/enpal/pkg/state"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

// Entry is one registered entity. Entries survive restarts so a new discovery
// can remove what an old process registered.
type Entry struct {
	EntityID    string            `json:"entityId"`
	EntryID     string            `json:"entryId"`
	ConfigTopic string            `json:"configTopic"`
	StateTopic  string            `json:"stateTopic"`
	Icon        string            `json:"icon"`
	StateClass  string            `json:"stateClass"`
	Descriptor  sensor.Descriptor `json:"descriptor"`
}

type Registry struct {
	db      *bolt.DB
	pub     mqtt.Publisher
	prefix  string
	version string
	mutex   sync.Mutex
}

func Open(path string, pub mqtt.Publisher, prefix, version string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("error creating registry dir: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("error opening registry %s: %w", path, err)
	}
	return &Registry{
		db:      db,
		pub:     pub,
		prefix:  prefix,
		version: version,
	}, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

func (r *Registry) topics(entryID string) hass.Topics {
	return hass.Topics{Prefix: r.prefix, EntryID: entryID}
}

// Entries returns the entities registered for entryID sorted by entity id.
func (r *Registry) Entries(entryID string) ([]Entry, error) {
	var entries []Entry
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(entryID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			e := Entry{}
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("error decoding entry %s: %w", k, err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].EntityID < entries[j].EntityID })
	return entries, err
}

func (r *Registry) entry(entryID, entityID string) (*Entry, error) {
	var e *Entry
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(entryID))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(entityID))
		if v == nil {
			return nil
		}
		e = &Entry{}
		return json.Unmarshal(v, e)
	})
	return e, err
}

func (r *Registry) put(e Entry) error {
	v, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(e.EntryID))
		if err != nil {
			return err
		}
		return b.Put([]byte(e.EntityID), v)
	})
}

// Remove unpublishes one entity. It belongs to the registry interface next to
// RemoveEntry and Add. An empty retained config makes Home Assistant drop it.
func (r *Registry) Remove(entryID, entityID string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.remove(entryID, entityID)
}

func (r *Registry) remove(entryID, entityID string) error {
	e, err := r.entry(entryID, entityID)
	if err != nil {
		return err
	}
	if e == nil {
		return nil
	}
	if err := r.pub.Publish(e.ConfigTopic, nil, true); err != nil {
		return fmt.Errorf("error removing %s: %w", entityID, err)
	}
	if err := r.pub.Publish(e.StateTopic, nil, true); err != nil {
		return fmt.Errorf("error clearing state of %s: %w", entityID, err)
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(entryID))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(entityID))
	})
}

// RemoveEntry removes every entity of entryID.
func (r *Registry) RemoveEntry(entryID string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	entries, err := r.Entries(entryID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := r.remove(entryID, e.EntityID); err != nil {
			return err
		}
	}
	logrus.WithFields(logrus.Fields{"entry": entryID, "count": len(entries)}).Debug("registry: removed entities")
	return nil
}

// Add publishes a discovery config for every descriptor and stores the entries.
func (r *Registry) Add(entryID string, descs []sensor.Descriptor) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, d := range descs {
		if err := r.publishConfig(entryID, d, state.State{}); err != nil {
			return err
		}
	}
	logrus.WithFields(logrus.Fields{"entry": entryID, "count": len(descs)}).Info("registry: registered entities")
	return nil
}

func (r *Registry) publishConfig(entryID string, d sensor.Descriptor, st state.State) error {
	t := r.topics(entryID)
	dev := hass.NewDevice(entryID, r.version)
	c := hass.NewConfig(t, dev, d, st)
	b, err := c.Marshal()
	if err != nil {
		return err
	}
	topic := t.Config(d.ObjectID())
	if err := r.pub.Publish(topic, b, true); err != nil {
		return fmt.Errorf("error publishing config for %s: %w", d.UniqueID, err)
	}
	return r.put(Entry{
		EntityID:    d.UniqueID,
		EntryID:     entryID,
		ConfigTopic: topic,
		StateTopic:  t.State(d.ObjectID()),
		Icon:        c.Icon,
		StateClass:  c.StateClass,
		Descriptor:  d,
	})
}

// Publish sends the current state of s. The config is republished when the
// icon, unit or state class changed since it was registered.
func (r *Registry) Publish(entryID string, s *sensor.Sensor) error {
	d := s.Descriptor()
	st := s.Snapshot()

	r.mutex.Lock()
	defer r.mutex.Unlock()
	e, err := r.entry(entryID, d.UniqueID)
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("sensor %s is not registered for %s", d.UniqueID, entryID)
	}
	if (st.Icon != "" && st.Icon != e.Icon) ||
		(st.Unit != "" && st.Unit != e.Descriptor.Unit) ||
		(st.StateClass != "" && string(st.StateClass) != e.StateClass) {
		if st.Unit != "" {
			d.Unit = st.Unit
		}
		if err := r.publishConfig(entryID, d, st); err != nil {
			return err
		}
	}

	b, err := hass.StatePayload(st)
	if err != nil {
		return err
	}
	return r.pub.Publish(e.StateTopic, b, true)
}

func (r *Registry) SetAvailability(entryID string, online bool) error {
	payload := hass.PayloadOffline
	if online {
		payload = hass.PayloadOnline
	}
	return r.pub.Publish(r.topics(entryID).Availability(), []byte(payload), true)
}
