package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nergy-se/enpal/pkg/api/v1/types"
)

var ErrMissing = errors.New("missing required config")

type CliConfig struct {
	InfluxHost   string
	InfluxPort   int `default:"8086"`
	InfluxToken  string
	TokenFile    string
	InfluxOrg    string `default:"enpal"`
	InfluxBucket string `default:"solar"`

	// EntryID scopes the registered entities, several bridges can share one broker.
	EntryID string `default:"enpal"`
	Source  string `default:"influx"`

	Interval   time.Duration `default:"20s"`
	Workers    int           `default:"4"`
	Rediscover string

	MQTTMode        string `default:"embedded"`
	MQTTAddress     string `default:":1883"`
	MQTTBroker      string `default:"tcp://127.0.0.1:1883"`
	MQTTUsername    string
	MQTTPassword    string
	DiscoveryPrefix string `default:"homeassistant"`

	StatePath   string `default:"/var/lib/enpal/registry.db"`
	MetricsAddr string `default:":9110"`
	MetricsFile string

	LogLevel string `default:"info"`
	LogFile  string

	mutex sync.RWMutex
}

func (c *CliConfig) Token() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.InfluxToken
}

func (c *CliConfig) SetToken(t string) {
	c.mutex.Lock()
	c.InfluxToken = strings.TrimSpace(t)
	c.mutex.Unlock()
}

// LoadToken reads the token from TokenFile unless one is already configured.
func (c *CliConfig) LoadToken() error {
	if c.TokenFile == "" || c.Token() != "" {
		return nil
	}
	if _, err := os.Stat(c.TokenFile); err == nil {
		b, err := os.ReadFile(c.TokenFile)
		if err != nil {
			return err
		}
		if len(b) == 0 {
			return nil // dont load empty token
		}

		c.SetToken(string(b))
	}
	return nil
}

func (c *CliConfig) InfluxURL() string {
	return fmt.Sprintf("http://%s:%d", c.InfluxHost, c.InfluxPort)
}

func (c *CliConfig) SourceType() types.SourceType {
	return types.SourceType(c.Source)
}

func (c *CliConfig) Mode() types.MQTTMode {
	return types.MQTTMode(c.MQTTMode)
}

// Validate checks that the database connection parameters are present.
// The dummy source needs none of them.
func (c *CliConfig) Validate() error {
	if c.SourceType() == types.SourceTypeDummy {
		return nil
	}
	var missing []string
	if c.InfluxHost == "" {
		missing = append(missing, "InfluxHost")
	}
	if c.InfluxPort == 0 {
		missing = append(missing, "InfluxPort")
	}
	if c.Token() == "" {
		missing = append(missing, "InfluxToken")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}
	return nil
}
