package version

import (
	"encoding/json"
	"log"
	"runtime/debug"
)

type Info struct {
	Commit string `json:"commit"`
	Time   string `json:"time"`
}

// Short is the first 7 characters of the commit or "dev".
func (i Info) Short() string {
	if i.Commit == "" {
		return "dev"
	}
	if len(i.Commit) > 7 {
		return i.Commit[:7]
	}
	return i.Commit
}

func Get() Info {
	v := Info{}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				v.Commit = setting.Value
			}
			if setting.Key == "vcs.time" {
				v.Time = setting.Value
			}
		}
	}
	return v
}

var Version = func() string {
	b, err := json.Marshal(Get())
	if err != nil {
		log.Fatal(err)
	}
	return string(b)
}()
