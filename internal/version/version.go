package version

import (
	"encoding/json"
	"log"
	"os"
)

const fallback = "0.0.0-dev"

// Info describes the running build, read from version.json next to the
// binary. APP_VERSION overrides the file so container images can be stamped
// without a rebuild.
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
}

func Load() Info {
	info := Info{Version: fallback}
	if data, err := os.ReadFile("version.json"); err == nil {
		if err := json.Unmarshal(data, &info); err != nil {
			log.Printf("[version] could not parse version.json: %v", err)
			info = Info{Version: fallback}
		}
	}
	if v := os.Getenv("APP_VERSION"); v != "" {
		info.Version = v
	}
	return info
}
