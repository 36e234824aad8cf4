package config

import (
	"github.com/kelseyhightower/envconfig"
)

type ServerConfig struct {
	Stage               string `envconfig:"STAGE" default:"dev"`
	ProjectID           string `envconfig:"GOOGLE_CLOUD_PROJECT_ID"`
	Port                string `envconfig:"PORT" default:"8080"`
	BindAddress         string `envconfig:"BIND_ADDRESS"`
	AdminAccessToken    string `envconfig:"ADMIN_ACCESS_TOKEN"`
	DistDir             string `envconfig:"DIST_DIR" default:"dist"`
	DisableRequestCache bool   `envconfig:"DISABLE_REQUEST_CACHE"`
	DisableMetrics      bool   `envconfig:"DISABLE_METRICS"`
	DisableIndex        bool   `envconfig:"DISABLE_INDEX"`
	Version             string
}

func NewServerConfigFromEnv() (*ServerConfig, error) {
	var sCfg ServerConfig
	err := envconfig.Process("", &sCfg)
	if err != nil {
		return nil, err
	}
	return &sCfg, nil
}

func (s *ServerConfig) GetServerAddr() string {
	return s.BindAddress + ":" + s.Port
}

// UseFirestore reports whether releases are kept in Firestore instead of
// process memory.
func (s *ServerConfig) UseFirestore() bool {
	return !s.DisableIndex && s.ProjectID != ""
}
