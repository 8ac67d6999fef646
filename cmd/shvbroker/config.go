package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/silicon-heaven/shvgo/pkg/access"

	"github.com/silicon-heaven/shvgo/internal/rpcbroker"
)

// userRecord is one entry in the users section of the broker's JSON
// config file, matching the plain-struct-tags loading style the
// teacher's own phenix configuration uses instead of a mapstructure-
// backed library.
type userRecord struct {
	Password string   `json:"password"`
	ShaPass  string   `json:"shaPass"`
	Roles    []string `json:"roles"`
}

type roleRecord struct {
	Rules []string `json:"rules"`
}

type autosetupRecord struct {
	DeviceIDMatch string   `json:"deviceIdMatch"`
	RoleFilter    []string `json:"roleFilter"`
	MountPattern  string   `json:"mountPattern"`
}

// fileConfig is the on-disk shape of a broker's config file.
type fileConfig struct {
	Name      string                `json:"name"`
	Users     map[string]userRecord `json:"users"`
	Roles     map[string]roleRecord `json:"roles"`
	Autosetup []autosetupRecord     `json:"autosetup"`
}

func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg fileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// buildBrokerConfig turns the on-disk shape into the broker's runtime
// Config, including a Login func closing over the parsed user/role
// tables.
func buildBrokerConfig(fc *fileConfig) (rpcbroker.Config, error) {
	accessCfg := access.NewConfig()
	for name, rec := range fc.Roles {
		role, err := access.NewRole(name, rec.Rules...)
		if err != nil {
			return rpcbroker.Config{}, fmt.Errorf("role %q: %w", name, err)
		}
		accessCfg.AddRole(role)
	}

	users := fc.Users
	login := func(req rpcbroker.LoginRequest) (rpcbroker.LoginResult, error) {
		rec, ok := users[req.User]
		if !ok {
			return rpcbroker.LoginResult{}, fmt.Errorf("unknown user %q", req.User)
		}
		if !checkCredentials(req, rec) {
			return rpcbroker.LoginResult{}, fmt.Errorf("invalid credentials for %q", req.User)
		}
		return rpcbroker.LoginResult{Roles: rec.Roles}, nil
	}

	var autosetup []rpcbroker.AutosetupRule
	for _, a := range fc.Autosetup {
		autosetup = append(autosetup, rpcbroker.AutosetupRule{
			DeviceIDMatch: a.DeviceIDMatch,
			RoleFilter:    a.RoleFilter,
			MountPattern:  a.MountPattern,
		})
	}

	name := fc.Name
	if name == "" {
		name = "shvbroker"
	}

	return rpcbroker.Config{
		Name:      name,
		Access:    accessCfg,
		Login:     login,
		Autosetup: autosetup,
	}, nil
}
