package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cleargate-io/cleargate/pkg/pack"
)

// PackProfile is the per-jurisdiction configuration profile: the regulator
// the pack answers to, default evidence expectations, and the tool groups
// agents operating under the pack may use.
type PackProfile struct {
	Name      string `yaml:"name" json:"name"`
	Pack      string `yaml:"pack" json:"pack"`
	Regulator string `yaml:"regulator,omitempty" json:"regulator,omitempty"`

	EvidenceDefaults EvidenceDefaults `yaml:"evidence_defaults" json:"evidence_defaults"`

	AllowedToolGroups []string `yaml:"allowed_tool_groups,omitempty" json:"allowed_tool_groups,omitempty"`
}

// EvidenceDefaults are the pack-level evidence expectations applied when a
// template declares none.
type EvidenceDefaults struct {
	RequiredTypes []string `yaml:"required_types,omitempty" json:"required_types,omitempty"`
	MinItems      int      `yaml:"min_items" json:"min_items"`
}

// LoadPackProfile loads profile_<pack>.yaml for a jurisdiction pack.
func LoadPackProfile(profilesDir string, p pack.Pack) (*PackProfile, error) {
	code := strings.ToLower(string(p))
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile PackProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}
	if profile.Pack == "" {
		profile.Pack = string(p)
	}
	if !pack.Pack(profile.Pack).Valid() {
		return nil, fmt.Errorf("profile %q names unknown pack %q", code, profile.Pack)
	}
	return &profile, nil
}

// LoadAllPackProfiles loads every profile_*.yaml from the profiles
// directory, keyed by pack.
func LoadAllPackProfiles(profilesDir string) (map[pack.Pack]*PackProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[pack.Pack]*PackProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile PackProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if profile.Pack == "" {
			base := filepath.Base(path)
			profile.Pack = strings.ToUpper(strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml"))
		}
		key := pack.Pack(profile.Pack)
		if !key.Valid() {
			return nil, fmt.Errorf("profile %s names unknown pack %q", path, profile.Pack)
		}
		profiles[key] = &profile
	}
	return profiles, nil
}
