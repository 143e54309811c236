package config

import (
	"context"
	"fmt"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/falcon"
	"gopkg.in/ini.v1"
)

// Registry reads API credentials from an ini file with one section per
// profile:
//
//	[default]
//	client_id = ...
//	client_secret = ...
//	base_url = https://api.us-2.crowdstrike.com
type Registry interface {
	GetProfiles(ctx context.Context) ([]string, error)
	GetCredentials(ctx context.Context, profile string) (falcon.Credentials, error)
}

type cfgRegistry struct {
	cfg *ini.File
}

func NewRegistry(path string) (Registry, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials file %s: %w", path, err)
	}
	return &cfgRegistry{cfg: cfg}, nil
}

func (cr *cfgRegistry) GetProfiles(_ context.Context) ([]string, error) {
	var profiles []string
	for _, section := range cr.cfg.Sections() {
		if len(section.Keys()) > 0 {
			profiles = append(profiles, section.Name())
		}
	}
	return profiles, nil
}

func (cr *cfgRegistry) GetCredentials(_ context.Context, profile string) (falcon.Credentials, error) {
	if profile == "" {
		profile = "default"
	}
	section, err := cr.cfg.GetSection(profile)
	if err != nil {
		return falcon.Credentials{}, fmt.Errorf("profile %s not found", profile)
	}

	return falcon.Credentials{
		ClientID:     section.Key("client_id").String(),
		ClientSecret: section.Key("client_secret").String(),
		BaseURL:      section.Key("base_url").String(),
		MemberCID:    section.Key("member_cid").String(),
	}, nil
}
