package config

import (
	"context"
	"os"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/falcon"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
)

// Credentials resolves API credentials. Each field is taken from the first
// source that sets it: <prefix>CLIENT_ID style environment variables, the
// ini profile, then the config file.
func (c *Config) Credentials(ctx context.Context) (falcon.Credentials, error) {
	return c.credentials(ctx, os.Getenv)
}

func (c *Config) credentials(ctx context.Context, getenv func(string) string) (falcon.Credentials, error) {
	fc := c.FalconCredentials
	creds := falcon.Credentials{
		ClientID:     fc.ClientID,
		ClientSecret: fc.ClientSecret,
		BaseURL:      fc.BaseURL,
		MemberCID:    fc.MemberCID,
	}

	if fc.ProfileFile != "" {
		registry, err := NewRegistry(fc.ProfileFile)
		if err != nil {
			return falcon.Credentials{}, domain.NewConfigError(fc.ProfileFile, "%w", err)
		}
		profile, err := registry.GetCredentials(ctx, fc.Profile)
		if err != nil {
			return falcon.Credentials{}, domain.NewConfigError(fc.ProfileFile, "%w", err)
		}
		overlay(&creds, profile)
	}

	prefix := fc.Prefix
	overlay(&creds, falcon.Credentials{
		ClientID:     getenv(prefix + "CLIENT_ID"),
		ClientSecret: getenv(prefix + "CLIENT_SECRET"),
		BaseURL:      getenv(prefix + "BASE_URL"),
		MemberCID:    getenv(prefix + "MEMBER_CID"),
	})

	if creds.ClientID == "" || creds.ClientSecret == "" {
		return falcon.Credentials{}, domain.NewConfigError("falcon_credentials", "client_id and client_secret are required")
	}
	return creds, nil
}

func overlay(dst *falcon.Credentials, src falcon.Credentials) {
	if src.ClientID != "" {
		dst.ClientID = src.ClientID
	}
	if src.ClientSecret != "" {
		dst.ClientSecret = src.ClientSecret
	}
	if src.BaseURL != "" {
		dst.BaseURL = src.BaseURL
	}
	if src.MemberCID != "" {
		dst.MemberCID = src.MemberCID
	}
}
