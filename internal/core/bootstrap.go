package core

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/pecha-tools/pecha-auth/internal/revocation"
	"github.com/pecha-tools/pecha-auth/internal/saml"
	"github.com/pecha-tools/pecha-auth/internal/sso"
	"github.com/pecha-tools/pecha-auth/internal/token"
	"github.com/pecha-tools/pecha-auth/internal/userstore"
)

// BootstrapResult holds the initialized dependencies.
type BootstrapResult struct {
	Config   *Config
	Parser   *saml.Parser
	Registry revocation.Registry
	Tokens   *token.Service
	Provider *sso.Provider
	Users    *userstore.Store
	Auth     *sso.Service

	redisClient *redis.Client
}

// Bootstrap initializes the shared dependencies from configuration.
func Bootstrap() (*BootstrapResult, error) {
	cfg := LoadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "development-secret-do-not-deploy"
		log.Println("WARNING: using built-in development JWT secret")
	}

	parser := saml.NewParser()
	if cfg.IdPCertPath != "" {
		cert, err := saml.LoadCertificate(cfg.IdPCertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load IdP certificate: %w", err)
		}
		validator, err := saml.NewSignatureValidator(cert)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize signature validator: %w", err)
		}
		parser = saml.NewVerifyingParser(validator)
		log.Println("Assertion signature verification enabled")
	} else {
		log.Println("WARNING: assertion signature verification disabled")
	}

	result := &BootstrapResult{Config: cfg, Parser: parser}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(context.Background()).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		result.redisClient = client
		result.Registry = revocation.NewRedisRegistry(client)
		log.Println("Revocation registry backed by Redis")
	} else {
		result.Registry = revocation.NewMemoryRegistry()
		log.Println("Revocation registry in process memory; revocations are lost on restart")
	}

	result.Tokens = token.NewService(cfg.JWTSecret, cfg.TokenTTL, result.Registry)

	result.Provider = sso.NewProvider(cfg.IdPSignOnURL, cfg.IdPSignOutURL, cfg.IdPTokenURL, cfg.IdPTimeout)

	users, err := userstore.NewStore(cfg.DataDir)
	if err != nil {
		result.Close()
		return nil, fmt.Errorf("failed to open user store: %w", err)
	}
	result.Users = users

	result.Auth = sso.NewService(parser, result.Tokens, result.Provider, users, cfg.FrontendURL)

	return result, nil
}

// Close releases the resources held by the bootstrap result.
func (b *BootstrapResult) Close() {
	if b.Users != nil {
		b.Users.Close()
	}
	if b.redisClient != nil {
		b.redisClient.Close()
	}
}
