package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/badgesmith/badgesmith/internal/config"
	"github.com/badgesmith/badgesmith/internal/hmacauth"
	"github.com/badgesmith/badgesmith/internal/logging"
	"github.com/badgesmith/badgesmith/internal/metrics"
	"github.com/badgesmith/badgesmith/internal/noncestore"
	"github.com/badgesmith/badgesmith/internal/packages"
	"github.com/badgesmith/badgesmith/internal/results"
	"github.com/badgesmith/badgesmith/internal/secrets"
	"github.com/badgesmith/badgesmith/internal/server"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/badgesmith.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("BadgeSmith %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	logger, err := logging.New(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("Starting BadgeSmith",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.String("region", cfg.AWS.Region),
	)

	srv, cleanup, err := build(cfg)
	if err != nil {
		logging.Error("Failed to build server", zap.Error(err))
		os.Exit(1)
	}
	defer cleanup()

	if err := srv.Run(); err != nil {
		logging.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
}

// build is the composition root: every process-wide singleton is constructed
// here and handed to the dispatcher explicitly.
func build(cfg *config.Config) (*server.Server, func(), error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.AWS.Region),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	db := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.AWS.DynamoDBEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.DynamoDBEndpoint)
		}
	})
	sm := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.AWS.SecretsManagerEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.SecretsManagerEndpoint)
		}
	})

	var nonces noncestore.Store
	if cfg.Redis.Address != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		nonces = noncestore.NewRedisStore(client, cfg.Redis.KeyPrefix)
		logging.Info("Using Redis nonce store", zap.String("address", cfg.Redis.Address))
	} else {
		nonces = noncestore.NewDynamoStore(db, cfg.Tables.Nonces)
	}

	resolver := secrets.NewResolver(db, sm, cfg.Tables.Secrets)
	auth := hmacauth.New(nonces, resolver, cfg.Auth.TimestampSkew, cfg.Auth.NonceTTL)
	store := results.NewDynamoStore(db, cfg.Tables.TestResults)

	providers := packages.NewFactory()
	providers.Register(packages.ProviderNuGet, packages.NewNuGetProvider(cfg.Upstreams.NuGet))
	providers.Register(packages.ProviderGitHub, packages.NewGitHubProvider(cfg.Upstreams.GitHub, resolver))

	srv, err := server.New(cfg, server.Deps{
		Auth:      auth,
		Providers: providers,
		Results:   store,
		Collector: metrics.NewCollector(),
	})
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		nonces.Close()
	}
	return srv, cleanup, nil
}
