package di

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/quayops/gantry/internal/services"
)

// ProvideContext supplies the root context providers hang AWS calls off.
func ProvideContext() context.Context {
	return context.Background()
}

func ProvideAWSConfig(ctx context.Context) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx)
}

func ProvideDynamoDB(config aws.Config) *dynamodb.Client {
	return dynamodb.NewFromConfig(config)
}

func ProvideECSClient(config aws.Config) *ecs.Client {
	return ecs.NewFromConfig(config)
}

func ProvideS3Client(config aws.Config) *s3.Client {
	return s3.NewFromConfig(config)
}

func ProvideECRService(awsConfig aws.Config, cfg *services.Config) *services.ECRService {
	return services.NewECRServiceFromConfig(awsConfig, cfg.Region)
}

func ProvideECSService(client *ecs.Client, cfg *services.Config, logger zerolog.Logger) *services.ECSService {
	return services.NewECSService(client, cfg.Region, logger)
}

func ProvideIAMService(awsConfig aws.Config) *services.IAMService {
	return services.NewIAMServiceFromConfig(awsConfig)
}
