package di

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/quayops/gantry/internal/dao/lockdao"
	"github.com/quayops/gantry/internal/dao/releasedao"
)

func ProvideReleaseDAO(env string, client *dynamodb.Client) *releasedao.DAO {
	return releasedao.New(client, releasedao.TableName(env))
}

func ProvideLockDAO(env string, client *dynamodb.Client) *lockdao.DAO {
	return lockdao.New(client, lockdao.TableName(env))
}
