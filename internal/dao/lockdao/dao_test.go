package lockdao

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/segmentio/ksuid"
)

func TestNewPK(t *testing.T) {
	if got := NewPK("dev", "myapp"); got != PK("dev/myapp") {
		t.Errorf("NewPK() = %v, want dev/myapp", got)
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		name        string
		id          ID
		wantEnv     string
		wantService string
		wantErr     bool
	}{
		{
			name:        "valid ID",
			id:          ID("dev/myapp:LOCK"),
			wantEnv:     "dev",
			wantService: "myapp",
		},
		{
			name:    "wrong SK",
			id:      ID("dev/myapp:RELEASE"),
			wantErr: true,
		},
		{
			name:    "no colon",
			id:      ID("dev/myapp"),
			wantErr: true,
		},
		{
			name:    "bad PK",
			id:      ID("myapp:LOCK"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, service, err := ParseID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseID() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if env != tt.wantEnv {
				t.Errorf("ParseID() env = %v, want %v", env, tt.wantEnv)
			}
			if service != tt.wantService {
				t.Errorf("ParseID() service = %v, want %v", service, tt.wantService)
			}
		})
	}
}

func TestTableName(t *testing.T) {
	if got := TableName("prod"); got != "gantry-locks-prod" {
		t.Errorf("TableName() = %v, want gantry-locks-prod", got)
	}
}

type testSetup struct {
	dao       *DAO
	client    *dynamodb.Client
	tableName string
}

// setupLocalDynamoDB creates a DynamoDB client configured for local testing
// Set DYNAMODB_ENDPOINT environment variable to use local DynamoDB (e.g., http://localhost:8000)
func setupLocalDynamoDB(t *testing.T) *testSetup {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	endpoint := os.Getenv("DYNAMODB_ENDPOINT")
	if endpoint == "" {
		t.Skip("DYNAMODB_ENDPOINT not set")
	}

	tableName := "test-locks-" + ksuid.New().String()

	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion("us-west-2"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	ctx := context.Background()
	_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("pk"),
				AttributeType: types.ScalarAttributeTypeS,
			},
			{
				AttributeName: aws.String("sk"),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("pk"),
				KeyType:       types.KeyTypeHash,
			},
			{
				AttributeName: aws.String("sk"),
				KeyType:       types.KeyTypeRange,
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		t.Fatalf("failed to create table: %v", err)
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	err = waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	}, 30*time.Second)
	if err != nil {
		t.Fatalf("failed to wait for table: %v", err)
	}

	return &testSetup{
		dao:       New(client, tableName),
		client:    client,
		tableName: tableName,
	}
}

func cleanupTable(t *testing.T, setup *testSetup) {
	_, err := setup.client.DeleteTable(context.Background(), &dynamodb.DeleteTableInput{
		TableName: aws.String(setup.tableName),
	})
	if err != nil {
		t.Logf("failed to delete table %s: %v", setup.tableName, err)
	}
}

func TestDAO_AcquireLosesToConcurrentWriter(t *testing.T) {
	setup := setupLocalDynamoDB(t)
	defer cleanupTable(t, setup)

	ctx := context.Background()

	// A competing writer's lock lands first, directly against the table. The
	// DAO never observed it, so only the conditional put can refuse us.
	winner := ksuid.New().String()
	_, err := setup.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(setup.tableName),
		Item: map[string]types.AttributeValue{
			"pk":          &types.AttributeValueMemberS{Value: "dev/myapp"},
			"sk":          &types.AttributeValueMemberS{Value: "LOCK"},
			"release_id":  &types.AttributeValueMemberS{Value: winner},
			"acquired_at": &types.AttributeValueMemberN{Value: "0"},
			"ttl":         &types.AttributeValueMemberN{Value: "0"},
		},
	})
	if err != nil {
		t.Fatalf("failed to seed competing lock: %v", err)
	}

	_, acquired, err := setup.dao.Acquire(ctx, AcquireInput{
		Env:       "dev",
		Service:   "myapp",
		ReleaseID: ksuid.New().String(),
	})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if acquired {
		t.Error("Acquire() must lose to a lock that landed first")
	}

	// The winner's lock record is untouched
	record, err := setup.dao.Find(ctx, NewID("dev", "myapp"))
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if record == nil || record.ReleaseID != winner {
		t.Errorf("lock holder = %v, want %v", record, winner)
	}
}

func TestDAO_AcquireAndRelease(t *testing.T) {
	setup := setupLocalDynamoDB(t)
	defer cleanupTable(t, setup)

	ctx := context.Background()
	releaseA := ksuid.New().String()
	releaseB := ksuid.New().String()

	record, acquired, err := setup.dao.Acquire(ctx, AcquireInput{
		Env:       "dev",
		Service:   "myapp",
		ReleaseID: releaseA,
	})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !acquired {
		t.Fatal("Acquire() should succeed on empty table")
	}
	if record.ReleaseID != releaseA {
		t.Errorf("Acquire() release_id = %v, want %v", record.ReleaseID, releaseA)
	}

	// Same release re-acquiring is a no-op success
	_, acquired, err = setup.dao.Acquire(ctx, AcquireInput{
		Env:       "dev",
		Service:   "myapp",
		ReleaseID: releaseA,
	})
	if err != nil {
		t.Fatalf("Acquire() retry error = %v", err)
	}
	if !acquired {
		t.Error("Acquire() retry by holder should succeed")
	}

	// A different release must be refused
	_, acquired, err = setup.dao.Acquire(ctx, AcquireInput{
		Env:       "dev",
		Service:   "myapp",
		ReleaseID: releaseB,
	})
	if err != nil {
		t.Fatalf("Acquire() contender error = %v", err)
	}
	if acquired {
		t.Error("Acquire() should refuse a held lock")
	}

	// Non-holder cannot release
	id := NewID("dev", "myapp")
	if err := setup.dao.Release(ctx, ReleaseInput{ID: id, ReleaseID: releaseB}); err == nil {
		t.Error("Release() by non-holder should fail")
	}

	// Holder releases, then the contender can acquire
	if err := setup.dao.Release(ctx, ReleaseInput{ID: id, ReleaseID: releaseA}); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	_, acquired, err = setup.dao.Acquire(ctx, AcquireInput{
		Env:       "dev",
		Service:   "myapp",
		ReleaseID: releaseB,
	})
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	if !acquired {
		t.Error("Acquire() should succeed after release")
	}
}
