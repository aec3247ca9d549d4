package lockdao

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/savaki/ddb/v2"
)

const (
	lockSK       = "LOCK"
	lockTTLHours = 4 // Auto-expire abandoned locks after 4 hours
)

// TableName returns the lock table name for an environment
func TableName(env string) string {
	return fmt.Sprintf("gantry-locks-%s", env)
}

// PK represents the partition key: {Env}/{Service}
type PK string

// NewPK creates a partition key from env and service
func NewPK(env, service string) PK {
	return PK(fmt.Sprintf("%s/%s", env, service))
}

// ParsePK parses a partition key into env and service components
func ParsePK(pk PK) (env, service string, err error) {
	s := string(pk)
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid PK format: %s, expected {env}/{service}", s)
	}
	return parts[0], parts[1], nil
}

// String returns the string representation
func (pk PK) String() string {
	return string(pk)
}

// ID represents a lock ID in format {env}/{service}:LOCK
// Example: dev/myapp:LOCK
// Note: SK is always "LOCK" so ID primarily identifies the env/service
type ID string

// NewID creates an ID from env and service
func NewID(env, service string) ID {
	pk := NewPK(env, service)
	return ID(fmt.Sprintf("%s:%s", pk, lockSK))
}

// ParseID parses an ID into env and service components
func ParseID(id ID) (env, service string, err error) {
	s := string(id)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid ID format: %s, expected {env}/{service}:LOCK", s)
	}

	if parts[1] != lockSK {
		return "", "", fmt.Errorf("invalid ID format: %s, expected SK to be 'LOCK', got '%s'", s, parts[1])
	}

	pkParts := strings.Split(parts[0], "/")
	if len(pkParts) != 2 {
		return "", "", fmt.Errorf("invalid PK in ID: %s, expected {env}/{service}", parts[0])
	}

	return pkParts[0], pkParts[1], nil
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// Record represents a deployment lock
type Record struct {
	PK         PK     `ddb:"hash" dynamodbav:"pk"`  // {Env}/{Service}
	SK         string `ddb:"range" dynamodbav:"sk"` // Always "LOCK"
	ReleaseID  string `dynamodbav:"release_id"`     // ID of the release holding the lock
	AcquiredAt int64  `dynamodbav:"acquired_at"`    // Unix timestamp when lock was acquired
	TTL        int64  `dynamodbav:"ttl"`            // Unix timestamp for DynamoDB TTL expiry
}

// GetID returns the ID for this record
func (r *Record) GetID() ID {
	env, service, _ := ParsePK(r.PK)
	return NewID(env, service)
}

// AcquireInput contains fields for acquiring a deployment lock
type AcquireInput struct {
	Env       string // Environment
	Service   string // Service being released
	ReleaseID string // ID of the release requesting the lock
}

// ReleaseInput contains fields for releasing a deployment lock
type ReleaseInput struct {
	ID        ID     // Lock ID
	ReleaseID string // Must match the lock holder
}

// DAO provides data access operations for deployment locks
type DAO struct {
	client    *dynamodb.Client
	tableName string
	db        *ddb.DDB
	table     *ddb.Table
}

// New creates a new DAO instance
func New(client *dynamodb.Client, tableName string) *DAO {
	db := ddb.New(client)
	table := db.MustTable(tableName, &Record{})
	return &DAO{
		client:    client,
		tableName: tableName,
		db:        db,
		table:     table,
	}
}

// Acquire attempts to acquire a deployment lock. The create is a conditional
// put, so two concurrent releases cannot both win: the losing writer's put is
// rejected by DynamoDB. Returns the lock record if acquired, false if the lock
// is held by another release; re-acquiring by the current holder succeeds
// (retry scenario).
func (d *DAO) Acquire(ctx context.Context, input AcquireInput) (*Record, bool, error) {
	now := time.Now().Unix()
	pk := NewPK(input.Env, input.Service)
	record := &Record{
		PK:         pk,
		SK:         lockSK,
		ReleaseID:  input.ReleaseID,
		AcquiredAt: now,
		TTL:        now + (lockTTLHours * 3600),
	}

	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item: map[string]types.AttributeValue{
			"pk":          &types.AttributeValueMemberS{Value: pk.String()},
			"sk":          &types.AttributeValueMemberS{Value: lockSK},
			"release_id":  &types.AttributeValueMemberS{Value: input.ReleaseID},
			"acquired_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(record.AcquiredAt, 10)},
			"ttl":         &types.AttributeValueMemberN{Value: strconv.FormatInt(record.TTL, 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if !errors.As(err, &conditionFailed) {
			return nil, false, fmt.Errorf("failed to create lock: %w", err)
		}

		existing, findErr := d.Find(ctx, NewID(input.Env, input.Service))
		if findErr != nil {
			return nil, false, fmt.Errorf("failed to check existing lock: %w", findErr)
		}
		if existing != nil && existing.ReleaseID == input.ReleaseID {
			// Same release already holds the lock (retry scenario)
			return existing, true, nil
		}
		return nil, false, nil
	}

	return record, true, nil
}

// Find retrieves a lock record by ID
// Returns nil if not found
func (d *DAO) Find(ctx context.Context, id ID) (*Record, error) {
	env, service, err := ParseID(id)
	if err != nil {
		return nil, err
	}

	pk := NewPK(env, service)
	var record Record

	err = d.table.Get(pk.String()).
		Range(lockSK).
		ConsistentRead(true).
		ScanWithContext(ctx, &record)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "item not found") || strings.Contains(errStr, "ItemNotFound") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get lock: %w", err)
	}

	if record.PK == "" && record.SK == "" {
		return nil, nil
	}

	return &record, nil
}

// Release releases a deployment lock
// Only succeeds if the lock is held by the specified release
func (d *DAO) Release(ctx context.Context, input ReleaseInput) error {
	env, service, err := ParseID(input.ID)
	if err != nil {
		return err
	}

	existing, err := d.Find(ctx, input.ID)
	if err != nil {
		return fmt.Errorf("failed to check lock: %w", err)
	}

	if existing == nil {
		// No lock exists (already released or expired)
		return nil
	}

	if existing.ReleaseID != input.ReleaseID {
		return fmt.Errorf("lock not held by release %s (held by %s)", input.ReleaseID, existing.ReleaseID)
	}

	pk := NewPK(env, service)
	err = d.table.Delete(pk.String()).
		Range(lockSK).
		RunWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete lock: %w", err)
	}

	return nil
}

// Delete removes a lock record regardless of holder
// Use with caution - intended for cleanup/recovery scenarios
func (d *DAO) Delete(ctx context.Context, id ID) error {
	env, service, err := ParseID(id)
	if err != nil {
		return err
	}

	pk := NewPK(env, service)

	err = d.table.Delete(pk.String()).
		Range(lockSK).
		RunWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete lock: %w", err)
	}

	return nil
}
