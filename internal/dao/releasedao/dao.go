package releasedao

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ddb/v2"
	"github.com/savaki/gox/slicex"
)

const latest = "latest"

// TableName derives the release history table name from the environment
func TableName(env string) string {
	return fmt.Sprintf("gantry-releases-%s", env)
}

// PK represents a DynamoDB partition key in format {service}/{env}
// Example: myapp/dev
type PK string

// NewPK creates a new partition key from service and env
func NewPK(service, env string) PK {
	return PK(fmt.Sprintf("%s/%s", service, env))
}

// ParsePK parses a partition key into its service and env components
func ParsePK(pk PK) (service, env string, err error) {
	s := string(pk)
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid PK format: %s, expected {service}/{env}", s)
	}
	return parts[0], parts[1], nil
}

// String returns the string representation of the partition key
func (pk PK) String() string {
	return string(pk)
}

// ID represents a release ID in format {service}/{env}:{ksuid}
// Example: myapp/dev:2HFj3kLmNoPqRsTuVwXy
type ID string

func (id ID) String() string {
	return string(id)
}

// ParseID parses a release ID into its partition key (pk) and sort key (sk) components
func ParseID(id ID) (pk PK, sk string, err error) {
	s := string(id)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid release ID format: %s, expected {service}/{env}:{ksuid}", s)
	}
	return PK(parts[0]), parts[1], nil
}

// NewID constructs an ID from partition key and sort key
func NewID(pk PK, sk string) ID {
	return ID(fmt.Sprintf("%s:%s", pk, sk))
}

// ReleaseStatus represents the current status of a release
type ReleaseStatus string

const (
	ReleaseStatusPending    ReleaseStatus = "PENDING"
	ReleaseStatusInProgress ReleaseStatus = "IN_PROGRESS"
	ReleaseStatusSuccess    ReleaseStatus = "SUCCESS"
	ReleaseStatusFailed     ReleaseStatus = "FAILED"
)

// Stage names recorded as the pipeline advances
const (
	StageBuild   = "build"
	StagePublish = "publish"
	StageMigrate = "migrate"
	StageDeploy  = "deploy"
)

// Record represents a release record in DynamoDB
type Record struct {
	PK                PK            `ddb:"hash" dynamodbav:"pk"`  // {service}/{env} - DynamoDB partition key
	SK                string        `ddb:"range" dynamodbav:"sk"` // KSUID - DynamoDB sort key
	ID                ID            `dynamodbav:"id,omitempty"`   // ID is only used for latest entries
	Service           string        `dynamodbav:"service,omitempty"`
	Env               string        `dynamodbav:"env,omitempty"`
	Version           string        `dynamodbav:"version,omitempty"`
	Platform          string        `dynamodbav:"platform,omitempty"`
	Status            ReleaseStatus `dynamodbav:"status,omitempty"`
	Stage             string        `dynamodbav:"stage,omitempty"` // last pipeline stage reached
	ImageURI          string        `dynamodbav:"image_uri,omitempty"`
	ImageDigest       string        `dynamodbav:"image_digest,omitempty"`
	TaskDefinitionArn string        `dynamodbav:"task_definition_arn,omitempty"`
	MigrationsApplied int           `dynamodbav:"migrations_applied,omitempty"`
	ErrorMsg          *string       `dynamodbav:"error_msg,omitempty"`
	CreatedAt         int64         `dynamodbav:"created_at,omitempty"`   // Unix epoch timestamp of creation
	FinishedAt        *int64        `dynamodbav:"finished_at,omitempty"`  // Unix epoch timestamp of completion
	UpdatedAt         int64         `dynamodbav:"updated_at,omitempty"`            // Unix epoch timestamp of last update
}

// GetID returns the full release ID in format: {service}/{env}:{ksuid}
func (r *Record) GetID() ID {
	if r.ID != "" {
		return r.ID
	}
	return NewID(r.PK, r.SK)
}

// GetID is the free-function form used with slicex.Map
func GetID(r Record) ID {
	return r.GetID()
}

// CreateInput contains the fields needed to create a new release record
type CreateInput struct {
	Service  string // ECS service name
	Env      string // Environment (dev, staging, prod)
	SK       string // KSUID sort key
	Version  string // Release version / image tag
	Platform string // Target platform, e.g. linux/amd64
}

// UpdateInput contains the fields that can be updated on a release record
type UpdateInput struct {
	PK       PK             // Partition key (service/env)
	SK       string         // Sort key (KSUID)
	Status   *ReleaseStatus // New status
	Stage    *string        // Last stage reached
	ErrorMsg *string        // Error message (optional)
}

// DAO provides data access operations for release records
type DAO struct {
	db    *ddb.DDB
	table *ddb.Table
}

// New creates a new DAO instance
func New(client *dynamodb.Client, tableName string) *DAO {
	db := ddb.New(client)
	table := db.MustTable(tableName, &Record{})
	return &DAO{
		db:    db,
		table: table,
	}
}

// Create creates a new release record with initial status PENDING
func (d *DAO) Create(ctx context.Context, input CreateInput) (Record, error) {
	pk := NewPK(input.Service, input.Env)
	now := time.Now().Unix()

	record := Record{
		PK:        pk,
		SK:        input.SK,
		Service:   input.Service,
		Env:       input.Env,
		Version:   input.Version,
		Platform:  input.Platform,
		Status:    ReleaseStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := d.table.Put(&record).RunWithContext(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("failed to create release record: %w", err)
	}

	return record, nil
}

// Find retrieves a release record by ID
// Returns an error if not found or if there's a database error
func (d *DAO) Find(ctx context.Context, id ID) (Record, error) {
	pk, sk, err := ParseID(id)
	if err != nil {
		return Record{}, err
	}

	var record Record

	err = d.table.Get(pk.String()).
		Range(sk).
		ConsistentRead(true).
		ScanWithContext(ctx, &record)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "item not found") || strings.Contains(errStr, "ItemNotFound") {
			return Record{}, fmt.Errorf("release record not found: %s", id)
		}
		return Record{}, fmt.Errorf("failed to find release record: %w", err)
	}

	// If all fields are empty, item doesn't exist
	if record.PK == "" && record.SK == "" {
		return Record{}, fmt.Errorf("release record not found: %s", id)
	}

	return record, nil
}

// Delete removes a release record by ID
func (d *DAO) Delete(ctx context.Context, id ID) error {
	pk, sk, err := ParseID(id)
	if err != nil {
		return err
	}

	err = d.table.Delete(pk.String()).
		Range(sk).
		RunWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete release record: %w", err)
	}

	return nil
}

// UpdateStatus updates the status of a release record and creates/updates a "latest" magic record
// The latest record has pk=latest/{env} and sk={original pk} to enable efficient queries for latest releases
func (d *DAO) UpdateStatus(ctx context.Context, input UpdateInput) error {
	if input.Status == nil {
		return fmt.Errorf("status is required")
	}

	now := time.Now().Unix()

	update := d.table.Update(input.PK).
		Range(input.SK).
		Set("#Status = ?", string(*input.Status)).
		Set("#UpdatedAt = ?", now)

	// Set finishedAt for terminal states (SUCCESS or FAILED)
	if *input.Status == ReleaseStatusSuccess || *input.Status == ReleaseStatusFailed {
		update = update.Set("#FinishedAt = ?", now)
	}

	if input.Stage != nil {
		update = update.Set("#Stage = ?", *input.Stage)
	}

	if input.ErrorMsg != nil {
		update = update.Set("#ErrorMsg = ?", *input.ErrorMsg)
	}

	// Create/update the "latest" magic record
	// Parse env from PK (format: {service}/{env})
	service, env, err := ParsePK(input.PK)
	if err != nil {
		return fmt.Errorf("failed to parse PK: %w", err)
	}

	latestRecord := &Record{
		PK:        NewPK(latest, env),
		SK:        input.PK.String(), // SK in latest record = PK from original (service/env identifier)
		ID:        NewID(input.PK, input.SK),
		Service:   service,
		Env:       env,
		Status:    *input.Status,
		UpdatedAt: now,
	}

	put := d.table.Put(latestRecord)

	if _, err := d.db.TransactWriteItemsWithContext(ctx, update, put); err != nil {
		return err
	}

	return nil
}

// SetStage records the pipeline stage a release has reached
func (d *DAO) SetStage(ctx context.Context, pk PK, sk, stage string) error {
	err := d.table.Update(pk.String()).
		Range(sk).
		Set("#Stage = ?", stage).
		Set("#UpdatedAt = ?", time.Now().Unix()).
		RunWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to set stage: %w", err)
	}
	return nil
}

// RecordImage stores the published image reference and digest on the release
func (d *DAO) RecordImage(ctx context.Context, pk PK, sk, imageURI, digest string) error {
	update := d.table.Update(pk.String()).
		Range(sk).
		Set("#ImageURI = ?", imageURI).
		Set("#UpdatedAt = ?", time.Now().Unix())

	if digest != "" {
		update = update.Set("#ImageDigest = ?", digest)
	}

	if err := update.RunWithContext(ctx); err != nil {
		return fmt.Errorf("failed to record image: %w", err)
	}
	return nil
}

// RecordMigrations stores the number of migration scripts applied by the release
func (d *DAO) RecordMigrations(ctx context.Context, pk PK, sk string, applied int) error {
	err := d.table.Update(pk.String()).
		Range(sk).
		Set("#MigrationsApplied = ?", applied).
		Set("#UpdatedAt = ?", time.Now().Unix()).
		RunWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to record migrations: %w", err)
	}
	return nil
}

// RecordTaskDefinition stores the registered task definition revision on the release
func (d *DAO) RecordTaskDefinition(ctx context.Context, pk PK, sk, taskDefinitionArn string) error {
	err := d.table.Update(pk.String()).
		Range(sk).
		Set("#TaskDefinitionArn = ?", taskDefinitionArn).
		Set("#UpdatedAt = ?", time.Now().Unix()).
		RunWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to record task definition: %w", err)
	}
	return nil
}

// Query returns all releases for a given service/env partition key
func (d *DAO) Query(ctx context.Context, pk PK) ([]Record, error) {
	var records []Record

	err := d.table.Query("#PK = ?", pk.String()).
		FindAllWithContext(ctx, &records)
	if err != nil {
		return nil, fmt.Errorf("failed to query releases: %w", err)
	}

	return records, nil
}

// QueryByServiceEnv returns all releases for a given service and environment
func (d *DAO) QueryByServiceEnv(ctx context.Context, service, env string) ([]Record, error) {
	pk := NewPK(service, env)
	return d.Query(ctx, pk)
}

// QueryLatestReleases returns the latest release for each service in the given environment
// It queries the "latest" magic records where pk=latest/{env} and sk={service}/{env}
func (d *DAO) QueryLatestReleases(ctx context.Context, env string) ([]Record, error) {
	pk := NewPK(latest, env)
	var records []Record

	err := d.table.Query("#PK = ?", pk.String()).
		FindAllWithContext(ctx, &records)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest releases: %w", err)
	}

	// Sort by UpdatedAt descending (most recent first)
	for i := 0; i < len(records)-1; i++ {
		for j := i + 1; j < len(records); j++ {
			if records[j].UpdatedAt > records[i].UpdatedAt {
				records[i], records[j] = records[j], records[i]
			}
		}
	}

	ids := slicex.Map(records, GetID)

	// Load full release records for each ID
	releases := make([]Record, 0, len(ids))
	for _, id := range ids {
		record, err := d.Find(ctx, id)
		if err != nil {
			// Skip records that are not found (may have been deleted)
			continue
		}
		releases = append(releases, record)
	}

	return releases, nil
}
