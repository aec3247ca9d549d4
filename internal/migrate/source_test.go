package migrate

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string]string // key -> body
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var contents []s3types.Object
	for key := range f.objects {
		contents = append(contents, s3types.Object{Key: aws.String(key)})
	}
	return &s3.ListObjectsV2Output{
		Contents:    contents,
		IsTruncated: aws.Bool(false),
	}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body := f.objects[aws.ToString(params.Key)]
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader([]byte(body))),
	}, nil
}

func TestS3Source_Load(t *testing.T) {
	client := &fakeS3{
		objects: map[string]string{
			"migrations/0002_users.sql": "CREATE TABLE users ()",
			"migrations/0001_init.sql":  "CREATE SCHEMA app",
			"migrations/notes.txt":      "ignored",
		},
	}

	scripts, err := S3Source{Client: client, Bucket: "artifacts", Prefix: "migrations"}.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, scripts, 2)

	assert.Equal(t, "0001_init.sql", scripts[0].Name)
	assert.Equal(t, "CREATE SCHEMA app", scripts[0].SQL)
	assert.Equal(t, "0002_users.sql", scripts[1].Name)
	assert.Equal(t, ChecksumOf("CREATE TABLE users ()"), scripts[1].Checksum)
}

func TestNewSource_S3(t *testing.T) {
	client := &fakeS3{objects: map[string]string{}}

	src, err := NewSource("s3://artifacts/migrations", client)
	require.NoError(t, err)

	s3src, ok := src.(S3Source)
	require.True(t, ok)
	assert.Equal(t, "artifacts", s3src.Bucket)
	assert.Equal(t, "migrations", s3src.Prefix)
}
