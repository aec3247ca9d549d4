package migrate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Script is one SQL migration. Scripts apply in lexical name order, so files
// are expected to carry an ordered prefix (0001_init.sql, 0002_users.sql, ...).
type Script struct {
	Name     string
	SQL      string
	Checksum string // hex-encoded sha256 of the script body
}

// Source yields the ordered migration script set.
type Source interface {
	Load(ctx context.Context) ([]Script, error)
}

// DirSource reads *.sql files from a local directory.
type DirSource struct {
	Dir string
}

func (s DirSource) Load(ctx context.Context) ([]Script, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory %s: %w", s.Dir, err)
	}

	var scripts []Script
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.Dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}

		scripts = append(scripts, newScript(entry.Name(), data))
	}

	sortScripts(scripts)
	return scripts, nil
}

// S3Client is the slice of the S3 API the source needs.
type S3Client interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source downloads *.sql objects under a bucket prefix.
type S3Source struct {
	Client S3Client
	Bucket string
	Prefix string
}

func (s S3Source) Load(ctx context.Context) ([]Script, error) {
	prefix := strings.TrimSuffix(s.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	var scripts []Script
	var continuation *string
	for {
		output, err := s.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list migrations in s3://%s/%s: %w", s.Bucket, prefix, err)
		}

		for _, obj := range output.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".sql") {
				continue
			}

			body, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(s.Bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				return nil, fmt.Errorf("failed to download migration %s: %w", key, err)
			}

			data, err := io.ReadAll(body.Body)
			body.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to read migration %s: %w", key, err)
			}

			scripts = append(scripts, newScript(strings.TrimPrefix(key, prefix), data))
		}

		if output.IsTruncated == nil || !*output.IsTruncated {
			break
		}
		continuation = output.NextContinuationToken
	}

	sortScripts(scripts)
	return scripts, nil
}

// NewSource builds a source from a location string: either a local directory
// or an s3://bucket/prefix URL.
func NewSource(location string, s3Client S3Client) (Source, error) {
	if strings.HasPrefix(location, "s3://") {
		rest := strings.TrimPrefix(location, "s3://")
		parts := strings.SplitN(rest, "/", 2)
		if parts[0] == "" {
			return nil, fmt.Errorf("invalid migrations location %q (expected s3://bucket/prefix)", location)
		}
		src := S3Source{Client: s3Client, Bucket: parts[0]}
		if len(parts) == 2 {
			src.Prefix = parts[1]
		}
		if s3Client == nil {
			return nil, fmt.Errorf("s3 migrations location %q requires an S3 client", location)
		}
		return src, nil
	}

	return DirSource{Dir: location}, nil
}

func newScript(name string, data []byte) Script {
	return Script{
		Name:     name,
		SQL:      string(data),
		Checksum: ChecksumOf(string(data)),
	}
}

// ChecksumOf returns the hex sha256 of a script body.
func ChecksumOf(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])
}

func sortScripts(scripts []Script) {
	sort.Slice(scripts, func(i, j int) bool {
		return scripts[i].Name < scripts[j].Name
	})
}
