package utils

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"
)

func TestMergeEnvironment(t *testing.T) {
	tests := []struct {
		name   string
		inputs []map[string]string
		want   []types.KeyValuePair
	}{
		{
			name: "single map",
			inputs: []map[string]string{
				{"APP_DOMAIN": "example.com", "APP_ENV": "dev"},
			},
			want: []types.KeyValuePair{
				{Name: aws.String("APP_DOMAIN"), Value: aws.String("example.com")},
				{Name: aws.String("APP_ENV"), Value: aws.String("dev")},
			},
		},
		{
			name: "merge two maps - override wins",
			inputs: []map[string]string{
				{"APP_ENV": "dev", "DB_HOST": "db.internal"},
				{"APP_ENV": "prod", "APP_PORT": "8080"},
			},
			want: []types.KeyValuePair{
				{Name: aws.String("APP_ENV"), Value: aws.String("prod")},
				{Name: aws.String("APP_PORT"), Value: aws.String("8080")},
				{Name: aws.String("DB_HOST"), Value: aws.String("db.internal")},
			},
		},
		{
			name:   "empty maps",
			inputs: []map[string]string{},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeEnvironment(tt.inputs...)

			if len(got) != len(tt.want) {
				t.Errorf("MergeEnvironment() length = %v, want %v", len(got), len(tt.want))
				return
			}

			// Order is deterministic (sorted by name)
			for i := range got {
				if aws.ToString(got[i].Name) != aws.ToString(tt.want[i].Name) {
					t.Errorf("MergeEnvironment()[%d].Name = %v, want %v", i, aws.ToString(got[i].Name), aws.ToString(tt.want[i].Name))
				}
				if aws.ToString(got[i].Value) != aws.ToString(tt.want[i].Value) {
					t.Errorf("MergeEnvironment()[%d].Value = %v, want %v", i, aws.ToString(got[i].Value), aws.ToString(tt.want[i].Value))
				}
			}
		})
	}
}

func TestMergeSecrets(t *testing.T) {
	got := MergeSecrets(
		map[string]string{"DB_PASSWORD": "arn:aws:secretsmanager:us-east-1:123456789012:secret:a"},
		map[string]string{"DB_PASSWORD": "arn:aws:secretsmanager:us-east-1:123456789012:secret:b"},
	)

	if len(got) != 1 {
		t.Fatalf("MergeSecrets() length = %v, want 1", len(got))
	}
	if aws.ToString(got[0].Name) != "DB_PASSWORD" {
		t.Errorf("MergeSecrets()[0].Name = %v, want DB_PASSWORD", aws.ToString(got[0].Name))
	}
	if aws.ToString(got[0].ValueFrom) != "arn:aws:secretsmanager:us-east-1:123456789012:secret:b" {
		t.Errorf("MergeSecrets()[0].ValueFrom = %v, later map should win", aws.ToString(got[0].ValueFrom))
	}
}
