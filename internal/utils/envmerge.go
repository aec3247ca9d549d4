package utils

import (
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"
)

// MergeEnvironment merges multiple environment maps with later maps having
// higher precedence. Returns a deterministically ordered ECS environment list.
func MergeEnvironment(ee ...map[string]string) []types.KeyValuePair {
	m := map[string]string{}
	for _, e := range ee {
		maps.Copy(m, e)
	}

	var results []types.KeyValuePair
	for _, k := range slices.Sorted(maps.Keys(m)) {
		v := m[k]
		results = append(results, types.KeyValuePair{
			Name:  aws.String(k),
			Value: aws.String(v),
		})
	}

	return results
}

// MergeSecrets merges secret maps (env var name to secret ARN) with later maps
// having higher precedence, returning a deterministically ordered ECS secret list.
func MergeSecrets(ss ...map[string]string) []types.Secret {
	m := map[string]string{}
	for _, s := range ss {
		maps.Copy(m, s)
	}

	var results []types.Secret
	for _, k := range slices.Sorted(maps.Keys(m)) {
		v := m[k]
		results = append(results, types.Secret{
			Name:      aws.String(k),
			ValueFrom: aws.String(v),
		})
	}

	return results
}
