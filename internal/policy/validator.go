// Package policy gates deployments on an embedded rego policy. The rendered
// task definition is checked before it is submitted, turning operational
// lessons (unpinned tags, images built without explicit platform metadata)
// into machine-enforced rules.
package policy

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"

	"github.com/quayops/gantry/internal/models"
)

//go:embed taskdef.rego
var policyContent string

type Validator struct {
	prepared rego.PreparedEvalQuery
}

type ValidationResult struct {
	Allowed    bool     `json:"allowed"`
	Violations []string `json:"violations,omitempty"`
}

// TaskDefInput is the policy's view of a rendered task definition.
type TaskDefInput struct {
	Family        string
	Image         string
	ImageTag      string
	Platform      *models.RuntimePlatform
	BuiltPlatform *models.RuntimePlatform // platform the image was built for, when known
	LogGroup      string
}

// NewTaskDefInput derives the policy input from a task spec, the image URI the
// deploy will reference, and the platform the image was built for. Pass an
// empty builtPlatform when the build platform is not known (deploying a
// pre-existing image); the policy then only checks the spec's own platform.
func NewTaskDefInput(spec *models.TaskSpec, imageURI, builtPlatform string) TaskDefInput {
	input := TaskDefInput{
		Family:   spec.Family,
		Image:    imageURI,
		ImageTag: imageTag(imageURI),
		LogGroup: spec.Container.LogGroup,
	}

	if platform, err := models.ParsePlatform(spec.Platform); err == nil {
		input.Platform = &platform
	}
	if platform, err := models.ParsePlatform(builtPlatform); err == nil {
		input.BuiltPlatform = &platform
	}

	return input
}

// imageTag extracts the tag from an image reference, empty for digest pins.
func imageTag(imageURI string) string {
	if strings.Contains(imageURI, "@") {
		return ""
	}
	i := strings.LastIndex(imageURI, ":")
	if i < 0 || strings.Contains(imageURI[i:], "/") {
		return ""
	}
	return imageURI[i+1:]
}

func NewValidator() (*Validator, error) {
	query, err := rego.New(
		rego.Query("data.taskdef.allow"),
		rego.Module("taskdef.rego", policyContent),
	).PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy query: %w", err)
	}

	return &Validator{
		prepared: query,
	}, nil
}

// ValidateTaskDefinition evaluates the deployment policy against a rendered
// task definition for the given environment and service.
func (v *Validator) ValidateTaskDefinition(taskDef TaskDefInput, env, service string) (*ValidationResult, error) {
	ctx := context.Background()

	input := map[string]interface{}{
		"family":    taskDef.Family,
		"image":     taskDef.Image,
		"log_group": taskDef.LogGroup,
	}
	if taskDef.ImageTag != "" {
		input["image_tag"] = taskDef.ImageTag
	}
	if taskDef.Platform != nil {
		input["runtime_platform"] = map[string]interface{}{
			"os":   taskDef.Platform.OS,
			"arch": taskDef.Platform.Arch,
		}
	}
	if taskDef.BuiltPlatform != nil {
		input["built_platform"] = map[string]interface{}{
			"os":   taskDef.BuiltPlatform.OS,
			"arch": taskDef.BuiltPlatform.Arch,
		}
	}

	data := map[string]interface{}{
		"env":     env,
		"service": service,
	}

	store := inmem.NewFromObject(data)

	query, err := rego.New(
		rego.Query("data.taskdef.allow"),
		rego.Module("taskdef.rego", policyContent),
		rego.Store(store),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy query with data: %w", err)
	}

	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 {
		return &ValidationResult{
			Allowed:    false,
			Violations: []string{"policy evaluation returned no results"},
		}, nil
	}

	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return &ValidationResult{
			Allowed:    false,
			Violations: []string{"policy evaluation returned non-boolean result"},
		}, nil
	}

	result := &ValidationResult{
		Allowed: allowed,
	}

	if !allowed {
		violations, err := v.getViolations(ctx, input, data)
		if err != nil {
			return nil, fmt.Errorf("failed to get violations: %w", err)
		}
		result.Violations = violations
	}

	return result, nil
}

func (v *Validator) getViolations(ctx context.Context, input, data map[string]interface{}) ([]string, error) {
	store := inmem.NewFromObject(data)

	violationQuery, err := rego.New(
		rego.Query("data.taskdef.violations"),
		rego.Module("taskdef.rego", policyContent),
		rego.Store(store),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare violations query: %w", err)
	}

	results, err := violationQuery.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate violations: %w", err)
	}

	if len(results) == 0 {
		return []string{"unknown policy violation"}, nil
	}

	violationsInterface := results[0].Expressions[0].Value
	if violationsInterface == nil {
		return []string{"unknown policy violation"}, nil
	}

	var violations []string
	switch v := violationsInterface.(type) {
	case []interface{}:
		for _, violation := range v {
			if str, ok := violation.(string); ok {
				violations = append(violations, str)
			}
		}
	case map[string]interface{}:
		// Handle set type from Rego
		for violation := range v {
			violations = append(violations, violation)
		}
	}

	if len(violations) == 0 {
		return []string{"policy validation failed but no specific violations found"}, nil
	}

	return violations, nil
}
