package constants

// IAM role names used by the deployment pipeline
const (
	// TaskExecutionRoleName is the name of the role ECS agents assume to pull
	// images from ECR and write container logs
	TaskExecutionRoleName = "GantryTaskExecutionRole"

	// TaskExecutionPolicyArn is the AWS managed policy attached to the
	// execution role
	TaskExecutionPolicyArn = "arn:aws:iam::aws:policy/service-role/AmazonECSTaskExecutionRolePolicy"
)
