package sqlstore

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rds"
)

// RDSDescriber is the subset of the RDS API used to find an instance endpoint.
type RDSDescriber interface {
	DescribeDBInstances(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
}

// NewRDSClient builds an RDS client from the default credential chain.
func NewRDSClient(ctx context.Context, region string) (*rds.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}
	return rds.NewFromConfig(cfg), nil
}

// ResolveRDSEndpoint returns the address and port of an RDS instance.
func ResolveRDSEndpoint(ctx context.Context, api RDSDescriber, instanceID string) (string, int, error) {
	out, err := api.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: aws.String(instanceID),
	})
	if err != nil {
		return "", 0, fmt.Errorf("describing RDS instance %s: %w", instanceID, err)
	}
	if len(out.DBInstances) == 0 {
		return "", 0, fmt.Errorf("RDS instance %s not found", instanceID)
	}
	endpoint := out.DBInstances[0].Endpoint
	if endpoint == nil || aws.ToString(endpoint.Address) == "" {
		return "", 0, fmt.Errorf("RDS instance %s has no endpoint yet (status %s)",
			instanceID, aws.ToString(out.DBInstances[0].DBInstanceStatus))
	}
	return aws.ToString(endpoint.Address), int(aws.ToInt32(endpoint.Port)), nil
}
