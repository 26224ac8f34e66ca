package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ValidateSchema checks that the configured table matches the layout this
// package expects: an active table with a composite pk/sk primary key and
// the GSI1 owner index keyed on gsi1pk/gsi1sk with full projection. It never
// creates or alters the table.
func (c *Client) ValidateSchema(ctx context.Context) error {
	out, err := c.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(c.tableName),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return fmt.Errorf("repository: table %s does not exist", c.tableName)
		}
		return fmt.Errorf("repository: describe table %s: %w", c.tableName, err)
	}

	table := out.Table
	if table == nil || len(table.KeySchema) == 0 {
		return fmt.Errorf("repository: table %s has no key schema", c.tableName)
	}
	if got := aws.ToString(table.KeySchema[0].AttributeName); got != attrPK {
		return fmt.Errorf("repository: table %s has partition key %s, expected %s", c.tableName, got, attrPK)
	}
	if len(table.KeySchema) < 2 {
		return fmt.Errorf("repository: table %s has a simple primary key, expected composite", c.tableName)
	}
	if got := aws.ToString(table.KeySchema[1].AttributeName); got != attrSK {
		return fmt.Errorf("repository: table %s has sort key %s, expected %s", c.tableName, got, attrSK)
	}
	if table.TableStatus != types.TableStatusActive {
		return fmt.Errorf("repository: table %s is not active (status: %s)", c.tableName, table.TableStatus)
	}

	return c.verifyOwnerIndex(table)
}

// verifyOwnerIndex checks GSI1. GetAllChatsForUser reads full chat items
// from the index, so the projection must be ALL.
func (c *Client) verifyOwnerIndex(table *types.TableDescription) error {
	for _, index := range table.GlobalSecondaryIndexes {
		if aws.ToString(index.IndexName) != gsi1Name {
			continue
		}
		if len(index.KeySchema) != 2 {
			return fmt.Errorf("repository: index %s has a simple key, expected composite", gsi1Name)
		}
		if got := aws.ToString(index.KeySchema[0].AttributeName); got != attrGSI1PK {
			return fmt.Errorf("repository: index %s has partition key %s, expected %s", gsi1Name, got, attrGSI1PK)
		}
		if got := aws.ToString(index.KeySchema[1].AttributeName); got != attrGSI1SK {
			return fmt.Errorf("repository: index %s has sort key %s, expected %s", gsi1Name, got, attrGSI1SK)
		}
		if index.IndexStatus != types.IndexStatusActive {
			return fmt.Errorf("repository: index %s is not active (status: %s)", gsi1Name, index.IndexStatus)
		}
		if index.Projection == nil || index.Projection.ProjectionType != types.ProjectionTypeAll {
			return fmt.Errorf("repository: index %s must project all attributes", gsi1Name)
		}
		return nil
	}
	return fmt.Errorf("repository: index %s not found on table %s", gsi1Name, c.tableName)
}
