// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package credential

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Key prefixes for the single-table layout.
const (
	dynamoPKPrefix       = "USER#"
	dynamoSKPrefix       = "INTEGRATION#"
	dynamoIntegrationGSI = "integration-index"
)

// DynamoDBClient is the subset of the DynamoDB API the store uses.
type DynamoDBClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoConfig configures the DynamoDB credential store.
type DynamoConfig struct {
	Table  string
	Region string

	// Endpoint overrides the service endpoint (e.g. DynamoDB Local).
	Endpoint string
}

// DynamoStore stores credentials in a DynamoDB table keyed by
// pk=USER#<user>, sk=INTEGRATION#<integration>, with a GSI on integration.
// Every write is a single UpdateItem touching only the patched attributes.
type DynamoStore struct {
	ddb   DynamoDBClient
	table string
	now   func() time.Time
}

type dynamoItem struct {
	PK           string `dynamodbav:"pk"`
	SK           string `dynamodbav:"sk"`
	UserID       string `dynamodbav:"userId"`
	Integration  string `dynamodbav:"integration"`
	AccessToken  string `dynamodbav:"accessToken"`
	RefreshToken string `dynamodbav:"refreshToken"`
	ExpiresAt    *int64 `dynamodbav:"expiresAt"`
	Cursor       string `dynamodbav:"cursor"`
	CreatedAt    int64  `dynamodbav:"createdAt"`
	UpdatedAt    int64  `dynamodbav:"updatedAt"`
}

// NewDynamoStore creates a store using the default AWS credential chain.
func NewDynamoStore(ctx context.Context, cfg DynamoConfig) (*DynamoStore, error) {
	if cfg.Table == "" {
		return nil, errors.New("dynamodb table is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewDynamoStoreWithClient(client, cfg.Table), nil
}

// NewDynamoStoreWithClient creates a store over an existing client.
func NewDynamoStoreWithClient(client DynamoDBClient, table string) *DynamoStore {
	return &DynamoStore{ddb: client, table: table, now: time.Now}
}

func dynamoKey(userID, integration string) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMap(map[string]string{
		"pk": dynamoPKPrefix + userID,
		"sk": dynamoSKPrefix + integration,
	})
}

// Get implements Store.
func (d *DynamoStore) Get(ctx context.Context, userID, integration string) (*Credential, error) {
	key, err := dynamoKey(userID, integration)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key: %w", err)
	}

	out, err := d.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return unmarshalDynamoItem(out.Item)
}

// Upsert implements Store.
func (d *DynamoStore) Upsert(ctx context.Context, userID, integration string, patch Patch) (*Credential, error) {
	key, err := dynamoKey(userID, integration)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key: %w", err)
	}
	now := d.now().UTC().UnixMilli()

	update := expression.Set(expression.Name("updatedAt"), expression.Value(now))
	if patch.AccessToken != nil {
		update = update.
			Set(expression.Name("accessToken"), expression.Value(*patch.AccessToken)).
			Set(expression.Name("userId"), expression.Value(userID)).
			Set(expression.Name("integration"), expression.Value(integration)).
			Set(expression.Name("createdAt"),
				expression.IfNotExists(expression.Name("createdAt"), expression.Value(now)))
	}
	if patch.RefreshToken != nil {
		update = update.Set(expression.Name("refreshToken"), expression.Value(*patch.RefreshToken))
	}
	if patch.ExpiresAt != nil {
		update = update.Set(expression.Name("expiresAt"), expression.Value(patch.ExpiresAt.UnixMilli()))
	} else if patch.ClearExpiry {
		update = update.Remove(expression.Name("expiresAt"))
	}
	if patch.Cursor != nil {
		update = update.Set(expression.Name("cursor"), expression.Value(*patch.Cursor))
	}

	builder := expression.NewBuilder().WithUpdate(update)
	if patch.AccessToken == nil {
		builder = builder.WithCondition(expression.AttributeExists(expression.Name("pk")))
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build update expression: %w", err)
	}

	out, err := d.ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.table),
		Key:                       key,
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update credential: %w", err)
	}
	return unmarshalDynamoItem(out.Attributes)
}

// Delete implements Store.
func (d *DynamoStore) Delete(ctx context.Context, userID, integration string) error {
	key, err := dynamoKey(userID, integration)
	if err != nil {
		return fmt.Errorf("failed to marshal key: %w", err)
	}
	if _, err := d.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key:       key,
	}); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// ListUsers implements Store using the integration GSI.
func (d *DynamoStore) ListUsers(ctx context.Context, integration string) ([]string, error) {
	keyCond := expression.Key("integration").Equal(expression.Value(integration))
	proj := expression.NamesList(expression.Name("userId"))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).WithProjection(proj).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build query expression: %w", err)
	}

	paginator := dynamodb.NewQueryPaginator(d.ddb, &dynamodb.QueryInput{
		TableName:                 aws.String(d.table),
		IndexName:                 aws.String(dynamoIntegrationGSI),
		KeyConditionExpression:    expr.KeyCondition(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})

	var users []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list users: %w", err)
		}
		for _, item := range page.Items {
			var row struct {
				UserID string `dynamodbav:"userId"`
			}
			if err := attributevalue.UnmarshalMap(item, &row); err != nil {
				return nil, fmt.Errorf("failed to unmarshal user: %w", err)
			}
			users = append(users, row.UserID)
		}
	}
	sort.Strings(users)
	return users, nil
}

// Close implements Store.
func (d *DynamoStore) Close() error { return nil }

func unmarshalDynamoItem(av map[string]types.AttributeValue) (*Credential, error) {
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	c := &Credential{
		UserID:       item.UserID,
		Integration:  item.Integration,
		AccessToken:  item.AccessToken,
		RefreshToken: item.RefreshToken,
		Cursor:       item.Cursor,
		CreatedAt:    time.UnixMilli(item.CreatedAt).UTC(),
		UpdatedAt:    time.UnixMilli(item.UpdatedAt).UTC(),
	}
	if item.ExpiresAt != nil {
		exp := time.UnixMilli(*item.ExpiresAt).UTC()
		c.ExpiresAt = &exp
	}
	return c, nil
}
