package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v4"
)

const (
	// maxBatchWrite is the BatchWriteItem request limit.
	maxBatchWrite = 25
	// maxBatchGet is the BatchGetItem request limit.
	maxBatchGet = 100

	maxBatchRetries = 8
)

// retryPolicy backs off between resubmissions of unprocessed requests.
func retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, maxBatchRetries), ctx)
}

// batchWrite sends requests in chunks of 25 and resubmits whatever DynamoDB
// reports as unprocessed until nothing is left or the retries run out.
func batchWrite(ctx context.Context, api API, table string, requests []types.WriteRequest) error {
	for start := 0; start < len(requests); start += maxBatchWrite {
		pending := requests[start:min(start+maxBatchWrite, len(requests))]
		op := func() error {
			out, err := api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{table: pending},
			})
			if err != nil {
				return backoff.Permanent(err)
			}
			pending = out.UnprocessedItems[table]
			if len(pending) > 0 {
				return fmt.Errorf("%d unprocessed write requests", len(pending))
			}
			return nil
		}
		if err := backoff.Retry(op, retryPolicy(ctx)); err != nil {
			return err
		}
	}
	return nil
}

// batchGet reads keys in chunks of 100, resubmitting unprocessed keys.
func batchGet(ctx context.Context, api API, table string, keys []Item, projection *string, names map[string]string) ([]Item, error) {
	var items []Item
	for start := 0; start < len(keys); start += maxBatchGet {
		pending := &types.KeysAndAttributes{
			Keys:                     keys[start:min(start+maxBatchGet, len(keys))],
			ProjectionExpression:     projection,
			ExpressionAttributeNames: names,
		}
		op := func() error {
			out, err := api.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
				RequestItems: map[string]types.KeysAndAttributes{table: *pending},
			})
			if err != nil {
				return backoff.Permanent(err)
			}
			items = append(items, out.Responses[table]...)
			next, ok := out.UnprocessedKeys[table]
			if !ok || len(next.Keys) == 0 {
				return nil
			}
			pending = &next
			return fmt.Errorf("%d unprocessed keys", len(next.Keys))
		}
		if err := backoff.Retry(op, retryPolicy(ctx)); err != nil {
			return nil, err
		}
	}
	return items, nil
}
