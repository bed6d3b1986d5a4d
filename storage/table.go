package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
)

const (
	// boardRowKey is the row holding a board record inside its partition.
	boardRowKey = "board"
	// chunkUnits keeps each string property under the 64 KiB (32K UTF-16
	// units) Azure Table limit.
	chunkUnits = 30000
	// maxChunks keeps a save, stale chunk deletes included, inside one entity
	// group transaction (100 actions, 4 MiB payload).
	maxChunks = 40
)

// ErrValueTooLarge is returned when a board does not fit in one transaction.
var ErrValueTooLarge = errors.New("value too large for table storage")

type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, options *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
}

// Table persists board records in an Azure Storage table, one partition per
// key. Small values live inline on the board row. Larger ones are split over
// chunk rows written in the same transaction as the board row.
type Table struct {
	client tableClient
}

type boardEntity struct {
	aztables.Entity
	Value  string `json:"Value"`
	Chunks int    `json:"Chunks"`
}

type chunkEntity struct {
	aztables.Entity
	Value string `json:"Value"`
}

// NewTable creates a Table client from the given connection string.
func NewTable(connStr, tableName string) (*Table, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Table{client: svc.NewClient(tableName)}, nil
}

func chunkRowKey(i int) string {
	return fmt.Sprintf("%s-%04d", boardRowKey, i)
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

func (t *Table) head(ctx context.Context, key string) (boardEntity, bool, error) {
	resp, err := t.client.GetEntity(ctx, key, boardRowKey, nil)
	if err != nil {
		if isNotFound(err) {
			return boardEntity{}, false, nil
		}
		return boardEntity{}, false, err
	}
	var ent boardEntity
	if err := sonic.ConfigStd.Unmarshal(resp.Value, &ent); err != nil {
		return boardEntity{}, false, err
	}
	return ent, true, nil
}

func (t *Table) Get(ctx context.Context, key string) (string, bool, error) {
	head, ok, err := t.head(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	if head.Chunks == 0 {
		return head.Value, true, nil
	}
	var b strings.Builder
	for i := 0; i < head.Chunks; i++ {
		resp, err := t.client.GetEntity(ctx, key, chunkRowKey(i), nil)
		if err != nil {
			return "", false, fmt.Errorf("read %s chunk %d: %w", key, i, err)
		}
		var chunk chunkEntity
		if err := sonic.ConfigStd.Unmarshal(resp.Value, &chunk); err != nil {
			return "", false, err
		}
		b.WriteString(chunk.Value)
	}
	return b.String(), true, nil
}

func (t *Table) Set(ctx context.Context, key, value string) error {
	prev, _, err := t.head(ctx, key)
	if err != nil {
		return err
	}

	parts := splitUTF16(value, chunkUnits)
	if len(parts) > maxChunks {
		return fmt.Errorf("board %s: %w", key, ErrValueTooLarge)
	}

	head := boardEntity{Entity: aztables.Entity{PartitionKey: key, RowKey: boardRowKey}}
	var actions []aztables.TransactionAction
	if len(parts) <= 1 {
		head.Value = value
	} else {
		head.Chunks = len(parts)
		for i, part := range parts {
			payload, err := sonic.ConfigStd.Marshal(chunkEntity{
				Entity: aztables.Entity{PartitionKey: key, RowKey: chunkRowKey(i)},
				Value:  part,
			})
			if err != nil {
				return err
			}
			actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeInsertReplace, Entity: payload})
		}
	}
	for i := head.Chunks; i < prev.Chunks; i++ {
		payload, err := sonic.ConfigStd.Marshal(aztables.Entity{PartitionKey: key, RowKey: chunkRowKey(i)})
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeDelete, Entity: payload})
	}
	payload, err := sonic.ConfigStd.Marshal(head)
	if err != nil {
		return err
	}
	actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeInsertReplace, Entity: payload})

	_, err = t.client.SubmitTransaction(ctx, actions, nil)
	return err
}

// splitUTF16 cuts s at rune boundaries into parts of at most limit UTF-16
// code units, the unit Azure Table uses to size string properties.
func splitUTF16(s string, limit int) []string {
	if s == "" {
		return []string{""}
	}
	var parts []string
	start, units := 0, 0
	for i, r := range s {
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		if units+n > limit {
			parts = append(parts, s[start:i])
			start, units = i, 0
		}
		units += n
	}
	return append(parts, s[start:])
}
