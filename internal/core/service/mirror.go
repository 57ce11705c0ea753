package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yndnr/kvmirror/internal/core/domain"
)

// Store defines the storage interface the services run against.
//
// Get returns nil for an absent key. Set and Clear return only after the
// write is committed.
type Store interface {
	Get(ctx context.Context, partition, key string) ([]byte, error)
	Set(ctx context.Context, partition, key string, value []byte) error
	Clear(ctx context.Context, partition string) error
}

// Operation is a transaction method.
type Operation uint8

const (
	OpGet Operation = iota + 1
	OpSet
	OpClear
)

var operationNames = map[Operation]string{
	OpGet:   "get",
	OpSet:   "set",
	OpClear: "clear",
}

// String returns the wire name of the operation.
func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Operation(%d)", uint8(o))
}

// ParseOperation maps a wire method name to an Operation.
func ParseOperation(method string) (Operation, error) {
	for op, name := range operationNames {
		if name == method {
			return op, nil
		}
	}
	return 0, domain.ErrMalformedMessage.WithDetails(fmt.Sprintf("unknown method %q", method))
}

// Transaction is one mirrored data operation.
type Transaction struct {
	Op    Operation
	Key   string
	Value json.RawMessage // set only; empty means null
}

// jsonNull is the stored value of an absent or null record.
var jsonNull = json.RawMessage("null")

// MirrorService runs transactions against the data partition.
type MirrorService struct {
	store         Store
	dataPartition string
}

// NewMirrorService creates a new MirrorService.
func NewMirrorService(store Store, dataPartition string) *MirrorService {
	return &MirrorService{
		store:         store,
		dataPartition: dataPartition,
	}
}

// DataPartition returns the partition transactions operate on.
func (s *MirrorService) DataPartition() string {
	return s.dataPartition
}

// Execute runs tx and returns its JSON result:
//
//   - get: the stored value, or null when absent
//   - set: the key that was written
//   - clear: null
func (s *MirrorService) Execute(ctx context.Context, tx Transaction) (json.RawMessage, error) {
	if tx.Key == "" && tx.Op != OpClear {
		return nil, domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("%s requires a key", tx.Op))
	}

	switch tx.Op {
	case OpGet:
		return s.get(ctx, tx.Key)
	case OpSet:
		return s.set(ctx, tx.Key, tx.Value)
	case OpClear:
		return s.clear(ctx)
	default:
		return nil, domain.ErrMalformedMessage.WithDetails(fmt.Sprintf("unsupported operation %s", tx.Op))
	}
}

func (s *MirrorService) get(ctx context.Context, key string) (json.RawMessage, error) {
	value, err := s.store.Get(ctx, s.dataPartition, key)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return jsonNull, nil
	}
	return json.RawMessage(value), nil
}

func (s *MirrorService) set(ctx context.Context, key string, value json.RawMessage) (json.RawMessage, error) {
	if len(value) == 0 {
		value = jsonNull
	}
	if !json.Valid(value) {
		return nil, domain.ErrMalformedMessage.WithDetails("value is not valid JSON")
	}
	if err := s.store.Set(ctx, s.dataPartition, key, value); err != nil {
		return nil, err
	}
	return json.Marshal(key)
}

func (s *MirrorService) clear(ctx context.Context) (json.RawMessage, error) {
	if err := s.store.Clear(ctx, s.dataPartition); err != nil {
		return nil, err
	}
	return jsonNull, nil
}
