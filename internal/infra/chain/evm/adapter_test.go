package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/blockmon/internal/core/domain"
)

const testHash = "0x88e96d4537bea4d9c05d12549907b32561d3bf31f45aae734cdc119f13406cb6"

// MockProvider implements Caller for testing
type MockProvider struct {
	CallFunc func(ctx context.Context, method string, params []any) (json.RawMessage, error)
}

func (m *MockProvider) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if m.CallFunc != nil {
		return m.CallFunc(ctx, method, params)
	}
	return nil, nil
}

func (m *MockProvider) GetName() string { return "mock" }

func TestEVMAdapter_FetchLatest(t *testing.T) {
	mock := &MockProvider{
		CallFunc: func(ctx context.Context, method string, params []any) (json.RawMessage, error) {
			if method != "eth_getBlockByNumber" {
				t.Errorf("unexpected method %s", method)
			}
			if params[0] != "latest" || params[1] != false {
				t.Errorf("unexpected params %v", params)
			}
			return json.RawMessage(`{
				"number": "0x12d687",
				"hash": "` + testHash + `",
				"parentHash": "0xabc122",
				"timestamp": "0x65678900",
				"transactions": ["0xtx1", "0xtx2"]
			}`), nil
		},
	}

	adapter := NewEVMAdapter(mock)
	block, err := adapter.FetchLatest(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if block.Number != 1234567 {
		t.Errorf("expected block number 1234567, got %d", block.Number)
	}
	if block.Hash != common.HexToHash(testHash) {
		t.Errorf("unexpected block hash: %s", block.Hash)
	}
	if block.Timestamp != 0x65678900 {
		t.Errorf("unexpected timestamp: %d", block.Timestamp)
	}
}

func TestEVMAdapter_FetchByNumber(t *testing.T) {
	var gotTag any
	mock := &MockProvider{
		CallFunc: func(ctx context.Context, method string, params []any) (json.RawMessage, error) {
			gotTag = params[0]
			return nil, nil
		},
	}

	block, err := NewEVMAdapter(mock).FetchByNumber(context.Background(), 255)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if block != nil {
		t.Errorf("expected nil block for missing height, got %+v", block)
	}
	if gotTag != "0xff" {
		t.Errorf("expected tag 0xff, got %v", gotTag)
	}
}

func TestEVMAdapter_KeepsProviderClassification(t *testing.T) {
	throttled := domain.NewProviderError("http", "eth_getBlockByNumber", errors.New("rate limited"))
	throttled.Type = domain.FailureTypeThrottled
	mock := &MockProvider{
		CallFunc: func(ctx context.Context, method string, params []any) (json.RawMessage, error) {
			return nil, throttled
		},
	}

	_, err := NewEVMAdapter(mock).FetchLatest(context.Background())

	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe != throttled {
		t.Errorf("expected provider error to pass through unchanged, got %+v", pe)
	}
}

func TestEVMAdapter_ProviderError(t *testing.T) {
	mock := &MockProvider{
		CallFunc: func(ctx context.Context, method string, params []any) (json.RawMessage, error) {
			return nil, errors.New("connection refused")
		},
	}

	_, err := NewEVMAdapter(mock).FetchLatest(context.Background())

	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.Type != domain.FailureTypeRPC || pe.Provider != "mock" {
		t.Errorf("unexpected provider error: %+v", pe)
	}
}

func TestEVMAdapter_MalformedBlock(t *testing.T) {
	tests := []struct {
		name   string
		result string
	}{
		{"not an object", `"0x1"`},
		{"missing number", `{"hash":"` + testHash + `","timestamp":"0x1"}`},
		{"missing timestamp", `{"number":"0x1","hash":"` + testHash + `"}`},
		{"bad timestamp", `{"number":"0x1","hash":"` + testHash + `","timestamp":"12"}`},
		{"short hash", `{"number":"0x1","hash":"0xabc","timestamp":"0x1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockProvider{
				CallFunc: func(ctx context.Context, method string, params []any) (json.RawMessage, error) {
					return json.RawMessage(tt.result), nil
				},
			}

			_, err := NewEVMAdapter(mock).FetchLatest(context.Background())

			var pe *domain.ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("expected ProviderError, got %v", err)
			}
			if pe.Type != domain.FailureTypeParsing {
				t.Errorf("expected parsing failure, got %s", pe.Type)
			}
		})
	}
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		input    string
		expected uint64
	}{
		{"0x0", 0},
		{"0x1", 1},
		{"0xa", 10},
		{"0xff", 255},
		{"0x12d687", 1234567},
	}

	for _, tt := range tests {
		raw := fmt.Sprintf(`{"number":%q,"hash":%q,"timestamp":"0x0"}`, tt.input, testHash)
		block, err := ParseHeader(json.RawMessage(raw))
		if err != nil {
			t.Errorf("unexpected error for %s: %v", tt.input, err)
			continue
		}
		if block.Number != tt.expected {
			t.Errorf("for %s: expected %d, got %d", tt.input, tt.expected, block.Number)
		}
	}
}
