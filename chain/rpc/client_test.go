package rpc

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quantfall/arbengine/chain"
	"github.com/quantfall/arbengine/types"
)

// rpcServer answers JSON-RPC requests with a scripted handler per method.
type rpcServer struct {
	*httptest.Server
	handlers map[string]func(params []json.RawMessage) (any, *rpcError)
	calls    atomic.Int64
}

func newRPCServer(t *testing.T) *rpcServer {
	t.Helper()
	s := &rpcServer{handlers: map[string]func([]json.RawMessage) (any, *rpcError){}}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)

		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		handler, ok := s.handlers[req.Method]
		if !ok {
			t.Errorf("unexpected method %q", req.Method)
			return
		}

		result, rpcErr := handler(req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = map[string]any{"code": rpcErr.Code, "message": rpcErr.Message}
		} else {
			resp["result"] = result
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestClient(t *testing.T, s *rpcServer) *Client {
	t.Helper()
	return NewClient(s.URL, "", Options{MaxRetries: 0}, zaptest.NewLogger(t))
}

func TestSubmitTransaction(t *testing.T) {
	server := newRPCServer(t)
	server.handlers["sendTransaction"] = func(params []json.RawMessage) (any, *rpcError) {
		var encoded string
		require.NoError(t, json.Unmarshal(params[0], &encoded))
		raw, err := base64.StdEncoding.DecodeString(encoded)
		require.NoError(t, err)
		assert.Equal(t, []byte("signed-bundle"), raw)
		return "5ig", nil
	}

	client := newTestClient(t, server)
	sig, err := client.SubmitTransaction(context.Background(), []byte("signed-bundle"))
	require.NoError(t, err)
	assert.Equal(t, "5ig", sig)
}

func TestSubmitTransactionRPCErrorNotRetried(t *testing.T) {
	server := newRPCServer(t)
	server.handlers["sendTransaction"] = func([]json.RawMessage) (any, *rpcError) {
		return nil, &rpcError{Code: -32002, Message: "blockhash not found"}
	}

	client := NewClient(server.URL, "", Options{MaxRetries: 3}, zaptest.NewLogger(t))
	_, err := client.SubmitTransaction(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blockhash not found")
	assert.Equal(t, int64(1), server.calls.Load(), "node rejections are definitive")
}

func TestTransactionStatus(t *testing.T) {
	cases := []struct {
		name  string
		value any
		want  chain.StatusInfo
	}{
		{
			name:  "Confirmed",
			value: []any{map[string]any{"slot": 42, "confirmationStatus": "confirmed"}},
			want:  chain.StatusInfo{Status: chain.StatusConfirmed, Slot: 42},
		},
		{
			name:  "Finalized",
			value: []any{map[string]any{"slot": 43, "confirmationStatus": "finalized"}},
			want:  chain.StatusInfo{Status: chain.StatusConfirmed, Slot: 43},
		},
		{
			name:  "Processed",
			value: []any{map[string]any{"slot": 44, "confirmationStatus": "processed"}},
			want:  chain.StatusInfo{Status: chain.StatusPending, Slot: 44},
		},
		{
			name:  "Failed",
			value: []any{map[string]any{"slot": 45, "err": map[string]any{"InstructionError": []any{5, "Custom"}}}},
			want:  chain.StatusInfo{Status: chain.StatusFailed, Slot: 45},
		},
		{
			name:  "NotFound",
			value: []any{nil},
			want:  chain.StatusInfo{Status: chain.StatusNotFound},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := newRPCServer(t)
			server.handlers["getSignatureStatuses"] = func([]json.RawMessage) (any, *rpcError) {
				return map[string]any{"value": tc.value}, nil
			}

			info, err := newTestClient(t, server).TransactionStatus(context.Background(), "5ig")
			require.NoError(t, err)
			assert.Equal(t, tc.want.Status, info.Status)
			assert.Equal(t, tc.want.Slot, info.Slot)
			if tc.want.Status == chain.StatusFailed {
				assert.NotEmpty(t, info.Err)
			}
		})
	}
}

func TestTransactionStatusConfirmationCount(t *testing.T) {
	status := func(t *testing.T, confirmations any) chain.TxStatus {
		t.Helper()
		server := newRPCServer(t)
		server.handlers["getSignatureStatuses"] = func([]json.RawMessage) (any, *rpcError) {
			return map[string]any{"value": []any{map[string]any{
				"slot": 42, "confirmationStatus": "confirmed", "confirmations": confirmations,
			}}}, nil
		}

		client := NewClient(server.URL, "", Options{Confirmations: 2}, zaptest.NewLogger(t))
		info, err := client.TransactionStatus(context.Background(), "5ig")
		require.NoError(t, err)
		return info.Status
	}

	t.Run("BelowRequiredStaysPending", func(t *testing.T) {
		assert.Equal(t, chain.StatusPending, status(t, 1))
	})

	t.Run("AtRequiredConfirms", func(t *testing.T) {
		assert.Equal(t, chain.StatusConfirmed, status(t, 2))
	})

	t.Run("RootedSignatureConfirms", func(t *testing.T) {
		assert.Equal(t, chain.StatusConfirmed, status(t, nil))
	})
}

func TestBackupEndpointFailover(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer dead.Close()

	backup := newRPCServer(t)
	backup.handlers["sendTransaction"] = func([]json.RawMessage) (any, *rpcError) {
		return "5ig", nil
	}

	client := NewClient(dead.URL, "", Options{
		MaxRetries:      1,
		RetryBackoff:    1,
		BackupEndpoints: []string{backup.URL},
	}, zaptest.NewLogger(t))

	sig, err := client.SubmitTransaction(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "5ig", sig)
	assert.Equal(t, int64(1), backup.calls.Load())
}

func TestGetAccountState(t *testing.T) {
	payload := make([]byte, 32)
	binary.LittleEndian.PutUint64(payload, 123_456)

	server := newRPCServer(t)
	server.handlers["getAccountInfo"] = func([]json.RawMessage) (any, *rpcError) {
		return map[string]any{"value": map[string]any{
			"data": []string{base64.StdEncoding.EncodeToString(payload), "base64"},
		}}, nil
	}

	raw, err := newTestClient(t, server).GetAccountState(context.Background(), types.Address{9})
	require.NoError(t, err)
	assert.Equal(t, payload, raw)

	t.Run("MissingAccount", func(t *testing.T) {
		server.handlers["getAccountInfo"] = func([]json.RawMessage) (any, *rpcError) {
			return map[string]any{"value": nil}, nil
		}
		_, err := newTestClient(t, server).GetAccountState(context.Background(), types.Address{9})
		require.Error(t, err)
	})
}

func TestTransportFailureRetries(t *testing.T) {
	var hits atomic.Int64
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var req struct {
			ID uint64 `json:"id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":"5ig"}`, req.ID)
	}))
	defer flaky.Close()

	client := NewClient(flaky.URL, "", Options{MaxRetries: 2, RetryBackoff: 1}, zaptest.NewLogger(t))
	sig, err := client.SubmitTransaction(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "5ig", sig)
	assert.Equal(t, int64(2), hits.Load())
}
