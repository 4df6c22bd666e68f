package secrets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ruteri/helix-container/common"
	"github.com/ruteri/helix-container/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKV serves the subset of the KV v2 API the store uses.
type fakeKV struct {
	mu   sync.Mutex
	data map[string]map[string]interface{}
}

func (f *fakeKV) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/v1/")
	switch r.Method {
	case http.MethodGet:
		entry, ok := f.data[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"errors":[]}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"data": entry, "metadata": map[string]interface{}{"version": 1}},
		})
	case http.MethodPut, http.MethodPost:
		var body struct {
			Data map[string]interface{} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.data[path] = body.Data
		json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{"version": 1}})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestVaultStore(t *testing.T) {
	kv := &fakeKV{data: map[string]map[string]interface{}{}}
	srv := httptest.NewServer(kv)
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	store, err := NewVaultStore("vault://"+host+"/secret/helix/p4_1?tls=false", common.DiscardLogger())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.Load(ctx)
	require.ErrorIs(t, err, interfaces.ErrContentNotFound)

	require.NoError(t, store.Save(ctx, "s3cret"))
	assert.Equal(t, "s3cret", kv.data["secret/data/helix/p4_1"]["password"])

	v, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v)
}

func TestVaultStore_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	store, err := NewVaultStore("vault://"+host+"/secret/helix?tls=false", common.DiscardLogger())
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	require.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
}
