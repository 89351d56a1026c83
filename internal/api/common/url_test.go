package common

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAndValidateURLParam(t *testing.T) {
	t.Parallel()

	routerTests := []struct {
		name       string
		paramValue string
		wantValue  string
		wantErrMsg string
	}{
		{name: "instance name", paramValue: "4f2b3c60ae32", wantValue: "4f2b3c60ae32"},
		{name: "dashes and dots", paramValue: "seq-1.a", wantValue: "seq-1.a"},
		{name: "url-encoded colon", paramValue: "a%3Ab", wantValue: "a:b"},
		{name: "url-encoded slash", paramValue: "a%2Fb", wantErrMsg: "name cannot contain '/'"},
		{name: "encoded space only", paramValue: "%20", wantErrMsg: "name cannot be empty"},
		{name: "tab in middle", paramValue: "a%09b", wantErrMsg: "name cannot contain whitespace"},
		{name: "space at end", paramValue: "abc%20", wantErrMsg: "name cannot contain whitespace"},
	}

	for _, tt := range routerTests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			called := false
			router := chi.NewRouter()
			router.Get("/{name}", func(_ http.ResponseWriter, r *http.Request) {
				called = true
				value, err := GetAndValidateURLParam(r, "name")
				if tt.wantErrMsg != "" {
					require.Error(t, err)
					assert.Equal(t, tt.wantErrMsg, err.Error())
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tt.wantValue, value)
			})

			req, err := http.NewRequest(http.MethodGet, "/"+tt.paramValue, nil)
			require.NoError(t, err)
			router.ServeHTTP(httptest.NewRecorder(), req)
			assert.True(t, called)
		})
	}

	t.Run("invalid encoding", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("name", "test%ZZ")
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

		_, err := GetAndValidateURLParam(req, "name")
		require.Error(t, err)
		assert.Equal(t, "invalid URL encoding in name", err.Error())
	})
}

func TestParseQueryParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		query        string
		wantBlock    *uint64
		wantNoMining bool
		wantErr      bool
	}{
		{name: "absent"},
		{name: "both set", query: "block_time=1500&no_mining=true", wantBlock: ptr(uint64(1500)), wantNoMining: true},
		{name: "zero block time", query: "block_time=0", wantBlock: ptr(uint64(0))},
		{name: "negative block time", query: "block_time=-1", wantErr: true},
		{name: "word block time", query: "block_time=fast", wantErr: true},
		{name: "numeric bool", query: "no_mining=1", wantNoMining: true},
		{name: "bad bool", query: "no_mining=yes", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/start?"+tt.query, nil)

			block, err := ParseOptionalUint(r, "block_time")
			noMining, boolErr := ParseBool(r, "no_mining")
			if tt.wantErr {
				assert.True(t, err != nil || boolErr != nil)
				return
			}
			require.NoError(t, err)
			require.NoError(t, boolErr)
			assert.Equal(t, tt.wantBlock, block)
			assert.Equal(t, tt.wantNoMining, noMining)
		})
	}
}

func ptr[T any](v T) *T { return &v }
