package tenants_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/seqci-proxy/database"
	"github.com/stacklok/seqci-proxy/internal/registry"
	"github.com/stacklok/seqci-proxy/internal/registry/mocks"
	"github.com/stacklok/seqci-proxy/internal/tenants"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    []tenants.Entry
		wantErr bool
	}{
		{
			name:  "two tenants",
			input: "alice,mykey\nbob, otherkey \n",
			want:  []tenants.Entry{{Name: "alice", APIKey: "mykey"}, {Name: "bob", APIKey: "otherkey"}},
		},
		{
			name:  "comments and blank lines",
			input: "# seeded tenants\n\nalice,mykey\n",
			want:  []tenants.Entry{{Name: "alice", APIKey: "mykey"}},
		},
		{name: "empty file"},
		{name: "missing key", input: "alice\n", wantErr: true},
		{name: "three fields", input: "alice,mykey,extra\n", wantErr: true},
		{name: "empty key", input: "alice, \n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tenants.Parse(strings.NewReader(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSeedFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := registry.NewSQLStore(database.SetupSQLite(t))
	require.NoError(t, err)
	_, err = store.CreateTenant(ctx, "alice", "mykey")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "users.csv")
	require.NoError(t, os.WriteFile(path, []byte("alice,mykey\nbob,otherkey\n"), 0o600))

	created, err := tenants.SeedFile(ctx, store, path)
	require.NoError(t, err)
	assert.Equal(t, 1, created, "existing key skipped")

	bob, err := store.TenantByAPIKey(ctx, "otherkey")
	require.NoError(t, err)
	assert.Equal(t, "bob", bob.Name)
}

func TestSeedFile_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		_, err := tenants.SeedFile(ctx, mocks.NewMockStore(ctrl), filepath.Join(t.TempDir(), "nope.csv"))
		assert.Error(t, err)
	})

	t.Run("store failure stops seeding", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		store := mocks.NewMockStore(ctrl)
		store.EXPECT().CreateTenant(gomock.Any(), "alice", "mykey").Return(nil, errors.New("disk full"))

		_, err := tenants.Seed(ctx, store, []tenants.Entry{{Name: "alice", APIKey: "mykey"}, {Name: "bob", APIKey: "k"}})
		assert.ErrorContains(t, err, "disk full")
	})
}
