package openfga

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sukryu/gorm-oso/pkg/binding"
	"github.com/sukryu/gorm-oso/pkg/client"
	"github.com/sukryu/gorm-oso/pkg/errors"
)

type fakeLister struct {
	objects []string
	err     error

	user, relation, objectType string
}

func (f *fakeLister) ListObjects(ctx context.Context, user, relation, objectType string) ([]string, error) {
	f.user, f.relation, f.objectType = user, relation, objectType
	return f.objects, f.err
}

func bindings(t *testing.T) *binding.Config {
	t.Helper()
	cfg, err := binding.LoadConfig([]byte("sql_types:\n  Document: integer\n  Ticket: text\n"))
	require.NoError(t, err)
	return cfg
}

func TestFilterer_ListLocal(t *testing.T) {
	tests := []struct {
		name         string
		resourceType string
		objects      []string
		want         string
		wantErr      error
	}{
		{
			name:         "integer ids",
			resourceType: "Document",
			objects:      []string{"document:1", "document:3"},
			want:         "document.id IN (1, 3)",
		},
		{
			name:         "string ids",
			resourceType: "Ticket",
			objects:      []string{"ticket:a'b"},
			want:         "document.id IN ('a''b')",
		},
		{
			name:         "nothing allowed",
			resourceType: "Document",
			want:         "1 = 0",
		},
		{
			name:         "foreign object type",
			resourceType: "Document",
			objects:      []string{"folder:1"},
			wantErr:      errors.ErrUpstream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &fakeLister{objects: tt.objects}
			f := NewWithLister(l, bindings(t))

			got, err := f.ListLocal(context.Background(), client.NewValue("Agent", 1), "read", tt.resourceType, "document.id")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "agent:1", l.user)
			assert.Equal(t, "read", l.relation)
		})
	}
}

func TestFilterer_ListerError(t *testing.T) {
	f := NewWithLister(&fakeLister{err: fmt.Errorf("unavailable")}, bindings(t))

	_, err := f.ListLocal(context.Background(), client.String("x"), "read", "Document", "document.id")
	assert.ErrorIs(t, err, errors.ErrUpstream)
	assert.Contains(t, err.Error(), "unavailable")
}

func TestNew_RequiresBindings(t *testing.T) {
	_, err := New(Config{APIURL: "http://localhost:8080", StoreID: "01H"})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}
