package authz_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/sukryu/gorm-oso/internal/devserver"
	"github.com/sukryu/gorm-oso/internal/testmodels"
	"github.com/sukryu/gorm-oso/internal/testutil"
	"github.com/sukryu/gorm-oso/pkg/apis/policy/v1alpha1"
	"github.com/sukryu/gorm-oso/pkg/authz"
	"github.com/sukryu/gorm-oso/pkg/binding"
	"github.com/sukryu/gorm-oso/pkg/client"
	"github.com/sukryu/gorm-oso/pkg/errors"
)

const e2ePolicy = `
kind: Policy
metadata:
  name: documents
rules:
  - actions: [read]
    resourceType: Document
    roles: [admin]
    relation: organization
  - actions: [read]
    resourceType: Document
    roles: [member]
    relation: team
  - actions: [read]
    resourceType: Document
    attribute: is_public
  - actions: [read]
    resourceType: Organization
    roles: [admin]
`

// rolePolicy grants read through organization roles only.
const rolePolicy = `
rules:
  - actions: [read]
    resourceType: Document
    roles: [admin]
    relation: organization
`

const e2eKey = "e2e-key"

type env struct {
	db     *gorm.DB
	authz  *authz.Authorizer
	client *client.Client
}

func newEnv(t *testing.T, policyDoc string) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SQLite(t)
	b, err := binding.Compile(db, testmodels.Registry())
	require.NoError(t, err)
	doc, err := b.Document()
	require.NoError(t, err)

	policy, err := v1alpha1.LoadPolicy([]byte(policyDoc))
	require.NoError(t, err)
	hash, err := bcrypt.GenerateFromPassword([]byte(e2eKey), bcrypt.MinCost)
	require.NoError(t, err)

	srv, err := devserver.New(devserver.Options{
		Policy:     policy,
		APIKeyHash: string(hash),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	c, err := client.New(client.Config{URL: ts.URL, APIKey: e2eKey, DataBindings: doc})
	require.NoError(t, err)
	a, err := authz.New(db, b, c)
	require.NoError(t, err)
	return &env{db: db, authz: a, client: c}
}

func documentIDs(docs []testmodels.Document) []int64 {
	ids := make([]int64, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids
}

func TestE2E_OrganizationAdmins(t *testing.T) {
	e := newEnv(t, rolePolicy)
	ctx := context.Background()

	for actor, want := range map[client.Value][]int64{alice: {1}, bob: {2}} {
		q, err := e.authz.Authorize(ctx, e.db.Model(&testmodels.Document{}), actor, "read")
		require.NoError(t, err)

		var docs []testmodels.Document
		require.NoError(t, q.Find(&docs).Error)
		assert.Equal(t, want, documentIDs(docs), actor.String())
	}
}

func TestE2E_MultilineConditionStaysFiltered(t *testing.T) {
	e := newEnv(t, rolePolicy)

	base := e.db.Model(&testmodels.Document{}).Where("status = 'published'\nOR status = 'draft'")
	q, err := e.authz.Authorize(context.Background(), base, alice, "read")
	require.NoError(t, err)

	var docs []testmodels.Document
	require.NoError(t, q.Order("id").Find(&docs).Error)
	assert.Equal(t, []int64{1}, documentIDs(docs))
}

func TestE2E_DocumentsByRole(t *testing.T) {
	e := newEnv(t, e2ePolicy)
	ctx := context.Background()

	tests := []struct {
		name  string
		actor client.Value
		want  []int64
	}{
		{name: "alice is admin of organization 1", actor: alice, want: []int64{1, 3}},
		{name: "bob is admin of organization 2", actor: bob, want: []int64{2, 3}},
		{name: "stranger sees public documents", actor: client.NewValue("Agent", 99), want: []int64{3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := e.authz.Authorize(ctx, e.db.Model(&testmodels.Document{}), tt.actor, "read")
			require.NoError(t, err)

			var docs []testmodels.Document
			require.NoError(t, q.Order("id").Find(&docs).Error)
			assert.Equal(t, tt.want, documentIDs(docs))
		})
	}
}

func TestE2E_UnknownActionMatchesNothing(t *testing.T) {
	e := newEnv(t, e2ePolicy)

	q, err := e.authz.Authorize(context.Background(), e.db.Model(&testmodels.Document{}), alice, "delete")
	require.NoError(t, err)

	var docs []testmodels.Document
	require.NoError(t, q.Find(&docs).Error)
	assert.Empty(t, docs)
}

func TestE2E_RemoteRelationFromInsertedFacts(t *testing.T) {
	e := newEnv(t, e2ePolicy)
	ctx := context.Background()
	member := client.Fact{Name: "has_role", Args: []client.Value{bob, client.String("member"), client.NewValue("Team", 111)}}
	require.NoError(t, e.client.Insert(ctx, member))

	q, err := e.authz.Query(e.db, &testmodels.Document{}).Order("id").Authorize(ctx, bob, "read")
	require.NoError(t, err)
	var docs []testmodels.Document
	require.NoError(t, q.Find(ctx, &docs))
	assert.Equal(t, []int64{1, 2, 3}, documentIDs(docs))

	require.NoError(t, e.client.Delete(ctx, member))
	q, err = e.authz.Query(e.db, &testmodels.Document{}).Order("id").Authorize(ctx, bob, "read")
	require.NoError(t, err)
	docs = nil
	require.NoError(t, q.Find(ctx, &docs))
	assert.Equal(t, []int64{2, 3}, documentIDs(docs))
}

func TestE2E_ChainedAuthorizationIntersects(t *testing.T) {
	e := newEnv(t, e2ePolicy)
	ctx := context.Background()

	q, err := e.authz.Authorize(ctx, e.db.Model(&testmodels.Document{}), alice, "read")
	require.NoError(t, err)
	q, err = e.authz.Authorize(ctx, q, bob, "read")
	require.NoError(t, err)

	var docs []testmodels.Document
	require.NoError(t, q.Find(&docs).Error)
	assert.Equal(t, []int64{3}, documentIDs(docs))

	var drafts []testmodels.Document
	require.NoError(t, q.Where("status = ?", "draft").Find(&drafts).Error)
	assert.Empty(t, drafts)
}

func TestE2E_PreloadIsFiltered(t *testing.T) {
	e := newEnv(t, e2ePolicy)

	scopes, err := e.authz.Authorized(context.Background(), bob, "read", &testmodels.Document{})
	require.NoError(t, err)

	var orgs []testmodels.Organization
	require.NoError(t, e.db.Scopes(scopes...).Preload("Documents").Order("id").Find(&orgs).Error)

	require.Len(t, orgs, 3, "organizations are not the filtered resource")
	assert.Empty(t, orgs[0].Documents)
	assert.Equal(t, []int64{2}, documentIDs(orgs[1].Documents))
	assert.Equal(t, []int64{3}, documentIDs(orgs[2].Documents))
}

func TestE2E_JoinIsFiltered(t *testing.T) {
	e := newEnv(t, e2ePolicy)
	ctx := context.Background()

	scopes, err := e.authz.Authorized(ctx, client.NewValue("Agent", 99), "read", &testmodels.Document{})
	require.NoError(t, err)

	var n int64
	require.NoError(t, e.db.Model(&testmodels.Organization{}).Scopes(scopes...).InnerJoins("Documents").Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestE2E_RawJoinFailsClosed(t *testing.T) {
	e := newEnv(t, rolePolicy)

	scopes, err := e.authz.Authorized(context.Background(), alice, "read", &testmodels.Document{})
	require.NoError(t, err)

	var n int64
	err = e.db.Model(&testmodels.Organization{}).Scopes(scopes...).
		Joins("JOIN document ON document.organization_id = organization.id").Count(&n).Error
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestE2E_SelectAndOrganizations(t *testing.T) {
	e := newEnv(t, e2ePolicy)
	ctx := context.Background()

	sel, err := authz.NewSelect(&testmodels.Organization{}).Order("id").Authorize(ctx, e.authz, alice, "read")
	require.NoError(t, err)

	var orgs []testmodels.Organization
	require.NoError(t, sel.Find(ctx, e.db, &orgs))
	require.Len(t, orgs, 1)
	assert.Equal(t, int64(1), orgs[0].ID)
}
