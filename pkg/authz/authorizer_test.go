package authz_test

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sukryu/gorm-oso/internal/testmodels"
	"github.com/sukryu/gorm-oso/internal/testutil"
	"github.com/sukryu/gorm-oso/pkg/authz"
	"github.com/sukryu/gorm-oso/pkg/binding"
	"github.com/sukryu/gorm-oso/pkg/client"
	"github.com/sukryu/gorm-oso/pkg/errors"
	"github.com/sukryu/gorm-oso/pkg/mocks"
)

var (
	alice = client.NewValue("Agent", 1)
	bob   = client.NewValue("Agent", 2)
)

type fixture struct {
	db       *gorm.DB
	sql      sqlmock.Sqlmock
	filterer *mocks.MockRowFilterer
	authz    *authz.Authorizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, sql := testutil.MockDB(t)
	b, err := binding.Compile(db, testmodels.Registry())
	require.NoError(t, err)

	f := mocks.NewMockRowFilterer()
	a, err := authz.New(db, b, f)
	require.NoError(t, err)
	return &fixture{db: db, sql: sql, filterer: f, authz: a}
}

func (f *fixture) allow(actor client.Value, fragment string) {
	f.filterer.On("ListLocal", mock.Anything, actor, "read", "Document", "document.id").Return(fragment, nil)
}

func dryRun(q *gorm.DB, dest any) string {
	return q.Session(&gorm.Session{DryRun: true}).Find(dest).Statement.SQL.String()
}

func TestAuthorize_UsageErrorsSkipNetwork(t *testing.T) {
	tests := []struct {
		name    string
		run     func(f *fixture) error
		wantErr error
	}{
		{
			name: "no entity",
			run: func(f *fixture) error {
				_, err := f.authz.Authorize(context.Background(), f.db.Session(&gorm.Session{}), alice, "read")
				return err
			},
			wantErr: errors.ErrNoEntity,
		},
		{
			name: "multiple entities",
			run: func(f *fixture) error {
				_, err := f.authz.Query(f.db, &testmodels.Document{}, &testmodels.Organization{}).
					Authorize(context.Background(), alice, "read")
				return err
			},
			wantErr: errors.ErrMultipleEntities,
		},
		{
			name: "not a resource",
			run: func(f *fixture) error {
				_, err := f.authz.Authorize(context.Background(), f.db.Model(&testmodels.AgentOrganizationRole{}), alice, "read")
				return err
			},
			wantErr: errors.ErrNotResource,
		},
		{
			name: "scopes without models",
			run: func(f *fixture) error {
				_, err := f.authz.Authorized(context.Background(), alice, "read")
				return err
			},
			wantErr: errors.ErrNoEntity,
		},
		{
			name: "select without models",
			run: func(f *fixture) error {
				_, err := authz.NewSelect().Authorize(context.Background(), f.authz, alice, "read")
				return err
			},
			wantErr: errors.ErrNoEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			err := tt.run(f)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, errors.IsUsageError(err))
			f.filterer.AssertNotCalled(t, "ListLocal", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestAuthorize_SameModelTwiceIsOneEntity(t *testing.T) {
	f := newFixture(t)
	f.allow(alice, "document.id IN (1)")

	_, err := f.authz.Query(f.db, &testmodels.Document{}, []testmodels.Document{}).Authorize(context.Background(), alice, "read")
	require.NoError(t, err)
	f.filterer.AssertNumberOfCalls(t, "ListLocal", 1)
}

func TestAuthorize_AddsScopedWhere(t *testing.T) {
	f := newFixture(t)
	f.allow(alice, "document.id IN (1)")

	q, err := f.authz.Authorize(context.Background(),
		f.db.Model(&testmodels.Document{}).Where("status = ?", "draft"), alice, "read")
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT * FROM `document` WHERE (status = ?) AND (document.id IN (1))",
		dryRun(q, &[]testmodels.Document{}))
}

func TestAuthorize_GroupsOrConditions(t *testing.T) {
	f := newFixture(t)
	f.allow(alice, "document.id IN (1)")

	base := f.db.Model(&testmodels.Document{}).Where("status = ?", "draft").Or("status = ?", "published")
	q, err := f.authz.Authorize(context.Background(), base, alice, "read")
	require.NoError(t, err)

	assert.Contains(t, dryRun(q, &[]testmodels.Document{}),
		"WHERE (status = ? OR status = ?) AND (document.id IN (1))")
}

func TestAuthorize_GroupsMultilineConditions(t *testing.T) {
	f := newFixture(t)
	f.allow(alice, "document.id IN (1)")

	base := f.db.Model(&testmodels.Document{}).Where("status = 'published'\nOR status = 'draft'")
	q, err := f.authz.Authorize(context.Background(), base, alice, "read")
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT * FROM `document` WHERE (status = 'published'\nOR status = 'draft') AND (document.id IN (1))",
		dryRun(q, &[]testmodels.Document{}))
}

func TestAuthorize_ChainedCallsIntersect(t *testing.T) {
	f := newFixture(t)
	f.allow(alice, "document.id IN (1)")
	f.allow(bob, "document.id IN (2)")

	ctx := context.Background()
	q, err := f.authz.Authorize(ctx, f.db.Model(&testmodels.Document{}), alice, "read")
	require.NoError(t, err)
	q2, err := f.authz.Authorize(ctx, q, bob, "read")
	require.NoError(t, err)

	assert.Contains(t, dryRun(q2, &[]testmodels.Document{}),
		"WHERE (document.id IN (1)) AND (document.id IN (2))")
	assert.Len(t, authz.Criteria(q), 1)
	assert.Len(t, authz.Criteria(q2), 2)
}

func TestAuthorize_LeavesOriginalUntouched(t *testing.T) {
	f := newFixture(t)
	f.allow(alice, "document.id IN (1)")

	base := f.db.Model(&testmodels.Document{}).Where("status = ?", "draft")
	before := dryRun(base, &[]testmodels.Document{})
	whereBefore := fmt.Sprintf("%#v", base.Statement.Clauses["WHERE"])

	_, err := f.authz.Authorize(context.Background(), base, alice, "read")
	require.NoError(t, err)

	assert.Equal(t, before, dryRun(base, &[]testmodels.Document{}))
	assert.Equal(t, whereBefore, fmt.Sprintf("%#v", base.Statement.Clauses["WHERE"]))
	assert.Empty(t, authz.Criteria(base))
}

func TestAuthorize_UpstreamErrorIsReturnedAsIs(t *testing.T) {
	f := newFixture(t)
	upstream := errors.ErrUpstream.WithReason("connection refused")
	f.filterer.On("ListLocal", mock.Anything, alice, "read", "Document", "document.id").Return("", upstream)

	q, err := f.authz.Authorize(context.Background(), f.db.Model(&testmodels.Document{}), alice, "read")
	assert.Nil(t, q)
	assert.Same(t, upstream, err)
}

func TestAuthorize_ScopesRelationshipJoins(t *testing.T) {
	f := newFixture(t)
	f.allow(alice, "document.id IN (1)")

	scopes, err := f.authz.Authorized(context.Background(), alice, "read", &testmodels.Document{})
	require.NoError(t, err)

	got := dryRun(f.db.Model(&testmodels.Organization{}).Scopes(scopes...).Joins("Documents"), &[]testmodels.Organization{})
	assert.Contains(t, got, "JOIN `document` `Documents` ON `organization`.`id` = `Documents`.`organization_id`")
	assert.Contains(t, got, "AND `Documents`.`id` IN (SELECT `document`.`id` FROM `document` WHERE document.id IN (1))")
	assert.NotContains(t, got, "WHERE (document.id", "the organization rows themselves are not filtered")
}

func TestAuthorize_ScopesNestedJoins(t *testing.T) {
	f := newFixture(t)
	f.allow(alice, "document.id IN (1)")

	scopes, err := f.authz.Authorized(context.Background(), alice, "read", &testmodels.Document{})
	require.NoError(t, err)

	got := dryRun(f.db.Scopes(scopes...).Joins("Organization.Documents"), &[]testmodels.Document{})
	assert.Contains(t, got, "JOIN `organization` `Organization` ON `document`.`organization_id` = `Organization`.`id` AND 1 = 1")
	assert.Contains(t, got, "AND `Organization__Documents`.`id` IN (SELECT `document`.`id` FROM `document` WHERE document.id IN (1))")
	assert.Contains(t, got, "WHERE (document.id IN (1))")
}

func TestAuthorize_RawJoins(t *testing.T) {
	f := newFixture(t)
	f.allow(alice, "document.id IN (1)")

	scopes, err := f.authz.Authorized(context.Background(), alice, "read", &testmodels.Document{})
	require.NoError(t, err)

	tests := []struct {
		name    string
		query   *gorm.DB
		dest    any
		wantErr error
	}{
		{
			name:    "joined resource fails closed",
			query:   f.db.Model(&testmodels.Organization{}).Scopes(scopes...).Joins("JOIN document ON document.organization_id = organization.id"),
			dest:    &[]testmodels.Organization{},
			wantErr: errors.ErrInvalidInput,
		},
		{
			name:    "unknown relation path fails closed",
			query:   f.db.Model(&testmodels.Organization{}).Scopes(scopes...).Joins("Documents.Folder"),
			dest:    &[]testmodels.Organization{},
			wantErr: errors.ErrInvalidInput,
		},
		{
			name:  "main resource is filtered by WHERE",
			query: f.db.Model(&testmodels.Document{}).Scopes(scopes...).Joins("JOIN organization ON organization.id = document.organization_id"),
			dest:  &[]testmodels.Document{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := tt.query.Session(&gorm.Session{DryRun: true}).Find(tt.dest)
			if tt.wantErr != nil {
				assert.ErrorIs(t, tx.Error, tt.wantErr)
				return
			}
			require.NoError(t, tx.Error)
			assert.Contains(t, tx.Statement.SQL.String(), "WHERE (document.id IN (1))")
		})
	}
}

func TestAuthorize_ScopesApplyToMainModel(t *testing.T) {
	f := newFixture(t)
	f.allow(alice, "document.id IN (1)")

	scopes, err := f.authz.Authorized(context.Background(), alice, "read", &testmodels.Document{})
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT * FROM `document` WHERE (document.id IN (1))",
		dryRun(f.db.Scopes(scopes...), &[]testmodels.Document{}))
}

func TestAuthorize_RawSQLFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.allow(alice, "document.id IN (1)")

	scopes, err := f.authz.Authorized(context.Background(), alice, "read", &testmodels.Document{})
	require.NoError(t, err)

	var docs []testmodels.Document
	err = f.db.Scopes(scopes...).Raw("SELECT * FROM document").Scan(&docs).Error
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestQuery_Count(t *testing.T) {
	f := newFixture(t)
	f.allow(alice, "document.id IN (1)")
	f.sql.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `document` WHERE (status = ?) AND (document.id IN (1))")).
		WithArgs("draft").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	ctx := context.Background()
	base := f.authz.Query(f.db, &testmodels.Document{}).Where("status = ?", "draft")
	q, err := base.Authorize(ctx, alice, "read")
	require.NoError(t, err)

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, authz.Criteria(base.DB()))
}

func TestSelect_Build(t *testing.T) {
	f := newFixture(t)
	f.allow(alice, "document.id IN (1)")

	base := authz.NewSelect(&testmodels.Document{}).Where("status = ?", "draft").Order("id")
	sel, err := base.Authorize(context.Background(), f.authz, alice, "read")
	require.NoError(t, err)
	assert.Empty(t, base.Criteria())
	assert.Len(t, sel.Criteria(), 1)

	tx, err := sel.Build(f.db)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT * FROM `document` WHERE (status = ?) AND (document.id IN (1)) ORDER BY id",
		dryRun(tx, &[]testmodels.Document{}))
}

func TestNew_PluginIsShared(t *testing.T) {
	f := newFixture(t)
	_, err := authz.New(f.db, f.authz.Bindings(), f.filterer)
	assert.NoError(t, err)
}
