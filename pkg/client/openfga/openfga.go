// Package openfga resolves row filters from OpenFGA. Instead of a
// predicate computed by the service it asks for the explicit list of
// allowed objects and renders it as an IN list over the primary key.
package openfga

import (
	"context"
	"fmt"
	"strings"

	fga "github.com/openfga/go-sdk/client"
	"github.com/openfga/go-sdk/credentials"

	"github.com/sukryu/gorm-oso/pkg/binding"
	"github.com/sukryu/gorm-oso/pkg/client"
	"github.com/sukryu/gorm-oso/pkg/errors"
)

type Config struct {
	APIURL   string
	StoreID  string
	ModelID  string
	APIToken string // optional
	// Bindings types the rendered literals.
	Bindings *binding.Config
}

// ObjectLister lists the objects of objectType on which user has relation.
type ObjectLister interface {
	ListObjects(ctx context.Context, user, relation, objectType string) ([]string, error)
}

type Filterer struct {
	lister   ObjectLister
	bindings *binding.Config
}

var _ client.RowFilterer = (*Filterer)(nil)

func New(cfg Config) (*Filterer, error) {
	if cfg.Bindings == nil {
		return nil, errors.ErrInvalidConfig.WithReason("openfga filterer needs the binding configuration")
	}
	conf := &fga.ClientConfiguration{
		ApiUrl:  cfg.APIURL,
		StoreId: cfg.StoreID,
	}
	if cfg.ModelID != "" {
		conf.AuthorizationModelId = cfg.ModelID
	}
	if cfg.APIToken != "" {
		conf.Credentials = &credentials.Credentials{
			Method: credentials.CredentialsMethodApiToken,
			Config: &credentials.Config{ApiToken: cfg.APIToken},
		}
	}

	c, err := fga.NewSdkClient(conf)
	if err != nil {
		return nil, errors.ErrInvalidConfig.WithReasonf("openfga client: %v", err)
	}
	return NewWithLister(sdkLister{c: c}, cfg.Bindings), nil
}

func NewWithLister(l ObjectLister, bindings *binding.Config) *Filterer {
	return &Filterer{lister: l, bindings: bindings}
}

func (f *Filterer) ListLocal(ctx context.Context, actor client.Value, action, resourceType, column string) (string, error) {
	objectType := strings.ToLower(resourceType)
	user := strings.ToLower(actor.Type) + ":" + actor.ID

	objects, err := f.lister.ListObjects(ctx, user, action, objectType)
	if err != nil {
		return "", errors.ErrUpstream.Wrap(err)
	}

	ids := make([]string, 0, len(objects))
	for _, obj := range objects {
		id, ok := strings.CutPrefix(obj, objectType+":")
		if !ok {
			return "", errors.ErrUpstream.WithReasonf("unexpected object %q for type %s", obj, objectType)
		}
		ids = append(ids, id)
	}
	return f.bindings.InList(column, resourceType, ids)
}

type sdkLister struct {
	c *fga.OpenFgaClient
}

func (l sdkLister) ListObjects(ctx context.Context, user, relation, objectType string) ([]string, error) {
	resp, err := l.c.ListObjects(ctx).Body(fga.ClientListObjectsRequest{
		User:     user,
		Relation: relation,
		Type:     objectType,
	}).Execute()
	if err != nil {
		return nil, fmt.Errorf("fga_list_objects_error: %w", err)
	}
	return resp.GetObjects(), nil
}
