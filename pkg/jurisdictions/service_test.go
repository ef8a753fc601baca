package jurisdictions

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pkv562/UNITE/pkg/apierrors"
	"github.com/Pkv562/UNITE/pkg/gateway"
)

type fakeAPI struct {
	paths []string
	opts  []gateway.Options
	body  string
}

func (f *fakeAPI) RequestJSON(_ context.Context, path string, opts gateway.Options) (json.RawMessage, error) {
	f.paths = append(f.paths, path)
	f.opts = append(f.opts, opts)
	return json.RawMessage(f.body), nil
}

func TestListAcceptsBothShapes(t *testing.T) {
	api := &fakeAPI{body: `{"success":true,"data":[{"id":"p1","type":"province","name":"Cebu"}]}`}
	svc := New(api, "", nil)
	items, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Cebu", items[0].Name)
	assert.Equal(t, PathV2, api.paths[0])

	api.body = `{"success":true,"data":{"jurisdictions":[{"id":"d1","type":"district","name":"District 1","parentId":"p1"}]}}`
	items, err = svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "p1", items[0].ParentID)

	api.body = `{"success":true}`
	items, err = svc.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestValidate(t *testing.T) {
	api := &fakeAPI{body: `{"success":true,"data":{"valid":false,"message":"municipality outside province","errors":["municipalityId"]}}`}
	svc := New(api, PathV1+"/", nil)
	res, err := svc.Validate(context.Background(), ValidateInput{Province: "Cebu", MunicipalityID: "m-9"})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{"municipalityId"}, res.Errors)
	assert.Equal(t, PathV1+"/validate", api.paths[0])
	assert.Equal(t, http.MethodPost, api.opts[0].Method)

	api.body = `{"success":true}`
	res, err = svc.Validate(context.Background(), ValidateInput{})
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestEnvelopeFailure(t *testing.T) {
	api := &fakeAPI{body: `{"success":false}`}
	_, err := New(api, "", nil).List(context.Background())
	require.Error(t, err)
	assert.True(t, apierrors.IsKind(err, apierrors.KindContract))
	assert.Equal(t, apierrors.DefaultContractFailed, err.Error())
}
