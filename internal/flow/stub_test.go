package flow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/extractflow/internal/ledger"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/remote"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/stubapi"
)

func newStubController(t *testing.T, opts ...Option) (*Controller, *stubapi.Server) {
	t.Helper()
	stub := stubapi.New(stubapi.Options{Token: "secret"})
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	client, err := remote.NewClient(remote.ClientConfig{BaseURL: srv.URL, Token: "secret"})
	require.NoError(t, err)
	return NewController(client, ledger.New(ledger.Config{}, nil), opts...), stub
}

func TestController_AgainstStubAPI(t *testing.T) {
	c, stub := newStubController(t)
	ctx := context.Background()

	require.NoError(t, c.SubmitFiles([]UploadedFile{
		{Name: "a.txt", Size: 10, Content: []byte("  X=1  \n\n")},
		{Name: "b.txt", Size: 3, Content: []byte("Y=2")},
	}))
	require.NoError(t, c.StartExtraction(ctx))

	require.NotNil(t, c.Result())
	assert.Equal(t, "X=1\nY=2", *c.Result())
	refs := c.Refs()
	require.Len(t, refs, 2)
	assert.Equal(t, remote.PurposeUploadedData, refs[0].Purpose())
	assert.Equal(t, remote.PurposeExtracted, refs[1].Purpose())
	assert.Len(t, stub.Objects(), 2)

	prompt, ok := stub.Prompt(refs[1].String())
	require.True(t, ok)
	assert.Contains(t, prompt, "Extract key information")
	assert.NotContains(t, prompt, "{input_data}")

	report, err := c.DeleteTrackedObjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Failed())
	assert.Empty(t, stub.Objects())
	assert.Equal(t, 10, c.Ledger().Len())
}

func TestController_StubRejectsTransform(t *testing.T) {
	c, stub := newStubController(t)
	stub.FailNext(stubapi.RouteApplyPrompt, http.StatusBadGateway)

	require.NoError(t, c.SubmitFiles(oneFile()))
	err := c.StartExtraction(context.Background())
	require.Error(t, err)
	assert.Equal(t, remote.KindServerRejected, remote.KindOf(err))

	records := c.Ledger().Records()
	require.Len(t, records, 4)
	assert.Equal(t, "server_rejected", records[3].ErrorKind)
	assert.Equal(t, AwaitingExtraction, c.State())

	// the uploaded object still exists remotely until the orphan is deleted
	orphans := c.Orphans()
	require.Len(t, orphans, 1)
	assert.Contains(t, stub.Objects(), orphans[0].String())

	_, err = c.DeleteOrphans(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stub.Objects())
}

func TestController_DeleteAlreadyGone(t *testing.T) {
	c, stub := newStubController(t)
	require.NoError(t, c.SubmitFiles(oneFile()))
	require.NoError(t, c.StartExtraction(context.Background()))

	refs := c.Refs()
	// the first delete reports the object as already gone
	stub.Inject(stubapi.RouteObjects, http.StatusNotFound, `{"error":"object not found"}`)

	report, err := c.DeleteTrackedObjects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []remote.ObjectRef{refs[0]}, report.Failed())
	assert.Empty(t, c.Refs())
	assert.Len(t, stub.Objects(), 1)
}
