package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/extractflow/internal/stubapi"
)

const testToken = "test-token"

func newTestClient(t *testing.T) (*Client, *stubapi.Server) {
	t.Helper()
	stub := stubapi.New(stubapi.Options{Token: testToken})
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientConfig{BaseURL: srv.URL + "/", Token: testToken})
	require.NoError(t, err)
	return client, stub
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name      string
		cfg       ClientConfig
		wantError bool
	}{
		{"valid", ClientConfig{BaseURL: "http://localhost", Token: "t"}, false},
		{"missing token", ClientConfig{BaseURL: "http://localhost"}, true},
		{"missing base url", ClientConfig{Token: "t"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.cfg)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "http://localhost", client.baseURL)
		})
	}
}

func TestClient_FullSequence(t *testing.T) {
	client, stub := newTestClient(t)
	ctx := context.Background()

	input := NewObjectRef(PurposeUploadedData)
	output := NewObjectRef(PurposeExtracted)

	ack, err := client.CreateObject(ctx, CreateObjectRequest{
		CreatedObjectName: input,
		DataType:          "strings",
		InputData:         []string{"X=1"},
	})
	require.NoError(t, err)
	status, ok := ack.Field("status")
	require.True(t, ok)
	assert.Equal(t, "success", status)

	_, err = client.ApplyPrompt(ctx, ApplyPromptRequest{
		CreatedObjectNames: []ObjectRef{output},
		PromptString:       "Extract key information and structure from this data: {input_data}",
		Inputs:             []PromptInput{{ObjectName: input, ProcessingMode: "combine_events"}},
	})
	require.NoError(t, err)

	value, err := client.FetchObject(ctx, output)
	require.NoError(t, err)
	assert.Equal(t, "X=1", value.TextValue)
	assert.Contains(t, string(value.Raw), "text_value")

	_, err = client.DeleteObject(ctx, input)
	require.NoError(t, err)
	_, err = client.DeleteObject(ctx, output)
	require.NoError(t, err)
	assert.Empty(t, stub.Objects())
}

func TestClient_ServerRejected(t *testing.T) {
	client, stub := newTestClient(t)
	stub.FailNext(stubapi.RouteApplyPrompt, http.StatusInternalServerError)

	_, err := client.ApplyPrompt(context.Background(), ApplyPromptRequest{
		CreatedObjectNames: []ObjectRef{"extracted_x"},
		PromptString:       "{input_data}",
		Inputs:             []PromptInput{{ObjectName: "uploaded_data_x"}},
	})
	require.Error(t, err)
	assert.Equal(t, KindServerRejected, KindOf(err))

	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, http.StatusInternalServerError, rerr.StatusCode)
	assert.Contains(t, rerr.Error(), "injected failure")
}

func TestClient_RejectedBodyTruncatedOnRuneBoundary(t *testing.T) {
	client, stub := newTestClient(t)
	prefix := strings.Repeat("a", maxErrorBody-1)
	stub.Inject(stubapi.RouteReturnData, http.StatusInternalServerError, prefix+strings.Repeat("é", 10))

	_, err := client.FetchObject(context.Background(), "extracted_x")
	require.Error(t, err)

	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	assert.True(t, utf8.ValidString(rerr.Message))
	assert.Equal(t, "server returned 500: "+prefix, rerr.Message)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "a", truncate("aé", 2))
	assert.Equal(t, "aé", truncate("aé", 3))
	assert.Equal(t, "", truncate("日本", 2))
}

func TestClient_Unauthorized(t *testing.T) {
	stub := stubapi.New(stubapi.Options{Token: "other"})
	srv := httptest.NewServer(stub)
	defer srv.Close()

	client, err := NewClient(ClientConfig{BaseURL: srv.URL, Token: testToken})
	require.NoError(t, err)

	_, err = client.FetchObject(context.Background(), "extracted_x")
	assert.Equal(t, KindServerRejected, KindOf(err))
}

func TestClient_MalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>oops</html>"},
		{"array", `["a"]`},
		{"missing text_value", `{"object_name":"x"}`},
		{"null text_value", `{"text_value":null}`},
		{"numeric text_value", `{"text_value":42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, stub := newTestClient(t)
			stub.Inject(stubapi.RouteReturnData, http.StatusOK, tt.body)

			_, err := client.FetchObject(context.Background(), "extracted_x")
			require.Error(t, err)
			assert.Equal(t, KindMalformedResponse, KindOf(err))
		})
	}
}

func TestClient_AckMustBeObject(t *testing.T) {
	client, stub := newTestClient(t)
	stub.Inject(stubapi.RouteInputData, http.StatusOK, `"ok"`)

	_, err := client.CreateObject(context.Background(), CreateObjectRequest{
		CreatedObjectName: "uploaded_data_x",
		DataType:          "strings",
	})
	assert.Equal(t, KindMalformedResponse, KindOf(err))
}

func TestClient_DeleteEmptyBody(t *testing.T) {
	client, stub := newTestClient(t)
	stub.Inject(stubapi.RouteObjects, http.StatusNoContent, "")

	ack, err := client.DeleteObject(context.Background(), "extracted_x")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(ack.Raw))
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewClient(ClientConfig{BaseURL: url, Token: testToken})
	require.NoError(t, err)

	_, err = client.FetchObject(context.Background(), "extracted_x")
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
}

func TestClient_SendsHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte(`{"text_value":"v"}`))
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{BaseURL: srv.URL, Token: testToken, Timeout: time.Second})
	require.NoError(t, err)

	_, err = client.FetchObject(context.Background(), "extracted_x")
	require.NoError(t, err)
	assert.Equal(t, "Bearer "+testToken, got.Get("Authorization"))
	assert.NotEmpty(t, got.Get("X-Request-ID"))
	assert.Empty(t, got.Get("Content-Type"))
}

func TestObjectRef(t *testing.T) {
	a := NewObjectRef(PurposeUploadedData)
	b := NewObjectRef(PurposeUploadedData)

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a.String(), "uploaded_data_"))
	assert.Equal(t, PurposeUploadedData, a.Purpose())
	assert.Equal(t, PurposeExtracted, NewObjectRef(PurposeExtracted).Purpose())
	assert.Equal(t, Purpose(""), ObjectRef("other_1").Purpose())

	assert.Equal(t, "/return_data/extracted_1", ReturnDataPath("extracted_1"))
	assert.Equal(t, "/objects/a%20b", ObjectPath("a b"))
}

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := NetworkError("create", cause)
	assert.Equal(t, "[network] create: request failed: dial tcp: refused", err.Error())
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
	assert.Equal(t, KindMalformedResponse, KindOf(MalformedError("fetch", "bad", nil)))
}
