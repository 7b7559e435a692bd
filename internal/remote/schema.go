package remote

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Routes used against the processing API.
const (
	RouteInputData   = "/input_data"
	RouteApplyPrompt = "/apply_prompt"
	RouteReturnData  = "/return_data/"
	RouteObjects     = "/objects/"
)

// Purpose labels what a remote object holds.
type Purpose string

const (
	PurposeUploadedData Purpose = "uploaded_data"
	PurposeExtracted    Purpose = "extracted"
)

// ObjectRef names an object on the processing service. The client assigns it.
type ObjectRef string

// NewObjectRef returns a collision-free name of the form <purpose>_<uuid>.
func NewObjectRef(p Purpose) ObjectRef {
	return ObjectRef(fmt.Sprintf("%s_%s", p, uuid.NewString()))
}

// Purpose returns the purpose prefix of the ref, or "" when it has none.
func (r ObjectRef) Purpose() Purpose {
	for _, p := range []Purpose{PurposeUploadedData, PurposeExtracted} {
		if strings.HasPrefix(string(r), string(p)+"_") {
			return p
		}
	}
	return ""
}

func (r ObjectRef) String() string {
	return string(r)
}

// ReturnDataPath is the fetch endpoint for name.
func ReturnDataPath(name ObjectRef) string {
	return RouteReturnData + url.PathEscape(string(name))
}

// ObjectPath is the delete endpoint for name.
func ObjectPath(name ObjectRef) string {
	return RouteObjects + url.PathEscape(string(name))
}

// CreateObjectRequest is the body of POST /input_data.
type CreateObjectRequest struct {
	CreatedObjectName ObjectRef `json:"created_object_name"`
	DataType          string    `json:"data_type"`
	InputData         []string  `json:"input_data"`
}

// PromptInput names one input object of an apply_prompt call.
type PromptInput struct {
	ObjectName     ObjectRef `json:"object_name"`
	ProcessingMode string    `json:"processing_mode"`
}

// ApplyPromptRequest is the body of POST /apply_prompt.
type ApplyPromptRequest struct {
	CreatedObjectNames []ObjectRef   `json:"created_object_names"`
	PromptString       string        `json:"prompt_string"`
	Inputs             []PromptInput `json:"inputs"`
}

// Ack is an acknowledgement body. The service returns an arbitrary JSON object.
type Ack struct {
	Raw json.RawMessage
}

// Field returns a top-level field of the acknowledgement.
func (a *Ack) Field(key string) (interface{}, bool) {
	var m map[string]interface{}
	if err := json.Unmarshal(a.Raw, &m); err != nil {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// ObjectValue is the body of GET /return_data/{name}.
type ObjectValue struct {
	TextValue string
	Raw       json.RawMessage
}

func parseAck(op string, body []byte) (*Ack, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, MalformedError(op, "response is not a JSON object", err)
	}
	if obj == nil {
		return nil, MalformedError(op, "response is null", nil)
	}
	return &Ack{Raw: json.RawMessage(body)}, nil
}

func parseObjectValue(op string, body []byte) (*ObjectValue, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, MalformedError(op, "response is not a JSON object", err)
	}

	raw, ok := obj["text_value"]
	if !ok {
		return nil, MalformedError(op, "response has no text_value", nil)
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil || string(raw) == "null" {
		return nil, MalformedError(op, "text_value is not a string", err)
	}

	return &ObjectValue{TextValue: text, Raw: json.RawMessage(body)}, nil
}
