package mcp

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/quotedesk/internal/errors"
)

// decode maps tool arguments onto a request struct. Type mismatches come back as
// INVALID_REQUEST naming the offending argument.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var result T
	b, err := json.Marshal(req.GetArguments())
	if err != nil {
		return result, errors.NewInvalidRequest("arguments are not a JSON object")
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&result); err != nil {
		var typeErr *json.UnmarshalTypeError
		if stderrors.As(err, &typeErr) && typeErr.Field != "" {
			return result, errors.NewInvalidRequest(fmt.Sprintf("argument %q must be %s", typeErr.Field, typeErr.Type))
		}
		return result, errors.NewInvalidRequest("invalid arguments: " + err.Error())
	}
	return result, nil
}
