package gate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jonwraymond/toolgate/policy"
)

// DefaultMaxBodyBytes bounds the body JSONRPCOperation reads.
const DefaultMaxBodyBytes int64 = 1 << 20

var (
	errBodyTooLarge = errors.New("request body too large")
	errBatch        = errors.New("batch requests are not supported")
	errNoMethod     = errors.New("JSON-RPC message has no method")
	errAmbiguous    = errors.New("ambiguous JSON-RPC message")
)

// Keys the operation is read from. Members are matched exactly; a member
// whose name only case-folds to one of these is refused so that every
// JSON decoder reads the same operation.
var (
	messageKeys = []string{"method", "params"}
	paramsKeys  = []string{"name", "uri", "arguments"}
)

// JSONRPCOperation returns an OperationFunc for JSON-RPC 2.0 bodies. The
// operation name is the method, the target is params.name or params.uri
// and the arguments are params.arguments. The body is read up to maxBytes
// and restored for the next handler. A request without a body yields an
// operation named after the HTTP method.
//
// Messages with duplicate members, or with members that differ from
// method, params, name, uri or arguments only by case, are rejected.
func JSONRPCOperation(maxBytes int64) OperationFunc {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	return func(r *http.Request) (policy.Operation, error) {
		if r.Body == nil || r.Body == http.NoBody {
			return policy.Operation{Name: r.Method}, nil
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
		if err != nil {
			return policy.Operation{}, fmt.Errorf("read body: %w", err)
		}
		if int64(len(body)) > maxBytes {
			return policy.Operation{}, errBodyTooLarge
		}

		trimmed := bytes.TrimSpace(body)
		if len(trimmed) == 0 {
			return policy.Operation{Name: r.Method}, nil
		}
		if trimmed[0] == '[' {
			return policy.Operation{}, errBatch
		}
		return parseMessage(trimmed)
	}
}

func parseMessage(data []byte) (policy.Operation, error) {
	msg, err := members(data, messageKeys)
	if err != nil {
		return policy.Operation{}, err
	}

	var op policy.Operation
	raw, ok := msg["method"]
	if !ok {
		return policy.Operation{}, errNoMethod
	}
	if err := json.Unmarshal(raw, &op.Name); err != nil {
		return policy.Operation{}, fmt.Errorf("decode method: %w", err)
	}
	if op.Name == "" {
		return policy.Operation{}, errNoMethod
	}

	raw, ok = msg["params"]
	if !ok || isNull(raw) {
		return op, nil
	}
	if raw[0] != '{' {
		// Positional params carry no name, uri or arguments.
		return op, nil
	}
	params, err := members(raw, paramsKeys)
	if err != nil {
		return policy.Operation{}, fmt.Errorf("params: %w", err)
	}

	var name, uri string
	if err := decodeString(params, "name", &name); err != nil {
		return policy.Operation{}, err
	}
	if err := decodeString(params, "uri", &uri); err != nil {
		return policy.Operation{}, err
	}
	op.Target = name
	if op.Target == "" {
		op.Target = uri
	}
	if raw, ok := params["arguments"]; ok && !isNull(raw) {
		if err := uniqueMembers(raw); err != nil {
			return policy.Operation{}, fmt.Errorf("arguments: %w", err)
		}
		if err := json.Unmarshal(raw, &op.Arguments); err != nil {
			return policy.Operation{}, fmt.Errorf("decode arguments: %w", err)
		}
	}
	return op, nil
}

// members splits a JSON object into its raw members. It fails on a
// duplicate member name and on a name that equals one of watched under
// case folding without equaling it exactly.
func members(data []byte, watched []string) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode JSON-RPC message: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("JSON-RPC message is not an object")
	}

	out := make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode JSON-RPC message: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.New("decode JSON-RPC message: member name is not a string")
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("%w: duplicate member %q", errAmbiguous, key)
		}
		for _, w := range watched {
			if key != w && strings.EqualFold(key, w) {
				return nil, fmt.Errorf("%w: member %q", errAmbiguous, key)
			}
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("decode JSON-RPC message: %w", err)
		}
		out[key] = value
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode JSON-RPC message: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("decode JSON-RPC message: trailing data")
	}
	return out, nil
}

// uniqueMembers fails when any object nested in data repeats a member name.
func uniqueMembers(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	type frame struct {
		seen   map[string]struct{}
		object bool
		key    bool
	}
	var stack []*frame
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("decode JSON-RPC message: %w", err)
		}

		var top *frame
		if len(stack) > 0 {
			top = stack[len(stack)-1]
		}
		if key, ok := tok.(string); ok && top != nil && top.object && top.key {
			if _, dup := top.seen[key]; dup {
				return fmt.Errorf("%w: duplicate member %q", errAmbiguous, key)
			}
			top.seen[key] = struct{}{}
			top.key = false
			continue
		}

		switch tok {
		case json.Delim('{'):
			stack = append(stack, &frame{seen: map[string]struct{}{}, object: true, key: true})
			continue
		case json.Delim('['):
			stack = append(stack, &frame{})
			continue
		case json.Delim('}'), json.Delim(']'):
			stack = stack[:len(stack)-1]
		}
		// A completed value inside an object is followed by a member name.
		if len(stack) > 0 && stack[len(stack)-1].object {
			stack[len(stack)-1].key = true
		}
	}
}

func decodeString(m map[string]json.RawMessage, key string, dst *string) error {
	raw, ok := m[key]
	if !ok || isNull(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
