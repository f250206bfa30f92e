package dtvclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// headerSeparator ends the HTTP header block when the controller sends one
var headerSeparator = []byte("\r\n\r\n")

// ExtractBody returns the body of a raw controller response.
//
// The controller sometimes answers with HTTP framing malformed enough that no
// HTTP parser accepts it, and sometimes with a bare body. Everything up to and
// including the first CRLFCRLF is discarded when present; otherwise the whole
// stream is the body. Surrounding whitespace is trimmed either way.
func ExtractBody(raw []byte) []byte {
	if i := bytes.Index(raw, headerSeparator); i != -1 {
		raw = raw[i+len(headerSeparator):]
	}
	return bytes.TrimSpace(raw)
}

// ExtractJSON returns the JSON document contained in a body.
//
// A strictly valid body is returned as-is. Otherwise the greedy span from the
// first '{' to the last '}' is tried, which recovers bodies with garbage
// before or after the object:
//
//	garbage{"a":1}  ->  {"a":1}
func ExtractJSON(body []byte) ([]byte, error) {
	if json.Valid(body) {
		return body, nil
	}

	start := bytes.IndexByte(body, '{')
	end := bytes.LastIndexByte(body, '}')
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	candidate := body[start : end+1]
	if !json.Valid(candidate) {
		return nil, fmt.Errorf("JSON object in response is malformed")
	}
	return candidate, nil
}

// DecodeObject parses a controller body into a key/value map using the
// strict-then-recover strategy of ExtractJSON. Numbers decode as float64.
func DecodeObject(body []byte) (map[string]any, error) {
	data, err := ExtractJSON(body)
	if err != nil {
		return nil, err
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("failed to unmarshal controller response: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("controller response is not a JSON object")
	}
	return obj, nil
}

// statusCode returns the HTTP status code of a raw response, if it has a
// recognizable status line. Bare bodies report ok=false.
func statusCode(raw []byte) (int, bool) {
	if !bytes.HasPrefix(raw, []byte("HTTP/")) {
		return 0, false
	}
	line := raw
	if i := bytes.IndexAny(raw, "\r\n"); i != -1 {
		line = raw[:i]
	}
	fields := bytes.Fields(line)
	if len(fields) < 2 {
		return 0, false
	}
	code, err := strconv.Atoi(string(fields[1]))
	if err != nil {
		return 0, false
	}
	return code, true
}
