package gateway

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"
)

// ErrNoResult is returned when a 200 response carries no ticket key or page URL.
var ErrNoResult = errors.New("gateway response contains no result")

// StatusError is a non-200 gateway response.
type StatusError struct {
	StatusCode int
	Body       string // first 200 bytes
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Body)
}

// ToolError is a tool failure reported inside a 200 response, either as a
// JSON-RPC error object or a result flagged isError.
type ToolError struct {
	Code    int
	Message string
}

func (e *ToolError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("gateway tool error %d: %s", e.Code, e.Message)
	}
	return "gateway tool error: " + e.Message
}

// ToolResult holds what a gateway tool call produced.
type ToolResult struct {
	TicketKey string `json:"ticket_key,omitempty"`
	PageURL   string `json:"page_url,omitempty"`
}

// Empty reports whether nothing usable was found.
func (r ToolResult) Empty() bool {
	return r.TicketKey == "" && r.PageURL == ""
}

var (
	ticketKeyFields = []string{"Out_JiraKey", "jira_key", "key", "issue_key", "ticket_key"}
	pageURLFields   = []string{"out_ConfluencePageurl", "confluence_url", "page_url", "confluence_page"}
)

// ParseResponse extracts a ticket key and page URL from a gateway response
// body. It understands a bare JSON object, a JSON-RPC response, and a
// server-sent event stream of JSON-RPC responses.
func ParseResponse(body []byte) (ToolResult, error) {
	if fields, ok := objectFields(body); ok {
		if _, isRPC := lookup(fields, "jsonrpc"); isRPC {
			return parseRPCMessage(body)
		}
		return directResult(fields), nil
	}
	return parseStream(body)
}

func directResult(fields []field) ToolResult {
	var result ToolResult
	result.TicketKey = firstString(fields, ticketKeyFields)
	result.PageURL = firstString(fields, pageURLFields)
	if result.TicketKey != "" {
		return result
	}
	for _, f := range fields {
		if v := stringValue(f.value); looksLikeTicketKey(v) {
			result.TicketKey = v
			break
		}
	}
	return result
}

// looksLikeTicketKey matches values such as "PROJ-123": exactly one hyphen
// with text on both sides.
func looksLikeTicketKey(v string) bool {
	left, right, ok := strings.Cut(v, "-")
	return ok && left != "" && right != "" && !strings.Contains(right, "-")
}

func parseStream(body []byte) (ToolResult, error) {
	var result ToolResult
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), maxResponseBytes)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		msg, err := parseRPCMessage([]byte(data))
		if err != nil {
			var toolErr *ToolError
			if errors.As(err, &toolErr) {
				return result, err
			}
			continue
		}
		if msg.TicketKey != "" {
			result.TicketKey = msg.TicketKey
		}
		if msg.PageURL != "" {
			result.PageURL = msg.PageURL
		}
	}
	return result, nil
}

type rpcResponse struct {
	Result *json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// lenientToolResult decodes content items that lack a type tag.
type lenientToolResult struct {
	IsError bool `json:"isError"`
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

func parseRPCMessage(data []byte) (ToolResult, error) {
	var resp rpcResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return ToolResult{}, errors.Wrap(err, "invalid JSON-RPC message")
	}
	if resp.Error != nil {
		return ToolResult{}, &ToolError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if resp.Result == nil {
		return ToolResult{}, nil
	}

	text, isError := "", false
	if callResult, err := mcp.ParseCallToolResult(resp.Result); err == nil {
		isError = callResult.IsError
		if len(callResult.Content) > 0 {
			if tc, ok := mcp.AsTextContent(callResult.Content[0]); ok {
				text = tc.Text
			}
		}
	} else {
		var lenient lenientToolResult
		if err := json.Unmarshal(*resp.Result, &lenient); err != nil {
			return ToolResult{}, errors.Wrap(err, "invalid tool result")
		}
		isError = lenient.IsError
		if len(lenient.Content) > 0 {
			text = lenient.Content[0].Text
		}
	}

	if isError {
		return ToolResult{}, &ToolError{Message: strings.TrimSpace(text)}
	}
	fields, ok := objectFields([]byte(text))
	if !ok {
		return ToolResult{}, nil
	}
	return ToolResult{
		TicketKey: firstString(fields, ticketKeyFields),
		PageURL:   firstString(fields, pageURLFields),
	}, nil
}

type field struct {
	name  string
	value json.RawMessage
}

// objectFields decodes a single top-level JSON object, preserving field order.
func objectFields(data []byte) ([]field, bool) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, false
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, false
	}

	var fields []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		name, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, false
		}
		fields = append(fields, field{name: name, value: raw})
	}
	if _, err := dec.Token(); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}
	return fields, true
}

func lookup(fields []field, name string) (json.RawMessage, bool) {
	for _, f := range fields {
		if f.name == name {
			return f.value, true
		}
	}
	return nil, false
}

func firstString(fields []field, names []string) string {
	for _, name := range names {
		if raw, ok := lookup(fields, name); ok {
			if v := stringValue(raw); v != "" {
				return v
			}
		}
	}
	return ""
}

func stringValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}
