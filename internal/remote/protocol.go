// Package remote implements the REST adapter: resources are fetched over
// HTTP from a JSON API laid out as /<namespace>/<plural>[/<id>].
package remote

import (
	"fmt"
	"net/url"
	"sort"
)

// ErrorResponse is the structured error format returned by the server.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Detail  map[string]string `json:"detail,omitempty"`
}

// Query parameter names understood by the server.
const (
	ParamIDs   = "ids[]"
	ParamSince = "since"
)

// EncodeQuery renders a query map as URL parameters with sorted keys.
// Slice values repeat the key.
func EncodeQuery(query map[string]interface{}) string {
	if len(query) == 0 {
		return ""
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, k := range keys {
		switch v := query[k].(type) {
		case []string:
			for _, s := range v {
				values.Add(k, s)
			}
		case []interface{}:
			for _, s := range v {
				values.Add(k, toString(s))
			}
		default:
			values.Add(k, toString(v))
		}
	}
	return values.Encode()
}

// DecodeQuery is the inverse of EncodeQuery for single-valued parameters.
func DecodeQuery(values url.Values, skip ...string) map[string]interface{} {
	out := make(map[string]interface{})
	for k, vs := range values {
		if len(vs) == 0 || contains(skip, k) {
			continue
		}
		if len(vs) == 1 {
			out[k] = vs[0]
		} else {
			out[k] = append([]string(nil), vs...)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func toString(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
