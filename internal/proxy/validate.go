package proxy

import "avax-rpc-gateway/internal/rpctypes"

// Validate checks a single parsed request against §4.5's rules and returns
// the -32600 error to surface, or nil if the request is well-formed.
func Validate(req *rpctypes.Request) *rpctypes.Error {
	if req.Version != "2.0" {
		return rpctypes.NewError(rpctypes.CodeInvalidRequest, "invalid request: jsonrpc version must be \"2.0\"")
	}
	if req.Method == "" {
		return rpctypes.NewError(rpctypes.CodeInvalidRequest, "invalid request: method must be a non-empty string")
	}
	if !req.HasID() {
		return rpctypes.NewError(rpctypes.CodeInvalidRequest, "invalid request: id is required")
	}
	return nil
}
