// Package rpcerr classifies Go errors returned by handlers into the
// JSON-RPC error codes the wire protocol defines, so handler code can return
// plain sentinel errors instead of constructing protocol objects itself.
package rpcerr

import (
	"errors"

	"github.com/agentcore/agentcore/internal/rpc"
)

// Classify maps err onto a *rpc.Error, walking the error chain for a known
// sentinel before falling back to CodeInternalError. nil in, nil out.
func Classify(err error) *rpc.Error {
	if err == nil {
		return nil
	}

	for _, c := range classifiers {
		if errors.Is(err, c.sentinel) {
			return &rpc.Error{Code: c.code, Message: err.Error()}
		}
	}

	var rpcErr *rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	return &rpc.Error{Code: rpc.CodeInternalError, Message: err.Error()}
}

type classifier struct {
	sentinel error
	code     int
}

// classifiers is populated by init functions in the packages that own each
// sentinel, via Register, so rpcerr never needs to import every domain
// package and risk an import cycle.
var classifiers []classifier

// Register associates sentinel with a JSON-RPC error code. Domain packages
// call this from an init function for every sentinel error they export that
// should surface as something other than CodeInternalError.
func Register(sentinel error, code int) {
	classifiers = append(classifiers, classifier{sentinel: sentinel, code: code})
}
