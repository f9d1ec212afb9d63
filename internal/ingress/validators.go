package ingress

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is what a Validator returns when it wants to short-circuit
// the chain with an HTTP response. A nil Response means "passed,
// continue to the next validator" — spec.md §4.1's "first to produce a
// response wins" contract, modeled as a result type rather than
// exceptions-for-control-flow per spec.md §9.
type Response struct {
	Status int
	Body   gin.H
}

// Write sends the response on c.
func (r *Response) Write(c *gin.Context) {
	c.JSON(r.Status, r.Body)
}

func reject(status int, body gin.H) *Response {
	return &Response{Status: status, Body: body}
}

// Validator inspects a request and either returns a short-circuiting
// Response or nil to let the chain continue.
type Validator func(c *gin.Context, req *Request) (*Response, error)

// RunChain runs validators in order, stopping at the first non-nil
// Response or error. Later validators are never consulted once one
// produces a result — spec.md §4.1 and §5 require this exact ordering
// and forbid reordering.
func RunChain(c *gin.Context, req *Request, validators ...Validator) (*Response, error) {
	for _, v := range validators {
		resp, err := v(c, req)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
	}
	return nil, nil
}

// unauthorized is the fixed 401 body for API key mismatches.
func unauthorized() *Response {
	return reject(http.StatusUnauthorized, gin.H{"message": "Invalid API key", "status": "error"})
}
