// Package restyutil dumps the http exchanges of a resty client for
// debugging.
package restyutil

import (
	"fmt"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

type Output interface {
	Write(id string, contents string)
}

// DumpExchanges writes every completed exchange made through client to
// output, named by a counter and the request method.
func DumpExchanges(client *resty.Client, output Output) {
	var counter atomic.Uint64
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		id := fmt.Sprintf("%04d-%s.txt", counter.Add(1), res.Request.Method)
		output.Write(id, formatHttpMessage(res))
		return nil
	})
}
