package splithttp

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testPayload(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// newRangeServer serves data at every path with full HEAD and Range support.
func newRangeServer(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "payload.bin", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)
	return server
}

// trackingDoer counts response bodies that are still open, which is how the
// tests observe that every fetcher has returned.
type trackingDoer struct {
	client *http.Client
	open   atomic.Int64
	calls  atomic.Int64
}

func newTrackingDoer() *trackingDoer {
	return &trackingDoer{client: &http.Client{}}
}

func (d *trackingDoer) Do(req *http.Request) (*http.Response, error) {
	d.calls.Add(1)
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	d.open.Add(1)
	resp.Body = &trackedBody{ReadCloser: resp.Body, doer: d}
	return resp, nil
}

type trackedBody struct {
	io.ReadCloser
	doer   *trackingDoer
	closed atomic.Bool
}

func (b *trackedBody) Close() error {
	if b.closed.CompareAndSwap(false, true) {
		b.doer.open.Add(-1)
	}
	return b.ReadCloser.Close()
}
