package backends

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"

	"github.com/andybalholm/brotli"
)

// bodyReader returns resp.Body decoded according to Content-Encoding.
func bodyReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		return gz, nil
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

func readBody(resp *http.Response) ([]byte, error) {
	r, err := bodyReader(resp)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
