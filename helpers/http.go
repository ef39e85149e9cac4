package helpers

import (
	"bufio"
	"bytes"
	"fmt"
	"io/ioutil"
	"net/http"
)

type MockHTTP struct {
	Fun    func(*http.Request) (*http.Response, error)
	Header []byte
	Body   []byte
	Err    error
}

func (m *MockHTTP) RoundTrip(req *http.Request) (*http.Response, error) {
	if m.Fun != nil {
		return m.Fun(req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	header := m.Header
	if header == nil {
		header = []byte("HTTP/1.0 200 OK\r\n\r\n")
	}
	rb := make([]byte, 0, len(header)+len(m.Body))
	rb = append(rb, header...)
	rb = append(rb, m.Body...)
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(rb)), req)
}

// MockResponse is convenient inside MockHTTP.Fun.
func MockResponse(status int, body []byte) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.0",
		ProtoMajor:    1,
		Header:        http.Header{},
		Body:          ioutil.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}
