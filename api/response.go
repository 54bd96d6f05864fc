package api

import (
	"compress/gzip"
	"net/http"
)

// GzipResponseWriter sends the body through GzipWriter and everything else
// to the wrapped writer.
type GzipResponseWriter struct {
	Writer     http.ResponseWriter
	GzipWriter *gzip.Writer
}

func (gw *GzipResponseWriter) Write(data []byte) (int, error) {
	return gw.GzipWriter.Write(data)
}

func (gw *GzipResponseWriter) Header() http.Header {
	return gw.Writer.Header()
}

func (gw *GzipResponseWriter) WriteHeader(statusCode int) {
	gw.Writer.Header().Del("Content-Length")
	gw.Writer.WriteHeader(statusCode)
}
