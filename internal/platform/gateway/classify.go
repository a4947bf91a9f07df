package gateway

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ResponseKind is the closed set of ways an upstream response is relayed.
type ResponseKind int

const (
	KindText ResponseKind = iota
	KindJSON
	KindBinary
)

func (k ResponseKind) String() string {
	switch k {
	case KindJSON:
		return "json"
	case KindBinary:
		return "binary"
	default:
		return "text"
	}
}

var binaryContentTypes = []string{
	"application/zip",
	"application/vnd.openxmlformats",
	"application/octet-stream",
}

// zipMagic is the local file header signature of zip archives, which covers
// xlsx, pptx and docx as well.
var zipMagic = []byte("PK\x03\x04")

// Classify decides how an upstream response is relayed from its content type
// and, when the content type says nothing, the first bytes of the body.
func Classify(contentType string, body []byte) ResponseKind {
	ct := strings.ToLower(contentType)
	for _, b := range binaryContentTypes {
		if strings.Contains(ct, b) {
			return KindBinary
		}
	}
	if strings.Contains(ct, "application/json") {
		return KindJSON
	}
	if !strings.HasPrefix(ct, "text/") && bytes.HasPrefix(body, zipMagic) {
		return KindBinary
	}
	return KindText
}

// Reply is a classified upstream response ready to be written back to the
// client. The concrete types are JSONReply, BinaryReply and TextReply.
type Reply interface {
	StatusCode() int
	Kind() ResponseKind
	write(c echo.Context) error
}

// JSONReply carries a parsed JSON document. A malformed upstream body is
// replaced by an empty object.
type JSONReply struct {
	Status int
	Value  interface{}
}

func (r JSONReply) StatusCode() int    { return r.Status }
func (r JSONReply) Kind() ResponseKind { return KindJSON }

func (r JSONReply) write(c echo.Context) error {
	if !bodyAllowed(r.Status) {
		return c.NoContent(r.Status)
	}
	return c.JSON(r.Status, r.Value)
}

// BinaryReply carries raw bytes such as generated document bundles or price
// templates.
type BinaryReply struct {
	Status      int
	ContentType string
	Disposition string
	Body        []byte
}

func (r BinaryReply) StatusCode() int    { return r.Status }
func (r BinaryReply) Kind() ResponseKind { return KindBinary }

func (r BinaryReply) write(c echo.Context) error {
	ct := r.ContentType
	if ct == "" {
		ct = echo.MIMEOctetStream
	}
	if r.Disposition != "" {
		c.Response().Header().Set(echo.HeaderContentDisposition, r.Disposition)
	}
	if !bodyAllowed(r.Status) {
		return c.NoContent(r.Status)
	}
	return c.Blob(r.Status, ct, r.Body)
}

// TextReply carries any other body verbatim.
type TextReply struct {
	Status      int
	ContentType string
	Body        []byte
}

func (r TextReply) StatusCode() int    { return r.Status }
func (r TextReply) Kind() ResponseKind { return KindText }

func (r TextReply) write(c echo.Context) error {
	if !bodyAllowed(r.Status) {
		return c.NoContent(r.Status)
	}
	ct := r.ContentType
	if ct == "" {
		ct = echo.MIMETextPlainCharsetUTF8
	}
	return c.Blob(r.Status, ct, r.Body)
}

func bodyAllowed(status int) bool {
	return status != http.StatusNoContent && status != http.StatusNotModified && status >= 200
}
