package page

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// DetectCharset guesses the charset of raw bytes, defaulting to utf-8.
func DetectCharset(data []byte) string {
	detector := chardet.NewHtmlDetector()
	result, err := detector.DetectBest(data)
	if err != nil || result == nil {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}

// utf8Reader converts body to UTF-8. A charset declared in contentType
// wins, valid UTF-8 is taken as is, anything else goes through detection.
func utf8Reader(body []byte, contentType string) io.Reader {
	if contentType == "" {
		contentType = "text/html"
	}
	if _, params, err := mime.ParseMediaType(contentType); err != nil || params["charset"] == "" {
		label := "utf-8"
		if !utf8.Valid(body) {
			label = DetectCharset(body)
		}
		contentType = fmt.Sprintf("text/html; charset=%s", label)
	}
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		// unknown label, parse the bytes as they are
		return bytes.NewReader(body)
	}
	return r
}
