// Package httpresp assembles an HTTP/1.1 response: a status line and
// headers written into a buffer.Buffer, plus the body memory-mapped
// straight from disk, grounded on
// original_source/code/http/httpresponse.{h,cpp}.
package httpresp

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/bern-seu/webserver/internal/buffer"
	"github.com/bern-seu/webserver/internal/constants"
)

// suffixType is the extension -> MIME table, matching
// HttpResponse::SUFFIX_TYPE.
var suffixType = map[string]string{
	".html":  "text/html",
	".xml":   "text/xml",
	".xhtml": "application/xhtml+xml",
	".txt":   "text/plain",
	".rtf":   "application/rtf",
	".pdf":   "application/pdf",
	".word":  "application/msword",
	".png":   "image/png",
	".gif":   "image/gif",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".au":    "audio/basic",
	".mpeg":  "video/mpeg",
	".mpg":   "video/mpeg",
	".avi":   "video/x-msvideo",
	".gz":    "application/x-gzip",
	".tar":   "application/x-tar",
	".css":   "text/css",
	".js":    "text/javascript",
}

// codeStatus is the status-code -> reason-phrase table, matching
// HttpResponse::CODE_STATUE.
var codeStatus = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	413: "Request Entity Too Large",
}

// codePath maps an error status to its error page, matching
// HttpResponse::CODE_PATH.
var codePath = map[int]string{
	400: "/400.html",
	403: "/403.html",
	404: "/404.html",
	413: "/413.html",
}

// Response builds one HTTP response and owns the mmap'd file backing
// its body, if any.
type Response struct {
	code      int
	keepAlive bool
	srcDir    string
	path      string

	mmFile     []byte
	mmFileSize int64
}

// New creates an uninitialized Response; call Init before MakeResponse.
func New() *Response {
	return &Response{code: -1}
}

// Init resets the response for a new request, releasing any existing
// file mapping first.
func (r *Response) Init(srcDir, path string, keepAlive bool, code int) {
	r.UnmapFile()
	r.srcDir = srcDir
	r.path = path
	r.keepAlive = keepAlive
	r.code = code
}

// Code returns the resolved status code.
func (r *Response) Code() int { return r.code }

// Path returns the (possibly error-page-rewritten) file path served.
func (r *Response) Path() string { return r.path }

// FileLen returns the mapped file's size, or 0 if nothing is mapped.
func (r *Response) FileLen() int64 { return r.mmFileSize }

// File returns the mapped file bytes, or nil if nothing is mapped.
func (r *Response) File() []byte { return r.mmFile }

// MakeResponse resolves the final status code against the filesystem,
// then appends the status line, headers, and body (or an inline error
// body) to out.
func (r *Response) MakeResponse(out *buffer.Buffer) {
	var info os.FileInfo
	if r.code < 400 {
		fi, err := os.Stat(filepath.Join(r.srcDir, r.path))
		switch {
		case err != nil || (fi != nil && fi.IsDir()):
			r.code = 404
		case fi.Mode().Perm()&0o444 == 0:
			r.code = 403
		default:
			r.code = 200
			info = fi
		}
	}

	if errPath, ok := codePath[r.code]; ok {
		r.path = errPath
		fi, err := os.Stat(filepath.Join(r.srcDir, r.path))
		if err == nil {
			info = fi
		}
	}

	r.addStatusLine(out)
	r.addHeader(out)
	r.addContent(out, info)
}

func (r *Response) addStatusLine(out *buffer.Buffer) {
	reason, ok := codeStatus[r.code]
	code := r.code
	if !ok {
		code = 400
		reason = codeStatus[400]
	}
	out.AppendString(fmt.Sprintf("HTTP/1.1 %d %s\r\n", code, reason))
}

func (r *Response) addHeader(out *buffer.Buffer) {
	if r.keepAlive {
		out.AppendString("Connection: keep-alive\r\n")
		out.AppendString(fmt.Sprintf("keep-alive: max=%d, timeout=%d\r\n",
			constants.KeepAliveMaxRequests, constants.KeepAliveTimeoutSeconds))
	} else {
		out.AppendString("Connection: close\r\n")
	}
	out.AppendString("Content-type: " + r.fileType() + "\r\n")
}

func (r *Response) fileType() string {
	ext := filepath.Ext(r.path)
	if mime, ok := suffixType[strings.ToLower(ext)]; ok {
		return mime
	}
	return "text/plain"
}

func (r *Response) addContent(out *buffer.Buffer, info os.FileInfo) {
	fullPath := filepath.Join(r.srcDir, r.path)
	f, err := os.Open(fullPath)
	if err != nil {
		r.errorContent(out, "File Not Found!")
		return
	}
	defer f.Close()

	size := int64(0)
	if info != nil {
		size = info.Size()
	} else if fi, statErr := f.Stat(); statErr == nil {
		size = fi.Size()
	}

	if size == 0 {
		out.AppendString(fmt.Sprintf("Content-length: %d\r\n\r\n", size))
		return
	}

	mapped, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		r.errorContent(out, "File Not Found!")
		return
	}
	r.mmFile = mapped
	r.mmFileSize = size
	out.AppendString(fmt.Sprintf("Content-length: %d\r\n\r\n", size))
}

// errorContent writes a minimal inline HTML error body with an
// accurate Content-length, matching HttpResponse::ErrorContent.
func (r *Response) errorContent(out *buffer.Buffer, message string) {
	body := fmt.Sprintf(
		"<html><title>Error</title><body bgcolor=\"ffffff\">%d : %s\n<p>%s</p></body></html>",
		r.code, codeStatus[r.code], message)
	out.AppendString(fmt.Sprintf("Content-length: %d\r\n\r\n", len(body)))
	out.AppendString(body)
}

// UnmapFile releases any active file mapping. It is idempotent and
// must run before Init reassigns path/srcDir and on connection close.
func (r *Response) UnmapFile() {
	if r.mmFile != nil {
		unix.Munmap(r.mmFile)
		r.mmFile = nil
		r.mmFileSize = 0
	}
}
