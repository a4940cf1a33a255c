package httpproto

import "strings"

// suffixType is ported from the design's SUFFIX_TYPE table
// (code/http/httpresponse.cpp) byte-for-byte, extension to MIME type.
var suffixType = map[string]string{
	".html":  "text/html",
	".xml":   "text/xml",
	".xhtml": "application/xhtml+xml",
	".txt":   "text/plain",
	".rtf":   "application/rtf",
	".pdf":   "application/pdf",
	".word":  "application/nsword",
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

// codeStatus maps a status code to its reason phrase.
var codeStatus = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
}

// codePath maps a 4xx status to its configured error-page path.
var codePath = map[int]string{
	400: "/400.html",
	403: "/403.html",
	404: "/404.html",
}

func mimeTypeFor(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 {
		return "text/plain"
	}
	if t, ok := suffixType[path[idx:]]; ok {
		return t
	}
	return "text/plain"
}
