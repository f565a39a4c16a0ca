package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// etagFor は更新日時からETagを生成する。
func etagFor(t time.Time) string {
	return `"` + strconv.FormatInt(t.UTC().UnixMicro(), 36) + `"`
}

// setValidators はETagとLast-Modifiedヘッダーを設定する。
func setValidators(w http.ResponseWriter, modified time.Time) {
	w.Header().Set("ETag", etagFor(modified))
	w.Header().Set("Last-Modified", modified.UTC().Format(http.TimeFormat))
}

// notModified はリクエストの条件ヘッダーに照らしてリソースが未変更かを判定する。
// If-None-Matchがある場合はそれのみで判定し、ない場合はIf-Modified-Sinceで判定する。
func notModified(r *http.Request, modified time.Time) bool {
	if inm := r.Header.Get("If-None-Match"); inm != "" {
		return etagMatches(inm, etagFor(modified))
	}

	ims := r.Header.Get("If-Modified-Since")
	if ims == "" {
		return false
	}
	since, err := http.ParseTime(ims)
	if err != nil {
		return false
	}
	// Last-Modifiedは秒精度
	return !modified.Truncate(time.Second).After(since)
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == etag {
			return true
		}
	}
	return false
}

// writeNotModified は304レスポンスを書き込む。
func writeNotModified(w http.ResponseWriter, modified time.Time) {
	setValidators(w, modified)
	w.WriteHeader(http.StatusNotModified)
}
