package middleware

import "net/http"

// NewSecurityHeadersMiddleware はAPIレスポンス共通のヘッダーを付与するミドルウェアを返す。
// Cache-Controlは共有キャッシュを禁止しつつ、条件付きリクエストによる再検証を許可する。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Cache-Control", "private, no-cache")
			next.ServeHTTP(w, r)
		})
	}
}
