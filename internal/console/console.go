// Package console serves the browser playground that renders an analysis
// outcome the way a client honoring the UI contract would.
package console

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"
)

const (
	RobotsTagHeader = "X-Robots-Tag"
	RobotsTagValue  = "noindex, nofollow"
)

//go:embed static
var staticFiles embed.FS

// Handler serves the console index at /console and its assets under
// /console/static/.
func Handler() http.Handler {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	assets := http.StripPrefix("/console/static/", http.FileServer(http.FS(sub)))
	index, err := fs.ReadFile(sub, "console.html")
	if err != nil {
		panic(err)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(RobotsTagHeader, RobotsTagValue)
		if strings.HasPrefix(r.URL.Path, "/console/static/") {
			assets.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(index)
	})
}
