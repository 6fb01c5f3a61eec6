// Package web holds the widget page, the HTML fragments it is patched with,
// and its static assets.
package web

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/gofiber/template/html/v2"
)

//go:embed templates
var templates embed.FS

//go:embed static
var static embed.FS

// Engine returns a template engine over the embedded templates.
func Engine() *html.Engine {
	return html.NewFileSystem(http.FS(mustSub(templates, "templates")), ".html")
}

// Static returns the embedded static assets.
func Static() http.FileSystem {
	return http.FS(mustSub(static, "static"))
}

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
