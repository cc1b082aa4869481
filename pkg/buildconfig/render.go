package buildconfig

import (
	"embed"
	"fmt"
	"io"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const viteTemplate = "vite.config.js.tmpl"

var (
	templateOnce sync.Once
	templateErr  error
	viteTmpl     *template.Template
)

var pluginModules = map[string]pluginImport{
	"react":     {Ident: "react", Module: "@vitejs/plugin-react"},
	"react-swc": {Ident: "react", Module: "@vitejs/plugin-react-swc"},
	"vue":       {Ident: "vue", Module: "@vitejs/plugin-vue"},
}

type pluginImport struct {
	Ident  string
	Module string
}

type renderData struct {
	Source  string
	Plugins []pluginImport
	Build   BuildOptions
	Server  ServerOptions
	Rules   []Rule
}

func loadTemplate() (*template.Template, error) {
	templateOnce.Do(func() {
		viteTmpl, templateErr = template.New(viteTemplate).
			Funcs(sprig.TxtFuncMap()).
			ParseFS(templateFS, "templates/"+viteTemplate)
	})
	return viteTmpl, templateErr
}

// Render writes vite.config.js for c. source, when set, names the file c was
// loaded from in the generated header.
func (c *Config) Render(w io.Writer, source string) error {
	tmpl, err := loadTemplate()
	if err != nil {
		return fmt.Errorf("load template: %w", err)
	}

	data := renderData{
		Source: source,
		Build:  c.Build,
		Server: c.Server,
		Rules:  c.Rules(),
	}
	for _, name := range c.Plugins {
		p, ok := pluginModules[name]
		if !ok {
			return fmt.Errorf("unknown plugin %q", name)
		}
		data.Plugins = append(data.Plugins, p)
	}

	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("render %s: %w", viteTemplate, err)
	}
	return nil
}
