package server

import (
	"net/http"

	"github.com/epicenterlabs/epicenter/pkg/action"
	"github.com/epicenterlabs/epicenter/pkg/field"
)

// openAPIDoc is the minimal subset of the OpenAPI 3.0 document shape
// SPEC_FULL.md's §6 extension calls for: one path per (workspace, action)
// pair, with a request body schema derived from the action's Describe().
type openAPIDoc struct {
	OpenAPI string                `json:"openapi"`
	Info    openAPIInfo           `json:"info"`
	Paths   map[string]pathItem   `json:"paths"`
}

type openAPIInfo struct {
	Title   string `json:"title"`
	Version string `json:"version"`
}

type pathItem map[string]operation

type operation struct {
	Summary     string                 `json:"summary,omitempty"`
	RequestBody *requestBody           `json:"requestBody,omitempty"`
	Parameters  []parameter            `json:"parameters,omitempty"`
	Responses   map[string]response    `json:"responses"`
}

type requestBody struct {
	Content map[string]mediaType `json:"content"`
}

type mediaType struct {
	Schema jsonSchema `json:"schema"`
}

type parameter struct {
	Name     string     `json:"name"`
	In       string     `json:"in"`
	Required bool       `json:"required"`
	Schema   jsonSchema `json:"schema"`
}

type jsonSchema struct {
	Type       string                `json:"type"`
	Properties map[string]jsonSchema `json:"properties,omitempty"`
	Required   []string              `json:"required,omitempty"`
	Enum       []string              `json:"enum,omitempty"`
	Items      *jsonSchema           `json:"items,omitempty"`
}

type response struct {
	Description string `json:"description"`
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	doc := openAPIDoc{
		OpenAPI: "3.0.3",
		Info:    openAPIInfo{Title: "epicenter", Version: "1"},
		Paths:   map[string]pathItem{},
	}

	for _, ws := range s.ep.Workspaces() {
		for name, a := range ws.Actions() {
			path := "/workspaces/" + ws.ID + "/" + name
			d := a.Describe()
			op := operation{
				Summary:   d.Description,
				Responses: map[string]response{"200": {Description: "success"}},
			}
			if d.Kind == action.KindMutation {
				op.RequestBody = &requestBody{Content: map[string]mediaType{
					"application/json": {Schema: schemaFor(d)},
				}}
				doc.Paths[path] = pathItem{"post": op}
			} else {
				op.Parameters = parametersFor(d)
				doc.Paths[path] = pathItem{"get": op}
			}
		}
	}

	writeJSON(w, http.StatusOK, doc)
}

func schemaFor(d action.Describe) jsonSchema {
	s := jsonSchema{Type: "object", Properties: map[string]jsonSchema{}}
	for _, f := range d.Fields {
		prop := jsonSchema{Type: jsonTypeFor(f.Kind)}
		if len(f.Options) > 0 {
			prop.Enum = f.Options
		}
		s.Properties[f.Name] = prop
		if f.Required {
			s.Required = append(s.Required, f.Name)
		}
	}
	return s
}

func parametersFor(d action.Describe) []parameter {
	params := make([]parameter, 0, len(d.Fields))
	for _, f := range d.Fields {
		prop := jsonSchema{Type: jsonTypeFor(f.Kind)}
		if len(f.Options) > 0 {
			prop.Enum = f.Options
		}
		params = append(params, parameter{Name: f.Name, In: "query", Required: f.Required, Schema: prop})
	}
	return params
}

func jsonTypeFor(kind string) string {
	switch kind {
	case string(field.KindInteger):
		return "integer"
	case string(field.KindBoolean):
		return "boolean"
	case string(field.KindTags):
		return "array"
	default:
		return "string"
	}
}
