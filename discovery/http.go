package discovery

import (
	"encoding/json"
	"net/http"
)

// Well-known paths.
const (
	ResourceMetadataPath = "/.well-known/oauth-protected-resource"
	ServerMetadataPath   = "/.well-known/oauth-authorization-server"
)

const cacheControl = "public, max-age=3600"

// ResourceHandler serves the protected-resource document. It answers 404
// when no resource is configured.
func (r *Responder) ResourceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !r.HasResource() {
			http.NotFound(w, req)
			return
		}
		serveJSON(w, req, r.ResourceMetadata())
	}
}

// ServerHandler serves the authorization-server document.
func (r *Responder) ServerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		serveJSON(w, req, r.ServerMetadata())
	}
}

// RegisterHandlers mounts both documents on mux. The protected-resource
// document is also mounted under the resource path, so a resource such as
// https://host/mcp is described at /.well-known/oauth-protected-resource/mcp.
func RegisterHandlers(mux *http.ServeMux, r *Responder) {
	mux.Handle(ResourceMetadataPath, r.ResourceHandler())
	mux.Handle(ResourceMetadataPath+"/", r.ResourceHandler())
	mux.Handle(ServerMetadataPath, r.ServerHandler())
}

func serveJSON(w http.ResponseWriter, req *http.Request, doc any) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	body, err := json.Marshal(doc)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", cacheControl)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	if req.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(append(body, '\n'))
}
