package router

import (
	handlers "github.com/metrico/openlake/handler"
)

func RegisterStatusRoutes(h *handlers.Handler) {
	RegisterRoute(&Route{
		Path:    "/",
		Methods: []string{"GET"},
		Handler: h.Health,
	})
	RegisterRoute(&Route{
		Path:    "/assets",
		Methods: []string{"GET"},
		Handler: h.Assets,
	})
}
