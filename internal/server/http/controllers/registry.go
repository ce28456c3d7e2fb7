package controllers

import (
	"net/http"

	"github.com/rzbill/eventpump/internal/runtime"
	"github.com/rzbill/eventpump/pkg/log"
)

// ControllerRegistry manages all HTTP controllers.
type ControllerRegistry struct {
	general   *GeneralController
	consumers *ConsumersController
	streams   *StreamsController
}

func NewControllerRegistry(rt *runtime.Runtime, logger log.Logger) *ControllerRegistry {
	return &ControllerRegistry{
		general:   NewGeneralController(rt),
		consumers: NewConsumersController(rt),
		streams:   NewStreamsController(rt, logger),
	}
}

// RegisterAllRoutes registers all controller routes with the given mux.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.consumers.RegisterRoutes(mux)
	r.streams.RegisterRoutes(mux)
}
