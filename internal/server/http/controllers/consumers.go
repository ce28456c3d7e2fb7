package controllers

import (
	"errors"
	"net/http"

	"github.com/rzbill/eventpump/internal/dispatch"
	"github.com/rzbill/eventpump/internal/eventconsumer"
	"github.com/rzbill/eventpump/internal/runtime"
)

// ConsumersController exposes consumer statuses and the start, stop and
// reset commands of the running node.
type ConsumersController struct {
	rt *runtime.Runtime
}

func NewConsumersController(rt *runtime.Runtime) *ConsumersController {
	return &ConsumersController{rt: rt}
}

func (c *ConsumersController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/consumers", c.handleList)
	mux.HandleFunc("GET /v1/consumers/{name}", c.handleGet)
	mux.HandleFunc("POST /v1/consumers/{name}/start", c.command("start", (*eventconsumer.Manager).Start))
	mux.HandleFunc("POST /v1/consumers/{name}/stop", c.command("stop", (*eventconsumer.Manager).Stop))
	mux.HandleFunc("POST /v1/consumers/{name}/reset", c.command("reset", (*eventconsumer.Manager).Reset))
}

func (c *ConsumersController) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"consumers": c.rt.Manager().Statuses()})
}

func (c *ConsumersController) handleGet(w http.ResponseWriter, r *http.Request) {
	info, err := c.rt.Manager().Status(r.PathValue("name"))
	if errors.Is(err, eventconsumer.ErrUnknownConsumer) {
		writeError(w, http.StatusNotFound, "Consumer not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read consumer status")
		return
	}
	writeJSON(w, info)
}

// command enqueues one lifecycle command and answers 202 without waiting for
// it to run. Progress is observed through GET /v1/consumers/{name}.
func (c *ConsumersController) command(action string, issue func(*eventconsumer.Manager, string) (*dispatch.Future, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if _, err := issue(c.rt.Manager(), name); err != nil {
			if errors.Is(err, eventconsumer.ErrUnknownConsumer) {
				writeError(w, http.StatusNotFound, "Consumer not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "Failed to issue "+action)
			return
		}
		writeStatusJSON(w, http.StatusAccepted, map[string]string{"name": name, "action": action})
	}
}
