// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package http implements the optional master-provide data bridge:
// GET / returns a worker's current stations with live values, POST /
// replaces the station set atomically through the same validation gate
// IPC-origin StationsUpdate messages go through. Grounded on EdgeFlow's
// internal/api Handler/SetupRoutes shape (a struct holding the service
// dependency, fiber.Map JSON responses, BodyParser for POST bodies),
// adapted to the single worker.Worker this bridge fronts instead of
// EdgeFlow's flow/node CRUD surface.
package http

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/aoba-io/aoba/config"
	"github.com/aoba-io/aoba/worker"
)

// Worker is the subset of *worker.Worker this bridge depends on.
type Worker interface {
	Status() worker.PortStatus
	ApplyStationsUpdate(stations []config.StationConfig) error
}

// Bridge binds a Fiber app to 127.0.0.1:<port> and serves GET/POST /
// against one worker's station set.
type Bridge struct {
	w   Worker
	app *fiber.App
}

// New builds a Bridge for w. Call Listen to start serving.
func New(w Worker) *Bridge {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())

	b := &Bridge{w: w, app: app}
	app.Get("/", b.get)
	app.Post("/", b.post)
	return b
}

// Listen binds to 127.0.0.1:port and serves until the app is shut down.
// It blocks for the lifetime of the bridge, matching fiber.App.Listen's
// own contract.
func (b *Bridge) Listen(port int) error {
	return b.app.Listen(fmt.Sprintf("127.0.0.1:%d", port))
}

// Shutdown gracefully stops the bridge's listener.
func (b *Bridge) Shutdown() error {
	return b.app.Shutdown()
}

// stationsResponse is the response body shape of both GET and POST: a
// success flag, a message, and the current/applied station list. The
// POST request body is a bare JSON array of stations, not this shape.
type stationsResponse struct {
	Success  bool                   `json:"success"`
	Message  string                 `json:"message,omitempty"`
	Stations []config.StationConfig `json:"stations"`
}

func (b *Bridge) get(c *fiber.Ctx) error {
	status := b.w.Status()
	stations := make([]config.StationConfig, 0, len(status.Stations))
	for _, st := range status.Stations {
		stations = append(stations, config.StationConfig{
			ID:   st.ID,
			Mode: st.Mode,
			Map:  st.LastValues,
		})
	}
	return c.JSON(stationsResponse{Success: true, Stations: stations})
}

func (b *Bridge) post(c *fiber.Ctx) error {
	var stations []config.StationConfig
	if err := c.BodyParser(&stations); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(stationsResponse{
			Success: false,
			Message: fmt.Sprintf("invalid request body: %v", err),
		})
	}

	if err := b.w.ApplyStationsUpdate(stations); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(stationsResponse{
			Success: false,
			Message: err.Error(),
		})
	}

	return c.JSON(stationsResponse{Success: true, Stations: stations})
}
