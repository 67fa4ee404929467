// Package api provides a REST API to inspect and trigger the bridge
package api

import (
	"time"

	"github.com/fako1024/cgmbridge/pkg/bridge"
	"github.com/fako1024/cgmbridge/pkg/glucose"
	"github.com/fako1024/cgmbridge/pkg/heartbeat"
	"github.com/gofiber/fiber/v2"
)

// Poller denotes the bridge as seen by the API
type Poller interface {
	FetchNewDataIfNeeded(trigger bridge.Trigger) bridge.Result
	LatestReading() (glucose.Reading, bool)
	Stats() bridge.Stats
	String() string
}

// Heartbeat denotes the heartbeat control as seen by the API
type Heartbeat interface {
	Status() heartbeat.Status
	Identity() heartbeat.Identity
	Enabled() bool
	SetEnabled(enabled bool) error
	ConnectedFor() time.Duration
}

// API denotes a REST API for the bridge
type API struct {
	poller    Poller
	heartbeat Heartbeat
	router    *fiber.App

	logger glucose.Logger
}

// HeartbeatStatus denotes the heartbeat part of the status response
type HeartbeatStatus struct {
	Enabled      bool               `json:"enabled"`
	Status       heartbeat.Status   `json:"status"`
	Message      string             `json:"message"`
	Identity     heartbeat.Identity `json:"identity"`
	ConnectedFor string             `json:"connected_for"`
}

// StatusResponse denotes the response of GET /status
type StatusResponse struct {
	Heartbeat     HeartbeatStatus  `json:"heartbeat"`
	LatestReading *glucose.Reading `json:"latest_reading"`
	Stats         bridge.Stats     `json:"stats"`
}

// PollResponse denotes the response of a poll request
type PollResponse struct {
	Outcome bridge.Outcome  `json:"outcome"`
	Samples glucose.Samples `json:"samples,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// New instantiates a new API, executing functional options, if any
func New(p Poller, h Heartbeat, options ...func(*API)) *API {

	api := API{
		poller:    p,
		heartbeat: h,
		router: fiber.New(fiber.Config{
			DisableStartupMessage: true,
		}),
		logger: &glucose.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(&api)
	}

	// Setup routes
	api.router.Get("/status", api.handleStatus())
	api.router.Get("/debug", api.handleDebug())
	api.router.Post("/poll", api.handlePoll(bridge.TriggerPoll))
	api.router.Post("/foreground", api.handlePoll(bridge.TriggerForeground))
	api.router.Post("/heartbeat/on", api.handleSetHeartbeat(true))
	api.router.Post("/heartbeat/off", api.handleSetHeartbeat(false))

	return &api
}

// Listen starts to serve the API on the provided endpoint in the background
func (api *API) Listen(endpoint string) {
	go func() {
		if err := api.router.Listen(endpoint); err != nil {
			api.logger.Errorf("failed to serve API on %s: %s", endpoint, err)
		}
	}()
}

// Shutdown stops serving the API
func (api *API) Shutdown() error {
	return api.router.Shutdown()
}

// App returns the underlying fiber app
func (api *API) App() *fiber.App {
	return api.router
}

////////////////////////////////////////////////////////////////////////////////

func (api *API) handleStatus() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		status := api.heartbeat.Status()
		resp := StatusResponse{
			Heartbeat: HeartbeatStatus{
				Enabled:      api.heartbeat.Enabled(),
				Status:       status,
				Message:      status.String(),
				Identity:     api.heartbeat.Identity(),
				ConnectedFor: api.heartbeat.ConnectedFor().Round(time.Second).String(),
			},
			Stats: api.poller.Stats(),
		}
		if latest, ok := api.poller.LatestReading(); ok {
			resp.LatestReading = &latest
		}

		return c.JSON(resp)
	}
}

func (api *API) handleDebug() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		return c.SendString(api.poller.String())
	}
}

func (api *API) handlePoll(trigger bridge.Trigger) func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		res := api.poller.FetchNewDataIfNeeded(trigger)

		resp := PollResponse{
			Outcome: res.Outcome,
			Samples: res.Samples,
		}
		if res.Err != nil {
			resp.Error = res.Err.Error()
			return c.Status(fiber.StatusBadGateway).JSON(resp)
		}

		return c.JSON(resp)
	}
}

func (api *API) handleSetHeartbeat(enabled bool) func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		if err := api.heartbeat.SetEnabled(enabled); err != nil {
			api.logger.Warnf("failed to switch heartbeat (enabled: %v): %s", enabled, err)
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}

		return c.JSON(fiber.Map{
			"enabled": api.heartbeat.Enabled(),
			"status":  api.heartbeat.Status(),
		})
	}
}
