package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/i474232898/airwatch/internal/forecast"
	"github.com/i474232898/airwatch/internal/metrics"
	"github.com/i474232898/airwatch/internal/telemetry"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *telemetry.Service, predictor *forecast.Predictor) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "time": time.Now().UTC()})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	v1 := app.Group("/api/v1")

	v1.Get("/locations", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"locations": service.Locations()})
	})

	aqi := v1.Group("/aqi")

	aqi.Get("/current", func(c *fiber.Ctx) error {
		loc, err := parseLocationQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		r, err := service.Current(c.UserContext(), loc)
		if err != nil {
			return mapError(err, "no air quality data for requested location")
		}
		return c.JSON(newReadingResponse(r))
	})

	aqi.Get("/latest", func(c *fiber.Ctx) error {
		loc, err := parseLocationQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		r, err := service.Latest(c.UserContext(), loc)
		if err != nil {
			return mapError(err, "no air quality data for requested location")
		}
		return c.JSON(newReadingResponse(r))
	})

	aqi.Get("/history", func(c *fiber.Ctx) error {
		q := limitQuery{Limit: 24}
		if err := bindQuery(c, &q); err != nil {
			return err
		}
		loc := q.location()
		readings, err := service.Recent(c.UserContext(), loc, q.Limit)
		if err != nil {
			return mapError(err, "no air quality history for requested location")
		}
		return c.JSON(fiber.Map{
			"location": loc,
			"readings": readings,
		})
	})

	aqi.Get("/range", func(c *fiber.Ctx) error {
		var req rangeQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		readings, err := service.Range(c.UserContext(), req.Location, req.From, req.To)
		if err != nil {
			return mapError(err, "no air quality history for requested location")
		}
		return c.JSON(fiber.Map{
			"location": req.Location,
			"from":     req.From,
			"to":       req.To,
			"readings": readings,
		})
	})

	fc := v1.Group("/forecast")

	fc.Get("/aqi/hourly", func(c *fiber.Ctx) error {
		q := hoursQuery{Hours: 24}
		if err := bindQuery(c, &q); err != nil {
			return err
		}
		res, err := predictor.AQIHourly(c.UserContext(), q.location().Key(), q.Hours)
		if err != nil {
			return mapError(err, "no forecast available for requested location")
		}
		return c.JSON(res)
	})

	fc.Get("/aqi/daily", func(c *fiber.Ctx) error {
		q := daysQuery{Days: forecast.MaxDailyDays}
		if err := bindQuery(c, &q); err != nil {
			return err
		}
		loc := q.location()
		days, err := predictor.AQIDaily(c.UserContext(), loc.Key(), q.Days)
		if err != nil {
			return mapError(err, "no forecast available for requested location")
		}
		return c.JSON(fiber.Map{
			"location": loc,
			"days":     days,
		})
	})

	fc.Get("/temperature/hourly", func(c *fiber.Ctx) error {
		q := hoursQuery{Hours: 24}
		if err := bindQuery(c, &q); err != nil {
			return err
		}
		res, err := predictor.TemperatureHourly(c.UserContext(), q.location().Key(), q.Hours)
		if err != nil {
			return mapError(err, "no forecast available for requested location")
		}
		return c.JSON(res)
	})

	v1.Post("/collect", func(c *fiber.Ctx) error {
		var req collectRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		results := service.CollectMany(c.UserContext(), req.Locations)
		out := make([]collectResult, 0, len(results))
		succeeded := 0
		for _, r := range results {
			item := collectResult{Location: r.Location, Success: r.Err == nil}
			if r.Err != nil {
				item.Error = r.Err.Error()
			} else {
				succeeded++
				resp := newReadingResponse(*r.Reading)
				item.Reading = &resp
			}
			out = append(out, item)
		}
		return c.JSON(fiber.Map{
			"collected": succeeded,
			"failed":    len(results) - succeeded,
			"results":   out,
		})
	})

	v1.Post("/export", exportHandler(service))

	v1.Get("/devices/:id/readings", func(c *fiber.Ctx) error {
		deviceID := c.Params("id")
		limit, err := strconv.Atoi(c.Query("limit", "50"))
		if err != nil || limit < 1 || limit > 500 {
			return fiber.NewError(fiber.StatusBadRequest, "limit must be an integer between 1 and 500")
		}
		readings, err := service.DeviceReadings(c.UserContext(), deviceID, limit)
		if err != nil {
			return mapError(err, "no readings for requested device")
		}
		return c.JSON(fiber.Map{
			"deviceId": deviceID,
			"readings": readings,
		})
	})
}

// ErrorHandler renders every error as {"error": message}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

// mapError converts core errors into HTTP errors.
func mapError(err error, notFound string) error {
	switch {
	case errors.Is(err, telemetry.ErrNoData), errors.Is(err, forecast.ErrNoData):
		return fiber.NewError(fiber.StatusNotFound, notFound)
	case errors.Is(err, forecast.ErrInvalidHorizon), errors.Is(err, telemetry.ErrInvalidReading):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	var pe *telemetry.ProviderError
	if errors.As(err, &pe) {
		return fiber.NewError(fiber.StatusBadGateway, "upstream providers unavailable")
	}
	return err
}

type readingResponse struct {
	telemetry.Reading
	Category string `json:"category"`
}

func newReadingResponse(r telemetry.Reading) readingResponse {
	return readingResponse{Reading: r, Category: telemetry.Category(r.AQI)}
}

type collectResult struct {
	Location telemetry.Location `json:"location"`
	Success  bool               `json:"success"`
	Reading  *readingResponse   `json:"reading,omitempty"`
	Error    string             `json:"error,omitempty"`
}
