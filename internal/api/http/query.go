package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/airwatch/internal/telemetry"
)

// locationQuery holds query parameters for identifying a location.
type locationQuery struct {
	City    string `query:"city" validate:"required"`
	Country string `query:"country" validate:"required"`
}

func (l locationQuery) location() telemetry.Location {
	return telemetry.Location{
		City:    l.City,
		Country: l.Country,
	}
}

func parseLocationQuery(c *fiber.Ctx) (telemetry.Location, error) {
	q := locationQuery{
		City:    c.Query("city"),
		Country: c.Query("country"),
	}
	if err := validate.Struct(q); err != nil {
		return telemetry.Location{}, err
	}
	return q.location(), nil
}

type limitQuery struct {
	City    string `query:"city" validate:"required"`
	Country string `query:"country" validate:"required"`
	Limit   int    `query:"limit" validate:"gte=1,lte=500"`
}

func (q limitQuery) location() telemetry.Location {
	return locationQuery{City: q.City, Country: q.Country}.location()
}

type hoursQuery struct {
	City    string `query:"city" validate:"required"`
	Country string `query:"country" validate:"required"`
	Hours   int    `query:"hours" validate:"gte=1,lte=72"`
}

func (q hoursQuery) location() telemetry.Location {
	return locationQuery{City: q.City, Country: q.Country}.location()
}

type daysQuery struct {
	City    string `query:"city" validate:"required"`
	Country string `query:"country" validate:"required"`
	Days    int    `query:"days" validate:"gte=1,lte=7"`
}

func (q daysQuery) location() telemetry.Location {
	return locationQuery{City: q.City, Country: q.Country}.location()
}

// bindQuery parses the query string over dst's defaults and validates it.
func bindQuery(c *fiber.Ctx, dst any) error {
	if err := c.QueryParser(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

// rangeQuery holds query parameters for the range endpoint.
type rangeQuery struct {
	Location telemetry.Location
	From     time.Time `validate:"required"`
	To       time.Time `validate:"required,gtefield=From"`
}

func (h *rangeQuery) bind(c *fiber.Ctx) error {
	loc, err := parseLocationQuery(c)
	if err != nil {
		return err
	}
	h.Location = loc

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

type collectRequest struct {
	Locations []telemetry.Location `json:"locations" validate:"required,min=1,max=10,dive"`
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
