package httpapi

import (
	"bytes"
	"encoding/csv"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/airwatch/internal/telemetry"
)

const (
	exportJSON = "json"
	exportCSV  = "csv"
)

type exportDataTypes struct {
	AQI        bool `json:"aqi"`
	Pollutants bool `json:"pollutants"`
	Weather    bool `json:"weather"`
}

type exportRequest struct {
	Format          string               `json:"format" validate:"required,oneof=json csv"`
	From            time.Time            `json:"from" validate:"required"`
	To              time.Time            `json:"to" validate:"required,gtefield=From"`
	Locations       []telemetry.Location `json:"locations" validate:"required,min=1,max=10,dive"`
	DataTypes       exportDataTypes      `json:"dataTypes"`
	IncludeMetadata bool                 `json:"includeMetadata"`
}

var exportPollutants = []telemetry.Pollutant{
	telemetry.PM25, telemetry.PM10, telemetry.CO, telemetry.O3, telemetry.NO2, telemetry.SO2,
}

// columns lists the exported fields in output order.
func (r exportRequest) columns() []string {
	cols := []string{"timestamp", "location"}
	if r.DataTypes.AQI {
		cols = append(cols, "aqi")
	}
	if r.DataTypes.Pollutants {
		for _, p := range exportPollutants {
			cols = append(cols, string(p))
		}
	}
	if r.DataTypes.Weather {
		cols = append(cols, "temperature", "humidity", "windSpeed")
	}
	if r.IncludeMetadata {
		cols = append(cols, "source", "provider", "id")
	}
	return cols
}

// record returns the reading's values for cols; absent values are nil.
func record(reading telemetry.Reading, cols []string) []any {
	out := make([]any, len(cols))
	for i, col := range cols {
		switch col {
		case "timestamp":
			out[i] = reading.Timestamp.UTC().Format(time.RFC3339)
		case "location":
			out[i] = reading.Location
		case "aqi":
			out[i] = reading.AQI
		case "temperature":
			out[i] = derefFloat(reading.Temperature)
		case "humidity":
			out[i] = derefFloat(reading.Humidity)
		case "windSpeed":
			out[i] = derefFloat(reading.WindSpeed)
		case "source":
			out[i] = string(reading.Source)
		case "provider":
			out[i] = reading.Provider
		case "id":
			out[i] = reading.ID
		default:
			if v, ok := reading.Pollutants[telemetry.Pollutant(col)]; ok {
				out[i] = v
			}
		}
	}
	return out
}

func derefFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func exportHandler(service *telemetry.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req exportRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if !req.DataTypes.AQI && !req.DataTypes.Pollutants && !req.DataTypes.Weather {
			return fiber.NewError(fiber.StatusBadRequest, "select at least one of aqi, pollutants, weather")
		}

		cols := req.columns()
		var rows [][]any
		for _, loc := range req.Locations {
			readings, err := service.Range(c.UserContext(), loc, req.From, req.To)
			if errors.Is(err, telemetry.ErrNoData) {
				continue
			}
			if err != nil {
				return err
			}
			for _, r := range readings {
				rows = append(rows, record(r, cols))
			}
		}
		if len(rows) == 0 {
			return fiber.NewError(fiber.StatusNotFound, "no readings in the requested range")
		}

		if req.Format == exportCSV {
			body, err := encodeCSV(cols, rows)
			if err != nil {
				return err
			}
			c.Set(fiber.HeaderContentType, "text/csv")
			c.Set(fiber.HeaderContentDisposition, `attachment; filename="airwatch-export.csv"`)
			return c.Send(body)
		}

		data := make([]map[string]any, len(rows))
		for i, row := range rows {
			m := make(map[string]any, len(cols))
			for j, col := range cols {
				m[col] = row[j]
			}
			data[i] = m
		}
		return c.JSON(fiber.Map{
			"format":       exportJSON,
			"totalRecords": len(rows),
			"timestamp":    time.Now().UTC(),
			"data":         data,
		})
	}
}

func encodeCSV(cols []string, rows [][]any) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(cols); err != nil {
		return nil, err
	}
	line := make([]string, len(cols))
	for _, row := range rows {
		for i, v := range row {
			line[i] = csvValue(v)
		}
		if err := w.Write(line); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func csvValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return ""
}
