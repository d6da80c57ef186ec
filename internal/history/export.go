package history

import (
	"encoding/csv"
	"errors"
	"io"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
)

// ErrTooFewEntries is returned when a report needs more points than are buffered.
var ErrTooFewEntries = errors.New("history report needs at least two entries")

// WriteCSV writes entries as timestamp,value rows.
func WriteCSV(w io.Writer, entries []Entry) error {
	writer := csv.NewWriter(w)

	if err := writer.Write([]string{"timestamp", "usd_brl"}); err != nil {
		return err
	}
	for _, e := range entries {
		record := []string{
			e.Timestamp.UTC().Format(time.RFC3339),
			e.Value.StringFixed(4),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteReportPNG renders a static time-series report of the buffer.
func WriteReportPNG(w io.Writer, entries []Entry, width, height int) error {
	if len(entries) < 2 {
		return ErrTooFewEntries
	}

	x := make([]time.Time, len(entries))
	y := make([]float64, len(entries))
	for i, e := range entries {
		x[i] = e.Timestamp
		y[i] = e.Value.InexactFloat64()
	}

	rateFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Width:  width,
		Height: height,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "USD/BRL",
			ValueFormatter: rateFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "USD/BRL",
				XValues: x,
				YValues: y,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return graph.Render(chart.PNG, w)
}
