package weather

import (
	"fmt"
	"math"
	"strings"
)

// windDirections is the set of compass points the provider emits.
var windDirections = map[string]struct{}{
	"N": {}, "NNE": {}, "NE": {}, "ENE": {},
	"E": {}, "ESE": {}, "SE": {}, "SSE": {},
	"S": {}, "SSW": {}, "SW": {}, "WSW": {},
	"W": {}, "WNW": {}, "NW": {}, "NNW": {},
}

func kphToMS(kph float64) int {
	return int(math.Round(kph / 3.6))
}

// WindLine renders the wind sentence, converting km/h to m/s.
func WindLine(dir string, windKph, maxWindKph float64) string {
	if _, ok := windDirections[dir]; !ok {
		return "Wind direction is unknown."
	}
	return fmt.Sprintf("Wind %s %d m/s (with maximum wind speed of %d m/s)",
		dir, kphToMS(windKph), kphToMS(maxWindKph))
}

// precipChance picks rain or snow probability by temperature sign.
func precipChance(tempC float64, day Day) int {
	if tempC > 0 {
		return day.ChanceOfRain
	}
	return day.ChanceOfSnow
}

// FormatCurrent renders the current-weather reply from a one-day forecast
// payload.
func FormatCurrent(p *Payload) string {
	if len(p.Forecast.ForecastDay) == 0 {
		return "Error retrieving weather data, please try again later."
	}
	day := p.Forecast.ForecastDay[0].Day

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s): %s\n", p.Location.Name, p.Location.Region, p.Location.Localtime)
	fmt.Fprintf(&b, "Temperature: %g°C (feels like %g°C)\n", p.Current.TempC, p.Current.FeelsLikeC)
	fmt.Fprintf(&b, "Maximum temperature: %g°C\n", day.MaxTempC)
	fmt.Fprintf(&b, "Minimum temperature: %g°C\n", day.MinTempC)
	b.WriteString(WindLine(p.Current.WindDir, p.Current.WindKph, day.MaxWindKph))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Humidity: %g%%\n", p.Current.Humidity)
	fmt.Fprintf(&b, "Precipitation: %d%%\n", precipChance(p.Current.TempC, day))
	b.WriteString(day.Condition.Text)
	return b.String()
}

// FormatForecastDay renders the reply for one dated forecast day.
func FormatForecastDay(p *Payload, index int) string {
	if index < 0 || index >= len(p.Forecast.ForecastDay) {
		return "Error retrieving weather data, please try again later."
	}
	fd := p.Forecast.ForecastDay[index]

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s): %s\n", p.Location.Name, p.Location.Region, fd.Date)
	fmt.Fprintf(&b, "Maximum temperature: %g°C\n", fd.Day.MaxTempC)
	fmt.Fprintf(&b, "Minimum temperature: %g°C\n", fd.Day.MinTempC)
	fmt.Fprintf(&b, "Wind up to %d m/s\n", kphToMS(fd.Day.MaxWindKph))
	fmt.Fprintf(&b, "Precipitation: %d%%\n", precipChance(p.Current.TempC, fd.Day))
	b.WriteString(fd.Day.Condition.Text)
	return b.String()
}

// FormatMultiDay renders one day of a multi-day forecast, humidity included
// and precipitation chance chosen by that day's own mean temperature.
func FormatMultiDay(p *Payload, index int) string {
	if index < 0 || index >= len(p.Forecast.ForecastDay) {
		return "Error retrieving weather data, please try again later."
	}
	fd := p.Forecast.ForecastDay[index]

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s): %s\n", p.Location.Name, p.Location.Region, fd.Date)
	fmt.Fprintf(&b, "Maximum temperature: %g°C\n", fd.Day.MaxTempC)
	fmt.Fprintf(&b, "Minimum temperature: %g°C\n", fd.Day.MinTempC)
	fmt.Fprintf(&b, "Wind up to %d m/s\n", kphToMS(fd.Day.MaxWindKph))
	fmt.Fprintf(&b, "Humidity: %g%%\n", fd.Day.AvgHumidity)
	fmt.Fprintf(&b, "Precipitation probability: %d%%\n", precipChance(fd.Day.AvgTempC, fd.Day))
	b.WriteString(fd.Day.Condition.Text)
	return b.String()
}

// FormatHistoryDay renders one day of the weekly statistics.
func FormatHistoryDay(p *Payload) string {
	if len(p.Forecast.ForecastDay) == 0 {
		return "Error retrieving weather data, please try again later."
	}
	fd := p.Forecast.ForecastDay[0]
	return fmt.Sprintf("%s (%s): %s\nTemperature: Max: %g°C, Min: %g°C, %s",
		p.Location.Name, p.Location.Region, fd.Date,
		fd.Day.MaxTempC, fd.Day.MinTempC, fd.Day.Condition.Text)
}

// FormatPrediction compares next-days and past-week mean temperatures.
func FormatPrediction(avgNext, avgPast int) string {
	switch {
	case avgPast < avgNext:
		return fmt.Sprintf("The average temperature in the next 3 days will be %d°C, which is %d°C warmer than the last week",
			avgNext, avgNext-avgPast)
	case avgPast > avgNext:
		return fmt.Sprintf("The average temperature in the next 3 days will be %d°C, which is %d°C colder than the last week",
			avgNext, avgPast-avgNext)
	}
	return fmt.Sprintf("The average temperature in the next 3 days will be %d°C, the temperature remains the same as in the last 7 days",
		avgNext)
}
