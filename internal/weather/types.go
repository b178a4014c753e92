// Package weather is the weatherapi.com client: forecast, history, and key
// verification with retries and a circuit breaker, plus the reply formatting
// for chat messages.
package weather

import "fmt"

// Condition is the textual weather condition.
type Condition struct {
	Text string `json:"text"`
}

// Day is the daily aggregate block of a forecast or history day.
type Day struct {
	MaxTempC     float64   `json:"maxtemp_c"`
	MinTempC     float64   `json:"mintemp_c"`
	AvgTempC     float64   `json:"avgtemp_c"`
	MaxWindKph   float64   `json:"maxwind_kph"`
	AvgHumidity  float64   `json:"avghumidity"`
	ChanceOfRain int       `json:"daily_chance_of_rain"`
	ChanceOfSnow int       `json:"daily_chance_of_snow"`
	Condition    Condition `json:"condition"`
}

// ForecastDay is one dated day entry.
type ForecastDay struct {
	Date string `json:"date"`
	Day  Day    `json:"day"`
}

type Forecast struct {
	ForecastDay []ForecastDay `json:"forecastday"`
}

type Location struct {
	Name      string `json:"name"`
	Region    string `json:"region"`
	Country   string `json:"country"`
	Localtime string `json:"localtime"`
}

type Current struct {
	TempC      float64   `json:"temp_c"`
	FeelsLikeC float64   `json:"feelslike_c"`
	WindDir    string    `json:"wind_dir"`
	WindKph    float64   `json:"wind_kph"`
	Humidity   float64   `json:"humidity"`
	Condition  Condition `json:"condition"`
}

// Payload is the provider response shared by the forecast and history
// endpoints. History responses carry an empty Current block.
type Payload struct {
	Location Location `json:"location"`
	Current  Current  `json:"current"`
	Forecast Forecast `json:"forecast"`
}

// APIError is a non-200 provider response. Code is the provider's own error
// code from the body, zero when the body carried none.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("weatherapi status %d code %d: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("weatherapi status %d: %s", e.Status, e.Message)
}

// UserMessage maps the provider error onto the reply shown to the chat.
func (e *APIError) UserMessage() string {
	switch e.Status {
	case 400:
		switch e.Code {
		case 1005:
			return "Invalid API request URL. Please try again later."
		case 1006:
			return "City not found, please check the city name."
		case 9999:
			return "Internal application error. Please try again later."
		}
		return "Unknown error. Please try again later."
	case 401:
		switch e.Code {
		case 1002:
			return "API key not provided. Please contact support."
		case 2006:
			return "The provided API key is invalid. Please contact support."
		}
		return "The provided API key is invalid. Please contact support."
	case 403:
		switch e.Code {
		case 2007:
			return "API key has exceeded the monthly call quota. Please contact support."
		case 2008:
			return "API key is disabled. Please contact support."
		case 2009:
			return "API key does not have access to the requested resource. Please contact support."
		}
		return "API key does not have access to the requested resource. Please contact support."
	case 404:
		return "Requested resource not found, please try again later or contact support."
	case 500:
		return "Internal server error. Please try again later."
	case 502:
		return "Bad gateway error. Please try again later."
	}
	return "Error retrieving weather data, please try again later."
}

// IsCityNotFound reports the one provider error the user can fix themselves.
func (e *APIError) IsCityNotFound() bool {
	return e.Status == 400 && e.Code == 1006
}
