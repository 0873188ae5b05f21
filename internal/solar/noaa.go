package solar

import (
	"errors"
	"math"
	"time"
)

// NOAA-style approximation, used when the lookup service is unreachable.
// Accurate to a couple of minutes, which is plenty for a wake/sleep boundary.

var errNoEvent = errors.New("sun does not rise or set on this date at this latitude")

func sunriseForDate(day time.Time, lat, lon float64, loc *time.Location) (time.Time, error) {
	return solarEventForDate(day, lat, lon, loc, true)
}

func sunsetForDate(day time.Time, lat, lon float64, loc *time.Location) (time.Time, error) {
	return solarEventForDate(day, lat, lon, loc, false)
}

func solarEventForDate(day time.Time, lat, lon float64, loc *time.Location, rising bool) (time.Time, error) {
	n := float64(day.YearDay())
	lngHour := lon / 15.0

	approx := 18.0
	if rising {
		approx = 6.0
	}
	t := n + (approx-lngHour)/24.0

	m := 0.9856*t - 3.289
	l := normalizeDeg(m + 1.916*math.Sin(deg2rad(m)) + 0.020*math.Sin(2*deg2rad(m)) + 282.634)

	ra := normalizeDeg(rad2deg(math.Atan(0.91764 * math.Tan(deg2rad(l)))))
	lQuadrant := math.Floor(l/90.0) * 90.0
	raQuadrant := math.Floor(ra/90.0) * 90.0
	ra = (ra + (lQuadrant - raQuadrant)) / 15.0

	sinDec := 0.39782 * math.Sin(deg2rad(l))
	cosDec := math.Cos(math.Asin(sinDec))

	cosH := (math.Cos(deg2rad(90.833)) - sinDec*math.Sin(deg2rad(lat))) / (cosDec * math.Cos(deg2rad(lat)))
	if cosH > 1 || cosH < -1 {
		return time.Time{}, errNoEvent
	}

	var h float64
	if rising {
		h = (360.0 - rad2deg(math.Acos(cosH))) / 15.0
	} else {
		h = rad2deg(math.Acos(cosH)) / 15.0
	}

	localT := h + ra - 0.06571*t - 6.622
	ut := normalizeHour(localT - lngHour)

	utc := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC).
		Add(time.Duration(ut * float64(time.Hour)))
	return utc.In(loc), nil
}

func deg2rad(v float64) float64 { return v * math.Pi / 180.0 }
func rad2deg(v float64) float64 { return v * 180.0 / math.Pi }

func normalizeDeg(v float64) float64 {
	for v < 0 {
		v += 360
	}
	for v >= 360 {
		v -= 360
	}
	return v
}

func normalizeHour(v float64) float64 {
	for v < 0 {
		v += 24
	}
	for v >= 24 {
		v -= 24
	}
	return v
}
