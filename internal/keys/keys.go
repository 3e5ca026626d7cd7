package keys

import "time"

// DateLayout is the calendar date segment placed in front of every id.
const DateLayout = "2006/01/02"

// Derive computes the object key for id written at t. The key has the form
// [prefix/]YYYY/MM/DD/id where the date is taken from t in UTC.
//
// The id is not escaped, so ids containing "/" produce deeper keys. Callers
// must keep separators out of their id space.
func Derive(id string, t time.Time, prefix string) string {
	date := t.UTC().Format(DateLayout)
	if prefix == "" {
		return date + "/" + id
	}
	return prefix + "/" + date + "/" + id
}
